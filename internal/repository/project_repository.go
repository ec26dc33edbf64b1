package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

// ProjectRepository handles database operations for projects.
type ProjectRepository struct {
	q db.Queryer
}

// NewProjectRepository creates a new instance of ProjectRepository.
func NewProjectRepository(database *db.DB) *ProjectRepository {
	return &ProjectRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *ProjectRepository) WithTx(tx *sql.Tx) *ProjectRepository {
	return &ProjectRepository{q: tx}
}

// Create inserts a new project.
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query, p.Name, p.Description).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetByID retrieves a project by its ID.
func (r *ProjectRepository) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM projects WHERE id = $1`
	var p models.Project
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return &p, nil
}

// List returns all projects ordered by ID.
func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM projects ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Update persists name and description.
func (r *ProjectRepository) Update(ctx context.Context, p *models.Project) error {
	query := `UPDATE projects SET name = $1, description = $2, updated_at = now() WHERE id = $3`
	result, err := r.q.ExecContext(ctx, query, p.Name, p.Description, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project %d: %w", p.ID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("project not found")
	}
	return nil
}

// Delete removes a project and cascades to its hash lists and campaigns.
func (r *ProjectRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("project not found")
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

// AgentErrorRepository handles database operations for agent error reports.
type AgentErrorRepository struct {
	q db.Queryer
}

// NewAgentErrorRepository creates a new instance of AgentErrorRepository.
func NewAgentErrorRepository(database *db.DB) *AgentErrorRepository {
	return &AgentErrorRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *AgentErrorRepository) WithTx(tx *sql.Tx) *AgentErrorRepository {
	return &AgentErrorRepository{q: tx}
}

// Create records an error reported by an agent.
func (r *AgentErrorRepository) Create(ctx context.Context, e *models.AgentError) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO agent_errors (id, agent_id, task_id, severity, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.q.QueryRowContext(ctx, query,
		e.ID, e.AgentID, e.TaskID, e.Severity, e.Message, e.Metadata).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record agent error: %w", err)
	}
	return nil
}

// ListByAgent returns the agent's reported errors, newest first.
func (r *AgentErrorRepository) ListByAgent(ctx context.Context, agentID int, limit int) ([]models.AgentError, error) {
	query := `
		SELECT id, agent_id, task_id, severity, message, metadata, created_at
		FROM agent_errors
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.q.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list errors for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var errs []models.AgentError
	for rows.Next() {
		var e models.AgentError
		var taskID uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.AgentID, &taskID, &e.Severity,
			&e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent error row: %w", err)
		}
		if taskID.Valid {
			e.TaskID = &taskID.UUID
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

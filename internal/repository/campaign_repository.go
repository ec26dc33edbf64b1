package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

const campaignColumns = `id, project_id, name, description, priority, hash_list_id, state, created_at, updated_at`

// CampaignRepository handles database operations for campaigns.
type CampaignRepository struct {
	q db.Queryer
}

// NewCampaignRepository creates a new instance of CampaignRepository.
func NewCampaignRepository(database *db.DB) *CampaignRepository {
	return &CampaignRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *CampaignRepository) WithTx(tx *sql.Tx) *CampaignRepository {
	return &CampaignRepository{q: tx}
}

func scanCampaign(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Campaign, error) {
	var c models.Campaign
	err := scanner.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Description, &c.Priority,
		&c.HashListID, &c.State, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query := `
		INSERT INTO campaigns (id, project_id, name, description, priority, hash_list_id, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query, c.ID, c.ProjectID, c.Name, c.Description,
		c.Priority, c.HashListID, c.State).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by its ID.
func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE id = $1`, campaignColumns)
	c, err := scanCampaign(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("campaign not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return c, nil
}

// List returns campaigns for a project ordered by priority then creation.
func (r *CampaignRepository) List(ctx context.Context, projectID int64) ([]models.Campaign, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM campaigns WHERE project_id = $1
		ORDER BY priority DESC, created_at
	`, campaignColumns)
	rows, err := r.q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// Update persists name, description, priority and state.
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	query := `
		UPDATE campaigns
		SET name = $1, description = $2, priority = $3, state = $4, updated_at = now()
		WHERE id = $5
	`
	result, err := r.q.ExecContext(ctx, query, c.Name, c.Description, c.Priority, c.State, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update campaign %s: %w", c.ID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("campaign not found")
	}
	return nil
}

// SetState transitions the campaign to a new state.
func (r *CampaignRepository) SetState(ctx context.Context, id uuid.UUID, state string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE campaigns SET state = $1, updated_at = now() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("failed to set campaign %s state: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("campaign not found")
	}
	return nil
}

// Delete removes a campaign and cascades to its attacks and tasks.
func (r *CampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("campaign not found")
	}
	return nil
}

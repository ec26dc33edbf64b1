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

// CrackRepository handles database operations for recorded cracks, the
// per-attack zap log and the per-agent zap cursors.
type CrackRepository struct {
	q db.Queryer
}

// NewCrackRepository creates a new instance of CrackRepository.
func NewCrackRepository(database *db.DB) *CrackRepository {
	return &CrackRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *CrackRepository) WithTx(tx *sql.Tx) *CrackRepository {
	return &CrackRepository{q: tx}
}

// Create records a crack. The unique (hash_list_id, hash_item_id) constraint
// keeps at most one crack row per item; a duplicate returns core.Conflict.
func (r *CrackRepository) Create(ctx context.Context, c *models.Crack) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query := `
		INSERT INTO cracks (id, hash_list_id, hash_item_id, task_id, agent_id, plaintext)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash_list_id, hash_item_id) DO NOTHING
		RETURNING submitted_at
	`
	err := r.q.QueryRowContext(ctx, query,
		c.ID, c.HashListID, c.HashItemID, c.TaskID, c.AgentID, c.Plaintext).Scan(&c.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Conflict("crack already recorded")
	}
	if err != nil {
		return fmt.Errorf("failed to record crack: %w", err)
	}
	return nil
}

// ListByHashList returns recorded cracks for a hash list, newest first.
func (r *CrackRepository) ListByHashList(ctx context.Context, hashListID int64) ([]models.Crack, error) {
	query := `
		SELECT id, hash_list_id, hash_item_id, task_id, agent_id, plaintext, submitted_at
		FROM cracks WHERE hash_list_id = $1 ORDER BY submitted_at DESC
	`
	rows, err := r.q.QueryContext(ctx, query, hashListID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cracks for hash list %d: %w", hashListID, err)
	}
	defer rows.Close()

	var cracks []models.Crack
	for rows.Next() {
		var c models.Crack
		if err := rows.Scan(&c.ID, &c.HashListID, &c.HashItemID, &c.TaskID,
			&c.AgentID, &c.Plaintext, &c.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan crack row: %w", err)
		}
		cracks = append(cracks, c)
	}
	return cracks, rows.Err()
}

// AppendZapEntry adds a cracked hash value to the attack's zap log under the
// given serial. Must run inside a transaction holding the attack row lock so
// serials stay dense and ordered.
func (r *CrackRepository) AppendZapEntry(ctx context.Context, e *models.ZapEntry) error {
	query := `
		INSERT INTO zap_entries (attack_id, serial, hash_value)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.q.QueryRowContext(ctx, query, e.AttackID, e.Serial, e.HashValue).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append zap entry for attack %s: %w", e.AttackID, err)
	}
	return nil
}

// ZapEntriesSince returns zap entries for the attack with serial greater than
// the given cursor, in serial order.
func (r *CrackRepository) ZapEntriesSince(ctx context.Context, attackID uuid.UUID, afterSerial int64) ([]models.ZapEntry, error) {
	query := `
		SELECT attack_id, serial, hash_value, created_at
		FROM zap_entries
		WHERE attack_id = $1 AND serial > $2
		ORDER BY serial
	`
	rows, err := r.q.QueryContext(ctx, query, attackID, afterSerial)
	if err != nil {
		return nil, fmt.Errorf("failed to list zap entries for attack %s: %w", attackID, err)
	}
	defer rows.Close()

	var entries []models.ZapEntry
	for rows.Next() {
		var e models.ZapEntry
		if err := rows.Scan(&e.AttackID, &e.Serial, &e.HashValue, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan zap entry row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetZapCursor returns the last serial delivered to the agent for the attack,
// or zero when the agent has never fetched zaps for it.
func (r *CrackRepository) GetZapCursor(ctx context.Context, attackID uuid.UUID, agentID int) (int64, error) {
	var serial int64
	err := r.q.QueryRowContext(ctx,
		`SELECT last_serial FROM zap_cursors WHERE attack_id = $1 AND agent_id = $2`,
		attackID, agentID).Scan(&serial)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get zap cursor: %w", err)
	}
	return serial, nil
}

// AdvanceZapCursor moves the agent's cursor forward; it never moves back.
func (r *CrackRepository) AdvanceZapCursor(ctx context.Context, attackID uuid.UUID, agentID int, serial int64) error {
	query := `
		INSERT INTO zap_cursors (attack_id, agent_id, last_serial)
		VALUES ($1, $2, $3)
		ON CONFLICT (attack_id, agent_id)
		DO UPDATE SET last_serial = GREATEST(zap_cursors.last_serial, EXCLUDED.last_serial)
	`
	if _, err := r.q.ExecContext(ctx, query, attackID, agentID, serial); err != nil {
		return fmt.Errorf("failed to advance zap cursor: %w", err)
	}
	return nil
}

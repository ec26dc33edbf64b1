package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

const attackColumns = `id, campaign_id, position, mode, hash_type, wordlist_key, rule_key, mask, mask_list,
	custom_charset_1, custom_charset_2, custom_charset_3, custom_charset_4,
	min_length, max_length, increment_mode, workload_profile, optimized,
	total_keyspace, complexity_score, state, zap_serial, created_at, updated_at`

// AttackRepository handles database operations for attacks.
type AttackRepository struct {
	q db.Queryer
}

// NewAttackRepository creates a new instance of AttackRepository.
func NewAttackRepository(database *db.DB) *AttackRepository {
	return &AttackRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *AttackRepository) WithTx(tx *sql.Tx) *AttackRepository {
	return &AttackRepository{q: tx}
}

func scanAttack(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Attack, error) {
	var a models.Attack
	err := scanner.Scan(
		&a.ID, &a.CampaignID, &a.Position, &a.Mode, &a.HashType,
		&a.WordlistKey, &a.RuleKey, &a.Mask, pq.Array(&a.MaskList),
		&a.CustomCharset1, &a.CustomCharset2, &a.CustomCharset3, &a.CustomCharset4,
		&a.MinLength, &a.MaxLength, &a.IncrementMode, &a.WorkloadProfile, &a.Optimized,
		&a.TotalKeyspace, &a.ComplexityScore, &a.State, &a.ZapSerial,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new attack.
func (r *AttackRepository) Create(ctx context.Context, a *models.Attack) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO attacks (id, campaign_id, position, mode, hash_type, wordlist_key, rule_key, mask,
			mask_list, custom_charset_1, custom_charset_2, custom_charset_3, custom_charset_4,
			min_length, max_length, increment_mode, workload_profile, optimized,
			total_keyspace, complexity_score, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		a.ID, a.CampaignID, a.Position, a.Mode, a.HashType,
		a.WordlistKey, a.RuleKey, a.Mask, pq.Array(a.MaskList),
		a.CustomCharset1, a.CustomCharset2, a.CustomCharset3, a.CustomCharset4,
		a.MinLength, a.MaxLength, a.IncrementMode, a.WorkloadProfile, a.Optimized,
		a.TotalKeyspace, a.ComplexityScore, a.State,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create attack: %w", err)
	}
	return nil
}

// GetByID retrieves an attack by its ID.
func (r *AttackRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Attack, error) {
	query := fmt.Sprintf(`SELECT %s FROM attacks WHERE id = $1`, attackColumns)
	a, err := scanAttack(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("attack not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attack %s: %w", id, err)
	}
	return a, nil
}

// GetByIDForUpdate retrieves an attack with a row lock; the attack row
// serialises zap-serial assignment and cursor movement.
func (r *AttackRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Attack, error) {
	query := fmt.Sprintf(`SELECT %s FROM attacks WHERE id = $1 FOR UPDATE`, attackColumns)
	a, err := scanAttack(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("attack not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock attack %s: %w", id, err)
	}
	return a, nil
}

// ListByCampaign returns the campaign's attacks ordered by position.
func (r *AttackRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Attack, error) {
	query := fmt.Sprintf(`SELECT %s FROM attacks WHERE campaign_id = $1 ORDER BY position`, attackColumns)
	rows, err := r.q.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var attacks []models.Attack
	for rows.Next() {
		a, err := scanAttack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attack row: %w", err)
		}
		attacks = append(attacks, *a)
	}
	return attacks, rows.Err()
}

// Update persists the attack configuration and derived keyspace fields.
func (r *AttackRepository) Update(ctx context.Context, a *models.Attack) error {
	query := `
		UPDATE attacks
		SET position = $1, mode = $2, wordlist_key = $3, rule_key = $4, mask = $5, mask_list = $6,
			custom_charset_1 = $7, custom_charset_2 = $8, custom_charset_3 = $9, custom_charset_4 = $10,
			min_length = $11, max_length = $12, increment_mode = $13, workload_profile = $14,
			optimized = $15, total_keyspace = $16, complexity_score = $17, state = $18, updated_at = now()
		WHERE id = $19
	`
	result, err := r.q.ExecContext(ctx, query,
		a.Position, a.Mode, a.WordlistKey, a.RuleKey, a.Mask, pq.Array(a.MaskList),
		a.CustomCharset1, a.CustomCharset2, a.CustomCharset3, a.CustomCharset4,
		a.MinLength, a.MaxLength, a.IncrementMode, a.WorkloadProfile,
		a.Optimized, a.TotalKeyspace, a.ComplexityScore, a.State, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attack %s: %w", a.ID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("attack not found")
	}
	return nil
}

// SetState transitions the attack to a new state.
func (r *AttackRepository) SetState(ctx context.Context, id uuid.UUID, state string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE attacks SET state = $1, updated_at = now() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("failed to set attack %s state: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("attack not found")
	}
	return nil
}

// NextZapSerial increments and returns the attack's zap serial. Must run
// inside a transaction holding the attack row lock.
func (r *AttackRepository) NextZapSerial(ctx context.Context, id uuid.UUID) (int64, error) {
	var serial int64
	err := r.q.QueryRowContext(ctx,
		`UPDATE attacks SET zap_serial = zap_serial + 1 WHERE id = $1 RETURNING zap_serial`, id).Scan(&serial)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.NotFound("attack not found")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to advance zap serial for attack %s: %w", id, err)
	}
	return serial, nil
}

// ListRollupCandidates returns non-terminal attacks that have tasks but no
// runnable ones left; the timekeeper rolls these up to their terminal state.
func (r *AttackRepository) ListRollupCandidates(ctx context.Context) ([]models.Attack, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM attacks a
		WHERE a.state IN ($1, $2)
		  AND EXISTS (SELECT 1 FROM tasks t WHERE t.attack_id = a.id)
		  AND NOT EXISTS (
			SELECT 1 FROM tasks t
			WHERE t.attack_id = a.id AND t.state NOT IN ($3, $4, $5)
		  )
		ORDER BY a.id
	`, prefixColumns(attackColumns, "a"))
	rows, err := r.q.QueryContext(ctx, query,
		models.AttackStatePending, models.AttackStateRunning,
		models.TaskStateCompleted, models.TaskStateExhausted, models.TaskStateFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollup candidates: %w", err)
	}
	defer rows.Close()

	var attacks []models.Attack
	for rows.Next() {
		a, err := scanAttack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attack row: %w", err)
		}
		attacks = append(attacks, *a)
	}
	return attacks, rows.Err()
}

// Delete removes an attack and cascades to its tasks.
func (r *AttackRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM attacks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attack %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("attack not found")
	}
	return nil
}

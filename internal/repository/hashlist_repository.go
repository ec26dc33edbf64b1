package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

// HashListRepository handles database operations for hash lists and their
// items.
type HashListRepository struct {
	q db.Queryer
}

// NewHashListRepository creates a new instance of HashListRepository.
func NewHashListRepository(database *db.DB) *HashListRepository {
	return &HashListRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *HashListRepository) WithTx(tx *sql.Tx) *HashListRepository {
	return &HashListRepository{q: tx}
}

// Create inserts a new hash list.
func (r *HashListRepository) Create(ctx context.Context, hl *models.HashList) error {
	query := `
		INSERT INTO hash_lists (project_id, name, hash_type)
		VALUES ($1, $2, $3)
		RETURNING id, item_count, cracked_count, created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query, hl.ProjectID, hl.Name, hl.HashType).
		Scan(&hl.ID, &hl.ItemCount, &hl.CrackedCount, &hl.CreatedAt, &hl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create hash list: %w", err)
	}
	return nil
}

// GetByID retrieves a hash list by its ID.
func (r *HashListRepository) GetByID(ctx context.Context, id int64) (*models.HashList, error) {
	query := `
		SELECT id, project_id, name, hash_type, item_count, cracked_count, created_at, updated_at
		FROM hash_lists WHERE id = $1
	`
	var hl models.HashList
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&hl.ID, &hl.ProjectID, &hl.Name, &hl.HashType,
		&hl.ItemCount, &hl.CrackedCount, &hl.CreatedAt, &hl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("hash list not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hash list %d: %w", id, err)
	}
	return &hl, nil
}

// GetByIDForUpdate retrieves a hash list with a row lock; crack recording
// serialises on it so cracked_count stays exact.
func (r *HashListRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.HashList, error) {
	query := `
		SELECT id, project_id, name, hash_type, item_count, cracked_count, created_at, updated_at
		FROM hash_lists WHERE id = $1 FOR UPDATE
	`
	var hl models.HashList
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&hl.ID, &hl.ProjectID, &hl.Name, &hl.HashType,
		&hl.ItemCount, &hl.CrackedCount, &hl.CreatedAt, &hl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("hash list not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock hash list %d: %w", id, err)
	}
	return &hl, nil
}

// List returns hash lists for a project.
func (r *HashListRepository) List(ctx context.Context, projectID int64) ([]models.HashList, error) {
	query := `
		SELECT id, project_id, name, hash_type, item_count, cracked_count, created_at, updated_at
		FROM hash_lists WHERE project_id = $1 ORDER BY id
	`
	rows, err := r.q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hash lists: %w", err)
	}
	defer rows.Close()

	var lists []models.HashList
	for rows.Next() {
		var hl models.HashList
		if err := rows.Scan(&hl.ID, &hl.ProjectID, &hl.Name, &hl.HashType,
			&hl.ItemCount, &hl.CrackedCount, &hl.CreatedAt, &hl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hash list row: %w", err)
		}
		lists = append(lists, hl)
	}
	return lists, rows.Err()
}

// AddItems bulk-inserts hash items and bumps the list's item count.
// Duplicate hash values within the list are skipped.
func (r *HashListRepository) AddItems(ctx context.Context, hashListID int64, items []models.HashItem) (int, error) {
	inserted := 0
	query := `
		INSERT INTO hash_items (id, hash_list_id, hash_value, salt)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash_list_id, hash_value) DO NOTHING
	`
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		result, err := r.q.ExecContext(ctx, query, items[i].ID, hashListID, items[i].HashValue, items[i].Salt)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert hash item: %w", err)
		}
		affected, _ := result.RowsAffected()
		inserted += int(affected)
	}
	if inserted > 0 {
		if _, err := r.q.ExecContext(ctx,
			`UPDATE hash_lists SET item_count = item_count + $1, updated_at = now() WHERE id = $2`,
			inserted, hashListID); err != nil {
			return inserted, fmt.Errorf("failed to bump item count for hash list %d: %w", hashListID, err)
		}
	}
	return inserted, nil
}

// GetItemByValue finds an item in the list by its canonical hash value.
func (r *HashListRepository) GetItemByValue(ctx context.Context, hashListID int64, hashValue string) (*models.HashItem, error) {
	query := `
		SELECT id, hash_list_id, hash_value, salt, cracked, plaintext, cracked_at, cracked_by_task_id
		FROM hash_items
		WHERE hash_list_id = $1 AND hash_value = $2
	`
	item, err := scanHashItem(r.q.QueryRowContext(ctx, query, hashListID, hashValue))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("hash not in list")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hash item: %w", err)
	}
	return item, nil
}

func scanHashItem(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.HashItem, error) {
	var item models.HashItem
	var crackedBy uuid.NullUUID
	err := scanner.Scan(&item.ID, &item.HashListID, &item.HashValue, &item.Salt,
		&item.Cracked, &item.Plaintext, &item.CrackedAt, &crackedBy)
	if err != nil {
		return nil, err
	}
	if crackedBy.Valid {
		item.CrackedByTaskID = &crackedBy.UUID
	}
	return &item, nil
}

// MarkItemCracked sets the crack fields on an uncracked item and bumps the
// list's cracked count. The WHERE NOT cracked guard makes concurrent crack
// submissions for one item first-writer-wins; losers get core.Conflict.
func (r *HashListRepository) MarkItemCracked(ctx context.Context, itemID uuid.UUID, plaintext string, crackedAt time.Time, taskID uuid.UUID) error {
	query := `
		UPDATE hash_items
		SET cracked = TRUE, plaintext = $1, cracked_at = $2, cracked_by_task_id = $3
		WHERE id = $4 AND NOT cracked
	`
	result, err := r.q.ExecContext(ctx, query, plaintext, crackedAt, taskID, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark hash item %s cracked: %w", itemID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.Conflict("hash item already cracked")
	}
	if _, err := r.q.ExecContext(ctx, `
		UPDATE hash_lists SET cracked_count = cracked_count + 1, updated_at = now()
		WHERE id = (SELECT hash_list_id FROM hash_items WHERE id = $1)
	`, itemID); err != nil {
		return fmt.Errorf("failed to bump cracked count: %w", err)
	}
	return nil
}

// CountUncracked returns the number of uncracked items in the list.
func (r *HashListRepository) CountUncracked(ctx context.Context, hashListID int64) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hash_items WHERE hash_list_id = $1 AND NOT cracked`, hashListID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count uncracked items for hash list %d: %w", hashListID, err)
	}
	return count, nil
}

// ListItems returns all items of the list ordered by hash value.
func (r *HashListRepository) ListItems(ctx context.Context, hashListID int64) ([]models.HashItem, error) {
	query := `
		SELECT id, hash_list_id, hash_value, salt, cracked, plaintext, cracked_at, cracked_by_task_id
		FROM hash_items
		WHERE hash_list_id = $1
		ORDER BY hash_value
	`
	rows, err := r.q.QueryContext(ctx, query, hashListID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for hash list %d: %w", hashListID, err)
	}
	defer rows.Close()

	var items []models.HashItem
	for rows.Next() {
		item, err := scanHashItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hash item row: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListUncrackedValues returns the uncracked hash values of the list in a
// stable order; the agent surface renders these as the task's input list.
func (r *HashListRepository) ListUncrackedValues(ctx context.Context, hashListID int64) ([]string, error) {
	query := `
		SELECT hash_value FROM hash_items
		WHERE hash_list_id = $1 AND NOT cracked
		ORDER BY hash_value
	`
	rows, err := r.q.QueryContext(ctx, query, hashListID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncracked values for hash list %d: %w", hashListID, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan hash value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// ListAllValues returns every hash value of the list; the crack ingestor
// seeds its membership filter from this.
func (r *HashListRepository) ListAllValues(ctx context.Context, hashListID int64) ([]string, error) {
	query := `SELECT hash_value FROM hash_items WHERE hash_list_id = $1`
	rows, err := r.q.QueryContext(ctx, query, hashListID)
	if err != nil {
		return nil, fmt.Errorf("failed to list values for hash list %d: %w", hashListID, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan hash value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

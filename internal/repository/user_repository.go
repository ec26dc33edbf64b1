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

const userColumns = `id, username, password_hash, role, control_token_digest, created_at, updated_at`

// UserRepository handles database operations for operator accounts.
type UserRepository struct {
	q db.Queryer
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(database *db.DB) *UserRepository {
	return &UserRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{q: tx}
}

func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.User, error) {
	var u models.User
	err := scanner.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role,
		&u.ControlTokenDigest, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query, u.Username, u.PasswordHash, u.Role).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	u, err := scanUser(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE username = $1`, userColumns)
	u, err := scanUser(r.q.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %q: %w", username, err)
	}
	return u, nil
}

// SetControlTokenDigest replaces the user's control token digest.
func (r *UserRepository) SetControlTokenDigest(ctx context.Context, id int64, digest string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET control_token_digest = $1, updated_at = now() WHERE id = $2`, digest, id)
	if err != nil {
		return fmt.Errorf("failed to set control token for user %d: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("user not found")
	}
	return nil
}

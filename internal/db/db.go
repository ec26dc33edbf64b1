package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// deadlockSQLState is the Postgres error code raised on the transaction the
// server chose to break a lock cycle.
const deadlockSQLState = "40P01"

func isDeadlock(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == deadlockSQLState
}

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories are written against it so the same method works inside and
// outside a transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps the sql connection pool.
type DB struct {
	*sql.DB
}

// Connect opens the Postgres pool and verifies connectivity.
func Connect(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: conn}, nil
}

// Migrate applies all pending schema migrations.
func (d *DB) Migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(d.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	debug.Info("Database migrations applied")
	return nil
}

// RunInTx executes fn inside a transaction, committing on nil error and
// rolling back otherwise. A transaction Postgres kills to break a deadlock
// surfaces as core.Conflict, so callers with retry loops treat it like any
// other lost race instead of answering an internal error.
func (d *DB) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			debug.Error("Rollback failed: %v", rbErr)
		}
		if isDeadlock(err) {
			return core.Wrap(core.KindConflict, "transaction deadlocked", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isDeadlock(err) {
			return core.Wrap(core.KindConflict, "transaction deadlocked", err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

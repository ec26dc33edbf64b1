package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &DB{DB: conn}, mock
}

func TestRunInTxCommitsOnSuccess(t *testing.T) {
	database, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := database.RunInTx(context.Background(), func(tx *sql.Tx) error { return nil })
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackAndPassesErrorThrough(t *testing.T) {
	database, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	want := core.NotFound("task not found")
	err := database.RunInTx(context.Background(), func(tx *sql.Tx) error { return want })
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxMapsDeadlockToConflict(t *testing.T) {
	database, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	deadlock := &pq.Error{Code: "40P01", Message: "deadlock detected"}
	err := database.RunInTx(context.Background(), func(tx *sql.Tx) error {
		return deadlock
	})
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))

	// The server's diagnostics stay reachable for logging.
	var pqErr *pq.Error
	require.True(t, errors.As(err, &pqErr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxMapsDeadlockOnCommit(t *testing.T) {
	database, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})

	err := database.RunInTx(context.Background(), func(tx *sql.Tx) error { return nil })
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

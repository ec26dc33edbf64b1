package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

func newTaskRepoMock(t *testing.T) (*TaskRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &TaskRepository{q: conn}, mock
}

func taskRows(taskID, attackID uuid.UUID, state string, version int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "attack_id", "keyspace_offset", "keyspace_length", "state", "assigned_agent_id",
		"assigned_at", "accepted_at", "last_status_at", "progress_offset", "rejected_count",
		"device_speeds", "eta_seconds", "version", "created_at", "updated_at",
	}).AddRow(taskID.String(), attackID.String(), 0, 1000, state, nil, nil, nil, nil, 0, 0, []byte("[]"), nil, version, now, now)
}

func TestTaskClaimSucceeds(t *testing.T) {
	repo, mock := newTaskRepoMock(t)
	taskID := uuid.New()
	at := time.Now()

	mock.ExpectExec("UPDATE tasks").
		WithArgs(models.TaskStateAssigned, 3, at, taskID, 1, models.TaskStatePending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Claim(context.Background(), taskID, 1, 3, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskClaimConflictWhenVersionMoved(t *testing.T) {
	repo, mock := newTaskRepoMock(t)
	taskID := uuid.New()
	at := time.Now()

	mock.ExpectExec("UPDATE tasks").
		WithArgs(models.TaskStateAssigned, 3, at, taskID, 1, models.TaskStatePending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Claim(context.Background(), taskID, 1, 3, at)
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskUpdateConflictWhenVersionMoved(t *testing.T) {
	repo, mock := newTaskRepoMock(t)
	task := &models.Task{
		ID:       uuid.New(),
		AttackID: uuid.New(),
		State:    models.TaskStateRunning,
		Version:  4,
	}

	mock.ExpectExec("UPDATE tasks").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
	assert.Equal(t, 4, task.Version, "version must not advance on conflict")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskUpdateBumpsVersion(t *testing.T) {
	repo, mock := newTaskRepoMock(t)
	task := &models.Task{
		ID:       uuid.New(),
		AttackID: uuid.New(),
		State:    models.TaskStateRunning,
		Version:  4,
	}

	mock.ExpectExec("UPDATE tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), task))
	assert.Equal(t, 5, task.Version)
}

func TestTaskGetByIDNotFound(t *testing.T) {
	repo, mock := newTaskRepoMock(t)
	taskID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id").
		WithArgs(taskID).
		WillReturnRows(taskRows(taskID, uuid.New(), models.TaskStatePending, 1))

	task, err := repo.GetByID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)

	missing := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id").
		WithArgs(missing).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.GetByID(context.Background(), missing)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestCountNonTerminalByAttack(t *testing.T) {
	repo, mock := newTaskRepoMock(t)
	attackID := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(attackID, models.TaskStateCompleted, models.TaskStateExhausted, models.TaskStateFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountNonTerminalByAttack(context.Background(), attackID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrefixColumns(t *testing.T) {
	got := prefixColumns("id, name,\n\tstate", "t")
	assert.Equal(t, "t.id, t.name, t.state", got)
}

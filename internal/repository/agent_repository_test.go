package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

func newAgentRepoMock(t *testing.T) (*AgentRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &AgentRepository{q: conn}, mock
}

func agentRows(id int, state string, version int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "host_name", "operating_system", "client_signature", "devices", "state", "activity",
		"token_digest", "update_interval", "use_native_hashcat", "backend_devices", "opencl_devices",
		"enable_additional_hash_types", "device_flags", "last_seen_at", "last_heartbeat_at", "last_ip",
		"assigned_task_id", "version", "created_at", "updated_at",
	}).AddRow(id, "rig-01", "rig-01.local", "linux", "sig", "{GPU0}", state, models.AgentActivityWaiting,
		"digest", 15, false, "", "", false, "{}", nil, nil, "", nil, version, now, now)
}

func TestAgentGetByID(t *testing.T) {
	repo, mock := newAgentRepoMock(t)

	mock.ExpectQuery("SELECT .+ FROM agents WHERE id").
		WithArgs(7).
		WillReturnRows(agentRows(7, models.AgentStateActive, 2))

	agent, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, agent.ID)
	assert.Equal(t, models.AgentStateActive, agent.State)
	assert.Equal(t, 15, agent.Config.UpdateInterval)
}

func TestAgentGetByIDNotFound(t *testing.T) {
	repo, mock := newAgentRepoMock(t)

	mock.ExpectQuery("SELECT .+ FROM agents WHERE id").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestAgentUpdateConflictWhenVersionMoved(t *testing.T) {
	repo, mock := newAgentRepoMock(t)
	agent := &models.Agent{ID: 7, State: models.AgentStateActive, Version: 2}

	mock.ExpectExec("UPDATE agents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), agent)
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
	assert.Equal(t, 2, agent.Version, "version must not advance on conflict")
}

func TestAgentUpdateBumpsVersion(t *testing.T) {
	repo, mock := newAgentRepoMock(t)
	agent := &models.Agent{ID: 7, State: models.AgentStateActive, Version: 2}

	mock.ExpectExec("UPDATE agents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), agent))
	assert.Equal(t, 3, agent.Version)
}

func TestTouchHeartbeatMissingAgent(t *testing.T) {
	repo, mock := newAgentRepoMock(t)

	mock.ExpectExec("UPDATE agents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TouchHeartbeat(context.Background(), 99, models.AgentActivityWaiting, "10.0.0.1", time.Now())
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/config"
	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
)

// serviceFixture wires every service against one scripted sql connection so
// tests can walk whole scheduler flows, transactions included.
type serviceFixture struct {
	mock      sqlmock.Sqlmock
	broker    *events.Broker
	cfg       *config.Config
	scheduler *TaskScheduler
	agents    *AgentService
	progress  *ProgressService
	campaigns *CampaignService
	cracks    *CrackService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	database := &db.DB{DB: conn}
	cfg := &config.Config{
		MinSliceSeconds:      60,
		MaxSliceSeconds:      900,
		DefaultHashSpeed:     1,
		StaleWindow:          10 * time.Second,
		AcceptTimeout:        120 * time.Second,
		AssignRetryLimit:     5,
		HeartbeatMinInterval: 15 * time.Second,
		OfflineFloor:         90 * time.Second,
		StatusStaleFloor:     180 * time.Second,
	}
	broker := events.NewBroker(16)

	agentRepo := repository.NewAgentRepository(database)
	benchmarkRepo := repository.NewBenchmarkRepository(database)
	taskRepo := repository.NewTaskRepository(database)
	attackRepo := repository.NewAttackRepository(database)
	campaignRepo := repository.NewCampaignRepository(database)
	hashListRepo := repository.NewHashListRepository(database)
	crackRepo := repository.NewCrackRepository(database)
	errorRepo := repository.NewAgentErrorRepository(database)

	planner := NewKeyspacePlanner(database, attackRepo, taskRepo, benchmarkRepo, cfg)
	scheduler := NewTaskScheduler(database, taskRepo, attackRepo, campaignRepo,
		agentRepo, benchmarkRepo, errorRepo, planner, broker, cfg)

	return &serviceFixture{
		mock:      mock,
		broker:    broker,
		cfg:       cfg,
		scheduler: scheduler,
		agents:    NewAgentService(database, agentRepo, benchmarkRepo, taskRepo, errorRepo, broker, cfg),
		progress:  NewProgressService(database, taskRepo, agentRepo, broker, cfg),
		campaigns: NewCampaignService(database, campaignRepo, attackRepo, taskRepo,
			agentRepo, hashListRepo, planner, scheduler, broker),
		cracks: NewCrackService(database, hashListRepo, crackRepo, taskRepo,
			attackRepo, campaignRepo, broker),
	}
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func flowTaskRows(tasks ...models.Task) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "attack_id", "keyspace_offset", "keyspace_length", "state", "assigned_agent_id",
		"assigned_at", "accepted_at", "last_status_at", "progress_offset", "rejected_count",
		"device_speeds", "eta_seconds", "version", "created_at", "updated_at",
	})
	now := time.Now()
	for _, task := range tasks {
		var agentID interface{}
		if task.AssignedAgentID != nil {
			agentID = *task.AssignedAgentID
		}
		var eta interface{}
		if task.ETASeconds != nil {
			eta = *task.ETASeconds
		}
		rows.AddRow(task.ID.String(), task.AttackID.String(), task.KeyspaceOffset, task.KeyspaceLength,
			task.State, agentID, nullableTime(task.AssignedAt), nullableTime(task.AcceptedAt),
			nullableTime(task.LastStatusAt), task.ProgressOffset, task.RejectedCount,
			[]byte("[]"), eta, task.Version, now, now)
	}
	return rows
}

func flowAgentRows(agent models.Agent) *sqlmock.Rows {
	now := time.Now()
	var taskID interface{}
	if agent.AssignedTaskID != nil {
		taskID = agent.AssignedTaskID.String()
	}
	return sqlmock.NewRows([]string{
		"id", "name", "host_name", "operating_system", "client_signature", "devices", "state", "activity",
		"token_digest", "update_interval", "use_native_hashcat", "backend_devices", "opencl_devices",
		"enable_additional_hash_types", "device_flags", "last_seen_at", "last_heartbeat_at", "last_ip",
		"assigned_task_id", "version", "created_at", "updated_at",
	}).AddRow(agent.ID, agent.Name, agent.HostName, agent.OperatingSystem, agent.ClientSignature,
		[]byte("{}"), agent.State, agent.Activity, agent.TokenDigest, agent.Config.UpdateInterval,
		agent.Config.UseNativeHashcat, agent.Config.BackendDevices, agent.Config.OpenCLDevices,
		agent.Config.EnableAdditionalHashTypes, []byte("{}"), nullableTime(agent.LastSeenAt),
		nullableTime(agent.LastHeartbeatAt), agent.LastIP, taskID, agent.Version, now, now)
}

func flowAttackRows(attack models.Attack) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "campaign_id", "position", "mode", "hash_type", "wordlist_key", "rule_key", "mask", "mask_list",
		"custom_charset_1", "custom_charset_2", "custom_charset_3", "custom_charset_4",
		"min_length", "max_length", "increment_mode", "workload_profile", "optimized",
		"total_keyspace", "complexity_score", "state", "zap_serial", "created_at", "updated_at",
	}).AddRow(attack.ID.String(), attack.CampaignID.String(), attack.Position, attack.Mode, attack.HashType,
		attack.WordlistKey, attack.RuleKey, attack.Mask, []byte("{}"),
		attack.CustomCharset1, attack.CustomCharset2, attack.CustomCharset3, attack.CustomCharset4,
		attack.MinLength, attack.MaxLength, attack.IncrementMode, attack.WorkloadProfile, attack.Optimized,
		attack.TotalKeyspace, attack.ComplexityScore, attack.State, attack.ZapSerial, now, now)
}

func flowCampaignRows(c models.Campaign) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "project_id", "name", "description", "priority", "hash_list_id", "state", "created_at", "updated_at",
	}).AddRow(c.ID.String(), c.ProjectID, c.Name, c.Description, c.Priority, c.HashListID, c.State, now, now)
}

// An agent that already holds a task gets that task back instead of a second
// assignment.
func TestRequestTaskReturnsExistingAssignment(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	held := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStateRunning, AssignedAgentID: &agentID, Version: 2}

	f.mock.ExpectQuery(`FROM agents WHERE id`).WithArgs(agentID).
		WillReturnRows(flowAgentRows(models.Agent{ID: agentID, State: models.AgentStateActive, Version: 1}))
	f.mock.ExpectQuery(`WHERE assigned_agent_id`).
		WillReturnRows(flowTaskRows(held))

	task, err := f.scheduler.RequestTask(context.Background(), agentID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, held.ID, task.ID)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// A fresh claim locks the candidate task row before the agent row; the
// scripted expectations are ordered, so a swapped lock order fails the test.
func TestRequestTaskClaimsCandidateTaskFirst(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	now := time.Now().UTC()
	candidate := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStatePending, Version: 1}

	f.mock.ExpectQuery(`FROM agents WHERE id`).WithArgs(agentID).
		WillReturnRows(flowAgentRows(models.Agent{ID: agentID, State: models.AgentStateActive, Version: 1}))
	f.mock.ExpectQuery(`WHERE assigned_agent_id`).
		WillReturnRows(flowTaskRows())
	f.mock.ExpectQuery(`JOIN attacks`).
		WillReturnRows(flowTaskRows(candidate))

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(candidate.ID).
		WillReturnRows(flowTaskRows(candidate))
	f.mock.ExpectQuery(`FROM agents WHERE id = \$1 FOR UPDATE`).WithArgs(agentID).
		WillReturnRows(flowAgentRows(models.Agent{ID: agentID, State: models.AgentStateActive, Version: 1}))
	f.mock.ExpectQuery(`WHERE assigned_agent_id`).
		WillReturnRows(flowTaskRows())
	f.mock.ExpectExec(`UPDATE tasks`).
		WithArgs(models.TaskStateAssigned, agentID, sqlmock.AnyArg(), candidate.ID, 1, models.TaskStatePending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE agents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assigned := candidate
	assigned.State = models.TaskStateAssigned
	assigned.AssignedAgentID = &agentID
	assigned.AssignedAt = &now
	assigned.Version = 2
	f.mock.ExpectQuery(`FROM tasks WHERE id`).WithArgs(candidate.ID).
		WillReturnRows(flowTaskRows(assigned))
	f.mock.ExpectCommit()

	task, err := f.scheduler.RequestTask(context.Background(), agentID, now)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, candidate.ID, task.ID)
	assert.Equal(t, models.TaskStateAssigned, task.State)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// Accepting twice is a no-op: the second call sees accepted_at set and writes
// nothing.
func TestAcceptTaskIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	acceptedAt := time.Now().Add(-time.Minute)
	task := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStateAssigned, AssignedAgentID: &agentID, AcceptedAt: &acceptedAt, Version: 2}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectCommit()

	require.NoError(t, f.scheduler.AcceptTask(context.Background(), agentID, task.ID, time.Now()))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// A task that finished in the agent's hands answers Conflict, not NotFound:
// the agent held it, the slice just cannot change any more.
func TestAcceptTaskAfterFinishConflicts(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	task := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStateExhausted, AssignedAgentID: &agentID, Version: 3}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectRollback()

	err := f.scheduler.AcceptTask(context.Background(), agentID, task.ID, time.Now())
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))

	// Another agent asking about the same finished task still gets NotFound.
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectRollback()

	err = f.scheduler.AcceptTask(context.Background(), 9, task.ID, time.Now())
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAbandonTaskAfterFinishConflicts(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	task := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStateCompleted, AssignedAgentID: &agentID, Version: 3}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectRollback()

	err := f.scheduler.AbandonTask(context.Background(), agentID, task.ID)
	require.Error(t, err)
	assert.Equal(t, core.KindConflict, core.KindOf(err))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// The attack-state event of a first accept must not reach subscribers unless
// the transaction commits.
func TestAcceptTaskPublishesAfterCommit(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	campaignID := uuid.New()
	attack := models.Attack{ID: uuid.New(), CampaignID: campaignID, Position: 1,
		Mode: models.AttackModeDictionary, State: models.AttackStatePending, TotalKeyspace: 1000}
	task := models.Task{ID: uuid.New(), AttackID: attack.ID, KeyspaceLength: 1000,
		State: models.TaskStateAssigned, AssignedAgentID: &agentID, Version: 2}

	sub := f.broker.Subscribe(events.CampaignChannel(campaignID.String()))
	t.Cleanup(sub.Close)

	script := func() {
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
			WillReturnRows(flowTaskRows(task))
		f.mock.ExpectExec(`UPDATE tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(`FROM attacks WHERE id = \$1 FOR UPDATE`).WithArgs(attack.ID).
			WillReturnRows(flowAttackRows(attack))
		f.mock.ExpectExec(`UPDATE attacks SET state`).
			WithArgs(models.AttackStateRunning, attack.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	script()
	f.mock.ExpectCommit().WillReturnError(errors.New("connection reset"))
	err := f.scheduler.AcceptTask(context.Background(), agentID, task.ID, time.Now())
	require.Error(t, err)
	select {
	case evt := <-sub.C:
		t.Fatalf("event %s delivered for a rolled back transaction", evt.Type)
	default:
	}

	script()
	f.mock.ExpectCommit()
	require.NoError(t, f.scheduler.AcceptTask(context.Background(), agentID, task.ID, time.Now()))
	select {
	case evt := <-sub.C:
		assert.Equal(t, events.EventTypeAttackState, evt.Type)
	default:
		t.Fatal("expected an attack state event after the commit")
	}
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// A status report for a paused task tells the agent to stop.
func TestSubmitStatusPreemptedWhenPaused(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	task := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStatePaused, AssignedAgentID: &agentID, Version: 2}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectRollback()

	err := f.progress.SubmitStatus(context.Background(), agentID, task.ID,
		StatusReport{ProgressOffset: 10, ReportedAt: time.Now()}, time.Now())
	require.Error(t, err)
	assert.Equal(t, core.KindPreempted, core.KindOf(err))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// Reordered duplicates older than the tolerance window are dropped without
// touching the task.
func TestSubmitStatusIgnoresReorderedReport(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	now := time.Now().UTC()
	lastStatus := now
	task := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStateRunning, AssignedAgentID: &agentID, LastStatusAt: &lastStatus, Version: 2}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectRollback()

	err := f.progress.SubmitStatus(context.Background(), agentID, task.ID,
		StatusReport{ProgressOffset: 10, ReportedAt: now.Add(-30 * time.Second)}, now)
	require.Error(t, err)
	assert.Equal(t, core.KindStale, core.KindOf(err))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// last_status_at stores the server clock, not the agent's: the staleness
// sweeps compare against server time, so a skewed agent clock must not leak
// into liveness tracking.
func TestSubmitStatusStoresServerClock(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	serverNow := time.Now().UTC()
	task := models.Task{ID: uuid.New(), AttackID: uuid.New(), KeyspaceLength: 1000,
		State: models.TaskStateRunning, AssignedAgentID: &agentID, Version: 2}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectExec(`UPDATE tasks`).
		WithArgs(models.TaskStateRunning, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			serverNow, int64(250), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	// The agent's own clock runs 45s behind; only the ordering check may use
	// that timestamp.
	report := StatusReport{
		ProgressOffset: 250,
		TotalSpeed:     50,
		ReportedAt:     serverNow.Add(-45 * time.Second),
	}
	require.NoError(t, f.progress.SubmitStatus(context.Background(), agentID, task.ID, report, serverNow))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// Heartbeats under the minimum interval are rejected and do not refresh
// liveness; spaced ones land.
func TestHeartbeatThrottled(t *testing.T) {
	f := newServiceFixture(t)
	now := time.Now().UTC()

	tooSoon := now.Add(-5 * time.Second)
	f.mock.ExpectQuery(`FROM agents WHERE id`).WithArgs(7).
		WillReturnRows(flowAgentRows(models.Agent{ID: 7, State: models.AgentStateActive,
			Activity: models.AgentActivityCracking, LastHeartbeatAt: &tooSoon, Version: 1}))

	_, err := f.agents.Heartbeat(context.Background(), 7, models.AgentActivityCracking, "10.0.0.1", now)
	require.Error(t, err)
	assert.Equal(t, core.KindTooManyRequests, core.KindOf(err))

	spaced := now.Add(-20 * time.Second)
	f.mock.ExpectQuery(`FROM agents WHERE id`).WithArgs(7).
		WillReturnRows(flowAgentRows(models.Agent{ID: 7, State: models.AgentStateActive,
			Activity: models.AgentActivityCracking, LastHeartbeatAt: &spaced, Version: 1}))
	f.mock.ExpectExec(`UPDATE agents`).
		WithArgs(now, models.AgentActivityCracking, "10.0.0.1", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	feedback, err := f.agents.Heartbeat(context.Background(), 7, models.AgentActivityCracking, "10.0.0.1", now)
	require.NoError(t, err)
	assert.Empty(t, feedback)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// Each zap serial reaches each agent at most once: the cursor advances with
// the delivery, and a second fetch starts past it.
func TestGetZapsDeliversEachSerialOnce(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	attack := models.Attack{ID: uuid.New(), CampaignID: uuid.New(), Position: 1,
		Mode: models.AttackModeDictionary, State: models.AttackStateRunning, TotalKeyspace: 1000}
	task := models.Task{ID: uuid.New(), AttackID: attack.ID, KeyspaceLength: 1000,
		State: models.TaskStateRunning, AssignedAgentID: &agentID, Version: 2}

	entryCols := []string{"attack_id", "serial", "hash_value", "created_at"}
	now := time.Now()

	f.mock.ExpectQuery(`FROM tasks WHERE id`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM attacks WHERE id = \$1 FOR UPDATE`).WithArgs(attack.ID).
		WillReturnRows(flowAttackRows(attack))
	f.mock.ExpectQuery(`SELECT last_serial FROM zap_cursors`).WithArgs(attack.ID, agentID).
		WillReturnRows(sqlmock.NewRows([]string{"last_serial"}))
	f.mock.ExpectQuery(`FROM zap_entries`).WithArgs(attack.ID, int64(0)).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow(attack.ID.String(), int64(1), "aaa", now).
			AddRow(attack.ID.String(), int64(2), "bbb", now))
	f.mock.ExpectExec(`INSERT INTO zap_cursors`).WithArgs(attack.ID, agentID, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	values, err := f.cracks.GetZaps(context.Background(), agentID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "bbb"}, values)

	// Nothing new: same cursor, no delivery, no cursor write.
	f.mock.ExpectQuery(`FROM tasks WHERE id`).WithArgs(task.ID).
		WillReturnRows(flowTaskRows(task))
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM attacks WHERE id = \$1 FOR UPDATE`).WithArgs(attack.ID).
		WillReturnRows(flowAttackRows(attack))
	f.mock.ExpectQuery(`SELECT last_serial FROM zap_cursors`).WithArgs(attack.ID, agentID).
		WillReturnRows(sqlmock.NewRows([]string{"last_serial"}).AddRow(int64(2)))
	f.mock.ExpectQuery(`FROM zap_entries`).WithArgs(attack.ID, int64(2)).
		WillReturnRows(sqlmock.NewRows(entryCols))
	f.mock.ExpectCommit()

	values, err = f.cracks.GetZaps(context.Background(), agentID, task.ID)
	require.NoError(t, err)
	assert.Empty(t, values)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// Rebalancing after a config change replaces every unfinished slice, frees
// the agents that held them, and cuts the current total keyspace minus the
// finished regions, so grown keyspace gets covered and overhang disappears.
func TestRebalanceRecutsUnfinishedKeyspace(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	attack := models.Attack{ID: uuid.New(), CampaignID: uuid.New(), Position: 1,
		Mode: models.AttackModeMask, State: models.AttackStateRunning, TotalKeyspace: 2000}

	finished := models.Task{ID: uuid.New(), AttackID: attack.ID,
		KeyspaceOffset: 0, KeyspaceLength: 500, State: models.TaskStateExhausted, Version: 3}
	held := models.Task{ID: uuid.New(), AttackID: attack.ID,
		KeyspaceOffset: 500, KeyspaceLength: 500, State: models.TaskStateRunning,
		AssignedAgentID: &agentID, Version: 3}
	pending := models.Task{ID: uuid.New(), AttackID: attack.ID,
		KeyspaceOffset: 1000, KeyspaceLength: 500, State: models.TaskStatePending, Version: 1}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM attacks WHERE id = \$1 FOR UPDATE`).WithArgs(attack.ID).
		WillReturnRows(flowAttackRows(attack))
	f.mock.ExpectQuery(`FROM tasks WHERE attack_id`).WithArgs(attack.ID).
		WillReturnRows(flowTaskRows(finished, held, pending))
	f.mock.ExpectExec(`DELETE FROM tasks`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	f.mock.ExpectQuery(`FROM agents WHERE id = \$1 FOR UPDATE`).WithArgs(agentID).
		WillReturnRows(flowAgentRows(models.Agent{ID: agentID, State: models.AgentStateActive,
			AssignedTaskID: &held.ID, Version: 1}))
	f.mock.ExpectExec(`UPDATE agents`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(`SELECT SUM`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}))

	// DefaultHashSpeed 1 h/s over the 900s window: slices of 900. The open
	// region is [500, 2000).
	f.mock.ExpectQuery(`INSERT INTO tasks`).
		WithArgs(sqlmock.AnyArg(), attack.ID, int64(500), int64(900), models.TaskStatePending).
		WillReturnRows(flowTaskRows(models.Task{ID: uuid.New(), AttackID: attack.ID,
			KeyspaceOffset: 500, KeyspaceLength: 900, State: models.TaskStatePending, Version: 1}))
	f.mock.ExpectQuery(`INSERT INTO tasks`).
		WithArgs(sqlmock.AnyArg(), attack.ID, int64(1400), int64(600), models.TaskStatePending).
		WillReturnRows(flowTaskRows(models.Task{ID: uuid.New(), AttackID: attack.ID,
			KeyspaceOffset: 1400, KeyspaceLength: 600, State: models.TaskStatePending, Version: 1}))
	f.mock.ExpectCommit()

	require.NoError(t, f.scheduler.Rebalance(context.Background(), attack.ID))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// Archiving a campaign releases held tasks and clears the owning agents'
// assignment pointer in the same transaction.
func TestArchiveCampaignReleasesOwningAgents(t *testing.T) {
	f := newServiceFixture(t)
	agentID := 7
	campaign := models.Campaign{ID: uuid.New(), ProjectID: 1, Name: "q3",
		HashListID: 4, State: models.CampaignStateActive}
	attack := models.Attack{ID: uuid.New(), CampaignID: campaign.ID, Position: 1,
		Mode: models.AttackModeDictionary, State: models.AttackStateRunning, TotalKeyspace: 1000}
	held := models.Task{ID: uuid.New(), AttackID: attack.ID, KeyspaceLength: 1000,
		State: models.TaskStateRunning, AssignedAgentID: &agentID, Version: 2}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM campaigns WHERE id`).WithArgs(campaign.ID).
		WillReturnRows(flowCampaignRows(campaign))
	f.mock.ExpectQuery(`FROM attacks WHERE campaign_id`).WithArgs(campaign.ID).
		WillReturnRows(flowAttackRows(attack))
	f.mock.ExpectQuery(`FROM tasks`).WithArgs(attack.ID, sqlmock.AnyArg()).
		WillReturnRows(flowTaskRows(held))
	f.mock.ExpectExec(`UPDATE tasks`).
		WithArgs(models.TaskStateAbandoned, nil, nil, nil, nil, int64(0), sqlmock.AnyArg(),
			sqlmock.AnyArg(), nil, held.ID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(`FROM agents WHERE id = \$1 FOR UPDATE`).WithArgs(agentID).
		WillReturnRows(flowAgentRows(models.Agent{ID: agentID, State: models.AgentStateActive,
			AssignedTaskID: &held.ID, Version: 1}))
	f.mock.ExpectExec(`UPDATE agents`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, agentID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE attacks SET state`).
		WithArgs(models.AttackStatePaused, attack.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE campaigns SET state`).
		WithArgs(models.CampaignStateArchived, campaign.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	require.NoError(t, f.campaigns.ArchiveCampaign(context.Background(), campaign.ID))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unclesp1d3r/cipherswarm/internal/config"
	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// AgentService owns the agent lifecycle: registration, authentication,
// configuration, benchmarks, heartbeats and error reports.
type AgentService struct {
	database      *db.DB
	agentRepo     *repository.AgentRepository
	benchmarkRepo *repository.BenchmarkRepository
	taskRepo      *repository.TaskRepository
	errorRepo     *repository.AgentErrorRepository
	broker        *events.Broker
	cfg           *config.Config
}

// NewAgentService creates a new agent service.
func NewAgentService(
	database *db.DB,
	agentRepo *repository.AgentRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	taskRepo *repository.TaskRepository,
	errorRepo *repository.AgentErrorRepository,
	broker *events.Broker,
	cfg *config.Config,
) *AgentService {
	return &AgentService{
		database:      database,
		agentRepo:     agentRepo,
		benchmarkRepo: benchmarkRepo,
		taskRepo:      taskRepo,
		errorRepo:     errorRepo,
		broker:        broker,
		cfg:           cfg,
	}
}

// RegisterRequest carries the fields an agent submits at registration.
type RegisterRequest struct {
	Name            string
	HostName        string
	OperatingSystem string
	ClientSignature string
	Devices         []string
}

// Register creates a pending agent and mints its bearer token. The token is
// only ever returned here; the database keeps a digest.
func (s *AgentService) Register(ctx context.Context, req RegisterRequest) (*models.Agent, string, error) {
	if req.HostName == "" {
		return nil, "", core.Malformed("host_name is required")
	}
	name := req.Name
	if name == "" {
		name = req.HostName
	}

	agent := &models.Agent{
		Name:            name,
		HostName:        req.HostName,
		OperatingSystem: req.OperatingSystem,
		ClientSignature: req.ClientSignature,
		Devices:         req.Devices,
		State:           models.AgentStatePending,
		Activity:        models.AgentActivityStarting,
		Config: models.AgentConfig{
			UpdateInterval: int(s.cfg.HeartbeatMinInterval / time.Second),
		},
	}

	var token string
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		agentRepo := s.agentRepo.WithTx(tx)
		if err := agentRepo.Create(ctx, agent); err != nil {
			return err
		}
		// The token embeds the agent ID, so it can only be minted after
		// the insert assigns one.
		var digest string
		var err error
		token, digest, err = GenerateAgentToken(agent.ID)
		if err != nil {
			return err
		}
		agent.TokenDigest = digest
		return agentRepo.Update(ctx, agent)
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to register agent: %w", err)
	}

	debug.Log("Agent registered", map[string]interface{}{
		"agent_id":  agent.ID,
		"host_name": agent.HostName,
	})
	s.broker.Publish(events.EventTypeAgentRegistered, events.AgentChannel(int64(agent.ID)), agent)
	return agent, token, nil
}

// Authenticate resolves a bearer token to its agent. Unknown, malformed and
// wrong-secret tokens all fail identically.
func (s *AgentService) Authenticate(ctx context.Context, token string) (*models.Agent, error) {
	agentID, secret, err := ParseAgentToken(token)
	if err != nil {
		return nil, err
	}
	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return nil, core.Unauthorized("invalid token")
		}
		return nil, err
	}
	if !VerifySecret(secret, agent.TokenDigest) {
		return nil, core.Unauthorized("invalid token")
	}
	return agent, nil
}

// GetConfiguration returns the agent's current tunables.
func (s *AgentService) GetConfiguration(ctx context.Context, agentID int) (*models.AgentConfig, error) {
	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	cfg := agent.Config
	return &cfg, nil
}

// UpdateInfoRequest carries the agent-writable identity fields. Config
// tunables are admin-owned and ignored here.
type UpdateInfoRequest struct {
	Name            string
	HostName        string
	OperatingSystem string
	ClientSignature string
	Devices         []string
}

// UpdateInfo refreshes the agent's self-reported identity fields.
func (s *AgentService) UpdateInfo(ctx context.Context, agentID int, req UpdateInfoRequest) (*models.Agent, error) {
	var agent *models.Agent
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		agentRepo := s.agentRepo.WithTx(tx)
		var err error
		agent, err = agentRepo.GetByIDForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		if req.Name != "" {
			agent.Name = req.Name
		}
		if req.HostName != "" {
			agent.HostName = req.HostName
		}
		if req.OperatingSystem != "" {
			agent.OperatingSystem = req.OperatingSystem
		}
		if req.ClientSignature != "" {
			agent.ClientSignature = req.ClientSignature
		}
		if req.Devices != nil {
			agent.Devices = req.Devices
		}
		return agentRepo.Update(ctx, agent)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update agent %d info: %w", agentID, err)
	}
	return agent, nil
}

// AdminUpdateRequest carries the admin-writable agent tunables pushed from
// the web surface.
type AdminUpdateRequest struct {
	State  *string
	Config *models.AgentConfig
}

// AdminUpdate applies operator changes to an agent. Setting config on an
// agent with a held task is allowed; the scheduler rebalances on the next
// sweep.
func (s *AgentService) AdminUpdate(ctx context.Context, agentID int, req AdminUpdateRequest) (*models.Agent, error) {
	var agent *models.Agent
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		agentRepo := s.agentRepo.WithTx(tx)
		var err error
		agent, err = agentRepo.GetByIDForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		if req.State != nil {
			switch *req.State {
			case models.AgentStateActive, models.AgentStateStopped:
			default:
				return core.Malformed("state must be active or stopped")
			}
			agent.State = *req.State
		}
		if req.Config != nil {
			cfg := *req.Config
			if cfg.UpdateInterval < 1 {
				return core.Malformed("agent_update_interval must be at least 1")
			}
			agent.Config = cfg
		}
		return agentRepo.Update(ctx, agent)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update agent %d: %w", agentID, err)
	}
	s.broker.Publish(events.EventTypeAgentState, events.AgentChannel(int64(agent.ID)), agent)
	return agent, nil
}

// SubmitBenchmark atomically replaces the agent's benchmark set. The first
// successful submission moves a pending agent to active.
func (s *AgentService) SubmitBenchmark(ctx context.Context, agentID int, benchmarks []models.Benchmark) error {
	if len(benchmarks) == 0 {
		return core.Malformed("at least one benchmark is required")
	}
	for _, b := range benchmarks {
		if b.HashSpeed <= 0 {
			return core.Malformed(fmt.Sprintf("hash_speed must be positive for hash type %d", b.HashType))
		}
	}

	var activated bool
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		agentRepo := s.agentRepo.WithTx(tx)
		agent, err := agentRepo.GetByIDForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		if err := s.benchmarkRepo.WithTx(tx).ReplaceForAgent(ctx, agentID, benchmarks); err != nil {
			return err
		}
		if agent.State == models.AgentStatePending {
			agent.State = models.AgentStateActive
			activated = true
		}
		agent.Activity = models.AgentActivityWaiting
		return agentRepo.Update(ctx, agent)
	})
	if err != nil {
		return fmt.Errorf("failed to submit benchmarks for agent %d: %w", agentID, err)
	}

	debug.Log("Agent benchmarks replaced", map[string]interface{}{
		"agent_id":  agentID,
		"count":     len(benchmarks),
		"activated": activated,
	})
	if activated {
		s.broker.Publish(events.EventTypeAgentState, events.AgentChannel(int64(agentID)),
			map[string]string{"state": models.AgentStateActive})
	}
	return nil
}

// HeartbeatAllowed reports whether a heartbeat at now respects the minimum
// interval since the previous one.
func HeartbeatAllowed(last *time.Time, now time.Time, minInterval time.Duration) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= minInterval
}

// HeartbeatFeedback maps an agent state to the instruction sent back on a
// heartbeat: pending agents must benchmark, stopped agents must halt, error
// agents must stand by. Active agents get no instruction.
func HeartbeatFeedback(state string) string {
	switch state {
	case models.AgentStatePending, models.AgentStateStopped, models.AgentStateError:
		return state
	}
	return ""
}

// Heartbeat records agent liveness. Heartbeats arriving faster than the
// configured minimum interval are rejected with TooManyRequests and do not
// refresh liveness.
func (s *AgentService) Heartbeat(ctx context.Context, agentID int, activity, ip string, now time.Time) (string, error) {
	if activity != "" && !models.ValidAgentActivity(activity) {
		return "", core.Malformed(fmt.Sprintf("unknown activity %q", activity))
	}

	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return "", err
	}
	if !HeartbeatAllowed(agent.LastHeartbeatAt, now, s.cfg.HeartbeatMinInterval) {
		return "", core.TooManyRequests("heartbeat rate exceeded")
	}
	if activity == "" {
		activity = agent.Activity
	}

	// An offline agent that heartbeats again is back.
	if agent.State == models.AgentStateOffline {
		if err := s.reactivate(ctx, agentID); err != nil {
			return "", err
		}
		agent.State = models.AgentStateActive
	}

	if err := s.agentRepo.TouchHeartbeat(ctx, agentID, activity, ip, now); err != nil {
		return "", err
	}
	return HeartbeatFeedback(agent.State), nil
}

func (s *AgentService) reactivate(ctx context.Context, agentID int) error {
	return s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		agentRepo := s.agentRepo.WithTx(tx)
		agent, err := agentRepo.GetByIDForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.State != models.AgentStateOffline {
			return nil
		}
		agent.State = models.AgentStateActive
		return agentRepo.Update(ctx, agent)
	})
}

// ErrorReport is an agent-submitted problem description.
type ErrorReport struct {
	Severity string
	Message  string
	Metadata json.RawMessage
	TaskID   *string
}

// SubmitError records the report. Fatal severity also moves the agent to the
// error state and releases any held task back to pending.
func (s *AgentService) SubmitError(ctx context.Context, agentID int, report ErrorReport) error {
	if !models.ValidSeverity(report.Severity) {
		return core.Malformed(fmt.Sprintf("unknown severity %q", report.Severity))
	}
	if report.Message == "" {
		return core.Malformed("message is required")
	}

	agentErr := &models.AgentError{
		AgentID:  agentID,
		Severity: report.Severity,
		Message:  report.Message,
		Metadata: report.Metadata,
	}
	if report.TaskID != nil {
		id, err := parseTaskID(*report.TaskID)
		if err != nil {
			return err
		}
		agentErr.TaskID = &id
	}

	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		if err := s.errorRepo.WithTx(tx).Create(ctx, agentErr); err != nil {
			return err
		}
		if report.Severity != models.SeverityFatal {
			return nil
		}
		agentRepo := s.agentRepo.WithTx(tx)
		agent, err := agentRepo.GetByIDForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		agent.State = models.AgentStateError
		agent.AssignedTaskID = nil
		if err := agentRepo.Update(ctx, agent); err != nil {
			return err
		}
		return releaseHeldTasks(ctx, s.taskRepo.WithTx(tx), agentID)
	})
	if err != nil {
		return fmt.Errorf("failed to record error for agent %d: %w", agentID, err)
	}

	if report.Severity == models.SeverityFatal {
		debug.Warning("Agent %d reported fatal error: %s", agentID, report.Message)
		s.broker.Publish(events.EventTypeAgentState, events.AgentChannel(int64(agentID)),
			map[string]string{"state": models.AgentStateError})
	}
	return nil
}

// Shutdown handles a graceful agent exit: the agent goes offline and any
// held task returns to the pending pool immediately.
func (s *AgentService) Shutdown(ctx context.Context, agentID int) error {
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		agentRepo := s.agentRepo.WithTx(tx)
		agent, err := agentRepo.GetByIDForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		agent.State = models.AgentStateOffline
		agent.Activity = models.AgentActivityStopping
		agent.AssignedTaskID = nil
		if err := agentRepo.Update(ctx, agent); err != nil {
			return err
		}
		return releaseHeldTasks(ctx, s.taskRepo.WithTx(tx), agentID)
	})
	if err != nil {
		return fmt.Errorf("failed to shut down agent %d: %w", agentID, err)
	}

	debug.Log("Agent shut down", map[string]interface{}{"agent_id": agentID})
	s.broker.Publish(events.EventTypeAgentOffline, events.AgentChannel(int64(agentID)), nil)
	return nil
}

// GetAgent returns one agent.
func (s *AgentService) GetAgent(ctx context.Context, agentID int) (*models.Agent, error) {
	return s.agentRepo.GetByID(ctx, agentID)
}

// ListAgents returns the whole fleet.
func (s *AgentService) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return s.agentRepo.List(ctx)
}

// ListErrors returns an agent's recent error reports.
func (s *AgentService) ListErrors(ctx context.Context, agentID int, limit int) ([]models.AgentError, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.errorRepo.ListByAgent(ctx, agentID, limit)
}

// releaseHeldTasks returns every task held by the agent to the pending pool.
// Progress resets to zero: a released slice reruns from its own offset, which
// keeps correctness without per-candidate bookkeeping.
func releaseHeldTasks(ctx context.Context, taskRepo *repository.TaskRepository, agentID int) error {
	held, err := taskRepo.ListHeldByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for i := range held {
		t := &held[i]
		t.State = models.TaskStatePending
		t.AssignedAgentID = nil
		t.AssignedAt = nil
		t.AcceptedAt = nil
		t.LastStatusAt = nil
		t.ProgressOffset = 0
		t.ETASeconds = nil
		if err := taskRepo.Update(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

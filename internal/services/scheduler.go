package services

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/config"
	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// TaskScheduler hands keyspace slices to agents. Every mutation runs under
// row locks with optimistic version checks so a slice is held by at most one
// agent at any moment.
type TaskScheduler struct {
	database      *db.DB
	taskRepo      *repository.TaskRepository
	attackRepo    *repository.AttackRepository
	campaignRepo  *repository.CampaignRepository
	agentRepo     *repository.AgentRepository
	benchmarkRepo *repository.BenchmarkRepository
	errorRepo     *repository.AgentErrorRepository
	planner       *KeyspacePlanner
	broker        *events.Broker
	cfg           *config.Config
}

// NewTaskScheduler creates a new task scheduler.
func NewTaskScheduler(
	database *db.DB,
	taskRepo *repository.TaskRepository,
	attackRepo *repository.AttackRepository,
	campaignRepo *repository.CampaignRepository,
	agentRepo *repository.AgentRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	errorRepo *repository.AgentErrorRepository,
	planner *KeyspacePlanner,
	broker *events.Broker,
	cfg *config.Config,
) *TaskScheduler {
	return &TaskScheduler{
		database:      database,
		taskRepo:      taskRepo,
		attackRepo:    attackRepo,
		campaignRepo:  campaignRepo,
		agentRepo:     agentRepo,
		benchmarkRepo: benchmarkRepo,
		errorRepo:     errorRepo,
		planner:       planner,
		broker:        broker,
		cfg:           cfg,
	}
}

func parseTaskID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, core.Malformed("invalid task id")
	}
	return id, nil
}

// taskOwnershipErr gates agent mutations of a task: nil while the agent holds
// it, Conflict when it already finished in this agent's hands, NotFound for
// everything else so agents learn nothing about slices they never owned.
func taskOwnershipErr(task *models.Task, agentID int) error {
	if task.OwnedBy(agentID) {
		return nil
	}
	if task.LastHeldBy(agentID) {
		return core.Conflict("task already finished")
	}
	return core.NotFound("task not found")
}

// pendingEvent is a broker publish deferred until the surrounding transaction
// commits; subscribers must never observe state that gets rolled back.
type pendingEvent struct {
	eventType string
	channel   string
	payload   interface{}
}

func (s *TaskScheduler) publishAll(evts []pendingEvent) {
	for _, e := range evts {
		s.broker.Publish(e.eventType, e.channel, e.payload)
	}
}

// SpeedDeviates reports whether an agent's benchmark speed differs from the
// planning median by at least the given fraction. A replan is worthwhile
// when the fleet the slices were cut for no longer resembles reality.
func SpeedDeviates(agentSpeed, median, threshold float64) bool {
	if median <= 0 || agentSpeed <= 0 {
		return false
	}
	return math.Abs(agentSpeed-median)/median >= threshold
}

// RequestTask returns the agent's current assignment, or claims the highest
// ranked pending task it is eligible for. A nil task with a nil error means
// no work is available.
func (s *TaskScheduler) RequestTask(ctx context.Context, agentID int, now time.Time) (*models.Task, error) {
	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.State != models.AgentStateActive {
		return nil, core.Forbidden("agent is not active")
	}

	// At-most-one: an agent that already holds a task gets that task back.
	held, err := s.taskRepo.ListHeldByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(held) > 0 {
		return &held[0], nil
	}

	for attempt := 0; attempt < s.cfg.AssignRetryLimit; attempt++ {
		candidates, err := s.taskRepo.FindCandidates(ctx, agentID,
			agent.Config.EnableAdditionalHashTypes, s.cfg.AssignRetryLimit)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}

		for i := range candidates {
			task, claimErr := s.claim(ctx, agentID, &candidates[i], now)
			if claimErr == nil {
				s.broker.Publish(events.EventTypeTaskAssigned, events.AgentChannel(int64(agentID)), task)
				return task, nil
			}
			if core.IsKind(claimErr, core.KindConflict) {
				// Someone else took this slice; move down the ranking.
				continue
			}
			return nil, claimErr
		}
	}

	debug.Warning("Gave up claiming a task for agent %d after %d attempts", agentID, s.cfg.AssignRetryLimit)
	return nil, core.Conflict("task pool is contended, retry")
}

func (s *TaskScheduler) claim(ctx context.Context, agentID int, candidate *models.Task, now time.Time) (*models.Task, error) {
	var claimed *models.Task
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		agentRepo := s.agentRepo.WithTx(tx)
		taskRepo := s.taskRepo.WithTx(tx)

		// Task row before agent row: abandon, exhaust and the stale sweep
		// all lock in that order, and a mixed order deadlocks under load.
		task, err := taskRepo.GetByIDForUpdate(ctx, candidate.ID)
		if err != nil {
			if core.IsKind(err, core.KindNotFound) {
				// Replanning deleted the slice; same as losing the race.
				return core.Conflict("task no longer exists")
			}
			return err
		}
		if task.State != models.TaskStatePending {
			return core.Conflict("task was claimed concurrently")
		}

		agent, err := agentRepo.GetByIDForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		// Re-check under the lock: a concurrent request may have assigned
		// this agent already.
		stillHeld, err := taskRepo.ListHeldByAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if len(stillHeld) > 0 {
			claimed = &stillHeld[0]
			return nil
		}

		if err := taskRepo.Claim(ctx, task.ID, task.Version, agentID, now); err != nil {
			return err
		}
		agent.AssignedTaskID = &task.ID
		if err := agentRepo.Update(ctx, agent); err != nil {
			return err
		}

		claimed, err = taskRepo.GetByID(ctx, task.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// AcceptTask confirms the agent received its assignment. Accepting an
// already accepted task is a no-op; the first accept moves a pending attack
// to running.
func (s *TaskScheduler) AcceptTask(ctx context.Context, agentID int, taskID uuid.UUID, now time.Time) error {
	var evts []pendingEvent
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		taskRepo := s.taskRepo.WithTx(tx)
		task, err := taskRepo.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if err := taskOwnershipErr(task, agentID); err != nil {
			return err
		}
		if task.AcceptedAt != nil {
			return nil
		}
		task.AcceptedAt = &now
		if err := taskRepo.Update(ctx, task); err != nil {
			return err
		}

		attackRepo := s.attackRepo.WithTx(tx)
		attack, err := attackRepo.GetByIDForUpdate(ctx, task.AttackID)
		if err != nil {
			return err
		}
		if attack.State == models.AttackStatePending {
			if err := attackRepo.SetState(ctx, attack.ID, models.AttackStateRunning); err != nil {
				return err
			}
			evts = append(evts, pendingEvent{
				eventType: events.EventTypeAttackState,
				channel:   events.CampaignChannel(attack.CampaignID.String()),
				payload:   map[string]string{"attack_id": attack.ID.String(), "state": models.AttackStateRunning},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to accept task %s: %w", taskID, err)
	}
	s.publishAll(evts)
	return nil
}

// AbandonTask returns the agent's task to the pending pool and records a
// minor error against the agent. When the abandoning agent's speed deviates
// far from the median the slices were planned for, the attack remainder is
// replanned.
func (s *TaskScheduler) AbandonTask(ctx context.Context, agentID int, taskID uuid.UUID) error {
	var attackID uuid.UUID
	var hashType int
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		taskRepo := s.taskRepo.WithTx(tx)
		task, err := taskRepo.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if err := taskOwnershipErr(task, agentID); err != nil {
			return err
		}
		attackID = task.AttackID

		attack, err := s.attackRepo.WithTx(tx).GetByID(ctx, task.AttackID)
		if err != nil {
			return err
		}
		hashType = attack.HashType

		task.State = models.TaskStatePending
		task.AssignedAgentID = nil
		task.AssignedAt = nil
		task.AcceptedAt = nil
		task.LastStatusAt = nil
		task.ProgressOffset = 0
		task.ETASeconds = nil
		if err := taskRepo.Update(ctx, task); err != nil {
			return err
		}

		if err := clearAgentAssignment(ctx, s.agentRepo.WithTx(tx), agentID); err != nil {
			return err
		}

		return s.errorRepo.WithTx(tx).Create(ctx, &models.AgentError{
			AgentID:  agentID,
			TaskID:   &taskID,
			Severity: models.SeverityMinor,
			Message:  "task abandoned by agent",
		})
	})
	if err != nil {
		return fmt.Errorf("failed to abandon task %s: %w", taskID, err)
	}

	s.broker.Publish(events.EventTypeTaskAbandoned, events.AgentChannel(int64(agentID)),
		map[string]string{"task_id": taskID.String()})

	if err := s.maybeReplan(ctx, agentID, attackID, hashType); err != nil {
		debug.Error("replan after abandon failed: attack=%s error=%v", attackID, err)
	}
	return nil
}

// maybeReplan reslices the attack remainder when the abandoning agent's
// benchmark deviates 50% or more from the current planning median.
func (s *TaskScheduler) maybeReplan(ctx context.Context, agentID int, attackID uuid.UUID, hashType int) error {
	speed, found, err := s.benchmarkRepo.AgentSpeed(ctx, agentID, hashType)
	if err != nil || !found {
		return err
	}
	median, err := s.planner.PlanningMedian(ctx, hashType)
	if err != nil {
		return err
	}
	if !SpeedDeviates(speed, median, 0.5) {
		return nil
	}
	debug.Log("Replanning after divergent agent abandoned", map[string]interface{}{
		"attack_id":   attackID,
		"agent_id":    agentID,
		"agent_speed": speed,
		"median":      median,
	})
	_, err = s.planner.Replan(ctx, attackID)
	return err
}

// MarkExhausted records that the agent finished its slice without cracking
// everything, then rolls terminal state up to the attack and campaign.
func (s *TaskScheduler) MarkExhausted(ctx context.Context, agentID int, taskID uuid.UUID) error {
	var attackID uuid.UUID
	var evts []pendingEvent
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		taskRepo := s.taskRepo.WithTx(tx)
		task, err := taskRepo.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if err := taskOwnershipErr(task, agentID); err != nil {
			return err
		}
		attackID = task.AttackID

		task.State = models.TaskStateExhausted
		task.ProgressOffset = task.KeyspaceLength
		if err := taskRepo.Update(ctx, task); err != nil {
			return err
		}
		if err := clearAgentAssignment(ctx, s.agentRepo.WithTx(tx), agentID); err != nil {
			return err
		}
		evts, err = s.rollupAttack(ctx, tx, attackID, models.AttackStateExhausted)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to exhaust task %s: %w", taskID, err)
	}

	s.broker.Publish(events.EventTypeTaskState, events.AgentChannel(int64(agentID)),
		map[string]string{"task_id": taskID.String(), "state": models.TaskStateExhausted})
	s.publishAll(evts)
	return nil
}

// rollupAttack moves the attack to terminalState once no runnable task
// remains, then rolls the campaign up when all its attacks are terminal.
// Runs inside the caller's transaction; the returned events must be
// published by the caller after the commit.
func (s *TaskScheduler) rollupAttack(ctx context.Context, tx *sql.Tx, attackID uuid.UUID, terminalState string) ([]pendingEvent, error) {
	attackRepo := s.attackRepo.WithTx(tx)
	attack, err := attackRepo.GetByIDForUpdate(ctx, attackID)
	if err != nil {
		return nil, err
	}
	if attack.Terminal() {
		return nil, nil
	}
	remaining, err := s.taskRepo.WithTx(tx).CountNonTerminalByAttack(ctx, attackID)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, nil
	}
	if err := attackRepo.SetState(ctx, attackID, terminalState); err != nil {
		return nil, err
	}
	evts := []pendingEvent{{
		eventType: events.EventTypeAttackState,
		channel:   events.CampaignChannel(attack.CampaignID.String()),
		payload:   map[string]string{"attack_id": attackID.String(), "state": terminalState},
	}}

	campaignEvts, err := s.rollupCampaign(ctx, tx, attack.CampaignID)
	if err != nil {
		return nil, err
	}
	return append(evts, campaignEvts...), nil
}

func (s *TaskScheduler) rollupCampaign(ctx context.Context, tx *sql.Tx, campaignID uuid.UUID) ([]pendingEvent, error) {
	attacks, err := s.attackRepo.WithTx(tx).ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for i := range attacks {
		if !attacks[i].Terminal() {
			return nil, nil
		}
	}
	campaignRepo := s.campaignRepo.WithTx(tx)
	campaign, err := campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch campaign.State {
	case models.CampaignStateCompleted, models.CampaignStateArchived:
		return nil, nil
	}
	if err := campaignRepo.SetState(ctx, campaignID, models.CampaignStateCompleted); err != nil {
		return nil, err
	}
	return []pendingEvent{{
		eventType: events.EventTypeCampaignState,
		channel:   events.CampaignChannel(campaignID.String()),
		payload:   map[string]string{"state": models.CampaignStateCompleted},
	}}, nil
}

// PauseAttack stops handing out the attack's slices. Held tasks move to
// paused but keep their owners; their agents are told to stop on the next
// status report.
func (s *TaskScheduler) PauseAttack(ctx context.Context, attackID uuid.UUID) error {
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		attackRepo := s.attackRepo.WithTx(tx)
		attack, err := attackRepo.GetByIDForUpdate(ctx, attackID)
		if err != nil {
			return err
		}
		if attack.Terminal() {
			return core.Conflict("attack already finished")
		}
		if attack.State == models.AttackStatePaused {
			return nil
		}
		if err := attackRepo.SetState(ctx, attackID, models.AttackStatePaused); err != nil {
			return err
		}

		taskRepo := s.taskRepo.WithTx(tx)
		held, err := taskRepo.ListHeldByAttack(ctx, attackID)
		if err != nil {
			return err
		}
		for i := range held {
			if held[i].State == models.TaskStatePaused {
				continue
			}
			held[i].State = models.TaskStatePaused
			if err := taskRepo.Update(ctx, &held[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to pause attack %s: %w", attackID, err)
	}
	return nil
}

// ResumeAttack reopens a paused attack: paused tasks return to assigned and
// pending slices become claimable again.
func (s *TaskScheduler) ResumeAttack(ctx context.Context, attackID uuid.UUID) error {
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		attackRepo := s.attackRepo.WithTx(tx)
		attack, err := attackRepo.GetByIDForUpdate(ctx, attackID)
		if err != nil {
			return err
		}
		if attack.State != models.AttackStatePaused {
			return core.Conflict("attack is not paused")
		}
		if err := attackRepo.SetState(ctx, attackID, models.AttackStateRunning); err != nil {
			return err
		}

		taskRepo := s.taskRepo.WithTx(tx)
		held, err := taskRepo.ListHeldByAttack(ctx, attackID)
		if err != nil {
			return err
		}
		for i := range held {
			if held[i].State != models.TaskStatePaused {
				continue
			}
			held[i].State = models.TaskStateAssigned
			if err := taskRepo.Update(ctx, &held[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resume attack %s: %w", attackID, err)
	}
	return nil
}

// Rebalance recuts an attack's slices after its configuration changed. Every
// non-terminal task is replaced, held ones included: the old cut describes a
// keyspace that no longer exists. The new slices cover exactly the part of
// the current total_keyspace no terminal task finished, so a grown keyspace
// gets a tail and a shrunk one loses its overhang. Agents still working a
// replaced slice find it gone on their next report and abandon locally.
func (s *TaskScheduler) Rebalance(ctx context.Context, attackID uuid.UUID) error {
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		attackRepo := s.attackRepo.WithTx(tx)
		taskRepo := s.taskRepo.WithTx(tx)

		attack, err := attackRepo.GetByIDForUpdate(ctx, attackID)
		if err != nil {
			return err
		}

		tasks, err := taskRepo.ListByAttack(ctx, attackID)
		if err != nil {
			return err
		}
		var finished []Segment
		var replaced []uuid.UUID
		var owners []int
		for i := range tasks {
			t := &tasks[i]
			if t.Terminal() {
				finished = append(finished, Segment{Offset: t.KeyspaceOffset, Length: t.KeyspaceLength})
				continue
			}
			if t.Held() && t.AssignedAgentID != nil {
				owners = append(owners, *t.AssignedAgentID)
			}
			replaced = append(replaced, t.ID)
		}

		// Tasks before agents, matching the claim and abandon lock order.
		if err := taskRepo.DeleteByIDs(ctx, replaced); err != nil {
			return err
		}
		for _, ownerID := range owners {
			if err := clearAgentAssignment(ctx, s.agentRepo.WithTx(tx), ownerID); err != nil {
				return err
			}
		}

		sliceLength, err := s.planner.sliceLengthFor(ctx, tx, attack.HashType)
		if err != nil {
			return err
		}
		specs := SliceSegments(attack.ID, ComplementSegments(attack.TotalKeyspace, finished), sliceLength)
		created, err := taskRepo.CreateBatch(ctx, specs)
		if err != nil {
			return err
		}

		debug.Log("Rebalanced attack", map[string]interface{}{
			"attack_id":      attackID,
			"total_keyspace": attack.TotalKeyspace,
			"replaced":       len(replaced),
			"released":       len(owners),
			"task_count":     len(created),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebalance attack %s: %w", attackID, err)
	}
	return nil
}

// GetTask returns a task when the agent owns it; everything else is hidden
// behind NotFound.
func (s *TaskScheduler) GetTask(ctx context.Context, agentID int, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.OwnedBy(agentID) {
		return nil, core.NotFound("task not found")
	}
	return task, nil
}

func clearAgentAssignment(ctx context.Context, agentRepo *repository.AgentRepository, agentID int) error {
	agent, err := agentRepo.GetByIDForUpdate(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.AssignedTaskID == nil {
		return nil
	}
	agent.AssignedTaskID = nil
	return agentRepo.Update(ctx, agent)
}

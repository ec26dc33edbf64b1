package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclesp1d3r/cipherswarm/internal/config"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// Timekeeper runs the periodic consistency sweeps: silent agents go offline,
// stale running tasks return to the pool, assignments nobody accepted are
// reverted, and finished attacks roll up. Agents never need to say goodbye
// for the system to converge.
type Timekeeper struct {
	database   *db.DB
	agentRepo  *repository.AgentRepository
	taskRepo   *repository.TaskRepository
	attackRepo *repository.AttackRepository
	errorRepo  *repository.AgentErrorRepository
	scheduler  *TaskScheduler
	broker     *events.Broker
	cfg        *config.Config

	cron *cron.Cron
}

// NewTimekeeper creates a new timekeeper.
func NewTimekeeper(
	database *db.DB,
	agentRepo *repository.AgentRepository,
	taskRepo *repository.TaskRepository,
	attackRepo *repository.AttackRepository,
	errorRepo *repository.AgentErrorRepository,
	scheduler *TaskScheduler,
	broker *events.Broker,
	cfg *config.Config,
) *Timekeeper {
	return &Timekeeper{
		database:   database,
		agentRepo:  agentRepo,
		taskRepo:   taskRepo,
		attackRepo: attackRepo,
		errorRepo:  errorRepo,
		scheduler:  scheduler,
		broker:     broker,
		cfg:        cfg,
	}
}

// Start schedules the sweep at the configured interval.
func (t *Timekeeper) Start() error {
	t.cron = cron.New()
	spec := fmt.Sprintf("@every %s", t.cfg.SweepInterval)
	_, err := t.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SweepInterval)
		defer cancel()
		if err := t.Sweep(ctx, time.Now().UTC()); err != nil {
			debug.Error("timekeeper sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule timekeeper sweep: %w", err)
	}
	t.cron.Start()
	debug.Info("Timekeeper started, sweeping every %s", t.cfg.SweepInterval)
	return nil
}

// Stop halts the sweep schedule and waits for a running sweep to finish.
func (t *Timekeeper) Stop() {
	if t.cron != nil {
		<-t.cron.Stop().Done()
	}
}

// Sweep runs all consistency passes once. Each pass is independent; a
// failure in one does not stop the others.
func (t *Timekeeper) Sweep(ctx context.Context, now time.Time) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(t.sweepOfflineAgents(ctx, now))
	record(t.sweepStaleTasks(ctx, now))
	record(t.sweepUnacceptedTasks(ctx, now))
	record(t.sweepRollups(ctx))
	return firstErr
}

// sweepOfflineAgents marks agents silent past max(3 x update_interval,
// offline floor) offline and releases their tasks.
func (t *Timekeeper) sweepOfflineAgents(ctx context.Context, now time.Time) error {
	candidates, err := t.agentRepo.ListOfflineCandidates(ctx, now, int(t.cfg.OfflineFloor/time.Second))
	if err != nil {
		return err
	}
	for i := range candidates {
		agentID := candidates[i].ID
		err := t.database.RunInTx(ctx, func(tx *sql.Tx) error {
			agentRepo := t.agentRepo.WithTx(tx)
			agent, err := agentRepo.GetByIDForUpdate(ctx, agentID)
			if err != nil {
				return err
			}
			// Re-check under the lock; a heartbeat may have landed since
			// the candidate query ran.
			if agent.State != models.AgentStateActive {
				return nil
			}
			agent.State = models.AgentStateOffline
			agent.AssignedTaskID = nil
			if err := agentRepo.Update(ctx, agent); err != nil {
				return err
			}
			return releaseHeldTasks(ctx, t.taskRepo.WithTx(tx), agentID)
		})
		if err != nil {
			debug.Error("failed to take agent %d offline: %v", agentID, err)
			continue
		}
		debug.Log("Agent went offline", map[string]interface{}{"agent_id": agentID})
		t.broker.Publish(events.EventTypeAgentOffline, events.AgentChannel(int64(agentID)), nil)
	}
	return nil
}

// sweepStaleTasks abandons running tasks whose status reports stopped,
// recording a minor error against the silent owner.
func (t *Timekeeper) sweepStaleTasks(ctx context.Context, now time.Time) error {
	stale, err := t.taskRepo.ListStaleRunning(ctx, now, int(t.cfg.StatusStaleFloor/time.Second))
	if err != nil {
		return err
	}
	for i := range stale {
		taskID := stale[i].ID
		err := t.database.RunInTx(ctx, func(tx *sql.Tx) error {
			taskRepo := t.taskRepo.WithTx(tx)
			task, err := taskRepo.GetByIDForUpdate(ctx, taskID)
			if err != nil {
				return err
			}
			if task.State != models.TaskStateRunning || task.AssignedAgentID == nil {
				return nil
			}
			agentID := *task.AssignedAgentID

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
			if err := clearAgentAssignment(ctx, t.agentRepo.WithTx(tx), agentID); err != nil {
				return err
			}
			return t.errorRepo.WithTx(tx).Create(ctx, &models.AgentError{
				AgentID:  agentID,
				TaskID:   &taskID,
				Severity: models.SeverityMinor,
				Message:  "task abandoned after status reports went stale",
			})
		})
		if err != nil {
			debug.Error("failed to abandon stale task %s: %v", taskID, err)
			continue
		}
		t.broker.Publish(events.EventTypeTaskAbandoned, events.GlobalChannel,
			map[string]string{"task_id": taskID.String(), "reason": "stale"})
	}
	return nil
}

// sweepUnacceptedTasks reverts assignments that were never accepted within
// the accept timeout.
func (t *Timekeeper) sweepUnacceptedTasks(ctx context.Context, now time.Time) error {
	unaccepted, err := t.taskRepo.ListUnaccepted(ctx, now, t.cfg.AcceptTimeout)
	if err != nil {
		return err
	}
	for i := range unaccepted {
		taskID := unaccepted[i].ID
		err := t.database.RunInTx(ctx, func(tx *sql.Tx) error {
			taskRepo := t.taskRepo.WithTx(tx)
			task, err := taskRepo.GetByIDForUpdate(ctx, taskID)
			if err != nil {
				return err
			}
			if task.State != models.TaskStateAssigned || task.AcceptedAt != nil {
				return nil
			}
			var agentID int
			if task.AssignedAgentID != nil {
				agentID = *task.AssignedAgentID
			}
			task.State = models.TaskStatePending
			task.AssignedAgentID = nil
			task.AssignedAt = nil
			if err := taskRepo.Update(ctx, task); err != nil {
				return err
			}
			if agentID != 0 {
				return clearAgentAssignment(ctx, t.agentRepo.WithTx(tx), agentID)
			}
			return nil
		})
		if err != nil {
			debug.Error("failed to revert unaccepted task %s: %v", taskID, err)
			continue
		}
		debug.Log("Reverted unaccepted task", map[string]interface{}{"task_id": taskID})
	}
	return nil
}

// sweepRollups finishes attacks whose last runnable task ended without the
// finishing agent triggering the rollup.
func (t *Timekeeper) sweepRollups(ctx context.Context) error {
	candidates, err := t.attackRepo.ListRollupCandidates(ctx)
	if err != nil {
		return err
	}
	for i := range candidates {
		attackID := candidates[i].ID
		var evts []pendingEvent
		err := t.database.RunInTx(ctx, func(tx *sql.Tx) error {
			var err error
			evts, err = t.scheduler.rollupAttack(ctx, tx, attackID, models.AttackStateExhausted)
			return err
		})
		if err != nil {
			debug.Error("failed to roll up attack %s: %v", attackID, err)
			continue
		}
		t.scheduler.publishAll(evts)
	}
	return nil
}

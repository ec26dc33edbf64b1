package services

import (
	"context"
	"database/sql"
	"encoding/json"
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
)

// ProgressService reconciles agent status reports into task state.
type ProgressService struct {
	database  *db.DB
	taskRepo  *repository.TaskRepository
	agentRepo *repository.AgentRepository
	broker    *events.Broker
	cfg       *config.Config
}

// NewProgressService creates a new progress service.
func NewProgressService(
	database *db.DB,
	taskRepo *repository.TaskRepository,
	agentRepo *repository.AgentRepository,
	broker *events.Broker,
	cfg *config.Config,
) *ProgressService {
	return &ProgressService{
		database:  database,
		taskRepo:  taskRepo,
		agentRepo: agentRepo,
		broker:    broker,
		cfg:       cfg,
	}
}

// StatusReport is one reconciled status update for a running task.
type StatusReport struct {
	// Candidates covered so far within the slice.
	ProgressOffset int64
	// Raw per-device speed block, stored as reported.
	DeviceSpeeds json.RawMessage
	// Candidates the cracker rejected.
	Rejected int64
	// Summed device speed in h/s, used for the ETA.
	TotalSpeed float64
	// When the agent produced the report.
	ReportedAt time.Time
}

// ReportStale reports whether a status report is too old to apply: anything
// older than the last accepted report minus the tolerance window is a
// reordered duplicate.
func ReportStale(reportedAt time.Time, lastStatusAt *time.Time, window time.Duration) bool {
	if lastStatusAt == nil {
		return false
	}
	return reportedAt.Before(lastStatusAt.Add(-window))
}

// ValidateProgress checks a reported progress offset against the slice.
// Progress never regresses and never exceeds the slice length.
func ValidateProgress(reported, current, sliceLength int64) error {
	if reported < 0 {
		return core.Malformed("progress must not be negative")
	}
	if reported > sliceLength {
		return core.Malformed("progress exceeds slice length")
	}
	if reported < current {
		return core.Malformed("progress regressed")
	}
	return nil
}

// ComputeETA estimates seconds until the slice finishes at the given speed.
// Returns nil when the speed is unusable.
func ComputeETA(remaining int64, speed float64) *int64 {
	if speed <= 0 || remaining < 0 {
		return nil
	}
	eta := int64(math.Ceil(float64(remaining) / speed))
	return &eta
}

// SubmitStatus applies one status report. The error kind tells the surface
// what to answer: NotFound when the agent does not own the task, Conflict
// when the task finished in the agent's hands, Preempted when the task was
// paused underneath the agent, Stale for reordered late reports, Malformed
// for impossible progress. Liveness tracking uses the server clock (now);
// the agent's own timestamp only orders reordered duplicates.
func (s *ProgressService) SubmitStatus(ctx context.Context, agentID int, taskID uuid.UUID, report StatusReport, now time.Time) error {
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		taskRepo := s.taskRepo.WithTx(tx)
		task, err := taskRepo.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if err := taskOwnershipErr(task, agentID); err != nil {
			return err
		}
		if task.State == models.TaskStatePaused {
			return core.Preempted("task paused")
		}
		if ReportStale(report.ReportedAt, task.LastStatusAt, s.cfg.StaleWindow) {
			return core.Stale("status report is stale")
		}
		if err := ValidateProgress(report.ProgressOffset, task.ProgressOffset, task.KeyspaceLength); err != nil {
			return err
		}

		if task.State == models.TaskStateAssigned {
			task.State = models.TaskStateRunning
		}
		task.ProgressOffset = report.ProgressOffset
		task.RejectedCount = report.Rejected
		if len(report.DeviceSpeeds) > 0 {
			task.DeviceSpeeds = report.DeviceSpeeds
		}
		// Server time, never the agent's: the staleness sweeps compare
		// last_status_at against this clock, and a skewed agent must not be
		// able to look fresher or staler than it is.
		statusAt := now.UTC()
		task.LastStatusAt = &statusAt
		task.ETASeconds = ComputeETA(task.KeyspaceLength-report.ProgressOffset, report.TotalSpeed)

		return taskRepo.Update(ctx, task)
	})
	if err != nil {
		switch core.KindOf(err) {
		case core.KindNotFound, core.KindConflict, core.KindPreempted, core.KindStale, core.KindMalformed:
			return err
		}
		return fmt.Errorf("failed to apply status for task %s: %w", taskID, err)
	}

	s.broker.Publish(events.EventTypeTaskProgress, events.AgentChannel(int64(agentID)),
		map[string]interface{}{"task_id": taskID.String(), "progress": report.ProgressOffset})
	return nil
}

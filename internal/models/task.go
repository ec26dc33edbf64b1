package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task states
const (
	TaskStatePending   = "pending"
	TaskStateAssigned  = "assigned"
	TaskStateRunning   = "running"
	TaskStatePaused    = "paused"
	TaskStateCompleted = "completed"
	TaskStateExhausted = "exhausted"
	TaskStateAbandoned = "abandoned"
	TaskStateFailed    = "failed"
)

// Task is a contiguous slice of an attack's keyspace, held by at most one
// agent at a time.
type Task struct {
	ID             uuid.UUID `json:"id"`
	AttackID       uuid.UUID `json:"attack_id"`
	KeyspaceOffset int64     `json:"keyspace_offset"`
	KeyspaceLength int64     `json:"keyspace_length"`

	State           string          `json:"state"`
	AssignedAgentID *int            `json:"assigned_agent_id,omitempty"`
	AssignedAt      *time.Time      `json:"assigned_at,omitempty"`
	AcceptedAt      *time.Time      `json:"accepted_at,omitempty"`
	LastStatusAt    *time.Time      `json:"last_status_at,omitempty"`
	ProgressOffset  int64           `json:"progress_offset"`
	RejectedCount   int64           `json:"rejected_count"`
	DeviceSpeeds    json.RawMessage `json:"device_speeds,omitempty"`
	ETASeconds      *int64          `json:"eta_seconds,omitempty"`

	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskSpec describes a slice the planner wants created.
type TaskSpec struct {
	AttackID       uuid.UUID
	KeyspaceOffset int64
	KeyspaceLength int64
}

// Held reports whether the task is owned by an agent right now.
func (t *Task) Held() bool {
	switch t.State {
	case TaskStateAssigned, TaskStateRunning, TaskStatePaused:
		return true
	}
	return false
}

// Terminal reports whether the task can never run again.
func (t *Task) Terminal() bool {
	switch t.State {
	case TaskStateCompleted, TaskStateExhausted, TaskStateFailed:
		return true
	}
	return false
}

// OwnedBy reports whether agentID currently holds the task.
func (t *Task) OwnedBy(agentID int) bool {
	return t.Held() && t.AssignedAgentID != nil && *t.AssignedAgentID == agentID
}

// LastHeldBy reports whether the task finished in agentID's hands. Terminal
// tasks keep their final assignee, so a late agent call can be answered with
// a conflict instead of pretending the task never existed.
func (t *Task) LastHeldBy(agentID int) bool {
	return t.Terminal() && t.AssignedAgentID != nil && *t.AssignedAgentID == agentID
}

// KeyspaceEnd returns the exclusive end offset of the slice.
func (t *Task) KeyspaceEnd() int64 {
	return t.KeyspaceOffset + t.KeyspaceLength
}

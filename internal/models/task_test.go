package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskHeldAndTerminal(t *testing.T) {
	held := []string{TaskStateAssigned, TaskStateRunning, TaskStatePaused}
	for _, state := range held {
		task := Task{State: state}
		assert.True(t, task.Held(), state)
		assert.False(t, task.Terminal(), state)
	}

	terminal := []string{TaskStateCompleted, TaskStateExhausted, TaskStateFailed}
	for _, state := range terminal {
		task := Task{State: state}
		assert.False(t, task.Held(), state)
		assert.True(t, task.Terminal(), state)
	}

	for _, state := range []string{TaskStatePending, TaskStateAbandoned} {
		task := Task{State: state}
		assert.False(t, task.Held(), state)
		assert.False(t, task.Terminal(), state)
	}
}

func TestTaskOwnership(t *testing.T) {
	agentID := 7
	task := Task{State: TaskStateRunning, AssignedAgentID: &agentID}
	assert.True(t, task.OwnedBy(7))
	assert.False(t, task.OwnedBy(8))

	// An unassigned task is owned by nobody.
	assert.False(t, (&Task{State: TaskStateRunning}).OwnedBy(7))
	assert.False(t, (&Task{State: TaskStatePending}).OwnedBy(7))
}

func TestTaskLastHeldByAfterFinish(t *testing.T) {
	agentID := 7
	task := Task{State: TaskStateExhausted, AssignedAgentID: &agentID}

	// The finishing agent no longer owns the task, but the task remembers
	// whose hands it finished in so late calls can be told apart from
	// requests for slices the agent never had.
	assert.False(t, task.OwnedBy(7))
	assert.True(t, task.LastHeldBy(7))
	assert.False(t, task.LastHeldBy(8))

	running := Task{State: TaskStateRunning, AssignedAgentID: &agentID}
	assert.False(t, running.LastHeldBy(7))

	assert.False(t, (&Task{State: TaskStateCompleted}).LastHeldBy(7))
}

func TestTaskKeyspaceEnd(t *testing.T) {
	task := Task{KeyspaceOffset: 1000, KeyspaceLength: 500}
	assert.Equal(t, int64(1500), task.KeyspaceEnd())
}

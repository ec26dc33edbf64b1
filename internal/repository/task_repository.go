package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

const taskColumns = `id, attack_id, keyspace_offset, keyspace_length, state, assigned_agent_id,
	assigned_at, accepted_at, last_status_at, progress_offset, rejected_count,
	device_speeds, eta_seconds, version, created_at, updated_at`

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	q db.Queryer
}

// NewTaskRepository creates a new instance of TaskRepository.
func NewTaskRepository(database *db.DB) *TaskRepository {
	return &TaskRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *TaskRepository) WithTx(tx *sql.Tx) *TaskRepository {
	return &TaskRepository{q: tx}
}

func scanTask(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Task, error) {
	var t models.Task
	var agentID sql.NullInt64
	var deviceSpeeds []byte
	var eta sql.NullInt64
	err := scanner.Scan(
		&t.ID, &t.AttackID, &t.KeyspaceOffset, &t.KeyspaceLength, &t.State, &agentID,
		&t.AssignedAt, &t.AcceptedAt, &t.LastStatusAt, &t.ProgressOffset, &t.RejectedCount,
		&deviceSpeeds, &eta, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if agentID.Valid {
		id := int(agentID.Int64)
		t.AssignedAgentID = &id
	}
	if eta.Valid {
		e := eta.Int64
		t.ETASeconds = &e
	}
	t.DeviceSpeeds = json.RawMessage(deviceSpeeds)
	return &t, nil
}

// CreateBatch inserts the planner's task specs as pending tasks.
func (r *TaskRepository) CreateBatch(ctx context.Context, specs []models.TaskSpec) ([]models.Task, error) {
	tasks := make([]models.Task, 0, len(specs))
	query := `
		INSERT INTO tasks (id, attack_id, keyspace_offset, keyspace_length, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + taskColumns
	for _, spec := range specs {
		row := r.q.QueryRowContext(ctx, query, uuid.New(), spec.AttackID,
			spec.KeyspaceOffset, spec.KeyspaceLength, models.TaskStatePending)
		task, err := scanTask(row)
		if err != nil {
			return nil, fmt.Errorf("failed to create task at offset %d: %w", spec.KeyspaceOffset, err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)
	t, err := scanTask(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// GetByIDForUpdate retrieves a task with a row lock. Must run inside a
// transaction.
func (r *TaskRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1 FOR UPDATE`, taskColumns)
	t, err := scanTask(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %s: %w", id, err)
	}
	return t, nil
}

// ListByAttack returns the attack's tasks ordered by keyspace offset.
func (r *TaskRepository) ListByAttack(ctx context.Context, attackID uuid.UUID) ([]models.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE attack_id = $1 ORDER BY keyspace_offset`, taskColumns)
	return r.queryTasks(ctx, query, attackID)
}

// ListByAttackInStates returns the attack's tasks in any of the given
// states, ordered by keyspace offset.
func (r *TaskRepository) ListByAttackInStates(ctx context.Context, attackID uuid.UUID, states []string) ([]models.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE attack_id = $1 AND state = ANY($2)
		ORDER BY keyspace_offset
	`, taskColumns)
	return r.queryTasks(ctx, query, attackID, pq.Array(states))
}

// FindCandidates returns pending tasks the agent is eligible for, in the
// scheduler's deterministic rank order: campaign priority descending, attack
// position ascending, keyspace offset ascending, task ID ascending. Agents
// without a benchmark for the attack's hash type only qualify when they have
// opted into additional hash types.
func (r *TaskRepository) FindCandidates(ctx context.Context, agentID int, extendedHashTypes bool, limit int) ([]models.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks t
		JOIN attacks a ON a.id = t.attack_id
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE t.state = $1
		  AND a.state = ANY($2)
		  AND c.state = $3
		  AND ($4 OR EXISTS (
			SELECT 1 FROM agent_benchmarks b
			WHERE b.agent_id = $5 AND b.hash_type = a.hash_type
		  ))
		ORDER BY c.priority DESC, a.position ASC, t.keyspace_offset ASC, t.id ASC
		LIMIT $6
	`, prefixColumns(taskColumns, "t"))
	return r.queryTasks(ctx, query,
		models.TaskStatePending,
		pq.Array([]string{models.AttackStatePending, models.AttackStateRunning}),
		models.CampaignStateActive,
		extendedHashTypes,
		agentID,
		limit,
	)
}

// Claim atomically assigns a pending task to an agent. The version guard
// makes concurrent claims of the same task impossible: exactly one caller
// sees a row update, everyone else gets core.Conflict.
func (r *TaskRepository) Claim(ctx context.Context, taskID uuid.UUID, version int, agentID int, at time.Time) error {
	query := `
		UPDATE tasks
		SET state = $1, assigned_agent_id = $2, assigned_at = $3,
			version = version + 1, updated_at = now()
		WHERE id = $4 AND version = $5 AND state = $6
	`
	result, err := r.q.ExecContext(ctx, query,
		models.TaskStateAssigned, agentID, at, taskID, version, models.TaskStatePending)
	if err != nil {
		return fmt.Errorf("failed to claim task %s: %w", taskID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.Conflict("task was claimed concurrently")
	}
	return nil
}

// Update persists all mutable task fields with the optimistic version check.
func (r *TaskRepository) Update(ctx context.Context, t *models.Task) error {
	query := `
		UPDATE tasks
		SET state = $1, assigned_agent_id = $2, assigned_at = $3, accepted_at = $4,
			last_status_at = $5, progress_offset = $6, rejected_count = $7,
			device_speeds = $8, eta_seconds = $9, version = version + 1, updated_at = now()
		WHERE id = $10 AND version = $11
	`
	var agentID interface{}
	if t.AssignedAgentID != nil {
		agentID = *t.AssignedAgentID
	}
	deviceSpeeds := t.DeviceSpeeds
	if len(deviceSpeeds) == 0 {
		deviceSpeeds = json.RawMessage("[]")
	}
	result, err := r.q.ExecContext(ctx, query,
		t.State, agentID, t.AssignedAt, t.AcceptedAt,
		t.LastStatusAt, t.ProgressOffset, t.RejectedCount,
		[]byte(deviceSpeeds), t.ETASeconds, t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for task %s: %w", t.ID, err)
	}
	if affected == 0 {
		return core.Conflict("task was modified concurrently")
	}
	t.Version++
	return nil
}

// DeleteByIDs removes tasks by ID; replanning uses this to rebuild the
// unfinished tail of an attack.
func (r *TaskRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ANY($1::uuid[])`, pq.Array(strIDs)); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	return nil
}

// CountNonTerminalByAttack counts tasks still capable of running.
func (r *TaskRepository) CountNonTerminalByAttack(ctx context.Context, attackID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM tasks
		WHERE attack_id = $1 AND state NOT IN ($2, $3, $4)
	`
	var count int
	err := r.q.QueryRowContext(ctx, query, attackID,
		models.TaskStateCompleted, models.TaskStateExhausted, models.TaskStateFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks for attack %s: %w", attackID, err)
	}
	return count, nil
}

// ListStaleRunning returns running tasks whose last status report is older
// than max(3 x the owner's update_interval, floorSeconds).
func (r *TaskRepository) ListStaleRunning(ctx context.Context, now time.Time, floorSeconds int) ([]models.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks t
		JOIN agents ag ON ag.id = t.assigned_agent_id
		WHERE t.state = $1
		  AND t.last_status_at IS NOT NULL
		  AND t.last_status_at < $2 - make_interval(secs => GREATEST(3 * ag.update_interval, $3)::double precision)
		ORDER BY t.id
	`, prefixColumns(taskColumns, "t"))
	return r.queryTasks(ctx, query, models.TaskStateRunning, now, floorSeconds)
}

// ListUnaccepted returns assigned tasks whose agent never accepted within
// the timeout.
func (r *TaskRepository) ListUnaccepted(ctx context.Context, now time.Time, acceptTimeout time.Duration) ([]models.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE state = $1 AND accepted_at IS NULL AND assigned_at < $2
		ORDER BY id
	`, taskColumns)
	return r.queryTasks(ctx, query, models.TaskStateAssigned, now.Add(-acceptTimeout))
}

// ListHeldByAgent returns the tasks currently held by the agent. The
// scheduler invariant keeps this at zero or one.
func (r *TaskRepository) ListHeldByAgent(ctx context.Context, agentID int) ([]models.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE assigned_agent_id = $1 AND state = ANY($2)
		ORDER BY id
	`, taskColumns)
	return r.queryTasks(ctx, query, agentID,
		pq.Array([]string{models.TaskStateAssigned, models.TaskStateRunning, models.TaskStatePaused}))
}

// ListHeldByAttack returns held tasks of an attack; pause and resume walk
// this set.
func (r *TaskRepository) ListHeldByAttack(ctx context.Context, attackID uuid.UUID) ([]models.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE attack_id = $1 AND state = ANY($2)
		ORDER BY keyspace_offset
	`, taskColumns)
	return r.queryTasks(ctx, query, attackID,
		pq.Array([]string{models.TaskStateAssigned, models.TaskStateRunning, models.TaskStatePaused}))
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

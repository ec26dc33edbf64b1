package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

const agentColumns = `id, name, host_name, operating_system, client_signature, devices, state, activity,
	token_digest, update_interval, use_native_hashcat, backend_devices, opencl_devices,
	enable_additional_hash_types, device_flags, last_seen_at, last_heartbeat_at, last_ip,
	assigned_task_id, version, created_at, updated_at`

// AgentRepository handles database operations for agents.
type AgentRepository struct {
	q db.Queryer
}

// NewAgentRepository creates a new instance of AgentRepository.
func NewAgentRepository(database *db.DB) *AgentRepository {
	return &AgentRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *AgentRepository) WithTx(tx *sql.Tx) *AgentRepository {
	return &AgentRepository{q: tx}
}

func scanAgent(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Agent, error) {
	var agent models.Agent
	var deviceFlags pq.BoolArray
	var assignedTaskID uuid.NullUUID
	if err := scanner.Scan(
		&agent.ID,
		&agent.Name,
		&agent.HostName,
		&agent.OperatingSystem,
		&agent.ClientSignature,
		pq.Array(&agent.Devices),
		&agent.State,
		&agent.Activity,
		&agent.TokenDigest,
		&agent.Config.UpdateInterval,
		&agent.Config.UseNativeHashcat,
		&agent.Config.BackendDevices,
		&agent.Config.OpenCLDevices,
		&agent.Config.EnableAdditionalHashTypes,
		&deviceFlags,
		&agent.LastSeenAt,
		&agent.LastHeartbeatAt,
		&agent.LastIP,
		&assignedTaskID,
		&agent.Version,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	); err != nil {
		return nil, err
	}
	agent.Config.DeviceFlags = deviceFlags
	if assignedTaskID.Valid {
		agent.AssignedTaskID = &assignedTaskID.UUID
	}
	return &agent, nil
}

// Create inserts a new agent in the pending state and fills in its ID.
func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (name, host_name, operating_system, client_signature, devices, state, activity,
			token_digest, update_interval, use_native_hashcat, backend_devices, opencl_devices,
			enable_additional_hash_types, device_flags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, version, created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		agent.Name,
		agent.HostName,
		agent.OperatingSystem,
		agent.ClientSignature,
		pq.Array(agent.Devices),
		agent.State,
		agent.Activity,
		agent.TokenDigest,
		agent.Config.UpdateInterval,
		agent.Config.UseNativeHashcat,
		agent.Config.BackendDevices,
		agent.Config.OpenCLDevices,
		agent.Config.EnableAdditionalHashTypes,
		pq.Array(agent.Config.DeviceFlags),
	).Scan(&agent.ID, &agent.Version, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetByID retrieves an agent by its ID.
func (r *AgentRepository) GetByID(ctx context.Context, id int) (*models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1`, agentColumns)
	agent, err := scanAgent(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %d: %w", id, err)
	}
	return agent, nil
}

// GetByIDForUpdate retrieves an agent with a row lock. Must run inside a
// transaction.
func (r *AgentRepository) GetByIDForUpdate(ctx context.Context, id int) (*models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1 FOR UPDATE`, agentColumns)
	agent, err := scanAgent(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock agent %d: %w", id, err)
	}
	return agent, nil
}

// List returns all agents ordered by ID.
func (r *AgentRepository) List(ctx context.Context) ([]models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents ORDER BY id`, agentColumns)
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// Update persists the mutable agent fields using the optimistic version
// check. Returns core.Conflict when another writer won the race.
func (r *AgentRepository) Update(ctx context.Context, agent *models.Agent) error {
	query := `
		UPDATE agents
		SET name = $1, host_name = $2, operating_system = $3, client_signature = $4, devices = $5,
			state = $6, activity = $7, update_interval = $8, use_native_hashcat = $9,
			backend_devices = $10, opencl_devices = $11, enable_additional_hash_types = $12,
			device_flags = $13, last_seen_at = $14, last_heartbeat_at = $15, last_ip = $16,
			assigned_task_id = $17, version = version + 1, updated_at = now()
		WHERE id = $18 AND version = $19
	`
	var assignedTaskID interface{}
	if agent.AssignedTaskID != nil {
		assignedTaskID = *agent.AssignedTaskID
	}
	result, err := r.q.ExecContext(ctx, query,
		agent.Name,
		agent.HostName,
		agent.OperatingSystem,
		agent.ClientSignature,
		pq.Array(agent.Devices),
		agent.State,
		agent.Activity,
		agent.Config.UpdateInterval,
		agent.Config.UseNativeHashcat,
		agent.Config.BackendDevices,
		agent.Config.OpenCLDevices,
		agent.Config.EnableAdditionalHashTypes,
		pq.Array(agent.Config.DeviceFlags),
		agent.LastSeenAt,
		agent.LastHeartbeatAt,
		agent.LastIP,
		assignedTaskID,
		agent.ID,
		agent.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent %d: %w", agent.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for agent %d: %w", agent.ID, err)
	}
	if affected == 0 {
		return core.Conflict("agent was modified concurrently")
	}
	agent.Version++
	return nil
}

// TouchHeartbeat records a heartbeat without bumping the version; heartbeats
// are frequent and never contend with scheduler state changes.
func (r *AgentRepository) TouchHeartbeat(ctx context.Context, id int, activity string, ip string, at time.Time) error {
	query := `
		UPDATE agents
		SET last_seen_at = $1, last_heartbeat_at = $1, activity = $2, last_ip = $3, updated_at = now()
		WHERE id = $4
	`
	result, err := r.q.ExecContext(ctx, query, at, activity, ip, id)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for agent %d: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.NotFound("agent not found")
	}
	return nil
}

// ListOfflineCandidates returns active agents whose last_seen_at is older
// than max(3 x update_interval, floorSeconds).
func (r *AgentRepository) ListOfflineCandidates(ctx context.Context, now time.Time, floorSeconds int) ([]models.Agent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM agents
		WHERE state = $1
		  AND last_seen_at IS NOT NULL
		  AND last_seen_at < $2 - make_interval(secs => GREATEST(3 * update_interval, $3)::double precision)
		ORDER BY id
	`, agentColumns)
	rows, err := r.q.QueryContext(ctx, query, models.AgentStateActive, now, floorSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to list offline candidates: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

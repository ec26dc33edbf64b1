package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
)

// BenchmarkRepository handles database operations for agent benchmarks.
type BenchmarkRepository struct {
	q db.Queryer
}

// NewBenchmarkRepository creates a new instance of BenchmarkRepository.
func NewBenchmarkRepository(database *db.DB) *BenchmarkRepository {
	return &BenchmarkRepository{q: database}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *BenchmarkRepository) WithTx(tx *sql.Tx) *BenchmarkRepository {
	return &BenchmarkRepository{q: tx}
}

// ReplaceForAgent atomically replaces the agent's benchmark set. Callers run
// this inside a transaction alongside the agent state change.
func (r *BenchmarkRepository) ReplaceForAgent(ctx context.Context, agentID int, benchmarks []models.Benchmark) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM agent_benchmarks WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("failed to clear benchmarks for agent %d: %w", agentID, err)
	}

	query := `
		INSERT INTO agent_benchmarks (agent_id, hash_type, device_index, runtime_ms, hash_speed)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, b := range benchmarks {
		if _, err := r.q.ExecContext(ctx, query, agentID, b.HashType, b.DeviceIndex, b.RuntimeMs, b.HashSpeed); err != nil {
			return fmt.Errorf("failed to insert benchmark for agent %d: %w", agentID, err)
		}
	}
	return nil
}

// GetForAgent returns the agent's full benchmark set.
func (r *BenchmarkRepository) GetForAgent(ctx context.Context, agentID int) ([]models.Benchmark, error) {
	query := `
		SELECT id, agent_id, hash_type, device_index, runtime_ms, hash_speed, created_at
		FROM agent_benchmarks
		WHERE agent_id = $1
		ORDER BY hash_type, device_index
	`
	rows, err := r.q.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get benchmarks for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var benchmarks []models.Benchmark
	for rows.Next() {
		var b models.Benchmark
		if err := rows.Scan(&b.ID, &b.AgentID, &b.HashType, &b.DeviceIndex, &b.RuntimeMs, &b.HashSpeed, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark row: %w", err)
		}
		benchmarks = append(benchmarks, b)
	}
	return benchmarks, rows.Err()
}

// ActiveAgentSpeeds returns the summed per-agent speed for hashType across
// all active agents, ordered by agent ID so the planner median is
// deterministic.
func (r *BenchmarkRepository) ActiveAgentSpeeds(ctx context.Context, hashType int) ([]float64, error) {
	query := `
		SELECT SUM(b.hash_speed)
		FROM agent_benchmarks b
		JOIN agents a ON a.id = b.agent_id
		WHERE b.hash_type = $1 AND a.state = $2
		GROUP BY b.agent_id
		ORDER BY b.agent_id
	`
	rows, err := r.q.QueryContext(ctx, query, hashType, models.AgentStateActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get active agent speeds for hash type %d: %w", hashType, err)
	}
	defer rows.Close()

	var speeds []float64
	for rows.Next() {
		var speed float64
		if err := rows.Scan(&speed); err != nil {
			return nil, fmt.Errorf("failed to scan speed row: %w", err)
		}
		speeds = append(speeds, speed)
	}
	return speeds, rows.Err()
}

// AgentSpeed returns one agent's summed speed for hashType, or false when
// the agent has no benchmark for it.
func (r *BenchmarkRepository) AgentSpeed(ctx context.Context, agentID, hashType int) (float64, bool, error) {
	query := `
		SELECT COALESCE(SUM(hash_speed), 0), COUNT(*)
		FROM agent_benchmarks
		WHERE agent_id = $1 AND hash_type = $2
	`
	var speed float64
	var count int
	if err := r.q.QueryRowContext(ctx, query, agentID, hashType).Scan(&speed, &count); err != nil {
		return 0, false, fmt.Errorf("failed to get speed for agent %d hash type %d: %w", agentID, hashType, err)
	}
	return speed, count > 0, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent lifecycle states
const (
	AgentStatePending = "pending"
	AgentStateActive  = "active"
	AgentStateStopped = "stopped"
	AgentStateError   = "error"
	AgentStateOffline = "offline"
)

// Agent activities as reported by heartbeats
const (
	AgentActivityStarting     = "starting"
	AgentActivityBenchmarking = "benchmarking"
	AgentActivityUpdating     = "updating"
	AgentActivityDownloading  = "downloading"
	AgentActivityWaiting      = "waiting"
	AgentActivityCracking     = "cracking"
	AgentActivityStopping     = "stopping"
)

// ValidAgentActivity reports whether s is a recognised activity value.
func ValidAgentActivity(s string) bool {
	switch s {
	case AgentActivityStarting, AgentActivityBenchmarking, AgentActivityUpdating,
		AgentActivityDownloading, AgentActivityWaiting, AgentActivityCracking,
		AgentActivityStopping:
		return true
	}
	return false
}

// Agent represents a registered worker in the fleet.
type Agent struct {
	ID              int         `json:"id"`
	Name            string      `json:"name"`
	HostName        string      `json:"host_name"`
	OperatingSystem string      `json:"operating_system"`
	ClientSignature string      `json:"client_signature"`
	Devices         []string    `json:"devices"`
	State           string      `json:"state"`
	Activity        string      `json:"activity"`
	TokenDigest     string      `json:"-"`
	Config          AgentConfig `json:"config"`
	LastSeenAt      *time.Time  `json:"last_seen_at,omitempty"`
	LastHeartbeatAt *time.Time  `json:"-"`
	LastIP          string      `json:"last_ip,omitempty"`
	AssignedTaskID  *uuid.UUID  `json:"assigned_task_id,omitempty"`
	Version         int         `json:"-"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// AgentConfig holds the agent-tunable settings pushed down on every
// configuration fetch. Field names follow the v1 agent API.
type AgentConfig struct {
	UpdateInterval            int    `json:"agent_update_interval"`
	UseNativeHashcat          bool   `json:"use_native_hashcat"`
	BackendDevices            string `json:"backend_devices,omitempty"`
	OpenCLDevices             string `json:"opencl_devices,omitempty"`
	EnableAdditionalHashTypes bool   `json:"enable_additional_hash_types"`
	DeviceFlags               []bool `json:"device_flags,omitempty"`
}

// UpdateIntervalDuration returns the heartbeat interval with the 1s floor
// the protocol requires.
func (c AgentConfig) UpdateIntervalDuration() time.Duration {
	if c.UpdateInterval < 1 {
		return time.Second
	}
	return time.Duration(c.UpdateInterval) * time.Second
}

// Benchmark is a measured speed for one (hash type, device) pair.
type Benchmark struct {
	ID          int64     `json:"id"`
	AgentID     int       `json:"agent_id"`
	HashType    int       `json:"hash_type"`
	DeviceIndex int       `json:"device"`
	RuntimeMs   int64     `json:"runtime"`
	HashSpeed   float64   `json:"hash_speed"`
	CreatedAt   time.Time `json:"created_at"`
}

// TotalSpeed sums per-device speeds for one hash type across a benchmark set.
func TotalSpeed(benchmarks []Benchmark, hashType int) float64 {
	var total float64
	for _, b := range benchmarks {
		if b.HashType == hashType {
			total += b.HashSpeed
		}
	}
	return total
}

// HasBenchmarkFor reports whether the set contains a benchmark for hashType.
func HasBenchmarkFor(benchmarks []Benchmark, hashType int) bool {
	for _, b := range benchmarks {
		if b.HashType == hashType {
			return true
		}
	}
	return false
}

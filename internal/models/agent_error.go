package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Agent error severities, lowest to highest.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
	SeverityFatal    = "fatal"
)

// ValidSeverity reports whether s names a known severity.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityMinor, SeverityMajor,
		SeverityCritical, SeverityFatal:
		return true
	}
	return false
}

// AgentError is a problem report submitted by (or recorded on behalf of)
// an agent.
type AgentError struct {
	ID        uuid.UUID       `json:"id"`
	AgentID   int             `json:"agent_id"`
	TaskID    *uuid.UUID      `json:"task_id,omitempty"`
	Severity  string          `json:"severity"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Attack modes
const (
	AttackModeDictionary = "dictionary"
	AttackModeMask       = "mask"
	AttackModeHybridDict = "hybrid_dict"
	AttackModeHybridMask = "hybrid_mask"
	AttackModeBruteForce = "brute_force"
)

// Attack states
const (
	AttackStatePending   = "pending"
	AttackStateRunning   = "running"
	AttackStateCompleted = "completed"
	AttackStateExhausted = "exhausted"
	AttackStateFailed    = "failed"
	AttackStatePaused    = "paused"
)

// ValidAttackMode reports whether s names a supported attack mode.
func ValidAttackMode(s string) bool {
	switch s {
	case AttackModeDictionary, AttackModeMask, AttackModeHybridDict,
		AttackModeHybridMask, AttackModeBruteForce:
		return true
	}
	return false
}

// Attack is a single cracking configuration within a campaign. Position
// orders attacks inside the campaign starting at 1.
type Attack struct {
	ID         uuid.UUID `json:"id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Position   int       `json:"position"`
	Mode       string    `json:"mode"`
	HashType   int       `json:"hash_type"`

	WordlistKey     string   `json:"wordlist_key,omitempty"`
	RuleKey         string   `json:"rule_key,omitempty"`
	Mask            string   `json:"mask,omitempty"`
	MaskList        []string `json:"mask_list,omitempty"`
	CustomCharset1  string   `json:"custom_charset_1,omitempty"`
	CustomCharset2  string   `json:"custom_charset_2,omitempty"`
	CustomCharset3  string   `json:"custom_charset_3,omitempty"`
	CustomCharset4  string   `json:"custom_charset_4,omitempty"`
	MinLength       int      `json:"min_length,omitempty"`
	MaxLength       int      `json:"max_length,omitempty"`
	IncrementMode   bool     `json:"increment_mode"`
	WorkloadProfile int      `json:"workload_profile"`
	Optimized       bool     `json:"optimized"`

	TotalKeyspace   int64 `json:"total_keyspace"`
	ComplexityScore int64 `json:"complexity_score"`

	State     string    `json:"state"`
	ZapSerial int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedulable reports whether tasks of this attack may be handed out.
func (a *Attack) Schedulable() bool {
	return a.State == AttackStatePending || a.State == AttackStateRunning
}

// Terminal reports whether the attack has finished for good.
func (a *Attack) Terminal() bool {
	switch a.State {
	case AttackStateCompleted, AttackStateExhausted, AttackStateFailed:
		return true
	}
	return false
}

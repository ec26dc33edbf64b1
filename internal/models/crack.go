package models

import (
	"time"

	"github.com/google/uuid"
)

// Crack records a recovered plaintext. At most one crack is recorded per
// hash item; later submissions for the same item are idempotent no-ops.
type Crack struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	HashItemID  uuid.UUID `json:"hash_item_id"`
	HashListID  int64     `json:"hash_list_id"`
	AgentID     int       `json:"agent_id"`
	Plaintext   string    `json:"plaintext"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ZapEntry is one line of an attack's append-only cracked-hash log. Serial
// is assigned under the attack row lock and strictly increases.
type ZapEntry struct {
	AttackID  uuid.UUID `json:"attack_id"`
	Serial    int64     `json:"serial"`
	HashValue string    `json:"hash_value"`
	CreatedAt time.Time `json:"created_at"`
}

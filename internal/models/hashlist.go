package models

import (
	"time"

	"github.com/google/uuid"
)

// HashList is a set of target hashes belonging to a project. All items in a
// list share one hash type (hashcat mode number).
type HashList struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	Name         string    `json:"name"`
	HashType     int       `json:"hash_type"`
	ItemCount    int       `json:"item_count"`
	CrackedCount int       `json:"cracked_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Complete reports whether every item in the list has been cracked.
func (h *HashList) Complete() bool {
	return h.ItemCount > 0 && h.CrackedCount >= h.ItemCount
}

// HashItem is one target hash. Once cracked, the crack fields never change.
type HashItem struct {
	ID              uuid.UUID  `json:"id"`
	HashListID      int64      `json:"hash_list_id"`
	HashValue       string     `json:"hash_value"`
	Salt            *string    `json:"salt,omitempty"`
	Cracked         bool       `json:"cracked"`
	Plaintext       *string    `json:"plaintext,omitempty"`
	CrackedAt       *time.Time `json:"cracked_at,omitempty"`
	CrackedByTaskID *uuid.UUID `json:"cracked_by_task_id,omitempty"`
}

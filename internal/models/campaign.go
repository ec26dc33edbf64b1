package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign states
const (
	CampaignStateDraft     = "draft"
	CampaignStateActive    = "active"
	CampaignStatePaused    = "paused"
	CampaignStateCompleted = "completed"
	CampaignStateArchived  = "archived"
	CampaignStateError     = "error"
)

// Campaign is an ordered collection of attacks against one hash list.
type Campaign struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"`
	HashListID  int64     `json:"hash_list_id"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CampaignSchedulable reports whether the campaign state allows handing out
// its tasks.
func (c *Campaign) Schedulable() bool {
	return c.State == CampaignStateActive
}

// Project groups campaigns and hash lists for one engagement.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

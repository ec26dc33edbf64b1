package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// CampaignService owns campaign and attack lifecycle from the operator's
// side: CRUD, start/pause/resume/archive and the planning hooks.
type CampaignService struct {
	database     *db.DB
	campaignRepo *repository.CampaignRepository
	attackRepo   *repository.AttackRepository
	taskRepo     *repository.TaskRepository
	agentRepo    *repository.AgentRepository
	hashListRepo *repository.HashListRepository
	planner      *KeyspacePlanner
	scheduler    *TaskScheduler
	broker       *events.Broker
}

// NewCampaignService creates a new campaign service.
func NewCampaignService(
	database *db.DB,
	campaignRepo *repository.CampaignRepository,
	attackRepo *repository.AttackRepository,
	taskRepo *repository.TaskRepository,
	agentRepo *repository.AgentRepository,
	hashListRepo *repository.HashListRepository,
	planner *KeyspacePlanner,
	scheduler *TaskScheduler,
	broker *events.Broker,
) *CampaignService {
	return &CampaignService{
		database:     database,
		campaignRepo: campaignRepo,
		attackRepo:   attackRepo,
		taskRepo:     taskRepo,
		agentRepo:    agentRepo,
		hashListRepo: hashListRepo,
		planner:      planner,
		scheduler:    scheduler,
		broker:       broker,
	}
}

// CreateCampaign validates and stores a new draft campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if c.Name == "" {
		return core.Malformed("name is required")
	}
	if _, err := s.hashListRepo.GetByID(ctx, c.HashListID); err != nil {
		return err
	}
	c.State = models.CampaignStateDraft
	if err := s.campaignRepo.Create(ctx, c); err != nil {
		return err
	}
	debug.Log("Campaign created", map[string]interface{}{
		"campaign_id": c.ID,
		"name":        c.Name,
	})
	return nil
}

// GetCampaign returns one campaign.
func (s *CampaignService) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return s.campaignRepo.GetByID(ctx, id)
}

// ListCampaigns returns a project's campaigns.
func (s *CampaignService) ListCampaigns(ctx context.Context, projectID int64) ([]models.Campaign, error) {
	return s.campaignRepo.List(ctx, projectID)
}

// UpdateCampaign persists name, description and priority changes.
func (s *CampaignService) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	existing, err := s.campaignRepo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	existing.Name = c.Name
	existing.Description = c.Description
	existing.Priority = c.Priority
	return s.campaignRepo.Update(ctx, existing)
}

// DeleteCampaign removes a campaign that is not currently active.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if campaign.State == models.CampaignStateActive {
		return core.Conflict("stop the campaign before deleting it")
	}
	return s.campaignRepo.Delete(ctx, id)
}

// StartCampaign activates a campaign, planning any attack that has no tasks
// yet. Campaigns without attacks cannot start.
func (s *CampaignService) StartCampaign(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch campaign.State {
	case models.CampaignStateActive:
		return nil
	case models.CampaignStateCompleted, models.CampaignStateArchived:
		return core.Conflict("campaign already finished")
	}

	attacks, err := s.attackRepo.ListByCampaign(ctx, id)
	if err != nil {
		return err
	}
	if len(attacks) == 0 {
		return core.Conflict("campaign has no attacks")
	}

	for i := range attacks {
		if attacks[i].Terminal() {
			continue
		}
		existing, err := s.taskRepo.ListByAttack(ctx, attacks[i].ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := s.planner.Plan(ctx, attacks[i].ID); err != nil {
			return err
		}
	}

	if err := s.campaignRepo.SetState(ctx, id, models.CampaignStateActive); err != nil {
		return err
	}
	s.broker.Publish(events.EventTypeCampaignState, events.CampaignChannel(id.String()),
		map[string]string{"state": models.CampaignStateActive})
	return nil
}

// PauseCampaign pauses the campaign and every non-terminal attack in it.
func (s *CampaignService) PauseCampaign(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if campaign.State != models.CampaignStateActive {
		return core.Conflict("campaign is not active")
	}

	attacks, err := s.attackRepo.ListByCampaign(ctx, id)
	if err != nil {
		return err
	}
	for i := range attacks {
		if attacks[i].Terminal() || attacks[i].State == models.AttackStatePaused {
			continue
		}
		if err := s.scheduler.PauseAttack(ctx, attacks[i].ID); err != nil {
			return err
		}
	}

	if err := s.campaignRepo.SetState(ctx, id, models.CampaignStatePaused); err != nil {
		return err
	}
	s.broker.Publish(events.EventTypeCampaignState, events.CampaignChannel(id.String()),
		map[string]string{"state": models.CampaignStatePaused})
	return nil
}

// ResumeCampaign reactivates a paused campaign and its paused attacks.
func (s *CampaignService) ResumeCampaign(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if campaign.State != models.CampaignStatePaused {
		return core.Conflict("campaign is not paused")
	}

	attacks, err := s.attackRepo.ListByCampaign(ctx, id)
	if err != nil {
		return err
	}
	for i := range attacks {
		if attacks[i].State != models.AttackStatePaused {
			continue
		}
		if err := s.scheduler.ResumeAttack(ctx, attacks[i].ID); err != nil {
			return err
		}
	}

	if err := s.campaignRepo.SetState(ctx, id, models.CampaignStateActive); err != nil {
		return err
	}
	s.broker.Publish(events.EventTypeCampaignState, events.CampaignChannel(id.String()),
		map[string]string{"state": models.CampaignStateActive})
	return nil
}

// ArchiveCampaign retires a campaign. Held tasks are released so no agent
// keeps burning keyspace for it.
func (s *CampaignService) ArchiveCampaign(ctx context.Context, id uuid.UUID) error {
	err := s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		campaignRepo := s.campaignRepo.WithTx(tx)
		campaign, err := campaignRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if campaign.State == models.CampaignStateArchived {
			return nil
		}

		attackRepo := s.attackRepo.WithTx(tx)
		taskRepo := s.taskRepo.WithTx(tx)
		attacks, err := attackRepo.ListByCampaign(ctx, id)
		if err != nil {
			return err
		}
		for i := range attacks {
			held, err := taskRepo.ListHeldByAttack(ctx, attacks[i].ID)
			if err != nil {
				return err
			}
			for j := range held {
				owner := held[j].AssignedAgentID
				held[j].State = models.TaskStateAbandoned
				held[j].AssignedAgentID = nil
				held[j].AssignedAt = nil
				held[j].AcceptedAt = nil
				held[j].LastStatusAt = nil
				held[j].ProgressOffset = 0
				held[j].ETASeconds = nil
				if err := taskRepo.Update(ctx, &held[j]); err != nil {
					return err
				}
				// The owner's assigned_task_id must not dangle, or the agent
				// can never claim again.
				if owner != nil {
					if err := clearAgentAssignment(ctx, s.agentRepo.WithTx(tx), *owner); err != nil {
						return err
					}
				}
			}
			if !attacks[i].Terminal() {
				if err := attackRepo.SetState(ctx, attacks[i].ID, models.AttackStatePaused); err != nil {
					return err
				}
			}
		}
		return campaignRepo.SetState(ctx, id, models.CampaignStateArchived)
	})
	if err != nil {
		return fmt.Errorf("failed to archive campaign %s: %w", id, err)
	}
	s.broker.Publish(events.EventTypeCampaignState, events.CampaignChannel(id.String()),
		map[string]string{"state": models.CampaignStateArchived})
	return nil
}

// CreateAttack appends an attack to a campaign. Position defaults to the
// next free slot.
func (s *CampaignService) CreateAttack(ctx context.Context, a *models.Attack) error {
	if !models.ValidAttackMode(a.Mode) {
		return core.Malformed(fmt.Sprintf("unknown attack mode %q", a.Mode))
	}
	if a.TotalKeyspace < 0 {
		return core.Malformed("total_keyspace must not be negative")
	}
	campaign, err := s.campaignRepo.GetByID(ctx, a.CampaignID)
	if err != nil {
		return err
	}

	if a.Position == 0 {
		attacks, err := s.attackRepo.ListByCampaign(ctx, a.CampaignID)
		if err != nil {
			return err
		}
		a.Position = len(attacks) + 1
	}
	a.State = models.AttackStatePending
	if err := s.attackRepo.Create(ctx, a); err != nil {
		return err
	}

	// Attacks added to a live campaign get planned right away.
	if campaign.State == models.CampaignStateActive {
		if _, err := s.planner.Plan(ctx, a.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetAttack returns one attack.
func (s *CampaignService) GetAttack(ctx context.Context, id uuid.UUID) (*models.Attack, error) {
	return s.attackRepo.GetByID(ctx, id)
}

// ListAttacks returns a campaign's attacks in position order.
func (s *CampaignService) ListAttacks(ctx context.Context, campaignID uuid.UUID) ([]models.Attack, error) {
	return s.attackRepo.ListByCampaign(ctx, campaignID)
}

// UpdateAttack persists configuration changes and rebalances the attack:
// every unfinished slice is recut against the new total keyspace, and agents
// holding old slices are released.
func (s *CampaignService) UpdateAttack(ctx context.Context, a *models.Attack) error {
	existing, err := s.attackRepo.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing.Terminal() {
		return core.Conflict("attack already finished")
	}
	a.CampaignID = existing.CampaignID
	a.State = existing.State
	if err := s.attackRepo.Update(ctx, a); err != nil {
		return err
	}
	return s.scheduler.Rebalance(ctx, a.ID)
}

// HashListTextForAttack returns the uncracked hash values of the attack's
// target list; agents download this as the task input.
func (s *CampaignService) HashListTextForAttack(ctx context.Context, attackID uuid.UUID) ([]string, error) {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaignRepo.GetByID(ctx, attack.CampaignID)
	if err != nil {
		return nil, err
	}
	return s.hashListRepo.ListUncrackedValues(ctx, campaign.HashListID)
}

// DeleteAttack removes an attack and its tasks.
func (s *CampaignService) DeleteAttack(ctx context.Context, id uuid.UUID) error {
	attack, err := s.attackRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	held, err := s.taskRepo.ListHeldByAttack(ctx, id)
	if err != nil {
		return err
	}
	if len(held) > 0 {
		return core.Conflict("attack has tasks held by agents")
	}
	if err := s.attackRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.broker.Publish(events.EventTypeAttackState, events.CampaignChannel(attack.CampaignID.String()),
		map[string]string{"attack_id": id.String(), "state": "deleted"})
	return nil
}

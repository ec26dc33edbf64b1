package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// hashTypeNTLM is the hashcat mode whose submissions may arrive in pwdump
// form (user:rid:lm:nt).
const hashTypeNTLM = 1000

const (
	bloomCapacity      = 1_000_000
	bloomFalsePositive = 0.001
)

// Crack submission outcomes.
const (
	CrackRecorded       = "recorded"
	CrackAlreadyCracked = "already_cracked"
	CrackNotInList      = "not_in_list"
)

// CrackResult describes what happened to one submitted crack.
type CrackResult struct {
	Outcome      string
	ListComplete bool
	Remaining    int
}

// CanonicalizeHash normalises a submitted hash value the way the matching
// pipeline stores it: trimmed, lowercased hex, and for NTLM with the pwdump
// user:rid prefix stripped down to the NT hash.
func CanonicalizeHash(hashType int, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", core.Malformed("hash value is empty")
	}
	if hashType == hashTypeNTLM && strings.Contains(v, ":") {
		parts := strings.Split(v, ":")
		// pwdump rows are user:rid:lmhash:nthash[:::]; anything shorter
		// with a colon is user:hash.
		if len(parts) >= 4 && parts[3] != "" {
			v = parts[3]
		} else {
			v = parts[len(parts)-1]
		}
		if v == "" {
			return "", core.Malformed("hash value is empty")
		}
	}
	return strings.ToLower(v), nil
}

// CrackService ingests recovered plaintexts and serves the zap feedback log.
type CrackService struct {
	database     *db.DB
	hashListRepo *repository.HashListRepository
	crackRepo    *repository.CrackRepository
	taskRepo     *repository.TaskRepository
	attackRepo   *repository.AttackRepository
	campaignRepo *repository.CampaignRepository
	broker       *events.Broker

	// Per-list membership filters. A definite miss skips the item lookup
	// entirely, which matters when agents replay large potfiles.
	mu      sync.Mutex
	filters map[int64]*bloom.BloomFilter
}

// NewCrackService creates a new crack service.
func NewCrackService(
	database *db.DB,
	hashListRepo *repository.HashListRepository,
	crackRepo *repository.CrackRepository,
	taskRepo *repository.TaskRepository,
	attackRepo *repository.AttackRepository,
	campaignRepo *repository.CampaignRepository,
	broker *events.Broker,
) *CrackService {
	return &CrackService{
		database:     database,
		hashListRepo: hashListRepo,
		crackRepo:    crackRepo,
		taskRepo:     taskRepo,
		attackRepo:   attackRepo,
		campaignRepo: campaignRepo,
		broker:       broker,
		filters:      make(map[int64]*bloom.BloomFilter),
	}
}

// filterFor returns the list's membership filter, seeding it on first use.
func (s *CrackService) filterFor(ctx context.Context, hashListID int64) (*bloom.BloomFilter, error) {
	s.mu.Lock()
	if f, ok := s.filters[hashListID]; ok {
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	values, err := s.hashListRepo.ListAllValues(ctx, hashListID)
	if err != nil {
		return nil, err
	}
	f := bloom.NewWithEstimates(bloomCapacity, bloomFalsePositive)
	for _, v := range values {
		f.AddString(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.filters[hashListID]; ok {
		return existing, nil
	}
	s.filters[hashListID] = f
	return f, nil
}

// NoteItemsAdded feeds freshly uploaded hash values into the list's filter.
func (s *CrackService) NoteItemsAdded(hashListID int64, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[hashListID]
	if !ok {
		return
	}
	for _, v := range values {
		f.AddString(v)
	}
}

// SubmitCrack records one recovered plaintext for the task's hash list.
// Resubmitting a crack for an already-cracked item is an idempotent no-op
// reported as AlreadyCracked.
func (s *CrackService) SubmitCrack(ctx context.Context, agentID int, taskID uuid.UUID, hashValue, plaintext string, crackedAt time.Time) (*CrackResult, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.OwnedBy(agentID) {
		return nil, core.NotFound("task not found")
	}
	attack, err := s.attackRepo.GetByID(ctx, task.AttackID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaignRepo.GetByID(ctx, attack.CampaignID)
	if err != nil {
		return nil, err
	}

	canonical, err := CanonicalizeHash(attack.HashType, hashValue)
	if err != nil {
		return nil, err
	}

	filter, err := s.filterFor(ctx, campaign.HashListID)
	if err != nil {
		return nil, err
	}
	if !filter.TestString(canonical) {
		return &CrackResult{Outcome: CrackNotInList}, nil
	}

	// Agent clocks drift; never record a crack from the future.
	now := time.Now().UTC()
	if crackedAt.After(now) || crackedAt.IsZero() {
		crackedAt = now
	}

	result := &CrackResult{}
	err = s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		hashListRepo := s.hashListRepo.WithTx(tx)
		hl, err := hashListRepo.GetByIDForUpdate(ctx, campaign.HashListID)
		if err != nil {
			return err
		}
		item, err := hashListRepo.GetItemByValue(ctx, hl.ID, canonical)
		if err != nil {
			if core.IsKind(err, core.KindNotFound) {
				result.Outcome = CrackNotInList
				return nil
			}
			return err
		}
		if item.Cracked {
			result.Outcome = CrackAlreadyCracked
			result.Remaining = hl.ItemCount - hl.CrackedCount
			result.ListComplete = hl.Complete()
			return nil
		}

		if err := hashListRepo.MarkItemCracked(ctx, item.ID, plaintext, crackedAt, taskID); err != nil {
			return err
		}
		if err := s.crackRepo.WithTx(tx).Create(ctx, &models.Crack{
			TaskID:     taskID,
			HashItemID: item.ID,
			HashListID: hl.ID,
			AgentID:    agentID,
			Plaintext:  plaintext,
		}); err != nil {
			return err
		}

		// Append to the attack's zap log under the attack row lock so
		// serials stay strictly ordered.
		attackRepo := s.attackRepo.WithTx(tx)
		if _, err := attackRepo.GetByIDForUpdate(ctx, attack.ID); err != nil {
			return err
		}
		serial, err := attackRepo.NextZapSerial(ctx, attack.ID)
		if err != nil {
			return err
		}
		if err := s.crackRepo.WithTx(tx).AppendZapEntry(ctx, &models.ZapEntry{
			AttackID:  attack.ID,
			Serial:    serial,
			HashValue: canonical,
		}); err != nil {
			return err
		}

		result.Outcome = CrackRecorded
		result.Remaining = hl.ItemCount - hl.CrackedCount - 1
		result.ListComplete = result.Remaining <= 0

		if result.ListComplete {
			return s.completeCampaign(ctx, tx, campaign.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record crack for task %s: %w", taskID, err)
	}

	if result.Outcome == CrackRecorded {
		s.broker.Publish(events.EventTypeCrackRecorded, events.CampaignChannel(campaign.ID.String()),
			map[string]interface{}{"hash_list_id": campaign.HashListID, "remaining": result.Remaining})
		if result.ListComplete {
			s.broker.Publish(events.EventTypeHashListComplete, events.CampaignChannel(campaign.ID.String()),
				map[string]interface{}{"hash_list_id": campaign.HashListID})
		}
	}
	return result, nil
}

// completeCampaign finishes a campaign whose hash list has been fully
// cracked: remaining attacks and campaign both go to completed. Runs inside
// the caller's transaction.
func (s *CrackService) completeCampaign(ctx context.Context, tx *sql.Tx, campaignID uuid.UUID) error {
	debug.Log("Hash list fully cracked, completing campaign", map[string]interface{}{
		"campaign_id": campaignID,
	})
	attackRepo := s.attackRepo.WithTx(tx)
	attacks, err := attackRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	for i := range attacks {
		if attacks[i].Terminal() {
			continue
		}
		if err := attackRepo.SetState(ctx, attacks[i].ID, models.AttackStateCompleted); err != nil {
			return err
		}
	}
	return s.campaignRepo.WithTx(tx).SetState(ctx, campaignID, models.CampaignStateCompleted)
}

// GetZaps returns the hash values cracked since the agent last asked for the
// attack, each value served to each agent at most once. The cursor advances
// under the attack row lock.
func (s *CrackService) GetZaps(ctx context.Context, agentID int, taskID uuid.UUID) ([]string, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.OwnedBy(agentID) {
		return nil, core.NotFound("task not found")
	}

	var values []string
	err = s.database.RunInTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.attackRepo.WithTx(tx).GetByIDForUpdate(ctx, task.AttackID); err != nil {
			return err
		}
		crackRepo := s.crackRepo.WithTx(tx)
		cursor, err := crackRepo.GetZapCursor(ctx, task.AttackID, agentID)
		if err != nil {
			return err
		}
		entries, err := crackRepo.ZapEntriesSince(ctx, task.AttackID, cursor)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		values = make([]string, len(entries))
		for i, e := range entries {
			values[i] = e.HashValue
		}
		return crackRepo.AdvanceZapCursor(ctx, task.AttackID, agentID, entries[len(entries)-1].Serial)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch zaps for task %s: %w", taskID, err)
	}
	return values, nil
}

// ListCracks returns recorded cracks for a hash list.
func (s *CrackService) ListCracks(ctx context.Context, hashListID int64) ([]models.Crack, error) {
	return s.crackRepo.ListByHashList(ctx, hashListID)
}

package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/unclesp1d3r/cipherswarm/internal/config"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

// KeyspacePlanner slices attack keyspaces into tasks sized for the current
// fleet. Planning is deterministic: the same keyspace, speed set and limits
// always produce the same slices.
type KeyspacePlanner struct {
	database      *db.DB
	attackRepo    *repository.AttackRepository
	taskRepo      *repository.TaskRepository
	benchmarkRepo *repository.BenchmarkRepository
	cfg           *config.Config
}

// NewKeyspacePlanner creates a new keyspace planner.
func NewKeyspacePlanner(
	database *db.DB,
	attackRepo *repository.AttackRepository,
	taskRepo *repository.TaskRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	cfg *config.Config,
) *KeyspacePlanner {
	return &KeyspacePlanner{
		database:      database,
		attackRepo:    attackRepo,
		taskRepo:      taskRepo,
		benchmarkRepo: benchmarkRepo,
		cfg:           cfg,
	}
}

// MedianSpeed returns the median of the given per-agent speeds, or zero when
// the set is empty. The input is not modified.
func MedianSpeed(speeds []float64) float64 {
	if len(speeds) == 0 {
		return 0
	}
	sorted := make([]float64, len(speeds))
	copy(sorted, speeds)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// SliceLength converts a median agent speed into a slice length in keyspace
// units. Slices target maxSeconds of expected runtime so agents check in on
// a predictable cadence; the minSeconds floor keeps tiny fleets from
// producing degenerate one-candidate slices.
func SliceLength(medianSpeed, defaultSpeed float64, minSeconds, maxSeconds int) int64 {
	speed := medianSpeed
	if speed <= 0 {
		speed = defaultSpeed
	}
	length := int64(speed * float64(maxSeconds))
	floor := int64(speed * float64(minSeconds))
	if length < floor {
		length = floor
	}
	if length < 1 {
		length = 1
	}
	return length
}

// PlanSlices splits [0, total) into uniform slices of sliceLength with a
// shorter final remainder slice.
func PlanSlices(attackID uuid.UUID, total, sliceLength int64) []models.TaskSpec {
	if total <= 0 || sliceLength <= 0 {
		return nil
	}
	var specs []models.TaskSpec
	for offset := int64(0); offset < total; offset += sliceLength {
		length := sliceLength
		if offset+length > total {
			length = total - offset
		}
		specs = append(specs, models.TaskSpec{
			AttackID:       attackID,
			KeyspaceOffset: offset,
			KeyspaceLength: length,
		})
	}
	return specs
}

// Segment is a contiguous keyspace region awaiting (re)slicing.
type Segment struct {
	Offset int64
	Length int64
}

// MergeSegments coalesces adjacent or overlapping segments, returning them
// sorted by offset.
func MergeSegments(segments []Segment) []Segment {
	if len(segments) == 0 {
		return nil
	}
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	merged := []Segment{sorted[0]}
	for _, seg := range sorted[1:] {
		last := &merged[len(merged)-1]
		if seg.Offset <= last.Offset+last.Length {
			if end := seg.Offset + seg.Length; end > last.Offset+last.Length {
				last.Length = end - last.Offset
			}
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

// ComplementSegments returns the gaps of [0, total) not covered by the given
// segments. Covered regions beyond total are ignored, so a shrunk keyspace
// never produces slices past its new end.
func ComplementSegments(total int64, covered []Segment) []Segment {
	if total <= 0 {
		return nil
	}
	var gaps []Segment
	cursor := int64(0)
	for _, seg := range MergeSegments(covered) {
		if seg.Offset >= total {
			break
		}
		if seg.Offset > cursor {
			gaps = append(gaps, Segment{Offset: cursor, Length: seg.Offset - cursor})
		}
		if end := seg.Offset + seg.Length; end > cursor {
			cursor = end
		}
	}
	if cursor < total {
		gaps = append(gaps, Segment{Offset: cursor, Length: total - cursor})
	}
	return gaps
}

// SliceSegments slices each segment independently so already-finished
// keyspace regions stay untouched.
func SliceSegments(attackID uuid.UUID, segments []Segment, sliceLength int64) []models.TaskSpec {
	var specs []models.TaskSpec
	for _, seg := range MergeSegments(segments) {
		for offset := seg.Offset; offset < seg.Offset+seg.Length; offset += sliceLength {
			length := sliceLength
			if offset+length > seg.Offset+seg.Length {
				length = seg.Offset + seg.Length - offset
			}
			specs = append(specs, models.TaskSpec{
				AttackID:       attackID,
				KeyspaceOffset: offset,
				KeyspaceLength: length,
			})
		}
	}
	return specs
}

// Plan slices the attack's full keyspace into pending tasks. An attack with
// zero keyspace gets no tasks and is marked exhausted immediately.
func (p *KeyspacePlanner) Plan(ctx context.Context, attackID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	err := p.database.RunInTx(ctx, func(tx *sql.Tx) error {
		attackRepo := p.attackRepo.WithTx(tx)
		attack, err := attackRepo.GetByIDForUpdate(ctx, attackID)
		if err != nil {
			return err
		}

		if attack.TotalKeyspace <= 0 {
			debug.Log("Attack has zero keyspace, marking exhausted", map[string]interface{}{
				"attack_id": attack.ID,
			})
			return attackRepo.SetState(ctx, attack.ID, models.AttackStateExhausted)
		}

		sliceLength, err := p.sliceLengthFor(ctx, tx, attack.HashType)
		if err != nil {
			return err
		}

		specs := PlanSlices(attack.ID, attack.TotalKeyspace, sliceLength)
		tasks, err = p.taskRepo.WithTx(tx).CreateBatch(ctx, specs)
		if err != nil {
			return err
		}

		debug.Log("Planned attack keyspace", map[string]interface{}{
			"attack_id":      attack.ID,
			"total_keyspace": attack.TotalKeyspace,
			"slice_length":   sliceLength,
			"task_count":     len(tasks),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to plan attack %s: %w", attackID, err)
	}
	return tasks, nil
}

// Replan reslices only the unfinished remainder of the attack: pending and
// abandoned tasks are deleted and their keyspace regions recut at the current
// fleet speed. Held and terminal tasks keep their slices.
func (p *KeyspacePlanner) Replan(ctx context.Context, attackID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	err := p.database.RunInTx(ctx, func(tx *sql.Tx) error {
		attackRepo := p.attackRepo.WithTx(tx)
		taskRepo := p.taskRepo.WithTx(tx)

		attack, err := attackRepo.GetByIDForUpdate(ctx, attackID)
		if err != nil {
			return err
		}

		replannable, err := taskRepo.ListByAttackInStates(ctx, attack.ID,
			[]string{models.TaskStatePending, models.TaskStateAbandoned})
		if err != nil {
			return err
		}
		if len(replannable) == 0 {
			return nil
		}

		segments := make([]Segment, 0, len(replannable))
		ids := make([]uuid.UUID, 0, len(replannable))
		for _, t := range replannable {
			segments = append(segments, Segment{Offset: t.KeyspaceOffset, Length: t.KeyspaceLength})
			ids = append(ids, t.ID)
		}

		sliceLength, err := p.sliceLengthFor(ctx, tx, attack.HashType)
		if err != nil {
			return err
		}

		if err := taskRepo.DeleteByIDs(ctx, ids); err != nil {
			return err
		}
		specs := SliceSegments(attack.ID, segments, sliceLength)
		tasks, err = taskRepo.CreateBatch(ctx, specs)
		if err != nil {
			return err
		}

		debug.Log("Replanned attack remainder", map[string]interface{}{
			"attack_id":    attack.ID,
			"replaced":     len(replannable),
			"slice_length": sliceLength,
			"task_count":   len(tasks),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replan attack %s: %w", attackID, err)
	}
	return tasks, nil
}

// PlanningMedian returns the median active-agent speed the planner would use
// for the hash type right now; the scheduler compares an abandoning agent's
// benchmark against it.
func (p *KeyspacePlanner) PlanningMedian(ctx context.Context, hashType int) (float64, error) {
	speeds, err := p.benchmarkRepo.ActiveAgentSpeeds(ctx, hashType)
	if err != nil {
		return 0, err
	}
	median := MedianSpeed(speeds)
	if median <= 0 {
		median = p.cfg.DefaultHashSpeed
	}
	return median, nil
}

func (p *KeyspacePlanner) sliceLengthFor(ctx context.Context, tx *sql.Tx, hashType int) (int64, error) {
	speeds, err := p.benchmarkRepo.WithTx(tx).ActiveAgentSpeeds(ctx, hashType)
	if err != nil {
		return 0, err
	}
	return SliceLength(MedianSpeed(speeds), p.cfg.DefaultHashSpeed,
		p.cfg.MinSliceSeconds, p.cfg.MaxSliceSeconds), nil
}

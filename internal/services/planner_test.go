package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedianSpeed(t *testing.T) {
	assert.Equal(t, 0.0, MedianSpeed(nil))
	assert.Equal(t, 100.0, MedianSpeed([]float64{100}))
	assert.Equal(t, 200.0, MedianSpeed([]float64{300, 100, 200}))
	assert.Equal(t, 150.0, MedianSpeed([]float64{100, 200}))

	// Input order must not matter and the input must stay untouched.
	speeds := []float64{500, 100, 300}
	assert.Equal(t, 300.0, MedianSpeed(speeds))
	assert.Equal(t, []float64{500, 100, 300}, speeds)
}

func TestSliceLength(t *testing.T) {
	// 1000 h/s over a 900s window.
	assert.Equal(t, int64(900_000), SliceLength(1000, 500, 60, 900))

	// No benchmarks: fall back to the default speed.
	assert.Equal(t, int64(450_000), SliceLength(0, 500, 60, 900))
	assert.Equal(t, int64(450_000), SliceLength(-1, 500, 60, 900))

	// Degenerate speeds still produce a positive length.
	assert.Equal(t, int64(1), SliceLength(0, 0, 60, 900))
}

func TestPlanSlicesUniformWithRemainder(t *testing.T) {
	attackID := uuid.New()
	specs := PlanSlices(attackID, 2500, 1000)
	require.Len(t, specs, 3)

	assert.Equal(t, int64(0), specs[0].KeyspaceOffset)
	assert.Equal(t, int64(1000), specs[0].KeyspaceLength)
	assert.Equal(t, int64(1000), specs[1].KeyspaceOffset)
	assert.Equal(t, int64(1000), specs[1].KeyspaceLength)
	assert.Equal(t, int64(2000), specs[2].KeyspaceOffset)
	assert.Equal(t, int64(500), specs[2].KeyspaceLength)

	for _, s := range specs {
		assert.Equal(t, attackID, s.AttackID)
	}
}

func TestPlanSlicesExactDivision(t *testing.T) {
	specs := PlanSlices(uuid.New(), 3000, 1000)
	require.Len(t, specs, 3)
	for _, s := range specs {
		assert.Equal(t, int64(1000), s.KeyspaceLength)
	}
}

func TestPlanSlicesEdgeCases(t *testing.T) {
	assert.Nil(t, PlanSlices(uuid.New(), 0, 1000))
	assert.Nil(t, PlanSlices(uuid.New(), -5, 1000))
	assert.Nil(t, PlanSlices(uuid.New(), 100, 0))

	// A single slice covers keyspaces smaller than the slice length.
	specs := PlanSlices(uuid.New(), 10, 1000)
	require.Len(t, specs, 1)
	assert.Equal(t, int64(0), specs[0].KeyspaceOffset)
	assert.Equal(t, int64(10), specs[0].KeyspaceLength)
}

func TestPlanSlicesDeterministic(t *testing.T) {
	attackID := uuid.New()
	first := PlanSlices(attackID, 123456, 789)
	second := PlanSlices(attackID, 123456, 789)
	assert.Equal(t, first, second)

	var covered int64
	for _, s := range first {
		assert.Equal(t, covered, s.KeyspaceOffset)
		covered += s.KeyspaceLength
	}
	assert.Equal(t, int64(123456), covered)
}

func TestMergeSegments(t *testing.T) {
	merged := MergeSegments([]Segment{
		{Offset: 2000, Length: 500},
		{Offset: 0, Length: 1000},
		{Offset: 1000, Length: 1000},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, Segment{Offset: 0, Length: 2500}, merged[0])

	merged = MergeSegments([]Segment{
		{Offset: 5000, Length: 100},
		{Offset: 0, Length: 1000},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, Segment{Offset: 0, Length: 1000}, merged[0])
	assert.Equal(t, Segment{Offset: 5000, Length: 100}, merged[1])

	assert.Nil(t, MergeSegments(nil))
}

func TestMergeSegmentsOverlap(t *testing.T) {
	merged := MergeSegments([]Segment{
		{Offset: 0, Length: 1500},
		{Offset: 1000, Length: 1000},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, Segment{Offset: 0, Length: 2000}, merged[0])
}

func TestComplementSegments(t *testing.T) {
	// Nothing finished: the whole keyspace is open.
	gaps := ComplementSegments(2000, nil)
	require.Len(t, gaps, 1)
	assert.Equal(t, Segment{Offset: 0, Length: 2000}, gaps[0])

	// A finished head leaves the tail, including keyspace added after the
	// original plan was cut.
	gaps = ComplementSegments(2000, []Segment{{Offset: 0, Length: 500}})
	require.Len(t, gaps, 1)
	assert.Equal(t, Segment{Offset: 500, Length: 1500}, gaps[0])

	// A finished middle leaves both sides.
	gaps = ComplementSegments(3000, []Segment{{Offset: 1000, Length: 1000}})
	require.Len(t, gaps, 2)
	assert.Equal(t, Segment{Offset: 0, Length: 1000}, gaps[0])
	assert.Equal(t, Segment{Offset: 2000, Length: 1000}, gaps[1])

	// A shrunk keyspace never produces slices past its new end.
	gaps = ComplementSegments(1000, []Segment{{Offset: 0, Length: 400}, {Offset: 1500, Length: 500}})
	require.Len(t, gaps, 1)
	assert.Equal(t, Segment{Offset: 400, Length: 600}, gaps[0])

	// Fully covered or empty keyspaces leave nothing to cut.
	assert.Nil(t, ComplementSegments(1000, []Segment{{Offset: 0, Length: 1000}}))
	assert.Nil(t, ComplementSegments(0, nil))
}

func TestSliceSegmentsKeepsGaps(t *testing.T) {
	attackID := uuid.New()
	specs := SliceSegments(attackID, []Segment{
		{Offset: 0, Length: 1000},
		{Offset: 5000, Length: 2500},
	}, 1000)
	require.Len(t, specs, 4)

	assert.Equal(t, int64(0), specs[0].KeyspaceOffset)
	assert.Equal(t, int64(1000), specs[0].KeyspaceLength)
	assert.Equal(t, int64(5000), specs[1].KeyspaceOffset)
	assert.Equal(t, int64(6000), specs[2].KeyspaceOffset)
	assert.Equal(t, int64(7000), specs[3].KeyspaceOffset)
	assert.Equal(t, int64(500), specs[3].KeyspaceLength)
}

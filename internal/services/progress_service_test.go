package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
)

func TestReportStale(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	window := 10 * time.Second

	assert.False(t, ReportStale(now, nil, window))

	last := now
	assert.False(t, ReportStale(now, &last, window))

	// Reports slightly behind the last one are tolerated.
	assert.False(t, ReportStale(now.Add(-10*time.Second), &last, window))

	// Past the window they are reordered duplicates.
	assert.True(t, ReportStale(now.Add(-11*time.Second), &last, window))
	assert.True(t, ReportStale(now.Add(-time.Minute), &last, window))

	assert.False(t, ReportStale(now.Add(time.Second), &last, window))
}

func TestValidateProgress(t *testing.T) {
	require.NoError(t, ValidateProgress(0, 0, 1000))
	require.NoError(t, ValidateProgress(500, 400, 1000))
	require.NoError(t, ValidateProgress(500, 500, 1000))
	require.NoError(t, ValidateProgress(1000, 999, 1000))

	err := ValidateProgress(-1, 0, 1000)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))

	err = ValidateProgress(1001, 0, 1000)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))

	err = ValidateProgress(400, 500, 1000)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformed, core.KindOf(err))
}

func TestComputeETA(t *testing.T) {
	eta := ComputeETA(1000, 100)
	require.NotNil(t, eta)
	assert.Equal(t, int64(10), *eta)

	eta = ComputeETA(1001, 100)
	require.NotNil(t, eta)
	assert.Equal(t, int64(11), *eta)

	eta = ComputeETA(0, 100)
	require.NotNil(t, eta)
	assert.Equal(t, int64(0), *eta)

	assert.Nil(t, ComputeETA(1000, 0))
	assert.Nil(t, ComputeETA(1000, -5))
	assert.Nil(t, ComputeETA(-1, 100))
}

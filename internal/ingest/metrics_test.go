package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 { return &v }

func TestSelectMetricValue(t *testing.T) {
	activity := &NormalizedActivity{
		Metrics: Metrics{
			DistanceMeters: float(16093.44),
			MovingTimeSec:  float(3600),
			ElevationGain:  float(120.5),
		},
	}

	tests := []struct {
		metricType string
		want       float64
		ok         bool
	}{
		{database.MetricDistance, 16093.44, true},
		{database.MetricDuration, 3600, true},
		{"moving_time", 3600, true}, // legacy alias
		{database.MetricElevation, 120.5, true},
		{database.MetricSteps, 0, false}, // provider reports no steps
		{database.MetricManual, 0, false},
		{"heartbeats", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.metricType, func(t *testing.T) {
			got, ok := SelectMetricValue(activity, tt.metricType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectMetricValueRejectsNonFinite(t *testing.T) {
	activity := &NormalizedActivity{
		Metrics: Metrics{DistanceMeters: float(math.NaN())},
	}
	_, ok := SelectMetricValue(activity, database.MetricDistance)
	assert.False(t, ok)

	activity.Metrics.DistanceMeters = float(math.Inf(1))
	_, ok = SelectMetricValue(activity, database.MetricDistance)
	assert.False(t, ok)
}

func TestDeriveCompletion(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-48 * time.Hour)
	target := 16093.44 // 10 miles in meters

	t.Run("below target", func(t *testing.T) {
		completed, at := DeriveCompletion(12874.75, target, nil, now)
		assert.False(t, completed)
		assert.Nil(t, at)
	})

	t.Run("first crossing stamps now", func(t *testing.T) {
		completed, at := DeriveCompletion(17701.78, target, nil, now)
		assert.True(t, completed)
		require.NotNil(t, at)
		assert.Equal(t, now, *at)
	})

	t.Run("exact target counts", func(t *testing.T) {
		completed, _ := DeriveCompletion(target, target, nil, now)
		assert.True(t, completed)
	})

	t.Run("recomputation preserves the original timestamp", func(t *testing.T) {
		prior := &database.Submission{Completed: true, CompletedAt: &earlier}
		completed, at := DeriveCompletion(20000, target, prior, now)
		assert.True(t, completed)
		require.NotNil(t, at)
		assert.Equal(t, earlier, *at)
	})

	t.Run("dropping below target clears completion", func(t *testing.T) {
		prior := &database.Submission{Completed: true, CompletedAt: &earlier}
		completed, at := DeriveCompletion(11265.41, target, prior, now)
		assert.False(t, completed)
		assert.Nil(t, at)
	})

	t.Run("non-positive target never completes", func(t *testing.T) {
		completed, at := DeriveCompletion(100, 0, nil, now)
		assert.False(t, completed)
		assert.Nil(t, at)
	})
}

// Three runs of 4, 4, and 3 miles accumulate past a 10-mile target; removing
// one drops the total back below it.
func TestDeriveCompletionAccumulationScenario(t *testing.T) {
	now := time.Now()
	target := 16093.44
	miles := func(mi float64) float64 { return mi * 1609.344 }

	total := miles(4)
	completed, _ := DeriveCompletion(total, target, nil, now)
	assert.False(t, completed)

	total += miles(4)
	completed, _ = DeriveCompletion(total, target, nil, now)
	assert.False(t, completed)

	total += miles(3)
	completed, at := DeriveCompletion(total, target, nil, now)
	assert.True(t, completed)
	require.NotNil(t, at)

	prior := &database.Submission{Completed: true, CompletedAt: at}
	total -= miles(4)
	completed, at = DeriveCompletion(total, target, prior, now)
	assert.False(t, completed)
	assert.Nil(t, at)
}

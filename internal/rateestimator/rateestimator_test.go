package rateestimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateEstimation(t *testing.T) {
	now := time.Now()

	re := New(5, now, 1.0)
	assert.Equal(t, 1, re.Count())

	now = now.Add(time.Second)
	assert.True(t, re.FitsTrend(now, 1.1, 1.0))
	re.Add(now, 1.1, 0.1)
	assert.Equal(t, 2, re.Count())
	assert.InDelta(t, 0.1, re.Slope(), 0.001)

	now = now.Add(time.Second)
	assert.True(t, re.FitsTrend(now, 1.22, 1.0))
	re.Add(now, 1.22, 0.1)
	assert.Equal(t, 3, re.Count())
	assert.InDelta(t, 0.11, re.Slope(), 0.001)
	assert.InDelta(t, 0.07, re.RateIntervalBound(), 0.01)

	now = now.Add(time.Second)
	assert.False(t, re.FitsTrend(now, 1.25, 1.0))
	assert.True(t, re.FitsTrend(now, 1.31, 1.0))
}

func TestRateEstimationReservoirBounded(t *testing.T) {
	now := time.Now()
	re := New(3, now, 0.0)
	for i := 1; i <= 20; i++ {
		now = now.Add(time.Second)
		re.Add(now, float64(i), 0.0)
	}
	assert.LessOrEqual(t, re.Count(), 3)
	// Slope should still track the underlying rate (1.0/sec) closely even
	// though most history has been evicted.
	assert.InDelta(t, 1.0, re.Slope(), 0.25)
}

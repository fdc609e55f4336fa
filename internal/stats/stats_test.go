package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	b := newRingBuffer(3)
	assert.Empty(t, b.contents())

	b.push(4)
	assert.Equal(t, []float64{4}, b.contents())

	b.push(5)
	b.push(6)
	assert.Equal(t, []float64{4, 5, 6}, b.contents())

	b.push(7)
	assert.Equal(t, []float64{7, 5, 6}, b.contents())
}

func TestAccumulatorEmpty(t *testing.T) {
	a := NewAccumulator(3)
	assert.Equal(t, 0.0, a.Stats.Recent.Min)
	assert.Equal(t, 0.0, a.Stats.Recent.Mean)
	assert.Nil(t, a.Stats.Recent.Median)
	assert.Equal(t, 0.0, a.Stats.Session.Mean)
	assert.Nil(t, a.Stats.Session.Median)
}

func TestAccumulatorAddValue(t *testing.T) {
	a := NewAccumulator(3)
	a.AddValue(1.5)
	a.AddValue(3.5)

	r := a.Stats.Recent
	assert.Equal(t, 1.5, r.Min)
	assert.Equal(t, 3.5, r.Max)
	assert.Equal(t, 2.5, r.Mean)
	assert.InDelta(t, 1.41, r.StdDev, 0.01)
	if assert.NotNil(t, r.Median) {
		assert.Equal(t, 2.5, *r.Median)
	}
	if assert.NotNil(t, r.MedianAbsoluteDeviation) {
		assert.Equal(t, 1.0, *r.MedianAbsoluteDeviation)
	}

	s := a.Stats.Session
	assert.Equal(t, 1.5, s.Min)
	assert.Equal(t, 3.5, s.Max)
	assert.Equal(t, 2.5, s.Mean)
	assert.InDelta(t, 1.41, s.StdDev, 0.01)
}

func TestAccumulatorResetSessionPreservesRecent(t *testing.T) {
	a := NewAccumulator(3)
	a.AddValue(1.5)
	a.AddValue(3.5)

	a.ResetSession()

	r := a.Stats.Recent
	assert.Equal(t, 1.5, r.Min)
	assert.Equal(t, 3.5, r.Max)
	assert.Equal(t, 2.5, r.Mean)

	s := a.Stats.Session
	assert.Equal(t, 0.0, s.Min)
	assert.Equal(t, 0.0, s.Max)
	assert.Equal(t, 0.0, s.Mean)
	assert.Equal(t, 0.0, s.StdDev)
	assert.Nil(t, s.Median)
}

func TestAccumulatorSessionSurvivesRingOverwrite(t *testing.T) {
	a := NewAccumulator(2)
	a.AddValue(1.0)
	a.AddValue(2.0)
	a.AddValue(3.0) // overwrites 1.0 in the ring, but session keeps it.

	assert.Equal(t, 2.0, a.Stats.Recent.Min)
	assert.Equal(t, 3.0, a.Stats.Recent.Max)

	assert.Equal(t, 1.0, a.Stats.Session.Min)
	assert.Equal(t, 3.0, a.Stats.Session.Max)
	assert.InDelta(t, 2.0, a.Stats.Session.Mean, 1e-9)
}

// Package stats implements the two-horizon descriptive-statistics
// accumulator shared by every Cedar measurement that the UI trends: frame
// rate, star count, solve latency, temperature. "Recent" stats summarize a
// small ring buffer (the last N samples, in arrival order discarded);
// "session" stats summarize every sample since the accumulator (or its
// session half) was last reset.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DescriptiveStats mirrors the wire-level summary Cedar reports for a single
// tracked value. In the Recent horizon, Median and MedianAbsoluteDeviation
// are nil until at least one sample has been added; the Session horizon
// never sets them.
type DescriptiveStats struct {
	Min, Max, Mean, StdDev  float64
	Median                  *float64
	MedianAbsoluteDeviation *float64
}

// ValueStats is the pair of horizons reported for a tracked value.
type ValueStats struct {
	Recent  DescriptiveStats
	Session DescriptiveStats
}

// Accumulator tracks both horizons for one value as samples arrive.
type Accumulator struct {
	Stats ValueStats

	ring ringBuffer

	sessionCount                 int
	sessionMean, sessionM2       float64
	sessionMin, sessionMax       float64
}

// NewAccumulator returns an Accumulator whose "recent" horizon is the last
// capacity samples.
func NewAccumulator(capacity int) *Accumulator {
	return &Accumulator{ring: newRingBuffer(capacity)}
}

// AddValue folds value into both horizons.
func (a *Accumulator) AddValue(value float64) {
	a.ring.push(value)
	a.updateSession(value)

	recent := a.ring.contents()
	r := &a.Stats.Recent
	r.Min, r.Max = minMax(recent)
	r.Mean = stat.Mean(recent, nil)
	if len(recent) > 1 {
		r.StdDev = stat.StdDev(recent, nil)
	} else {
		r.StdDev = 0
	}
	median := medianOf(recent)
	mad := medianAbsoluteDeviation(recent, median)
	r.Median = &median
	r.MedianAbsoluteDeviation = &mad

	s := &a.Stats.Session
	s.Min, s.Max = a.sessionMin, a.sessionMax
	s.Mean = a.sessionMean
	if a.sessionCount > 1 {
		s.StdDev = math.Sqrt(a.sessionM2 / float64(a.sessionCount-1))
	} else {
		s.StdDev = 0
	}
}

// ResetSession clears the session horizon (and only the session horizon);
// the recent horizon, driven by the ring buffer, is untouched.
func (a *Accumulator) ResetSession() {
	a.sessionCount = 0
	a.sessionMean = 0
	a.sessionM2 = 0
	a.sessionMin = 0
	a.sessionMax = 0
	a.Stats.Session = DescriptiveStats{}
}

// updateSession folds value into the session horizon using Welford's
// online algorithm for mean and sum-of-squared-deviations.
func (a *Accumulator) updateSession(value float64) {
	if a.sessionCount == 0 {
		a.sessionMin = value
		a.sessionMax = value
	} else {
		if value < a.sessionMin {
			a.sessionMin = value
		}
		if value > a.sessionMax {
			a.sessionMax = value
		}
	}
	a.sessionCount++
	delta := value - a.sessionMean
	a.sessionMean += delta / float64(a.sessionCount)
	delta2 := value - a.sessionMean
	a.sessionM2 += delta * delta2
}

func minMax(values []float64) (min, max float64) {
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

func medianAbsoluteDeviation(values []float64, median float64) float64 {
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	return medianOf(deviations)
}

// ringBuffer is a fixed-capacity buffer that overwrites its oldest element
// once full, exposing its contents as a single (unordered) slice — Cedar
// never needs arrival order for the recent horizon, only the sample set.
type ringBuffer struct {
	start int
	data  []float64
	cap   int
}

func newRingBuffer(capacity int) ringBuffer {
	return ringBuffer{data: make([]float64, 0, capacity), cap: capacity}
}

func (b *ringBuffer) push(v float64) {
	if len(b.data) < b.cap {
		b.data = append(b.data, v)
		return
	}
	b.data[b.start] = v
	b.start = (b.start + 1) % b.cap
}

func (b *ringBuffer) contents() []float64 {
	return b.data
}

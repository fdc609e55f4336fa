// Package rateestimator fits a streaming linear trend (value vs. time) over
// a reservoir-sampled window of observations, the way Cedar's motion
// estimator tracks the boresight's RA and Dec drift rates, where the full
// history can't be retained.
//
// The regression is incremental: reservoir eviction removes a sample's
// contribution to the running x/y sums in O(1), and the full least-squares
// solve re-scans only the retained (bounded) sample set, not the full
// history. gonum's stat.LinearRegression needs the whole series in memory
// up front, so it doesn't fit this streaming shape; the math below is the
// same ordinary-least-squares formula gonum uses, applied incrementally.
package rateestimator

import (
	"math"
	"time"
)

type dataPoint struct {
	x time.Time
	y float64
}

// RateEstimation models a one-dimensional time series assumed to change at
// a constant rate, with noise- and count-aware uncertainty bounds.
type RateEstimation struct {
	first time.Time
	last  time.Time

	reservoir *reservoirSampler[dataPoint]

	slope, intercept       float64
	yNoise, slopeNoise     float64
	xSum, ySum             float64
}

// New creates a RateEstimation and adds the first observation.
func New(capacity int, at time.Time, value float64) *RateEstimation {
	re := &RateEstimation{
		first:     at,
		reservoir: newReservoirSampler[dataPoint](capacity),
	}
	re.Add(at, value, 0.0)
	return re
}

// Add folds in a new observation. Successive calls must pass non-decreasing
// at values; a regression (the server's clock having been adjusted
// backward) is tolerated by updating last but contributing nothing else.
func (r *RateEstimation) Add(at time.Time, value float64, noiseEstimate float64) {
	if !r.last.IsZero() && !at.After(r.last) {
		r.last = at
		return
	}
	r.last = at

	added, removed, removedOK := r.reservoir.add(dataPoint{x: at, y: value})
	if removedOK {
		r.xSum -= removed.x.Sub(time.Unix(0, 0)).Seconds()
		r.ySum -= removed.y
	}
	if added {
		r.xSum += at.Sub(time.Unix(0, 0)).Seconds()
		r.ySum += value
	}

	count := r.reservoir.count()
	if count < 2 {
		return
	}
	countF := float64(count)
	xMean := r.xSum / countF
	yMean := r.ySum / countF

	var num, den float64
	for _, s := range r.reservoir.contents() {
		x := s.x.Sub(time.Unix(0, 0)).Seconds()
		num += (x - xMean) * (s.y - yMean)
		den += (x - xMean) * (x - xMean)
	}
	r.slope = num / den
	firstX := r.first.Sub(time.Unix(0, 0)).Seconds()
	r.intercept = yMean - r.slope*(xMean-firstX)

	var yVariance float64
	for _, s := range r.reservoir.contents() {
		est := r.estimateValue(s.x)
		yVariance += (s.y - est) * (s.y - est)
	}
	adjustedYVariance := math.Max(yVariance, noiseEstimate*noiseEstimate)
	r.yNoise = math.Sqrt(adjustedYVariance / countF)
	r.slopeNoise = math.Sqrt((1.0 / (countF - 2.0)) * adjustedYVariance / den)
}

// Count returns the number of observations currently retained.
func (r *RateEstimation) Count() int {
	return r.reservoir.count()
}

// LastTime returns the at of the most recent Add call.
func (r *RateEstimation) LastTime() time.Time {
	return r.last
}

// FitsTrend reports whether value at the given time is within sigma
// standard deviations of the regression estimate. Returns true
// unconditionally until at least 3 observations have been retained.
func (r *RateEstimation) FitsTrend(at time.Time, value float64, sigma float64) bool {
	if r.Count() < 3 {
		return true
	}
	deviation := math.Abs(value - r.estimateValue(at))
	return deviation < sigma*r.yNoise
}

func (r *RateEstimation) estimateValue(at time.Time) float64 {
	x := at.Sub(r.first).Seconds()
	return r.intercept + x*r.slope
}

// Slope returns the estimated rate of change in value per second. Count()
// must be at least 2.
func (r *RateEstimation) Slope() float64 {
	return r.slope
}

// RateIntervalBound returns the standard error of Slope(): the true rate is
// likely within +/- this amount of Slope(). Count() must be at least 3.
func (r *RateEstimation) RateIntervalBound() float64 {
	return r.slopeNoise
}

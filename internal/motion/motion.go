// Package motion classifies the telescope's boresight behavior — slewing,
// newly stopped, or dwelling at a steady tracking rate — from a stream of
// plate-solved positions, so the calibration and polar-alignment estimators
// know when it's safe to treat recent solves as samples of a fixed rate.
package motion

import (
	"time"

	"cedar/internal/rateestimator"
)

// siderealRateDegPerSec is Earth's sidereal rotation rate.
const siderealRateDegPerSec = 15.04 / 3600.0

// Coord is a celestial position in degrees.
type Coord struct {
	Ra, Dec float64
}

// Estimate is the current boresight motion rate, valid only while the
// Estimator is dwelling at a steady rate.
type Estimate struct {
	// RaRate is eastward boresight motion in degrees/second (negative is
	// westward).
	RaRate, RaRateError float64
	// DecRate is northward boresight motion in degrees/second (negative is
	// southward).
	DecRate, DecRateError float64
}

type state int

const (
	stateUnknown state = iota
	stateMoving
	stateStopped
	stateSteadyRate
)

// Estimator implements the four-state classifier: Unknown -> Moving ->
// Stopped -> SteadyRate, reverting to Unknown after a position gap longer
// than gapTolerance, and from SteadyRate back to Moving after bumpTolerance
// of trend-violating positions.
type Estimator struct {
	state state

	gapTolerance  time.Duration
	bumpTolerance time.Duration

	prevTime     time.Time
	prevPosition Coord
	havePrev     bool

	raRate, decRate *rateestimator.RateEstimation
}

// NewEstimator returns an Estimator in the Unknown state.
func NewEstimator(gapTolerance, bumpTolerance time.Duration) *Estimator {
	return &Estimator{gapTolerance: gapTolerance, bumpTolerance: bumpTolerance}
}

// Add folds in a new observation. position is nil if the corresponding
// frame produced no plate solution (e.g. the telescope was slewing).
// positionRmseArcsec is the plate solution's RMS error in arcseconds; it
// is ignored when position is nil. at must be non-decreasing across
// calls; a small regression is tolerated and nudged forward by a
// microsecond.
func (e *Estimator) Add(at time.Time, position *Coord, positionRmseArcsec float64) {
	prevTime, prevPos, havePrev := e.prevTime, e.prevPosition, e.havePrev
	if position != nil {
		e.prevTime = at
		e.prevPosition = *position
		e.havePrev = true
	}
	if !havePrev {
		if position != nil {
			e.state = stateMoving
		}
		return
	}
	if !at.After(prevTime) {
		at = prevTime.Add(time.Microsecond)
		if position != nil {
			e.prevTime = at
		}
	}

	if position == nil {
		if e.state == stateUnknown {
			return
		}
		if at.Sub(prevTime) > e.gapTolerance {
			e.state = stateUnknown
			e.raRate = nil
			e.decRate = nil
		}
		return
	}

	positionRmseDeg := positionRmseArcsec / 3600.0
	switch e.state {
	case stateUnknown:
		e.state = stateMoving
	case stateMoving:
		if isStopped(at, *position, positionRmseDeg, prevTime, prevPos) {
			e.state = stateStopped
		}
	case stateStopped:
		if isStopped(at, *position, positionRmseDeg, prevTime, prevPos) {
			e.state = stateSteadyRate
			e.raRate = rateestimator.New(1000, prevTime, prevPos.Ra)
			e.raRate.Add(at, position.Ra, 0)
			e.decRate = rateestimator.New(1000, prevTime, prevPos.Dec)
			e.decRate.Add(at, position.Dec, 0)
		} else {
			e.state = stateMoving
		}
	case stateSteadyRate:
		const sigma = 10.0
		if e.raRate.FitsTrend(at, position.Ra, sigma) && e.decRate.FitsTrend(at, position.Dec, sigma) {
			e.raRate.Add(at, position.Ra, 0)
			e.decRate.Add(at, position.Dec, 0)
		} else if at.Sub(e.raRate.LastTime()) > e.bumpTolerance {
			e.state = stateMoving
			e.raRate = nil
			e.decRate = nil
		}
	}
}

// GetEstimate returns the current motion estimate, or ok=false if the
// boresight is not currently dwelling at a steady rate (or too few samples
// have accumulated to trust the trend).
func (e *Estimator) GetEstimate() (estimate Estimate, ok bool) {
	if e.state != stateSteadyRate {
		return Estimate{}, false
	}
	if e.raRate.Count() < 3 {
		return Estimate{}, false
	}
	return Estimate{
		RaRate:      e.raRate.Slope(),
		RaRateError: e.raRate.RateIntervalBound(),
		DecRate:     e.decRate.Slope(),
		DecRateError: e.decRate.RateIntervalBound(),
	}, true
}

func isStopped(at time.Time, pos Coord, posRmseDeg float64, prevTime time.Time, prevPos Coord) bool {
	elapsedSecs := at.Sub(prevTime).Seconds()
	maxRate := posRmseDeg * 8.0
	if bound := siderealRateDegPerSec * 2.0; bound > maxRate {
		maxRate = bound
	}

	decRate := decChange(prevPos.Dec, pos.Dec) / elapsedSecs
	if abs(decRate) > maxRate {
		return false
	}
	raRate := raChange(prevPos.Ra, pos.Ra) / elapsedSecs
	return abs(raRate) <= maxRate
}

func decChange(prevDec, curDec float64) float64 {
	return curDec - prevDec
}

// raChange computes the change in right ascension, handling wraparound at
// the 360/0 boundary.
func raChange(prevRa, curRa float64) float64 {
	if prevRa < 45.0 && curRa > 315.0 {
		prevRa += 360.0
	}
	if curRa < 45.0 && prevRa > 315.0 {
		curRa += 360.0
	}
	return curRa - prevRa
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

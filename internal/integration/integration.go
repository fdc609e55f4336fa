// Package integration implements the callback the solve engine invokes
// after every solve attempt: folding the result into the shared telescope
// record, feeding the motion estimator and polar analyzer, persisting a
// post-sync boresight change, and reporting back the current slew/sync
// intent. It is the one place in Cedar that touches telescope state,
// motion state, and preferences in the same critical path, so it enforces
// spec's stated lock ordering (telescope record before preferences) by
// always writing the telescope record first and only then touching
// preferences, rather than via two independently-ordered call sites.
package integration

import (
	"log/slog"
	"math"
	"time"

	"cedar/internal/astrometry"
	"cedar/internal/detect"
	"cedar/internal/motion"
	"cedar/internal/polar"
	"cedar/internal/preferences"
	"cedar/internal/solver"
	"cedar/internal/telescope"
)

// Callback wires the telescope record, motion estimator, polar analyzer,
// and preferences store together and exposes Handle, which satisfies the
// solve package's Callback function type.
type Callback struct {
	Telescope *telescope.Record
	Motion    *motion.Estimator
	Polar     *polar.Analyzer
	Prefs     *preferences.Store
	Logger    *slog.Logger

	// Now lets tests substitute a fixed clock; defaults to time.Now.
	Now func() time.Time
}

// NewCallback returns a Callback; telescope, motionEstimator, and
// polarAnalyzer must be non-nil, prefs may be nil if no persistence is
// configured.
func NewCallback(telescopeRecord *telescope.Record, motionEstimator *motion.Estimator, polarAnalyzer *polar.Analyzer, prefs *preferences.Store, logger *slog.Logger) *Callback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Callback{
		Telescope: telescopeRecord,
		Motion:    motionEstimator,
		Polar:     polarAnalyzer,
		Prefs:     prefs,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Handle is invoked by the solve engine with the boresight pixel in effect
// for the attempt, the detect result it solved, and the solution (nil on
// solve failure). It returns the current slew target and, if a sync was
// just consumed, the sync coordinate — both may be nil.
func (c *Callback) Handle(boresightPixel *astrometry.ImageCoord, detectResult *detect.Result, solution *solver.Solution) (slewTarget, syncCoord *astrometry.EquatorialCoord) {
	if solution == nil {
		c.Telescope.InvalidateBoresight()
		return c.currentSlewTarget(), nil
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}

	c.Telescope.SetBoresight(solution.Ra, solution.Dec)

	rmse := solution.MatchRmseArcsec
	c.Motion.Add(now(), &motion.Coord{Ra: solution.Ra, Dec: solution.Dec}, rmse)

	if lat, lon, ok := c.Telescope.Site(); ok {
		hourAngle := hourAngleDeg(solution.Ra, lat, lon, now())
		if estimate, haveEstimate := c.Motion.GetEstimate(); haveEstimate {
			c.Polar.ProcessSolution(motion.Coord{Ra: solution.Ra, Dec: solution.Dec}, hourAngle, lat, &estimate)
		}
	}

	if ra, dec, ok := c.Telescope.ConsumeSync(); ok {
		syncCoord = &astrometry.EquatorialCoord{Ra: ra, Dec: dec}
		if boresightPixel != nil && c.Prefs != nil {
			if err := c.Prefs.UpdateBoresightPixel(boresightPixel.X, boresightPixel.Y); err != nil {
				c.Logger.Error("failed to persist boresight pixel", "error", err)
			}
		}
	}

	return c.currentSlewTarget(), syncCoord
}

func (c *Callback) currentSlewTarget() *astrometry.EquatorialCoord {
	ra, dec, active := c.Telescope.SlewTarget()
	if !active {
		return nil
	}
	return &astrometry.EquatorialCoord{Ra: ra, Dec: dec}
}

// hourAngleDeg computes the local hour angle of raDeg at the given site
// (latDeg, lonDeg) and time, in degrees, negative east of the meridian. The
// hour angle doesn't depend on declination, so AltAzFromEquatorial is called
// with dec=0 purely to reuse its GMST/longitude arithmetic rather than
// re-deriving it here.
func hourAngleDeg(raDeg, latDeg, lonDeg float64, t time.Time) float64 {
	_, _, ha := astrometry.AltAzFromEquatorial(degToRad(raDeg), 0, degToRad(latDeg), degToRad(lonDeg), t)
	return radToDeg(ha)
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }
func radToDeg(r float64) float64 { return r * 180.0 / math.Pi }

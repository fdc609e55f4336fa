// Package polar derives polar-axis alignment corrections from the
// boresight's observed declination drift, for mounts that are tracking
// (hence roughly polar-aligned already) rather than fixed. See
// http://celestialwonders.com/articles/polaralignment/MeasuringAlignmentError.html
// for the underlying method.
package polar

import (
	"log/slog"
	"math"

	"cedar/internal/motion"
)

const siderealRateDegPerSec = 15.04 / 3600.0

// decToleranceDeg bounds the declination within which alignment can be
// evaluated: too far from the celestial equator and the drift-rate method
// loses sensitivity.
const decToleranceDeg = 15.0

// haToleranceHours bounds the hour angle (around the meridian for azimuth
// evaluation, or doubled above the east/west horizon for altitude
// evaluation) within which alignment can be evaluated.
const haToleranceHours = 1.0

// ErrorBoundedValue is a correction estimate with its uncertainty.
type ErrorBoundedValue struct {
	Value, Error float64
}

// Advice is the polar-alignment correction currently derivable from the
// boresight's drift, if any. Either field may be nil independently: azimuth
// is only evaluable near the meridian, altitude only near the horizon.
type Advice struct {
	AzimuthCorrection  *ErrorBoundedValue
	AltitudeCorrection *ErrorBoundedValue
}

// Analyzer accumulates the current Advice as solutions stream in.
type Analyzer struct {
	logger *slog.Logger
	advice Advice
}

// NewAnalyzer returns an Analyzer with no advice yet available.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

// ProcessSolution should be called whenever a plate solution, hour angle,
// and observer latitude are all known. It updates the held Advice (clearing
// it first), deriving an azimuth or altitude correction only when the
// boresight geometry permits.
//
// hourAngle and latitude are in degrees; hourAngle is negative east of the
// meridian.
func (a *Analyzer) ProcessSolution(boresight motion.Coord, hourAngle, latitude float64, estimate *motion.Estimate) {
	a.advice = Advice{}
	if estimate == nil {
		a.logger.Debug("not updating polar alignment advice: not dwelling")
		return
	}

	if math.Abs(estimate.RaRate) > siderealRateDegPerSec*0.3 {
		a.logger.Debug("not updating polar alignment advice: excessive ra_rate",
			"arcsec_per_sec", estimate.RaRate*3600.0)
		return
	}
	decRate := estimate.DecRate // positive is northward drift.
	decRateError := estimate.DecRateError

	dec := boresight.Dec
	if dec > decToleranceDeg || dec < -decToleranceDeg {
		a.logger.Debug("not updating polar alignment advice: declination out of range", "dec_deg", dec)
		return
	}

	adjustedSiderealRate := siderealRateDegPerSec * math.Cos(degToRad(dec))
	decDriftAngle := radToDeg(math.Atan(decRate / adjustedSiderealRate))
	decDriftAngleError := radToDeg(math.Atan(decRateError / adjustedSiderealRate))

	haHours := hourAngle / 15.0
	if haHours > -haToleranceHours && haHours < haToleranceHours {
		haCorrection := math.Cos(degToRad(hourAngle))
		decDriftAngle /= haCorrection
		decDriftAngleError /= haCorrection

		latitudeCorrection := math.Cos(degToRad(latitude))
		azCorr := -decDriftAngle / latitudeCorrection
		azCorrError := decDriftAngleError / latitudeCorrection

		a.advice.AzimuthCorrection = &ErrorBoundedValue{Value: azCorr, Error: azCorrError}
		return
	}

	var altitudeCorrection float64
	switch {
	case haHours > -6.0 && haHours < -6.0+2.0*haToleranceHours:
		// Near the rising horizon.
		haCorrection := math.Cos(degToRad(hourAngle - -90.0))
		decDriftAngle /= haCorrection
		decDriftAngleError /= haCorrection
		altitudeCorrection = decDriftAngle
	case haHours < 6.0 && haHours > 6.0-2.0*haToleranceHours:
		// Near the setting horizon.
		haCorrection := math.Cos(degToRad(hourAngle - 90.0))
		decDriftAngle /= haCorrection
		decDriftAngleError /= haCorrection
		altitudeCorrection = -decDriftAngle
	default:
		a.logger.Debug("not updating polar alignment advice: hour angle out of range", "ha_hours", haHours)
		return
	}
	altitudeCorrectionError := decDriftAngleError
	if latitude < 0.0 {
		altitudeCorrection = -altitudeCorrection
	}
	a.advice.AltitudeCorrection = &ErrorBoundedValue{Value: altitudeCorrection, Error: altitudeCorrectionError}
}

// GetPolarAlignAdvice returns the currently held advice.
func (a *Analyzer) GetPolarAlignAdvice() Advice {
	return a.advice
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }
func radToDeg(r float64) float64 { return r * 180.0 / math.Pi }

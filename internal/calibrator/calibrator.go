// Package calibrator runs the three-phase calibration sequence (offset,
// exposure duration, optical) the orchestrator invokes whenever SETUP mode
// needs a freshly characterized camera. Every phase is cancel-safe via a
// shared cancellation flag. The offset and exposure phases wrap the camera
// exposure in a scoped guard that, on every error path, re-applies the
// exposure the phase itself started from (1ms for offset, initialExposure
// for exposure); the exposure in effect before calibration is not known to
// the calibrator and is not restored, and neither is the camera offset.
package calibrator

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"cedar/internal/camera"
	"cedar/internal/cedarerr"
	"cedar/internal/detect"
	"cedar/internal/solver"
)

// CancelFlag is a shared, concurrency-safe cancellation signal checked
// between calibration phases and sub-steps.
type CancelFlag struct {
	cancelled atomic.Bool
}

// Cancel requests cancellation; observed at the next check point.
func (f *CancelFlag) Cancel() { f.cancelled.Store(true) }

// Requested reports whether Cancel has been called.
func (f *CancelFlag) Requested() bool { return f.cancelled.Load() }

func (f *CancelFlag) checkAborted(during string) error {
	if f.Requested() {
		return cedarerr.New(cedarerr.Aborted, "cancelled during %s", during)
	}
	return nil
}

// Calibrator drives the camera (and, for the optical phase, the plate
// solver) through calibration.
type Calibrator struct {
	cam            camera.Capability
	kernel         detect.Kernel
	normalizeRows  bool
}

// New returns a Calibrator bound to the given camera and detect kernel.
func New(cam camera.Capability, kernel detect.Kernel, normalizeRows bool) *Calibrator {
	return &Calibrator{cam: cam, kernel: kernel, normalizeRows: normalizeRows}
}

// ReplaceCamera swaps in a new camera (e.g. after a driver reconnect).
func (c *Calibrator) ReplaceCamera(cam camera.Capability) {
	c.cam = cam
}

// EstimatedDuration is the worst-case total calibration time, reported to
// the UI as soon as calibration starts: offset sweeps up to 20 steps at
// 1ms exposure each, exposure calibration tries at most 3 exposures capped
// at maxExposure, and optical calibration solves twice at solveTimeout.
func EstimatedDuration(maxExposure, solveTimeout time.Duration) time.Duration {
	const maxOffsetSteps = 20
	offset := maxOffsetSteps * time.Millisecond
	exposure := 3 * maxExposure
	optical := 2 * solveTimeout
	return offset + exposure + optical
}

// exposureGuard is Cedar's RAII-style scoped guard: it holds the exposure
// duration passed to newExposureGuard, and Restore re-applies it unless
// Deactivate was called first. Callers defer Restore immediately after
// construction so every return path (including a panic) re-applies that
// duration. The callers in this file pass the exposure their phase sets
// first; camera.Capability has no exposure getter, so the camera's
// pre-calibration exposure is never captured.
type exposureGuard struct {
	cam        camera.Capability
	prior      time.Duration
	doRestore  bool
}

func newExposureGuard(cam camera.Capability, current time.Duration) *exposureGuard {
	return &exposureGuard{cam: cam, prior: current, doRestore: true}
}

// Deactivate cancels the pending restore; call this once calibration has
// committed to the new exposure.
func (g *exposureGuard) Deactivate() {
	g.doRestore = false
}

// Restore re-applies the prior exposure if Deactivate was never called.
// Safe to call multiple times.
func (g *exposureGuard) Restore() {
	if !g.doRestore {
		return
	}
	g.doRestore = false
	_ = g.cam.SetExposureDuration(g.prior)
}

// CalibrateOffset finds the minimum camera offset setting that avoids black
// crush, on the assumption the camera is pointed at a mostly-dark sky.
// Leaves the camera set to the returned offset.
func (c *Calibrator) CalibrateOffset(ctx context.Context, cancel *CancelFlag) (offset int, err error) {
	if err := cancel.checkAborted("calibrate_offset"); err != nil {
		return 0, err
	}

	// Set offset before changing exposure: if offset can't be set, avoid
	// paying for an exposure change only to have to restore it.
	if err := c.cam.SetOffset(0); err != nil {
		return 0, err
	}

	current := 1 * time.Millisecond
	guard := newExposureGuard(c.cam, current)
	defer guard.Restore()

	if err := c.cam.SetExposureDuration(current); err != nil {
		return 0, err
	}
	width, height := c.cam.Dimensions()
	totalPixels := width * height

	const maxOffset = 20
	var prevFrameID camera.FrameID
	havePrev := false
	var numZeroPixels uint32

	for off := 0; off <= maxOffset; off++ {
		if err := cancel.checkAborted("calibrate_offset"); err != nil {
			return 0, err
		}
		if err := c.cam.SetOffset(off); err != nil {
			return 0, err
		}
		img, id, err := c.captureImage(ctx, prevFrameID, havePrev)
		if err != nil {
			return 0, err
		}
		prevFrameID, havePrev = id, true

		histo := histogram(img)
		numZeroPixels = histo[0]
		if numZeroPixels < uint32(totalPixels/1000) {
			result := off
			if off < maxOffset {
				result++ // One more for good measure.
				if err := c.cam.SetOffset(result); err != nil {
					return 0, err
				}
			}
			return result, nil
		}
	}
	return 0, cedarerr.New(cedarerr.FailedPrecondition,
		"still have %d zero pixels at offset=%d", numZeroPixels, maxOffset)
}

func (c *Calibrator) captureImage(ctx context.Context, prevID camera.FrameID, havePrev bool) (camera.Image, camera.FrameID, error) {
	id := prevID
	if !havePrev {
		id = 0
	}
	for {
		img, newID, ok, err := c.cam.TryCaptureImage(ctx, id)
		if err != nil {
			return camera.Image{}, 0, err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return camera.Image{}, 0, ctx.Err()
			case <-time.After(time.Millisecond):
			}
			continue
		}
		return img, newID, nil
	}
}

func histogram(img camera.Image) [256]uint32 {
	var h [256]uint32
	for _, p := range img.Pixels {
		h[p]++
	}
	return h
}

func histogramMean(h [256]uint32) float64 {
	var sum, count float64
	for v, n := range h {
		sum += float64(v) * float64(n)
		count += float64(n)
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// CalibrateExposureDuration finds the exposure duration yielding the
// desired detected-star count, assuming the camera is focused and pointed
// at a starry sky and that initialExposure yields at least one star.
// Leaves the camera set to the result; on any error path the guard
// re-applies initialExposure.
func (c *Calibrator) CalibrateExposureDuration(
	ctx context.Context,
	initialExposure, maxExposure time.Duration,
	starCountGoal int,
	detectionBinning int, detectionSigma float64,
	cancel *CancelFlag,
) (time.Duration, error) {
	if err := cancel.checkAborted("calibrate_exposure_duration"); err != nil {
		return 0, err
	}

	guard := newExposureGuard(c.cam, initialExposure)
	defer guard.Restore()

	if err := c.cam.SetExposureDuration(initialExposure); err != nil {
		return 0, err
	}
	stars, frameID, hist, err := c.acquireImageGetStars(ctx, 0, false, detectionBinning, detectionSigma, cancel)
	if err != nil {
		return 0, err
	}

	goalFraction := func(n int) float64 { return math.Max(float64(n), 1.0) / float64(starCountGoal) }

	numStars := len(stars)
	frac := goalFraction(numStars)
	scaledSecs := initialExposure.Seconds() / frac
	if frac > 0.8 && frac < 1.2 {
		exp := secondsToDuration(scaledSecs)
		if err := c.cam.SetExposureDuration(exp); err != nil {
			return 0, err
		}
		guard.Deactivate()
		return exp, nil
	}
	if err := cancel.checkAborted("calibrate_exposure_duration"); err != nil {
		return 0, err
	}

	if scaledSecs >= maxExposure.Seconds() {
		mean := math.Max(histogramMean(hist), 1.0)
		scaledSecs = initialExposure.Seconds() * (32.0 / mean)
	}
	if err := c.cam.SetExposureDuration(secondsToDuration(scaledSecs)); err != nil {
		return 0, err
	}
	stars, _, hist, err = c.acquireImageGetStars(ctx, frameID, true, detectionBinning, detectionSigma, cancel)
	if err != nil {
		return 0, err
	}

	numStars = len(stars)
	frac = goalFraction(numStars)
	scaledSecs /= frac
	if frac > 0.8 && frac < 1.2 {
		exp := secondsToDuration(scaledSecs)
		if err := c.cam.SetExposureDuration(exp); err != nil {
			return 0, err
		}
		guard.Deactivate()
		return exp, nil
	}
	if err := cancel.checkAborted("calibrate_exposure_duration"); err != nil {
		return 0, err
	}

	if scaledSecs >= maxExposure.Seconds() {
		// Back out the star-count scaling before re-deriving from image
		// brightness.
		scaledSecs *= frac
		mean := math.Max(histogramMean(hist), 1.0)
		scaledSecs *= 64.0 / mean
	}
	if err := c.cam.SetExposureDuration(secondsToDuration(scaledSecs)); err != nil {
		return 0, err
	}
	stars, _, _, err = c.acquireImageGetStars(ctx, frameID, true, detectionBinning, detectionSigma, cancel)
	if err != nil {
		return 0, err
	}

	numStars = len(stars)
	if numStars < starCountGoal/5 {
		return 0, cedarerr.New(cedarerr.FailedPrecondition, "too few stars detected (%d)", numStars)
	}
	frac = goalFraction(numStars)
	if frac > 0.8 && frac < 1.2 {
		exp := secondsToDuration(scaledSecs)
		if err := c.cam.SetExposureDuration(exp); err != nil {
			return 0, err
		}
		guard.Deactivate()
		return exp, nil
	}

	scaledSecs /= frac
	if scaledSecs > maxExposure.Seconds() {
		if err := c.cam.SetExposureDuration(maxExposure); err != nil {
			return 0, err
		}
		guard.Deactivate()
		return maxExposure, nil
	}
	exp := secondsToDuration(scaledSecs)
	if err := c.cam.SetExposureDuration(exp); err != nil {
		return 0, err
	}
	guard.Deactivate()
	return exp, nil
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// OpticalCalibration is the result of CalibrateOptical.
type OpticalCalibration struct {
	FovDeg        float64
	Distortion    float64
	MatchMaxError float64
	SolveDuration time.Duration
}

// CalibrateOptical derives field of view, lens distortion, the
// match_max_error solver parameter, and a representative solve duration,
// assuming the exposure has already been calibrated and the camera is
// pointed at a starry, focused sky.
func (c *Calibrator) CalibrateOptical(
	ctx context.Context,
	solve solver.Capability,
	detectionBinning int, detectionSigma float64,
	cancel *CancelFlag,
) (OpticalCalibration, error) {
	stars, _, _, err := c.acquireImageGetStars(ctx, 0, false, detectionBinning, detectionSigma, cancel)
	if err != nil {
		return OpticalCalibration{}, err
	}
	width, height := c.cam.Dimensions()
	if err := cancel.checkAborted("calibrate_optical"); err != nil {
		return OpticalCalibration{}, err
	}

	centroids := make([]solver.Centroid, len(stars))
	for i, s := range stars {
		centroids[i] = solver.Centroid{X: s.X, Y: s.Y, Brightness: s.Brightness}
	}

	params := solver.Params{Distortion: 0.0, MatchMaxError: 0.005}
	solution, err := solve.SolveFromCentroids(centroids, width, height, solver.Extension{}, params)
	if err != nil {
		return OpticalCalibration{}, err
	}
	if err := cancel.checkAborted("calibrate_optical"); err != nil {
		return OpticalCalibration{}, err
	}

	fov := solution.FovDeg
	distortion := solution.Distortion
	p90ErrorDeg := solution.MatchRmseArcsec / 3600.0
	p90ErrFrac := p90ErrorDeg / fov
	matchMaxError := p90ErrFrac * 2.0

	fovEstimate := fov
	params.FovEstimateDeg = &fovEstimate
	params.Distortion = distortion
	params.MatchMaxError = matchMaxError

	solution2, err := solve.SolveFromCentroids(centroids, width, height, solver.Extension{}, params)
	if err != nil {
		return OpticalCalibration{}, cedarerr.Wrap(err, "unexpected error during repeated plate solve")
	}

	return OpticalCalibration{
		FovDeg:        fov,
		Distortion:    distortion,
		MatchMaxError: matchMaxError,
		SolveDuration: solution2.SolveDuration,
	}, nil
}

func (c *Calibrator) acquireImageGetStars(
	ctx context.Context, prevFrameID camera.FrameID, havePrev bool,
	detectionBinning int, detectionSigma float64,
	cancel *CancelFlag,
) ([]detect.Star, camera.FrameID, [256]uint32, error) {
	img, frameID, err := c.captureImage(ctx, prevFrameID, havePrev)
	if err != nil {
		return nil, 0, [256]uint32{}, err
	}
	if err := cancel.checkAborted("calibrate_exposure_duration"); err != nil {
		return nil, 0, [256]uint32{}, err
	}
	noise := c.kernel.EstimateNoise(img)
	result, err := c.kernel.Detect(img, noise, detectionSigma, detectionBinning, c.normalizeRows, true, false)
	if err != nil {
		return nil, 0, [256]uint32{}, errors.Wrap(err, "detect kernel failed during calibration")
	}
	return result.Stars, frameID, result.Histogram, nil
}

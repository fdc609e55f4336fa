// Package orchestrator holds the mode controller that sits above the
// detect and solve engines: it owns the SETUP (focus/align/daylight) <->
// OPERATE transitions, spawns calibration as a detached task whenever
// focus mode is left, throttles the camera's capture pacing via the
// update interval, and validates/persists boresight changes requested by
// a protocol adapter or the UI.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cedar/internal/astrometry"
	"cedar/internal/calibrator"
	"cedar/internal/camera"
	"cedar/internal/cedarerr"
	"cedar/internal/detect"
	"cedar/internal/logging"
	"cedar/internal/preferences"
	"cedar/internal/solve"
	"cedar/internal/solver"
	"cedar/internal/telescope"
)

// Mode is the orchestrator's current top-level mode.
type Mode int

const (
	ModeSetupFocus Mode = iota
	ModeSetupAlign
	ModeSetupDaylight
	ModeOperate
)

func (m Mode) String() string {
	switch m {
	case ModeSetupFocus:
		return "setup_focus"
	case ModeSetupAlign:
		return "setup_align"
	case ModeSetupDaylight:
		return "setup_daylight"
	case ModeOperate:
		return "operate"
	default:
		return "unknown"
	}
}

// boresightInsetPx is the margin from the image edge a boresight pixel
// must stay within to be considered valid.
const boresightInsetPx = 16

// Config bounds and tunes calibration and the engines it feeds.
type Config struct {
	DetectionBinning                  int
	DetectionMinSigma, DetectionSigma float64
	StarCountGoal                     int
	MinExposureDuration               time.Duration
	MaxExposureDuration               time.Duration
	InitialExposureDuration           time.Duration
	NormalizeRows                     bool
}

// Orchestrator is the single owner of mode state. Its own mutex is held
// only for the duration of a single configuration change; calibration runs
// as a detached goroutine with the lock released.
type Orchestrator struct {
	cfg Config

	cam        camera.Capability
	kernel     detect.Kernel
	solverCap  solver.Capability
	calibrator *calibrator.Calibrator

	detectEngine *detect.Engine
	solveEngine  *solve.Engine

	telescope *telescope.Record
	prefs     *preferences.Store
	logger    *slog.Logger

	mu                 sync.Mutex
	mode               Mode
	updateInterval     time.Duration
	calibrating        bool
	calibrationCancel  *calibrator.CancelFlag
	calibrationStarted time.Time
	calibrationTarget  Mode
	calibrationEst     time.Duration
	calibrationErr     error
}

// New returns an Orchestrator in SETUP:focus mode with no update-interval
// throttling and no calibration in progress.
func New(
	cfg Config,
	cam camera.Capability,
	kernel detect.Kernel,
	solverCap solver.Capability,
	detectEngine *detect.Engine,
	solveEngine *solve.Engine,
	telescopeRecord *telescope.Record,
	prefs *preferences.Store,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:          cfg,
		cam:          cam,
		kernel:       kernel,
		solverCap:    solverCap,
		calibrator:   calibrator.New(cam, kernel, cfg.NormalizeRows),
		detectEngine: detectEngine,
		solveEngine:  solveEngine,
		telescope:    telescopeRecord,
		prefs:        prefs,
		logger:       logger,
		mode:         ModeSetupFocus,
	}
	o.applyModeLocked(ModeSetupFocus)
	return o
}

// Mode returns the current mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// CalibrationStatus reports whether calibration is in progress, how long
// it's estimated to take in total, how long it's been running, and the
// error from the most recently completed attempt (nil if it succeeded or
// none has run yet).
func (o *Orchestrator) CalibrationStatus() (calibrating bool, estimated, elapsed time.Duration, lastErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calibrating {
		elapsed = time.Since(o.calibrationStarted)
	}
	return o.calibrating, o.calibrationEst, elapsed, o.calibrationErr
}

// CancelCalibration requests cancellation of an in-progress calibration.
// The mode is left unchanged; RequestMode's goroutine observes the
// cancellation and returns to SETUP:focus.
func (o *Orchestrator) CancelCalibration() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calibrationCancel != nil {
		o.calibrationCancel.Cancel()
	}
}

// RequestMode asks for a transition to target. Leaving SETUP:focus for any
// other mode always requires a fresh three-phase calibration (the optics
// may have been refocused since the last time this happened), spawned as a
// detached goroutine; RequestMode returns immediately and the mode changes
// only once that calibration finishes successfully. Entering SETUP:focus
// from anywhere else is cheap: the solve engine is stopped, the update
// interval resets to free-running, and solve session stats reset. Moving
// between the other three modes, none of which is SETUP:focus, is also
// cheap.
func (o *Orchestrator) RequestMode(ctx context.Context, target Mode) error {
	o.mu.Lock()
	if o.mode == target {
		o.mu.Unlock()
		return nil
	}
	if o.calibrating {
		o.mu.Unlock()
		return cedarerr.New(cedarerr.FailedPrecondition, "calibration already in progress")
	}

	if o.mode != ModeSetupFocus && target == ModeSetupFocus {
		o.solveEngine.Stop()
		o.solveEngine.ResetSessionStats()
		o.updateInterval = 0
		_ = o.cam.SetUpdateInterval(0)
		o.mode = ModeSetupFocus
		o.applyModeLocked(ModeSetupFocus)
		o.mu.Unlock()
		return nil
	}

	if o.mode != ModeSetupFocus {
		o.mode = target
		o.applyModeLocked(target)
		o.mu.Unlock()
		return nil
	}

	cancel := &calibrator.CancelFlag{}
	o.calibrating = true
	o.calibrationCancel = cancel
	o.calibrationStarted = time.Now()
	o.calibrationTarget = target
	o.calibrationErr = nil
	o.calibrationEst = calibrator.EstimatedDuration(o.cfg.MaxExposureDuration, o.solverCap.DefaultTimeout())
	o.mu.Unlock()

	go o.runCalibration(ctx, cancel, target)
	return nil
}

func (o *Orchestrator) runCalibration(ctx context.Context, cancel *calibrator.CancelFlag, target Mode) {
	start := time.Now()
	logging.LogCalibrationPhase(o.logger, "offset", "started", 0, nil)
	offset, err := o.calibrator.CalibrateOffset(ctx, cancel)
	if err != nil {
		logging.LogCalibrationPhase(o.logger, "offset", "failed", time.Since(start), map[string]any{"error": err.Error()})
		o.finishCalibration(err)
		return
	}
	logging.LogCalibrationPhase(o.logger, "offset", "complete", time.Since(start), map[string]any{"offset": offset})

	start = time.Now()
	logging.LogCalibrationPhase(o.logger, "exposure", "started", 0, nil)
	expDuration, err := o.calibrator.CalibrateExposureDuration(
		ctx, o.cfg.InitialExposureDuration, o.cfg.MaxExposureDuration, o.cfg.StarCountGoal,
		o.cfg.DetectionBinning, o.cfg.DetectionSigma, cancel)
	if err != nil {
		logging.LogCalibrationPhase(o.logger, "exposure", "failed", time.Since(start), map[string]any{"error": err.Error()})
		o.finishCalibration(err)
		return
	}
	logging.LogCalibrationPhase(o.logger, "exposure", "complete", time.Since(start), map[string]any{"exposure_ms": expDuration.Milliseconds()})

	start = time.Now()
	logging.LogCalibrationPhase(o.logger, "optical", "started", 0, nil)
	optical, err := o.calibrator.CalibrateOptical(ctx, o.solverCap, o.cfg.DetectionBinning, o.cfg.DetectionSigma, cancel)
	if err != nil {
		logging.LogCalibrationPhase(o.logger, "optical", "failed", time.Since(start), map[string]any{"error": err.Error()})
		o.finishCalibration(err)
		return
	}
	logging.LogCalibrationPhase(o.logger, "optical", "complete", time.Since(start), map[string]any{"fov_deg": optical.FovDeg, "distortion": optical.Distortion})

	o.detectEngine.SetCalibratedExposureDuration(expDuration)
	o.detectEngine.SetAutoexposureEnabled(true)
	if err := o.solveEngine.SetDistortion(optical.Distortion); err != nil {
		o.logger.Error("failed to apply calibrated distortion", "error", err)
	}
	if err := o.solveEngine.SetFovEstimate(&optical.FovDeg); err != nil {
		o.logger.Error("failed to apply calibrated fov estimate", "error", err)
	}
	if err := o.solveEngine.SetMatchMaxError(optical.MatchMaxError); err != nil {
		o.logger.Error("failed to apply calibrated match_max_error", "error", err)
	}

	o.mu.Lock()
	o.mode = target
	o.applyModeLocked(target)
	o.mu.Unlock()

	o.finishCalibration(nil)
}

func (o *Orchestrator) finishCalibration(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calibrating = false
	o.calibrationCancel = nil
	o.calibrationErr = err
	if err != nil {
		o.logger.Error("calibration failed", "error", err, "target_mode", o.calibrationTarget.String())
	}
}

// applyModeLocked pushes mode-dependent flags down to the detect/solve
// engines. Called with o.mu held.
func (o *Orchestrator) applyModeLocked(m Mode) {
	switch m {
	case ModeSetupFocus:
		o.detectEngine.SetFocusMode(true)
		o.detectEngine.SetDaylightMode(false)
		o.solveEngine.Stop()
	case ModeSetupDaylight:
		o.detectEngine.SetFocusMode(false)
		o.detectEngine.SetDaylightMode(true)
		o.solveEngine.Stop()
	case ModeSetupAlign:
		o.detectEngine.SetFocusMode(false)
		o.detectEngine.SetDaylightMode(false)
		o.solveEngine.SetAlignMode(true)
	case ModeOperate:
		o.detectEngine.SetFocusMode(false)
		o.detectEngine.SetDaylightMode(false)
		o.solveEngine.SetAlignMode(false)
	}
}

// SetUpdateInterval throttles the camera's capture pacing; zero means
// free-running.
func (o *Orchestrator) SetUpdateInterval(d time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.cam.SetUpdateInterval(d); err != nil {
		return err
	}
	o.updateInterval = d
	return nil
}

// SetDaylightFocusPoint designates the image point the daylight focus
// crop zooms in on.
func (o *Orchestrator) SetDaylightFocusPoint(x, y float64) {
	o.detectEngine.SetDaylightFocusPoint(x, y)
}

// DesignateBoresight sets the boresight pixel to (x, y), validating it
// against the current image extent with a 16px inset; an out-of-bounds
// pixel clears the boresight instead of setting it, matching a sync or
// drag gesture that lands off the visible frame.
func (o *Orchestrator) DesignateBoresight(x, y float64) error {
	width, height := o.cam.Dimensions()
	if !boresightWithinInset(x, y, width, height) {
		o.solveEngine.SetBoresightPixel(nil)
		o.telescope.InvalidateBoresight()
		return nil
	}
	pixel := &astrometry.ImageCoord{X: x, Y: y}
	o.solveEngine.SetBoresightPixel(pixel)
	if o.prefs != nil {
		if err := o.prefs.UpdateBoresightPixel(x, y); err != nil {
			return err
		}
	}
	return nil
}

// CaptureBoresight designates the current image's center as the boresight
// pixel, the common case when first aligning a newly mounted camera.
func (o *Orchestrator) CaptureBoresight() error {
	width, height := o.cam.Dimensions()
	return o.DesignateBoresight(float64(width)/2.0, float64(height)/2.0)
}

func boresightWithinInset(x, y float64, width, height int) bool {
	if x < boresightInsetPx || y < boresightInsetPx {
		return false
	}
	if x > float64(width-boresightInsetPx) || y > float64(height-boresightInsetPx) {
		return false
	}
	return true
}

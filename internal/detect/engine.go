// Package detect implements the capture -> detect -> auto-expose worker
// loop: one goroutine that continuously pulls frames from the camera,
// invokes the external detect kernel, maintains the black/peak display
// levels and a moving average of star counts, and adjusts exposure to hold
// that count near a goal. It never buffers frames — only the latest
// DetectResult is published, and slow consumers simply skip intermediate
// frames, mirroring the rendezvous-over-queue shape the teacher's
// internal/pipeline worker pool uses for its own job results.
package detect

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"cedar/internal/camera"
	"cedar/internal/imaging"
	"cedar/internal/logging"
	"cedar/internal/stats"
)

// FocusAid carries the information the UI needs to render a focus assist
// overlay. The detect engine sets only PeakX/PeakY (the image center, or
// the designated focus point when one is set); ZoomImage and the zoom
// region fields are left empty.
type FocusAid struct {
	PeakX, PeakY  float64
	ZoomImage     *camera.Image
	ZoomRegionX   int
	ZoomRegionY   int
	ZoomRegionW   int
	ZoomRegionH   int
}

// Result is the published state of one iteration (spec §3's "Detect
// result").
type Result struct {
	FrameID               camera.FrameID
	Image                 camera.Image
	BinnedImage           *camera.Image
	Stars                 []Star
	StarCountMovingAverage float64
	BlackLevel, PeakValue uint8
	NoiseEstimate         float64
	HotPixelCount         int
	FocusAid              *FocusAid
	DaylightMode          bool
	ProcessingDuration    time.Duration
	AcquireLatency        stats.ValueStats
	DetectLatency         stats.ValueStats
}

// Config bounds and tunes the engine, set once at construction from the
// orchestrator's own CLI-derived configuration.
type Config struct {
	InitialExposureDuration           time.Duration
	MinExposureDuration, MaxExposureDuration time.Duration
	DetectionMinSigma, DetectionSigma float64
	StarCountGoal                     int
	NormalizeRows                     bool
	StatsCapacity                     int
	// DisplaySampling enables producing a bilinear-downsampled BinnedImage for
	// display when Binning > 1, instead of leaving BinnedImage nil.
	DisplaySampling bool
}

type sharedState struct {
	mu sync.Mutex

	cam    camera.Capability
	kernel Kernel

	autoexposureEnabled bool
	frameID             camera.FrameID
	haveFrame           bool

	focusMode          bool
	daylightMode       bool
	daylightFocusPoint *[2]float64

	binning int

	calibratedExposureDuration *time.Duration
	autoExposureDuration       *time.Duration
	cameraProcessingDuration   *time.Duration

	starCountMovingAverage float64

	acquireLatencyStats *stats.Accumulator
	detectLatencyStats  *stats.Accumulator

	result *Result
}

// Engine is the detect worker and its published state.
type Engine struct {
	cfg Config

	logger *slog.Logger

	mu      sync.Mutex
	state   *sharedState
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns an Engine bound to cam and kernel; the worker does not start
// until the first GetNextResult call.
func New(cfg Config, cam camera.Capability, kernel Kernel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		state: &sharedState{
			cam:                 cam,
			kernel:              kernel,
			autoexposureEnabled: true,
			binning:             1,
			acquireLatencyStats: stats.NewAccumulator(cfg.StatsCapacity),
			detectLatencyStats:  stats.NewAccumulator(cfg.StatsCapacity),
		},
	}
}

// SetFocusMode toggles whether FocusAid is populated and detection skipped.
func (e *Engine) SetFocusMode(enabled bool) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusMode = enabled
	s.starCountMovingAverage = 0
}

// SetDaylightMode toggles daylight-focus behavior.
func (e *Engine) SetDaylightMode(enabled bool) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daylightMode = enabled
	s.starCountMovingAverage = 0
}

// SetDaylightFocusPoint designates the point daylight focus mode zooms on.
func (e *Engine) SetDaylightFocusPoint(x, y float64) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daylightFocusPoint = &[2]float64{x, y}
}

// SetCalibratedExposureDuration records the exposure calibration derived,
// used as the auto-exposure baseline.
func (e *Engine) SetCalibratedExposureDuration(d time.Duration) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibratedExposureDuration = &d
}

// SetAutoexposureEnabled disables auto-exposure during calibration.
func (e *Engine) SetAutoexposureEnabled(enabled bool) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoexposureEnabled = enabled
	s.autoExposureDuration = nil
}

// GetNextResult starts the worker if it isn't already running (or
// restarts it if it previously exited), then blocks until a result newer
// than prevFrameID is published or ctx is cancelled.
func (e *Engine) GetNextResult(ctx context.Context, prevFrameID camera.FrameID, havePrev bool) (Result, error) {
	e.ensureRunning()

	for {
		e.state.mu.Lock()
		r := e.state.result
		e.state.mu.Unlock()
		if r != nil && (!havePrev || r.FrameID != prevFrameID) {
			return *r, nil
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// EstimateDelayHint reports how long until the next frame after the
// engine's last-seen frame is likely ready, for callers (the solve engine)
// that want to pace their own waits without consuming the detect result.
func (e *Engine) EstimateDelayHint() *time.Duration {
	s := e.state
	s.mu.Lock()
	frameID := s.frameID
	s.mu.Unlock()
	return s.cam.EstimateDelay(frameID)
}

func (e *Engine) ensureRunning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		select {
		case <-e.done:
			e.running = false
			logging.LogWorkerRespawn(e.logger, "detect", errors.New("worker exited"))
		default:
			return
		}
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running = true
	go e.runWorker(e.stop, e.done)
}

func (e *Engine) runWorker(stop, done chan struct{}) {
	defer close(done)
	e.logger.Debug("starting detect engine")
	for {
		select {
		case <-stop:
			return
		default:
		}
		e.iterate(stop)
	}
}

// Stop requests the worker to exit after its current iteration.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		close(e.stop)
	}
}

func (e *Engine) iterate(stop chan struct{}) {
	s := e.state

	s.mu.Lock()
	focusMode := s.focusMode
	daylightMode := s.daylightMode
	daylightFocusPoint := s.daylightFocusPoint
	binning := s.binning
	calibratedExposure := s.calibratedExposureDuration
	autoExposure := s.autoExposureDuration
	frameID := s.frameID
	haveFrame := s.haveFrame
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	img, id, ok := e.capture(ctx, frameID, haveFrame, stop)
	if !ok {
		return
	}

	processStart := time.Now()

	noiseEstimate := s.kernel.EstimateNoise(img)
	prevExposureSecs := img.ExposureDuration.Seconds()

	s.mu.Lock()
	if s.cameraProcessingDuration == nil && img.ProcessingDuration != nil {
		s.cameraProcessingDuration = img.ProcessingDuration
	}
	cameraProcessingDuration := s.cameraProcessingDuration
	s.mu.Unlock()

	acquireDurationSecs := prevExposureSecs
	if cameraProcessingDuration != nil {
		acquireDurationSecs = math.Max(acquireDurationSecs, cameraProcessingDuration.Seconds())
	}
	s.mu.Lock()
	s.acquireLatencyStats.AddValue(acquireDurationSecs)
	s.mu.Unlock()

	newExposureSecs := prevExposureSecs
	updateExposure := false
	var focusAid *FocusAid
	var blackLevel, peakValue uint8
	var starList []Star
	var hotPixelCount int

	if focusMode || daylightMode {
		blackLevel, peakValue, focusAid, newExposureSecs = e.focusOrDaylightIteration(
			img, daylightMode, daylightFocusPoint, noiseEstimate, prevExposureSecs)
	} else {
		adjustedSigma := math.Max(e.cfg.DetectionSigma, e.cfg.DetectionMinSigma)
		detectBinning := binning
		result, err := s.kernel.Detect(img, noiseEstimate, adjustedSigma, detectBinning,
			e.cfg.NormalizeRows, true, binning != 1)
		if err != nil {
			e.logger.Error("detect kernel failed", "error", err)
			return
		}
		starList = result.Stars
		hotPixelCount = countHotPixels(result)

		blackLevel, peakValue = displayLevelsFromStars(result.Histogram, starList)

		baselineExposureSecs := prevExposureSecs
		if calibratedExposure != nil {
			baselineExposureSecs = calibratedExposure.Seconds()
		} else {
			baselineExposureSecs = e.cfg.InitialExposureDuration.Seconds()
		}
		fallbackExposureSecs := baselineExposureSecs
		if autoExposure != nil {
			fallbackExposureSecs = autoExposure.Seconds()
		}

		numStars := len(starList)
		switch {
		case numStars < 4:
			newExposureSecs = fallbackExposureSecs
			updateExposure = true
		case img.ParamsAccurate:
			s.mu.Lock()
			movingAverage := updateStarCountMovingAverage(s, numStars)
			s.mu.Unlock()

			if movingAverage < 4.0 {
				newExposureSecs = fallbackExposureSecs
			} else {
				const brightnessLimit = 192
				mean := histogramMean(result.Histogram)
				starGoalFraction := movingAverage / float64(e.cfg.StarCountGoal)

				if starGoalFraction < 1.0 && mean > brightnessLimit {
					newExposureSecs = fallbackExposureSecs
				} else if starGoalFraction < 0.8 || starGoalFraction > 1.6 {
					newExposureSecs = prevExposureSecs / starGoalFraction
					if calibratedExposure != nil {
						newExposureSecs = math.Max(newExposureSecs, baselineExposureSecs/8.0)
						newExposureSecs = math.Min(newExposureSecs, baselineExposureSecs*8.0)
					}
					if cameraProcessingDuration != nil {
						newExposureSecs = math.Max(newExposureSecs, cameraProcessingDuration.Seconds())
					}
				} else {
					d := secondsToDuration(prevExposureSecs)
					s.mu.Lock()
					s.autoExposureDuration = &d
					s.mu.Unlock()
				}
			}
		}
	}

	elapsed := time.Since(processStart)
	s.mu.Lock()
	s.detectLatencyStats.AddValue(elapsed.Seconds())
	s.mu.Unlock()

	newExposureSecs = math.Max(newExposureSecs, e.cfg.MinExposureDuration.Seconds())
	newExposureSecs = math.Min(newExposureSecs, e.cfg.MaxExposureDuration.Seconds())

	s.mu.Lock()
	autoexposureEnabled := s.autoexposureEnabled
	s.mu.Unlock()

	if (updateExposure || img.ParamsAccurate) && autoexposureEnabled && prevExposureSecs != newExposureSecs {
		if err := s.cam.SetExposureDuration(secondsToDuration(newExposureSecs)); err != nil {
			e.logger.Error("failed to set exposure duration", "error", err)
		}
	}

	var binnedImage *camera.Image
	if e.cfg.DisplaySampling && binning > 1 {
		b := imaging.Bin(img, binning)
		binnedImage = &b
	}

	s.mu.Lock()
	s.result = &Result{
		FrameID:                id,
		Image:                  img,
		BinnedImage:            binnedImage,
		Stars:                  starList,
		StarCountMovingAverage: s.starCountMovingAverage,
		BlackLevel:             blackLevel,
		PeakValue:              peakValue,
		NoiseEstimate:          noiseEstimate,
		HotPixelCount:          hotPixelCount,
		FocusAid:               focusAid,
		DaylightMode:           daylightMode,
		ProcessingDuration:     elapsed,
		AcquireLatency:         s.acquireLatencyStats.Stats,
		DetectLatency:          s.detectLatencyStats.Stats,
	}
	s.mu.Unlock()

	logging.LogFrameAcquired(e.logger, uint64(id), len(starList), elapsed, daylightMode)
}

func (e *Engine) capture(ctx context.Context, prevID camera.FrameID, havePrev bool, stop chan struct{}) (camera.Image, camera.FrameID, bool) {
	s := e.state
	for {
		select {
		case <-stop:
			return camera.Image{}, 0, false
		default:
		}
		img, id, ok, err := s.cam.TryCaptureImage(ctx, prevID)
		if err != nil {
			e.logger.Error("error capturing image", "error", err)
			ok = false
		}
		if !ok {
			delay := time.Millisecond
			if est := s.cam.EstimateDelay(prevID); est != nil && *est > delay {
				delay = *est
			}
			select {
			case <-stop:
				return camera.Image{}, 0, false
			case <-time.After(delay):
			}
			continue
		}
		s.mu.Lock()
		s.frameID = id
		s.haveFrame = true
		s.mu.Unlock()
		return img, id, true
	}
}

// focusOrDaylightIteration computes whole-frame histogram statistics and a
// multiplicative exposure correction. Its FocusAid marks the image center,
// or the designated focus point when one is set, in either mode; it does
// not search for the brightest point and produces no zoom image.
func (e *Engine) focusOrDaylightIteration(img camera.Image, daylightMode bool, focusPoint *[2]float64, noiseEstimate, prevExposureSecs float64) (blackLevel, peakValue uint8, aid *FocusAid, newExposureSecs float64) {
	var hist [256]uint32
	for _, p := range img.Pixels {
		hist[p]++
	}
	mean := histogramMean(hist)
	peak := percentileLevel(hist, 0.995)

	newExposureSecs = prevExposureSecs
	if daylightMode {
		// Push a bright percentile toward 220; halve on saturation.
		if peak >= 250 {
			newExposureSecs = prevExposureSecs / 2.0
		} else if peak > 0 {
			newExposureSecs = prevExposureSecs * (220.0 / peak)
		}
	} else if mean > 0 {
		// Push mean toward 32 for night focus.
		newExposureSecs = prevExposureSecs * (32.0 / mean)
	}

	cx, cy := float64(img.Width)/2.0, float64(img.Height)/2.0
	if focusPoint != nil {
		cx, cy = focusPoint[0], focusPoint[1]
	}
	aid = &FocusAid{PeakX: cx, PeakY: cy}

	blackLevel = uint8(percentileLevel(hist, 0.5))
	peakValue = uint8(math.Min(255, peak))
	return blackLevel, peakValue, aid, newExposureSecs
}

func updateStarCountMovingAverage(s *sharedState, numStarsDetected int) float64 {
	const alpha = 0.5
	if s.starCountMovingAverage == 0.0 {
		s.starCountMovingAverage = float64(numStarsDetected)
	} else {
		s.starCountMovingAverage = alpha*float64(numStarsDetected) + (1.0-alpha)*s.starCountMovingAverage
	}
	return s.starCountMovingAverage
}

func countHotPixels(r KernelResult) int {
	count := 0
	for _, s := range r.Stars {
		if s.NumSaturated > 0 {
			count++
		}
	}
	return count
}

// displayLevelsFromStars derives the display black level (98th percentile
// of the background, after removing star-contaminated bins) and peak value
// (average peak of the 10 brightest stars, or a histogram-derived estimate
// if none were detected).
func displayLevelsFromStars(hist [256]uint32, starsDetected []Star) (blackLevel, peakValue uint8) {
	const numPeaks = 10
	var sumPeak, numPeak int
	for _, s := range starsDetected {
		if numPeak >= numPeaks {
			break
		}
		sumPeak += int(math.Min(255, s.Brightness))
		numPeak++
	}
	if numPeak == 0 {
		topValue := percentileLevel(hist, 0.98)
		span := 255 - topValue
		peakValue = uint8(topValue + span/4)
	} else {
		peakValue = uint8(sumPeak / numPeak)
	}

	backgroundHist := removeStarsFromHistogram(hist, starsDetected)
	blackLevel = uint8(percentileLevel(backgroundHist, 0.98))
	if blackLevel > peakValue {
		blackLevel = peakValue
	}
	return blackLevel, peakValue
}

func removeStarsFromHistogram(hist [256]uint32, starsDetected []Star) [256]uint32 {
	out := hist
	for _, s := range starsDetected {
		v := int(math.Min(255, math.Max(0, s.Brightness)))
		if out[v] > 0 {
			out[v]--
		}
	}
	return out
}

func percentileLevel(hist [256]uint32, fraction float64) float64 {
	var total uint32
	for _, n := range hist {
		total += n
	}
	if total == 0 {
		return 0
	}
	target := fraction * float64(total)
	var cum float64
	for v, n := range hist {
		cum += float64(n)
		if cum >= target {
			return float64(v)
		}
	}
	return 255
}

func histogramMean(hist [256]uint32) float64 {
	var sum, count float64
	for v, n := range hist {
		sum += float64(v) * float64(n)
		count += float64(n)
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

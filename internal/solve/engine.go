// Package solve implements the plate-solve worker loop: it consumes the
// latest detect result, invokes the external plate solver, hands the
// solution to the integration callback, and (when the callback reports an
// active slew) computes the slew heading and an optional boresight inset
// crop for display.
package solve

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"cedar/internal/astrometry"
	"cedar/internal/camera"
	"cedar/internal/catalog"
	"cedar/internal/cedarerr"
	"cedar/internal/detect"
	"cedar/internal/imaging"
	"cedar/internal/logging"
	"cedar/internal/solver"
	"cedar/internal/stats"
)

// Region is a pixel rectangle within a captured image.
type Region struct {
	X, Y, W, H int
}

// FovCatalogEntry is a catalog object located within the solved field of
// view, with its projected image position.
type FovCatalogEntry struct {
	Entry    catalog.Entry
	ImagePos astrometry.ImageCoord
}

// SlewRequest describes where Cedar Aim should point a slew-in-progress
// overlay, and how far off the mount still is.
type SlewRequest struct {
	TargetRa, TargetDec           float64
	TargetDistanceDeg             float64
	TargetAngleDeg                float64
	ImagePos                      *astrometry.ImageCoord
	TargetCatalogEntry            *catalog.Entry
	TargetCatalogEntryDistanceDeg *float64
}

// PlateSolution is one published worker-loop result.
type PlateSolution struct {
	DetectResult                detect.Result
	Solution                    *solver.Solution
	FovCatalogEntries           []FovCatalogEntry
	DecrowdedFovCatalogEntries  []FovCatalogEntry
	SlewRequest                 *SlewRequest
	BoresightImage              *camera.Image
	BoresightImageRegion        *Region
	SolveFinishTime             time.Time
	ProcessingDuration          time.Duration
	SolveLatencyStats           stats.ValueStats
	SolveAttemptStats           stats.ValueStats
	SolveSuccessStats           stats.ValueStats
}

// CatalogMatch narrows which catalog objects populate FovCatalogEntries.
type CatalogMatch struct {
	FaintestMagnitude     *float64
	MatchCatalogLabel     bool
	CatalogLabel          []string
	MatchObjectTypeLabel  bool
	ObjectTypeLabel       []string
}

// Callback hands a completed solve (or a failed attempt, with Solution
// nil) to the integration layer, which folds it into the telescope
// record, motion estimator, and polar analyzer. It returns the current
// slew target (if a slew is in progress) and a sync coordinate (if the
// user just invoked a sync), either of which may be nil.
type Callback func(boresightPixel *astrometry.ImageCoord, detectResult *detect.Result, solution *solver.Solution) (slewTarget, syncCoord *astrometry.EquatorialCoord)

// Config tunes a solve engine instance.
type Config struct {
	NormalizeRows bool
	StatsCapacity int
}

type sharedState struct {
	mu sync.Mutex

	alignMode bool

	catalogMatch *CatalogMatch

	frameID    camera.FrameID
	haveFrame  bool

	minimumStars int

	fovEstimate    *float64
	matchRadius    float64
	matchThreshold float64
	solveTimeout   time.Duration
	boresightPixel *astrometry.ImageCoord
	distortion     float64
	matchMaxError  float64
	returnMatches  bool

	slewTarget *astrometry.EquatorialCoord

	solveLatencyStats *stats.Accumulator
	solveAttemptStats *stats.Accumulator
	solveSuccessStats *stats.Accumulator

	eta *time.Time

	plateSolution *PlateSolution
	loggedError   bool
}

// Engine is the plate-solve worker and its published state.
type Engine struct {
	logger       *slog.Logger
	cfg          Config
	solverCap    solver.Capability
	catalogCap   catalog.Capability
	detectEngine *detect.Engine
	callback     Callback

	mu      sync.Mutex
	state   *sharedState
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns an Engine bound to solverCap and detectEngine. catalogCap may
// be nil if no sky catalog is configured.
func New(cfg Config, solverCap solver.Capability, catalogCap catalog.Capability, detectEngine *detect.Engine, callback Callback, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:       logger,
		cfg:          cfg,
		solverCap:    solverCap,
		catalogCap:   catalogCap,
		detectEngine: detectEngine,
		callback:     callback,
		state: &sharedState{
			minimumStars:      4,
			matchRadius:       0.01,
			matchThreshold:    1e-5,
			solveTimeout:      solverCap.DefaultTimeout(),
			matchMaxError:     0.005,
			returnMatches:     true,
			solveLatencyStats: stats.NewAccumulator(cfg.StatsCapacity),
			solveAttemptStats: stats.NewAccumulator(cfg.StatsCapacity),
			solveSuccessStats: stats.NewAccumulator(cfg.StatsCapacity),
		},
	}
}

// SetAlignMode switches between align mode (query bright stars/planets for
// the solved FOV, skip integration callback and slew handling) and normal
// operation.
func (e *Engine) SetAlignMode(enabled bool) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alignMode = enabled
}

// SetCatalogMatch sets the filter used to populate FovCatalogEntries.
func (e *Engine) SetCatalogMatch(m *CatalogMatch) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogMatch = m
}

// SetFovEstimate narrows the solver's plate-scale search to +/-10% of fov.
func (e *Engine) SetFovEstimate(fov *float64) error {
	if fov != nil && *fov <= 0 {
		return cedarerr.New(cedarerr.InvalidArgument, "fov_estimate must be positive; got %v", *fov)
	}
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fovEstimate = fov
	return nil
}

// SetBoresightPixel records the boresight's full-resolution image
// position, used as the solver's target_pixel extension.
func (e *Engine) SetBoresightPixel(p *astrometry.ImageCoord) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boresightPixel = p
}

// BoresightPixel returns the currently configured boresight pixel.
func (e *Engine) BoresightPixel() *astrometry.ImageCoord {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boresightPixel
}

// SetDistortion sets the radial distortion coefficient the solver should
// assume, in [-0.2, 0.2].
func (e *Engine) SetDistortion(distortion float64) error {
	if distortion < -0.2 || distortion > 0.2 {
		return cedarerr.New(cedarerr.InvalidArgument, "distortion must be in [-0.2, 0.2]; got %v", distortion)
	}
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distortion = distortion
	return nil
}

// SetMatchMaxError sets the solver's maximum per-star match error.
func (e *Engine) SetMatchMaxError(matchMaxError float64) error {
	if matchMaxError < 0 {
		return cedarerr.New(cedarerr.InvalidArgument, "match_max_error must be non-negative; got %v", matchMaxError)
	}
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchMaxError = matchMaxError
	return nil
}

// SetMinimumStars sets the minimum detected star count below which a
// solve is not even attempted.
func (e *Engine) SetMinimumStars(minimumStars int) error {
	if minimumStars < 4 {
		return cedarerr.New(cedarerr.InvalidArgument, "minimum_stars must be at least 4; got %v", minimumStars)
	}
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minimumStars = minimumStars
	return nil
}

// SetSolveTimeout bounds how long a single solve attempt may run.
func (e *Engine) SetSolveTimeout(d time.Duration) {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solveTimeout = d
}

// ResetSessionStats clears the session horizon of all three tracked
// latency/attempt/success accumulators.
func (e *Engine) ResetSessionStats() {
	s := e.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solveLatencyStats.ResetSession()
	s.solveAttemptStats.ResetSession()
	s.solveSuccessStats.ResetSession()
}

// GetNextResult starts the worker if needed, then blocks until a solve
// result newer than prevFrameID is published or ctx is cancelled.
func (e *Engine) GetNextResult(ctx context.Context, prevFrameID camera.FrameID, havePrev bool) (PlateSolution, error) {
	e.ensureRunning()

	for {
		e.state.mu.Lock()
		r := e.state.plateSolution
		e.state.mu.Unlock()
		if r != nil && (!havePrev || r.DetectResult.FrameID != prevFrameID) {
			return *r, nil
		}
		select {
		case <-ctx.Done():
			return PlateSolution{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (e *Engine) ensureRunning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		select {
		case <-e.done:
			e.running = false
			logging.LogWorkerRespawn(e.logger, "solve", errors.New("worker exited"))
		default:
			return
		}
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running = true
	go e.runWorker(e.stop, e.done)
}

// Stop requests the worker to exit after its current iteration.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		close(e.stop)
	}
}

func (e *Engine) runWorker(stop, done chan struct{}) {
	defer close(done)
	e.logger.Debug("starting solve engine")
	for {
		select {
		case <-stop:
			return
		default:
		}
		e.iterate(stop)
	}
}

func (e *Engine) iterate(stop chan struct{}) {
	s := e.state

	s.mu.Lock()
	s.eta = nil
	minimumStars := s.minimumStars
	frameID := s.frameID
	haveFrame := s.haveFrame
	normalizeRows := e.cfg.NormalizeRows
	params := solver.Params{
		Distortion:     s.distortion,
		MatchMaxError:  s.matchMaxError,
		MatchRadius:    s.matchRadius,
		MatchThreshold: s.matchThreshold,
		SolveTimeout:   s.solveTimeout,
	}
	if s.fovEstimate != nil {
		params.FovEstimateDeg = s.fovEstimate
	}
	ext := solver.Extension{
		TargetPixel:          s.boresightPixel,
		TargetSkyCoord:       s.slewTarget,
		ReturnMatches:        s.returnMatches,
		ReturnCatalog:        true,
		ReturnRotationMatrix: true,
	}
	alignMode := s.alignMode
	boresightPixel := s.boresightPixel
	s.mu.Unlock()

	if est := e.detectEngine.EstimateDelayHint(); est != nil {
		eta := time.Now().Add(*est)
		s.mu.Lock()
		s.eta = &eta
		s.mu.Unlock()
	}

	ctx := context.Background()
	var detectResult detect.Result
	for {
		select {
		case <-stop:
			return
		default:
		}
		shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		r, err := e.detectEngine.GetNextResult(shortCtx, frameID, haveFrame)
		cancel()
		if err != nil {
			continue
		}
		detectResult = r
		break
	}

	s.mu.Lock()
	s.frameID = detectResult.FrameID
	s.haveFrame = true
	s.mu.Unlock()

	processStart := time.Now()

	centroids := make([]solver.Centroid, len(detectResult.Stars))
	for i, star := range detectResult.Stars {
		centroids[i] = solver.Centroid{X: star.X, Y: star.Y, Brightness: star.Brightness}
	}

	var solution *solver.Solution
	var solveFinished bool
	if len(centroids) >= minimumStars {
		sol, err := e.solverCap.SolveFromCentroids(centroids, detectResult.Image.Width, detectResult.Image.Height, ext, params)
		solveFinished = true
		if err != nil {
			if len(centroids) >= 8 {
				s.mu.Lock()
				if !s.loggedError {
					e.logger.Error("solver error", "error", err, "num_centroids", len(centroids))
					s.loggedError = true
				}
				s.mu.Unlock()
			}
		} else {
			s.mu.Lock()
			s.loggedError = false
			s.mu.Unlock()
			solution = &sol
		}
	}

	elapsed := time.Since(processStart)

	var fovEntries, decrowdedEntries []FovCatalogEntry
	var slewRequest *SlewRequest
	var boresightImage *camera.Image
	var boresightRegion *Region

	if solution == nil {
		if !alignMode {
			s.mu.Lock()
			s.solveAttemptStats.AddValue(0.0)
			s.mu.Unlock()
			if e.callback != nil {
				e.callback(boresightPixel, &detectResult, nil)
			}
		}
	} else {
		if !alignMode {
			s.mu.Lock()
			s.solveAttemptStats.AddValue(1.0)
			s.solveSuccessStats.AddValue(1.0)
			s.mu.Unlock()
		}

		boresightCoords := astrometry.EquatorialCoord{Ra: solution.Ra, Dec: solution.Dec}

		if !alignMode {
			var slewTarget, syncCoord *astrometry.EquatorialCoord
			if e.callback != nil {
				slewTarget, syncCoord = e.callback(boresightPixel, &detectResult, solution)
			}
			s.mu.Lock()
			s.slewTarget = slewTarget
			s.mu.Unlock()

			if slewTarget != nil {
				slewRequest, boresightRegion, boresightImage = e.handleSlew(
					*slewTarget, detectResult.Image, boresightCoords, boresightPixel, *solution, normalizeRows)
			}
			if syncCoord != nil {
				x, y := astrometry.TransformToImageCoord(syncCoord.Ra, syncCoord.Dec,
					detectResult.Image.Width, detectResult.Image.Height,
					solution.FovDeg, solution.RotationMatrix, solution.Distortion)
				newBoresight := astrometry.ImageCoord{X: x, Y: y}
				s.mu.Lock()
				s.boresightPixel = &newBoresight
				s.mu.Unlock()
			}
		}

		if e.catalogCap != nil {
			s.mu.Lock()
			catalogMatch := s.catalogMatch
			s.mu.Unlock()
			match := CatalogMatch{}
			if catalogMatch != nil {
				match = *catalogMatch
			}
			match.MatchCatalogLabel = false
			match.MatchObjectTypeLabel = false
			if alignMode {
				faintest := 4.0
				match = CatalogMatch{
					FaintestMagnitude:    &faintest,
					MatchObjectTypeLabel: true,
					ObjectTypeLabel:      []string{"star", "double star", "nova star", "planet"},
				}
			}
			fovEntries, decrowdedEntries = e.queryFovCatalogEntries(
				boresightCoords, boresightPixel, match,
				detectResult.Image.Width, detectResult.Image.Height,
				solution.FovDeg, solution.Distortion, solution.RotationMatrix)
		}
	}

	if !alignMode {
		s.mu.Lock()
		s.solveLatencyStats.AddValue(elapsed.Seconds())
		s.mu.Unlock()
	}

	s.mu.Lock()
	var finishTime time.Time
	if solveFinished {
		finishTime = time.Now()
	}
	s.plateSolution = &PlateSolution{
		DetectResult:               detectResult,
		Solution:                   solution,
		FovCatalogEntries:          fovEntries,
		DecrowdedFovCatalogEntries: decrowdedEntries,
		SlewRequest:                slewRequest,
		BoresightImage:             boresightImage,
		BoresightImageRegion:       boresightRegion,
		SolveFinishTime:            finishTime,
		ProcessingDuration:         elapsed,
		SolveLatencyStats:          s.solveLatencyStats.Stats,
		SolveAttemptStats:          s.solveAttemptStats.Stats,
		SolveSuccessStats:          s.solveSuccessStats.Stats,
	}
	s.mu.Unlock()

	if solution != nil {
		logging.LogSolveComplete(e.logger, uint64(detectResult.FrameID), elapsed, solution.Ra, solution.Dec, solution.FovDeg)
	} else if solveFinished && len(centroids) >= 8 {
		logging.LogSolveFailed(e.logger, uint64(detectResult.FrameID), len(centroids), cedarerr.New(cedarerr.NotFound, "no plate solution"))
	}
}

// handleSlew computes the heading from the boresight to the slew target
// and, if the target is close enough to the boresight in image space,
// crops and brightness-stretches a small inset around it.
func (e *Engine) handleSlew(target astrometry.EquatorialCoord, img camera.Image, boresight astrometry.EquatorialCoord, boresightPixel *astrometry.ImageCoord, solution solver.Solution, normalizeRows bool) (*SlewRequest, *Region, *camera.Image) {
	bsRa, bsDec := boresight.Ra*math.Pi/180, boresight.Dec*math.Pi/180
	stRa, stDec := target.Ra*math.Pi/180, target.Dec*math.Pi/180

	req := &SlewRequest{TargetRa: target.Ra, TargetDec: target.Dec}
	req.TargetDistanceDeg = astrometry.AngularSeparation(bsRa, bsDec, stRa, stDec) * 180 / math.Pi

	angle := math.Mod(astrometry.PositionAngle(bsRa, bsDec, stRa, stDec)*180/math.Pi+solution.RollDeg, 360.0)
	if angle < 0 {
		angle += 360.0
	}
	req.TargetAngleDeg = angle

	if e.catalogCap != nil {
		entry, dist := e.getCatalogEntryForTarget(target)
		req.TargetCatalogEntry = entry
		req.TargetCatalogEntryDistanceDeg = dist
	}

	if solution.TargetPixel == nil || solution.TargetPixel.X < 0 {
		return req, nil, nil
	}

	targetImageCoord := *solution.TargetPixel
	req.ImagePos = &targetImageCoord

	boresightPos := astrometry.ImageCoord{X: float64(img.Width) / 2.0, Y: float64(img.Height) / 2.0}
	if boresightPixel != nil {
		boresightPos = *boresightPixel
	}

	minDim := img.Width
	if img.Height < minDim {
		minDim = img.Height
	}
	closeThreshold := float64(minDim) / 16.0
	dx := targetImageCoord.X - boresightPos.X
	dy := targetImageCoord.Y - boresightPos.Y
	distance := math.Sqrt(dx*dx + dy*dy)
	if distance >= closeThreshold {
		return req, nil, nil
	}

	insetSize := minDim / 6
	region := clampRegion(Region{
		X: int(boresightPos.X) - insetSize/2,
		Y: int(boresightPos.Y) - insetSize/2,
		W: insetSize, H: insetSize,
	}, img.Width, img.Height)

	cropped := imaging.Crop(img, region.X, region.Y, region.W, region.H)
	if normalizeRows {
		normalizeRowsMut(&cropped)
	}
	stretchImageForDisplay(&cropped)

	return req, &region, &cropped
}

func clampRegion(r Region, width, height int) Region {
	if r.X < 0 {
		r.W += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.H += r.Y
		r.Y = 0
	}
	if r.X+r.W > width {
		r.W = width - r.X
	}
	if r.Y+r.H > height {
		r.H = height - r.Y
	}
	if r.W < 0 {
		r.W = 0
	}
	if r.H < 0 {
		r.H = 0
	}
	return r
}

func normalizeRowsMut(img *camera.Image) {
	for y := 0; y < img.Height; y++ {
		row := img.Pixels[y*img.Width : (y+1)*img.Width]
		var sum int
		for _, p := range row {
			sum += int(p)
		}
		if len(row) == 0 {
			continue
		}
		mean := sum / len(row)
		const target = 32
		delta := target - mean
		for i, p := range row {
			v := int(p) + delta
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			row[i] = byte(v)
		}
	}
}

// stretchImageForDisplay mirrors the original's scale_image_mut: peak is
// the average of the 5 brightest pixels (floored at 64), black is the 90th
// percentile of the star-free background, and the result is gamma (0.7)
// stretched between them.
func stretchImageForDisplay(img *camera.Image) {
	var hist [256]uint32
	for _, p := range img.Pixels {
		hist[p]++
	}
	peak := averageTopValues(hist, 5)
	if peak < 64 {
		peak = 64
	}
	background := removeStarsFromHistogramSigma(hist, 8.0)
	black := levelForFraction(background, 0.9)

	span := float64(peak) - black
	if span <= 0 {
		span = 1
	}
	for i, p := range img.Pixels {
		norm := (float64(p) - black) / span
		if norm < 0 {
			norm = 0
		} else if norm > 1 {
			norm = 1
		}
		img.Pixels[i] = byte(math.Round(math.Pow(norm, 0.7) * 255))
	}
}

func averageTopValues(hist [256]uint32, n int) int {
	remaining := n
	var sum, count int
	for v := 255; v >= 0 && remaining > 0; v-- {
		take := int(hist[v])
		if take > remaining {
			take = remaining
		}
		sum += v * take
		count += take
		remaining -= take
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

func removeStarsFromHistogramSigma(hist [256]uint32, sigma float64) [256]uint32 {
	var total, sum float64
	for v, n := range hist {
		total += float64(n)
		sum += float64(v) * float64(n)
	}
	if total == 0 {
		return hist
	}
	mean := sum / total
	var variance float64
	for v, n := range hist {
		d := float64(v) - mean
		variance += d * d * float64(n)
	}
	variance /= total
	stddev := math.Sqrt(variance)
	threshold := mean + sigma*stddev

	out := hist
	for v := range out {
		if float64(v) > threshold {
			out[v] = 0
		}
	}
	return out
}

func levelForFraction(hist [256]uint32, fraction float64) float64 {
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

func (e *Engine) getCatalogEntryForTarget(target astrometry.EquatorialCoord) (*catalog.Entry, *float64) {
	maxDist := 1.0 / 60.0
	entries, _, err := e.catalogCap.QueryCatalogEntries(catalog.Filter{MaxDistanceDeg: &maxDist}, nil, nil)
	if err != nil {
		e.logger.Warn("error querying sky catalog", "error", err)
		return nil, nil
	}
	if len(entries) == 0 {
		return nil, nil
	}
	closest := entries[0]
	targetRa, targetDec := target.Ra*math.Pi/180, target.Dec*math.Pi/180
	entryRa, entryDec := closest.Ra*math.Pi/180, closest.Dec*math.Pi/180
	distance := astrometry.AngularSeparation(targetRa, targetDec, entryRa, entryDec) * 180 / math.Pi
	return &closest, &distance
}

func makeFovCatalogEntry(entry catalog.Entry, width, height int, fov, distortion float64, rot astrometry.RotationMatrix) (FovCatalogEntry, bool) {
	x, y := astrometry.TransformToImageCoord(entry.Ra, entry.Dec, width, height, fov, rot, distortion)
	if x < 0 || x >= float64(width) || y < 0 || y >= float64(height) {
		return FovCatalogEntry{}, false
	}
	return FovCatalogEntry{Entry: entry, ImagePos: astrometry.ImageCoord{X: x, Y: y}}, true
}

// queryFovCatalogEntries returns the catalog entries within the solved
// field of view. The first return is decrowd survivors (brighter than any
// very-nearby entry); the second is the decrowded (culled) entries.
func (e *Engine) queryFovCatalogEntries(boresight astrometry.EquatorialCoord, boresightPixel *astrometry.ImageCoord, match CatalogMatch, width, height int, fov, distortion float64, rot astrometry.RotationMatrix) ([]FovCatalogEntry, []FovCatalogEntry) {
	bp := astrometry.ImageCoord{X: float64(width) / 2.0, Y: float64(height) / 2.0}
	if boresightPixel != nil {
		bp = *boresightPixel
	}

	degPerPixel := fov / float64(width)
	h := math.Max(bp.X, float64(width)-bp.X)
	v := math.Max(bp.Y, float64(height)-bp.Y)
	radiusDeg := math.Sqrt(h*h+v*v) * degPerPixel

	decrowdDistancePx := 3600.0 * fov / 15.0
	limit := 50
	filter := catalog.Filter{
		MaxDistanceDeg:    &radiusDeg,
		FaintestMag:       match.FaintestMagnitude,
		CatalogFilter:     matchOrNil(match.MatchCatalogLabel, match.CatalogLabel),
		TypeFilter:        matchOrNil(match.MatchObjectTypeLabel, match.ObjectTypeLabel),
		DecrowdDistancePx: &decrowdDistancePx,
		Limit:             &limit,
	}
	sky := &catalog.SkyLocation{Ra: boresight.Ra, Dec: boresight.Dec, FovDeg: fov}

	entries, _, err := e.catalogCap.QueryCatalogEntries(filter, sky, nil)
	if err != nil {
		e.logger.Warn("error querying sky catalog", "error", err)
		return nil, nil
	}

	var answer, culled []FovCatalogEntry
	for _, entry := range entries {
		if fce, ok := makeFovCatalogEntry(entry, width, height, fov, distortion, rot); ok {
			answer = append(answer, fce)
		}
		for _, decrowded := range entry.Decrowded {
			if fce, ok := makeFovCatalogEntry(decrowded, width, height, fov, distortion, rot); ok {
				culled = append(culled, fce)
			}
		}
	}
	return answer, culled
}

func matchOrNil(match bool, labels []string) []string {
	if !match {
		return nil
	}
	return labels
}

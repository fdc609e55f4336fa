package solve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/astrometry"
	"cedar/internal/camera"
	"cedar/internal/catalog"
	"cedar/internal/detect"
	"cedar/internal/solver"
)

type fakeCamera struct{}

func (fakeCamera) Dimensions() (int, int)            { return 32, 32 }
func (fakeCamera) SensorSizeMM() (float64, float64)  { return 6.4, 4.8 }
func (fakeCamera) OptimalGain() int                  { return 100 }
func (fakeCamera) SetGain(int) error                 { return nil }
func (fakeCamera) SetOffset(int) error                { return nil }
func (fakeCamera) SetExposureDuration(time.Duration) error { return nil }
func (fakeCamera) SetUpdateInterval(time.Duration) error   { return nil }
func (fakeCamera) SetInverted(bool) error             { return nil }

func (fakeCamera) TryCaptureImage(ctx context.Context, prevID camera.FrameID) (camera.Image, camera.FrameID, bool, error) {
	return camera.Image{Width: 32, Height: 32, Pixels: make([]byte, 32*32), ParamsAccurate: true}, prevID + 1, true, nil
}

func (fakeCamera) EstimateDelay(camera.FrameID) *time.Duration {
	d := time.Millisecond
	return &d
}

type fakeKernel struct{}

func (fakeKernel) EstimateNoise(camera.Image) float64 { return 5.0 }

func (fakeKernel) Detect(img camera.Image, noiseEstimate, sigma float64, binning int, normalizeRows, detectHotPixels, returnBinnedImage bool) (detect.KernelResult, error) {
	stars := make([]detect.Star, 6)
	for i := range stars {
		stars[i] = detect.Star{X: float64(i), Y: float64(i), Brightness: 150}
	}
	var hist [256]uint32
	for _, p := range img.Pixels {
		hist[p]++
	}
	return detect.KernelResult{Stars: stars, Histogram: hist}, nil
}

type fakeSolver struct {
	fail bool
}

func (s *fakeSolver) SolveFromCentroids(centroids []solver.Centroid, width, height int, ext solver.Extension, params solver.Params) (solver.Solution, error) {
	if s.fail {
		return solver.Solution{}, assertError{}
	}
	return solver.Solution{
		Ra: 83.6, Dec: -5.4, RollDeg: 0, FovDeg: 10,
		RotationMatrix: astrometry.RotationMatrix{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}, nil
}

func (s *fakeSolver) Cancel()                       {}
func (s *fakeSolver) DefaultTimeout() time.Duration { return time.Second }

type assertError struct{}

func (assertError) Error() string { return "solve failed" }

type fakeCatalog struct {
	entries []catalog.Entry
}

func (c fakeCatalog) QueryCatalogEntries(filter catalog.Filter, sky *catalog.SkyLocation, loc *catalog.LocationInfo) ([]catalog.Entry, int, error) {
	return c.entries, 0, nil
}

func newTestDetectEngine() *detect.Engine {
	cfg := detect.Config{
		InitialExposureDuration: 100 * time.Millisecond,
		MinExposureDuration:     time.Millisecond,
		MaxExposureDuration:     10 * time.Second,
		DetectionMinSigma:       5.0,
		DetectionSigma:          8.0,
		StarCountGoal:           20,
		StatsCapacity:           16,
	}
	return detect.New(cfg, fakeCamera{}, fakeKernel{}, nil)
}

func TestSolveEngineProducesResult(t *testing.T) {
	de := newTestDetectEngine()
	e := New(Config{StatsCapacity: 16}, &fakeSolver{}, nil, de, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := e.GetNextResult(ctx, 0, false)
	require.NoError(t, err)
	require.NotNil(t, result.Solution)
	assert.InDelta(t, 83.6, result.Solution.Ra, 1e-9)
}

func TestSolveEngineTooFewStarsSkipsSolve(t *testing.T) {
	de := newTestDetectEngine()
	e := New(Config{StatsCapacity: 16}, &fakeSolver{}, nil, de, nil, nil)
	require.NoError(t, e.SetMinimumStars(10))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := e.GetNextResult(ctx, 0, false)
	require.NoError(t, err)
	assert.Nil(t, result.Solution)
}

func TestSolveEngineInvokesCallbackOnFailure(t *testing.T) {
	de := newTestDetectEngine()
	called := make(chan struct{}, 1)
	cb := func(boresightPixel *astrometry.ImageCoord, dr *detect.Result, sol *solver.Solution) (*astrometry.EquatorialCoord, *astrometry.EquatorialCoord) {
		if sol == nil {
			select {
			case called <- struct{}{}:
			default:
			}
		}
		return nil, nil
	}
	e := New(Config{StatsCapacity: 16}, &fakeSolver{fail: true}, nil, de, cb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := e.GetNextResult(ctx, 0, false)
	require.NoError(t, err)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked on solve failure")
	}
}

func TestSolveEngineQueriesCatalogOnSuccess(t *testing.T) {
	de := newTestDetectEngine()
	cat := fakeCatalog{entries: []catalog.Entry{{Name: "Vega", Ra: 83.6, Dec: -5.4}}}
	e := New(Config{StatsCapacity: 16}, &fakeSolver{}, cat, de, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := e.GetNextResult(ctx, 0, false)
	require.NoError(t, err)
	require.NotNil(t, result.Solution)
}

func TestClampRegionWithinBounds(t *testing.T) {
	r := clampRegion(Region{X: -5, Y: -5, W: 20, H: 20}, 10, 10)
	assert.Equal(t, 0, r.X)
	assert.Equal(t, 0, r.Y)
	assert.LessOrEqual(t, r.W, 10)
	assert.LessOrEqual(t, r.H, 10)
}

func TestAverageTopValues(t *testing.T) {
	var hist [256]uint32
	hist[200] = 3
	hist[100] = 10
	assert.Equal(t, 200, averageTopValues(hist, 3))
}

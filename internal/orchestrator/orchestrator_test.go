package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/astrometry"
	"cedar/internal/camera"
	"cedar/internal/detect"
	"cedar/internal/preferences"
	"cedar/internal/solve"
	"cedar/internal/solver"
	"cedar/internal/telescope"
)

type fakeCamera struct {
	width, height int
	nextID        camera.FrameID
}

func newFakeCamera() *fakeCamera { return &fakeCamera{width: 64, height: 64} }

func (c *fakeCamera) Dimensions() (int, int)               { return c.width, c.height }
func (c *fakeCamera) SensorSizeMM() (float64, float64)     { return 6.4, 4.8 }
func (c *fakeCamera) OptimalGain() int                      { return 100 }
func (c *fakeCamera) SetGain(int) error                     { return nil }
func (c *fakeCamera) SetOffset(int) error                   { return nil }
func (c *fakeCamera) SetExposureDuration(time.Duration) error { return nil }
func (c *fakeCamera) SetUpdateInterval(time.Duration) error   { return nil }
func (c *fakeCamera) SetInverted(bool) error                 { return nil }

func (c *fakeCamera) TryCaptureImage(ctx context.Context, prevID camera.FrameID) (camera.Image, camera.FrameID, bool, error) {
	c.nextID++
	pixels := make([]byte, c.width*c.height)
	for i := range pixels {
		pixels[i] = 40
	}
	return camera.Image{Width: c.width, Height: c.height, Pixels: pixels, ParamsAccurate: true}, c.nextID, true, nil
}

func (c *fakeCamera) EstimateDelay(camera.FrameID) *time.Duration {
	d := time.Millisecond
	return &d
}

type fakeKernel struct{ starCount int }

func (k fakeKernel) EstimateNoise(camera.Image) float64 { return 5.0 }

func (k fakeKernel) Detect(img camera.Image, noiseEstimate, sigma float64, binning int, normalizeRows, detectHotPixels, returnBinnedImage bool) (detect.KernelResult, error) {
	stars := make([]detect.Star, k.starCount)
	for i := range stars {
		stars[i] = detect.Star{X: float64(i), Y: float64(i), Brightness: 150}
	}
	var hist [256]uint32
	for _, p := range img.Pixels {
		hist[p]++
	}
	return detect.KernelResult{Stars: stars, Histogram: hist}, nil
}

type fakeSolver struct{}

func (fakeSolver) SolveFromCentroids(centroids []solver.Centroid, width, height int, ext solver.Extension, params solver.Params) (solver.Solution, error) {
	return solver.Solution{
		Ra: 83.6, Dec: -5.4, FovDeg: 10, Distortion: 0.01,
		RotationMatrix: astrometry.RotationMatrix{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}, nil
}

func (fakeSolver) Cancel()                       {}
func (fakeSolver) DefaultTimeout() time.Duration { return 500 * time.Millisecond }

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cam := newFakeCamera()
	kernel := fakeKernel{starCount: 6}
	solverCap := fakeSolver{}

	dcfg := detect.Config{
		InitialExposureDuration: 10 * time.Millisecond,
		MinExposureDuration:     time.Millisecond,
		MaxExposureDuration:     time.Second,
		DetectionMinSigma:       5.0,
		DetectionSigma:          8.0,
		StarCountGoal:           6,
		StatsCapacity:           16,
	}
	de := detect.New(dcfg, cam, kernel, nil)
	se := solve.New(solve.Config{StatsCapacity: 16}, solverCap, nil, de, nil, nil)

	rec := telescope.New()
	prefs, err := preferences.Open(t.TempDir()+"/prefs.json", nil)
	require.NoError(t, err)

	cfg := Config{
		DetectionBinning:        1,
		DetectionMinSigma:       5.0,
		DetectionSigma:          8.0,
		StarCountGoal:           6,
		MinExposureDuration:     time.Millisecond,
		MaxExposureDuration:     time.Second,
		InitialExposureDuration: 10 * time.Millisecond,
	}
	return New(cfg, cam, kernel, solverCap, de, se, rec, prefs, nil)
}

func TestNewStartsInSetupFocus(t *testing.T) {
	o := newTestOrchestrator(t)
	assert.Equal(t, ModeSetupFocus, o.Mode())
}

func TestRequestModeToSameModeIsNoop(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.RequestMode(context.Background(), ModeSetupFocus))
	assert.Equal(t, ModeSetupFocus, o.Mode())
}

func TestLeavingFocusRunsCalibrationThenChangesMode(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.RequestMode(context.Background(), ModeOperate))

	deadline := time.After(5 * time.Second)
	for o.Mode() != ModeOperate {
		select {
		case <-deadline:
			calibrating, _, _, lastErr := o.CalibrationStatus()
			t.Fatalf("timed out waiting for operate mode: calibrating=%v err=%v", calibrating, lastErr)
		case <-time.After(5 * time.Millisecond):
		}
	}
	calibrating, _, _, lastErr := o.CalibrationStatus()
	assert.False(t, calibrating)
	assert.NoError(t, lastErr)
}

func TestReturningToFocusSwitchesImmediatelyWithoutCalibration(t *testing.T) {
	o := newTestOrchestrator(t)
	o.mu.Lock()
	o.mode = ModeOperate
	o.mu.Unlock()

	require.NoError(t, o.RequestMode(context.Background(), ModeSetupFocus))
	assert.Equal(t, ModeSetupFocus, o.Mode())
	calibrating, _, _, _ := o.CalibrationStatus()
	assert.False(t, calibrating)
}

func TestDesignateBoresightOutsideInsetClearsIt(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.DesignateBoresight(1, 1))
	assert.Nil(t, o.solveEngine.BoresightPixel())
}

func TestDesignateBoresightWithinInsetPersists(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.DesignateBoresight(32, 32))
	pixel := o.solveEngine.BoresightPixel()
	require.NotNil(t, pixel)
	assert.InDelta(t, 32, pixel.X, 1e-9)
}

func TestCaptureBoresightUsesImageCenter(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.CaptureBoresight())
	pixel := o.solveEngine.BoresightPixel()
	require.NotNil(t, pixel)
	assert.InDelta(t, 32, pixel.X, 1e-9)
	assert.InDelta(t, 32, pixel.Y, 1e-9)
}

func TestBoresightWithinInset(t *testing.T) {
	assert.False(t, boresightWithinInset(10, 10, 64, 64))
	assert.True(t, boresightWithinInset(32, 32, 64, 64))
	assert.False(t, boresightWithinInset(60, 32, 64, 64))
}

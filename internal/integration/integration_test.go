package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/astrometry"
	"cedar/internal/motion"
	"cedar/internal/polar"
	"cedar/internal/preferences"
	"cedar/internal/solver"
	"cedar/internal/telescope"
)

func newTestCallback(t *testing.T) (*Callback, *telescope.Record, *preferences.Store) {
	t.Helper()
	rec := telescope.New()
	est := motion.NewEstimator(5*time.Second, time.Second)
	pol := polar.NewAnalyzer(nil)
	prefs, err := preferences.Open(t.TempDir()+"/prefs.json", nil)
	require.NoError(t, err)
	cb := NewCallback(rec, est, pol, prefs, nil)
	return cb, rec, prefs
}

func TestHandleNilSolutionInvalidatesBoresight(t *testing.T) {
	cb, rec, _ := newTestCallback(t)
	rec.SetBoresight(10, 20)

	slewTarget, syncCoord := cb.Handle(nil, nil, nil)

	assert.Nil(t, slewTarget)
	assert.Nil(t, syncCoord)
	assert.False(t, rec.Snapshot().BoresightValid)
}

func TestHandleSuccessfulSolveUpdatesBoresight(t *testing.T) {
	cb, rec, _ := newTestCallback(t)
	sol := &solver.Solution{Ra: 83.6, Dec: -5.4}

	cb.Handle(nil, nil, sol)

	snap := rec.Snapshot()
	assert.True(t, snap.BoresightValid)
	assert.InDelta(t, 83.6, snap.BoresightRa, 1e-9)
	assert.InDelta(t, -5.4, snap.BoresightDec, 1e-9)
}

func TestHandleReturnsActiveSlewTarget(t *testing.T) {
	cb, rec, _ := newTestCallback(t)
	rec.RequestSlew(100, 45)
	sol := &solver.Solution{Ra: 83.6, Dec: -5.4}

	slewTarget, _ := cb.Handle(nil, nil, sol)

	require.NotNil(t, slewTarget)
	assert.InDelta(t, 100, slewTarget.Ra, 1e-9)
	assert.InDelta(t, 45, slewTarget.Dec, 1e-9)
}

func TestHandleConsumesSyncAndPersistsBoresightPixel(t *testing.T) {
	cb, rec, prefs := newTestCallback(t)
	rec.RequestSync(10, 20)
	sol := &solver.Solution{Ra: 83.6, Dec: -5.4}
	pixel := &astrometry.ImageCoord{X: 12, Y: 34}

	_, syncCoord := cb.Handle(pixel, nil, sol)

	require.NotNil(t, syncCoord)
	assert.InDelta(t, 10, syncCoord.Ra, 1e-9)
	assert.InDelta(t, 20, syncCoord.Dec, 1e-9)

	got := prefs.Get()
	require.NotNil(t, got.BoresightPixelX)
	require.NotNil(t, got.BoresightPixelY)
	assert.InDelta(t, 12, *got.BoresightPixelX, 1e-9)
	assert.InDelta(t, 34, *got.BoresightPixelY, 1e-9)

	_, _, pending := rec.ConsumeSync()
	assert.False(t, pending)
}

func TestHandleWithKnownSiteRunsWithoutPanic(t *testing.T) {
	cb, rec, _ := newTestCallback(t)
	rec.SetSite(34.0, -118.0)
	fixed := time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC)
	cb.Now = func() time.Time { return fixed }

	sol := &solver.Solution{Ra: 10, Dec: 0, MatchRmseArcsec: 5}
	cb.Handle(nil, nil, sol)
	cb.Handle(nil, nil, sol)
	cb.Handle(nil, nil, sol)

	// No assertion on Advice contents: the estimator may not yet be
	// dwelling with only a few identical samples. This only exercises
	// that feeding the polar analyzer with a known site doesn't panic
	// or otherwise misbehave.
}

func TestHourAngleDegWrapsToHalfDay(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ha := hourAngleDeg(0, 0, 0, fixed)
	assert.GreaterOrEqual(t, ha, -180.0)
	assert.LessOrEqual(t, ha, 180.0)
}

package dashboard

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/astrometry"
	"cedar/internal/camera/testimage"
	"cedar/internal/catalog"
	"cedar/internal/detect"
	"cedar/internal/detectkernel"
	"cedar/internal/orchestrator"
	"cedar/internal/preferences"
	"cedar/internal/solve"
	"cedar/internal/solver"
	"cedar/internal/telescope"
)

type fakeSolver struct{}

func (fakeSolver) SolveFromCentroids([]solver.Centroid, int, int, solver.Extension, solver.Params) (solver.Solution, error) {
	return solver.Solution{}, nil
}
func (fakeSolver) Cancel()                       {}
func (fakeSolver) DefaultTimeout() time.Duration { return time.Second }

type fakeCatalog struct{}

func (fakeCatalog) QueryCatalogEntries(catalog.Filter, *catalog.SkyLocation, *catalog.LocationInfo) ([]catalog.Entry, int, error) {
	return nil, 0, nil
}

func noopCallback(*astrometry.ImageCoord, *detect.Result, *solver.Solution) (*astrometry.EquatorialCoord, *astrometry.EquatorialCoord) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.png")
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray(x, y, color.Gray{Y: 20})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	cam, err := testimage.Load(path)
	require.NoError(t, err)
	kernel := detectkernel.New()

	detectEngine := detect.New(detect.Config{StarCountGoal: 10}, cam, kernel, nil)
	solveEngine := solve.New(solve.Config{}, fakeSolver{}, fakeCatalog{}, detectEngine, solve.Callback(noopCallback), nil)
	tel := telescope.New()
	prefs, err := preferences.Open(filepath.Join(t.TempDir(), "prefs.json"), nil)
	require.NoError(t, err)

	return orchestrator.New(orchestrator.Config{}, cam, kernel, fakeSolver{}, detectEngine, solveEngine, tel, prefs, nil)
}

func TestSnapshotReflectsMode(t *testing.T) {
	orch := newTestOrchestrator(t)
	hub := New(orch, nil)

	snap := hub.snapshot()
	assert.Equal(t, "setup_focus", snap.Mode)
	assert.True(t, snap.DetectHealthy)
	assert.True(t, snap.SolveHealthy)
}

func TestSetAdapterStatusUpdatesSnapshot(t *testing.T) {
	orch := newTestOrchestrator(t)
	hub := New(orch, nil)

	hub.SetAdapterStatus("lx200", true)
	snap := hub.snapshot()
	assert.True(t, snap.LX200.Connected)
	assert.False(t, snap.Alpaca.Connected)
}

func TestSetWorkerHealthUpdatesSnapshot(t *testing.T) {
	orch := newTestOrchestrator(t)
	hub := New(orch, nil)

	hub.SetWorkerHealth("detect", false)
	snap := hub.snapshot()
	assert.False(t, snap.DetectHealthy)
	assert.True(t, snap.SolveHealthy)
}

func TestServeWSPushesInitialSnapshot(t *testing.T) {
	orch := newTestOrchestrator(t)
	hub := New(orch, nil)

	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "setup_focus", snap.Mode)
}

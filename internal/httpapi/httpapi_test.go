package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/camera"
	"cedar/internal/detect"
	"cedar/internal/preferences"
	"cedar/internal/solve"
)

type fakeSolveSource struct {
	sol solve.PlateSolution
	err error
}

func (f fakeSolveSource) GetNextResult(ctx context.Context, prevFrameID camera.FrameID, havePrev bool) (solve.PlateSolution, error) {
	return f.sol, f.err
}

func TestHandleFrameReturnsJSON(t *testing.T) {
	src := fakeSolveSource{sol: solve.PlateSolution{
		DetectResult: detect.Result{FrameID: camera.FrameID(9)},
	}}
	s := New(src, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/frame", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(9), body["frame_id"])
}

func TestHandleFrameQueryParsesPrevFrameID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/frame?prev_frame_id=15", nil)
	id, havePrev := parseFrameQuery(req)
	assert.True(t, havePrev)
	assert.Equal(t, camera.FrameID(15), id)
}

func TestHandleFrameQueryMissingParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/frame", nil)
	_, havePrev := parseFrameQuery(req)
	assert.False(t, havePrev)
}

func TestHandlePrefsRoundTrip(t *testing.T) {
	prefs, err := preferences.Open(t.TempDir()+"/prefs.json", nil)
	require.NoError(t, err)
	s := New(nil, nil, prefs, nil)

	body := `{"eyepiece_fov_deg":1.5,"mount_type":"altaz"}`
	putReq := httptest.NewRequest(http.MethodPut, "/api/prefs", strings.NewReader(body))
	putRec := httptest.NewRecorder()
	s.Router().ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusNoContent, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/prefs", nil)
	getRec := httptest.NewRecorder()
	s.Router().ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var got preferences.Prefs
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
	assert.InDelta(t, 1.5, got.EyepieceFovDeg, 1e-9)
	assert.Equal(t, "altaz", got.MountType)
}

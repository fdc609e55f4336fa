package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/camera"
	"cedar/internal/detect"
	"cedar/internal/solve"
	"cedar/internal/solver"
	"cedar/internal/telescope"
)

func TestBuildFrameResponseFlattensSolution(t *testing.T) {
	sol := solve.PlateSolution{
		DetectResult: detect.Result{
			FrameID: camera.FrameID(7),
			Image:   camera.Image{Width: 4, Height: 4, Pixels: make([]byte, 16)},
			Stars:   []detect.Star{{X: 1, Y: 2, Brightness: 50}},
		},
		Solution: &solver.Solution{
			Ra: 10, Dec: 20, RollDeg: 1, FovDeg: 5, Distortion: 0.02,
			Matches: []solver.MatchedStar{{Magnitude: 3}, {Magnitude: 4}},
		},
		ProcessingDuration: 250 * time.Millisecond,
	}
	tel := telescope.New()
	tel.SetBoresight(11, 22)

	resp := BuildFrameResponse(sol, tel)

	assert.Equal(t, uint64(7), resp.FrameID)
	assert.Equal(t, int64(250), resp.ProcessingMs)
	require.Len(t, resp.Stars, 1)
	assert.InDelta(t, 1, resp.Stars[0].X, 1e-9)
	require.NotNil(t, resp.Solution)
	assert.InDelta(t, 10, resp.Solution.Ra, 1e-9)
	assert.Equal(t, 2, resp.Solution.MatchCount)
	assert.InDelta(t, 11, resp.BoresightRa, 1e-9)
	assert.InDelta(t, 22, resp.BoresightDec, 1e-9)
	assert.NotNil(t, resp.DisplayJPEG)
}

func TestBuildFrameResponseNilSolutionOmitsSolution(t *testing.T) {
	sol := solve.PlateSolution{
		DetectResult: detect.Result{FrameID: camera.FrameID(1)},
	}
	resp := BuildFrameResponse(sol, nil)
	assert.Nil(t, resp.Solution)
	assert.Equal(t, uint64(1), resp.FrameID)
}

type fakeSolveSource struct {
	sol solve.PlateSolution
	err error
}

func (f fakeSolveSource) GetNextResult(ctx context.Context, prevFrameID camera.FrameID, havePrev bool) (solve.PlateSolution, error) {
	return f.sol, f.err
}

func TestServerGetFrameReturnsBuiltResponse(t *testing.T) {
	src := fakeSolveSource{sol: solve.PlateSolution{
		DetectResult: detect.Result{FrameID: camera.FrameID(42)},
	}}
	srv := New(Engines{Solve: src}, nil)

	resp, err := srv.GetFrame(context.Background(), &GetFrameRequest{PrevFrameID: 0, HavePrev: false})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), resp.FrameID)
}

func TestServerGetFramePropagatesError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	src := fakeSolveSource{err: wantErr}
	srv := New(Engines{Solve: src}, nil)

	_, err := srv.GetFrame(context.Background(), &GetFrameRequest{})
	assert.Equal(t, wantErr, err)
}

func TestJSONCodecRoundTrips(t *testing.T) {
	c := jsonCodec{}
	req := &GetFrameRequest{PrevFrameID: 5, HavePrev: true}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out GetFrameRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, *req, out)
	assert.Equal(t, "json", c.Name())
}

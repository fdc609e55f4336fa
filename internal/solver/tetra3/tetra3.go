// Package tetra3 implements solver.Capability by shelling out to the
// tetra3 Python plate solver, the same external-tool-over-os/exec pattern
// the donor pipeline used for its RAW conversion tools: one JSON request
// written to the subprocess's stdin, one JSON response read back from its
// stdout, with the subprocess's lifetime bound to the caller's context so
// Cancel (and a deadline) can kill it outright.
package tetra3

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"cedar/internal/astrometry"
	"cedar/internal/cedarerr"
	"cedar/internal/solver"
)

// Solver invokes a tetra3 driver script once per solve attempt.
type Solver struct {
	scriptPath   string
	databasePath string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New returns a Solver bound to a tetra3 driver script and star database
// path, both supplied by the orchestrator's CLI configuration.
func New(scriptPath, databasePath string) *Solver {
	return &Solver{scriptPath: scriptPath, databasePath: databasePath}
}

type request struct {
	Centroids    []solver.Centroid `json:"centroids"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	DatabasePath string            `json:"database_path"`
	FovEstimate  *float64          `json:"fov_estimate_deg,omitempty"`
	Distortion   float64           `json:"distortion"`
	MatchMaxError float64          `json:"match_max_error"`
	MatchRadius  float64           `json:"match_radius"`
	MatchThreshold float64         `json:"match_threshold"`
	TargetPixel  *astrometry.ImageCoord `json:"target_pixel,omitempty"`
	ReturnMatches bool             `json:"return_matches"`
}

type response struct {
	Ok              bool                       `json:"ok"`
	Error           string                     `json:"error,omitempty"`
	Ra              float64                    `json:"ra,omitempty"`
	Dec             float64                    `json:"dec,omitempty"`
	RollDeg         float64                    `json:"roll_deg,omitempty"`
	FovDeg          float64                    `json:"fov_deg,omitempty"`
	Distortion      float64                    `json:"distortion,omitempty"`
	MatchRmseArcsec float64                    `json:"match_rmse_arcsec,omitempty"`
	RotationMatrix  astrometry.RotationMatrix  `json:"rotation_matrix,omitempty"`
	TargetPixel     *astrometry.ImageCoord     `json:"target_pixel,omitempty"`
	Matches         []solver.MatchedStar       `json:"matches,omitempty"`
}

// SolveFromCentroids runs the tetra3 script once, bounded by
// params.SolveTimeout.
func (s *Solver) SolveFromCentroids(centroids []solver.Centroid, width, height int, ext solver.Extension, params solver.Params) (solver.Solution, error) {
	timeout := params.SolveTimeout
	if timeout <= 0 {
		timeout = s.DefaultTimeout()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	req := request{
		Centroids:      centroids,
		Width:          width,
		Height:         height,
		DatabasePath:   s.databasePath,
		FovEstimate:    params.FovEstimateDeg,
		Distortion:     params.Distortion,
		MatchMaxError:  params.MatchMaxError,
		MatchRadius:    params.MatchRadius,
		MatchThreshold: params.MatchThreshold,
		TargetPixel:    ext.TargetPixel,
		ReturnMatches:  ext.ReturnMatches,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return solver.Solution{}, cedarerr.Wrap(err, "marshal tetra3 request")
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, s.scriptPath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(start)
	if ctx.Err() == context.DeadlineExceeded {
		return solver.Solution{}, cedarerr.New(cedarerr.DeadlineExceeded, "tetra3 solve exceeded %s", timeout)
	}
	if ctx.Err() == context.Canceled {
		return solver.Solution{}, cedarerr.New(cedarerr.Aborted, "tetra3 solve cancelled")
	}
	if runErr != nil {
		return solver.Solution{}, cedarerr.New(cedarerr.Internal, "tetra3 script failed: %v: %s", runErr, stderr.String())
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return solver.Solution{}, cedarerr.Wrap(err, "parse tetra3 response")
	}
	if !resp.Ok {
		return solver.Solution{}, cedarerr.New(cedarerr.NotFound, "tetra3: %s", resp.Error)
	}

	return solver.Solution{
		Ra:              resp.Ra,
		Dec:             resp.Dec,
		RollDeg:         resp.RollDeg,
		FovDeg:          resp.FovDeg,
		Distortion:      resp.Distortion,
		MatchRmseArcsec: resp.MatchRmseArcsec,
		RotationMatrix:  resp.RotationMatrix,
		TargetPixel:     resp.TargetPixel,
		Matches:         resp.Matches,
		SolveDuration:   elapsed,
	}, nil
}

// Cancel aborts any in-flight solve by cancelling its context, which kills
// the subprocess.
func (s *Solver) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// DefaultTimeout bounds a single tetra3 invocation absent an explicit
// solver.Params.SolveTimeout.
func (s *Solver) DefaultTimeout() time.Duration {
	return 5 * time.Second
}

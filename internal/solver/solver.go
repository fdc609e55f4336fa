// Package solver defines the plate-solver capability contract. The solver
// engine itself is an external collaborator (internal/solver/tetra3 runs
// it as a subprocess); Cedar only specifies the boundary.
package solver

import (
	"time"

	"cedar/internal/astrometry"
)

// Centroid is a detected star position as handed to the solver.
type Centroid struct {
	X, Y       float64
	Brightness float64
}

// Params tunes a solve attempt.
type Params struct {
	// FovEstimateDeg, if non-nil, lets the solver search a narrow band
	// (+/-10%) instead of the full plate scale range.
	FovEstimateDeg   *float64
	Distortion       float64
	MatchMaxError    float64
	MatchRadius      float64
	MatchThreshold   float64
	SolveTimeout     time.Duration
}

// Extension carries optional request/response shaping that doesn't affect
// the solve itself.
type Extension struct {
	TargetPixel      *astrometry.ImageCoord
	TargetSkyCoord   *astrometry.EquatorialCoord
	ReturnMatches         bool
	ReturnCatalog         bool
	ReturnRotationMatrix  bool
}

// MatchedStar is one catalog-matched centroid, returned when
// Extension.ReturnMatches is set.
type MatchedStar struct {
	Pixel     astrometry.ImageCoord
	Magnitude float64
}

// Solution is a successful plate solve.
type Solution struct {
	Ra, Dec      float64 // degrees, J2000
	RollDeg      float64
	FovDeg       float64
	Distortion   float64
	MatchRmseArcsec float64
	RotationMatrix  astrometry.RotationMatrix
	TargetPixel     *astrometry.ImageCoord
	Matches         []MatchedStar
	SolveDuration   time.Duration
}

// Capability is the external plate-solver contract.
type Capability interface {
	// SolveFromCentroids attempts a solve. Errors use the cedarerr Kind
	// vocabulary (NotFound, DeadlineExceeded, Aborted, InvalidArgument).
	SolveFromCentroids(centroids []Centroid, width, height int, ext Extension, params Params) (Solution, error)
	// Cancel aborts any in-flight solve, causing it to return an Aborted
	// error as soon as the solver notices.
	Cancel()
	DefaultTimeout() time.Duration
}

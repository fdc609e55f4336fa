// Package camera defines the capability contract the detect engine and
// calibrator consume; the actual driver (ASI, Raspberry Pi HQ, or a
// recorded test image) lives outside this module and is injected at
// startup.
package camera

import (
	"context"
	"time"
)

// Image is one captured, demosaiced frame.
type Image struct {
	Width, Height int
	// Pixels is 8-bit grayscale, row-major, length Width*Height.
	Pixels []byte

	ExposureDuration time.Duration
	ReadoutTime      time.Time

	// ParamsAccurate is true if Pixels reflects the most recently requested
	// exposure/gain/offset settings (false for the frame or two captured
	// immediately after a setting change).
	ParamsAccurate bool

	// ProcessingDuration is the camera driver's own post-capture work
	// (demosaic, transfer); nil if not measured.
	ProcessingDuration *time.Duration
}

// FrameID is a monotonic, dense frame identifier.
type FrameID uint64

// Capability is the set of operations the core pipeline needs from a
// camera driver. Implementations must be safe for concurrent use; the core
// serializes access behind a single mutex but readers may poll
// TryCaptureImage concurrently with setting changes.
type Capability interface {
	// Dimensions returns the fixed sensor size in pixels.
	Dimensions() (width, height int)
	// SensorSizeMM returns the physical sensor size, used to derive focal
	// length from a measured field of view.
	SensorSizeMM() (width, height float64)

	OptimalGain() int
	SetGain(gain int) error
	// SetOffset may return errors wrapped with cedarerr.Unimplemented on
	// sensors with no offset control.
	SetOffset(offset int) error
	SetExposureDuration(d time.Duration) error
	SetUpdateInterval(d time.Duration) error
	SetInverted(inverted bool) error

	// TryCaptureImage returns the next frame strictly newer than prevID, or
	// ok=false if none is ready yet. Non-blocking; callers poll in a sleep
	// loop paced by EstimateDelay.
	TryCaptureImage(ctx context.Context, prevID FrameID) (img Image, id FrameID, ok bool, err error)

	// EstimateDelay hints how long to wait before the next frame after
	// prevID is likely ready; nil if unknown.
	EstimateDelay(prevID FrameID) *time.Duration
}

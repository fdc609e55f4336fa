package detect

import "cedar/internal/camera"

// Star is a detected centroid in full-resolution image coordinates.
type Star struct {
	X, Y         float64
	Brightness   float64
	NumSaturated int
}

// KernelResult is everything the external detect kernel computes from one
// image.
type KernelResult struct {
	Stars     []Star
	Histogram [256]uint32
	Noise     float64
	// Binned is non-nil only when requested and binning > 1.
	Binned *camera.Image
}

// Kernel is the pure-function star-detection contract. The detect engine
// depends only on this interface; internal/detectkernel provides the
// in-module implementation.
type Kernel interface {
	EstimateNoise(img camera.Image) float64
	Detect(img camera.Image, noiseEstimate, sigma float64, binning int, normalizeRows, detectHotPixels, returnBinnedImage bool) (KernelResult, error)
}

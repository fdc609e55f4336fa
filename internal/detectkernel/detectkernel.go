// Package detectkernel implements detect.Kernel in-process: a threshold
// and connected-component centroider good enough to drive the detect
// engine's auto-exposure loop without shelling out to the native
// cedar_detect kernel the original project uses. Noise/background
// statistics lean on gonum/stat rather than hand-rolled mean/variance
// loops.
package detectkernel

import (
	"gonum.org/v1/gonum/stat"

	"cedar/internal/camera"
	"cedar/internal/detect"
	"cedar/internal/imaging"
)

// Kernel is a software star detector: background noise is the standard
// deviation of pixel values after a sigma-clipped pass removes bright
// outliers, and stars are found via a simple flood-fill over pixels more
// than sigma*noise above the mean of all pixel values.
type Kernel struct{}

// New returns a Kernel; it carries no state.
func New() *Kernel { return &Kernel{} }

// EstimateNoise returns the sigma-clipped standard deviation of img's
// pixel values, used as the detect engine's background noise estimate.
func (Kernel) EstimateNoise(img camera.Image) float64 {
	values := toFloats(img.Pixels)
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.MeanStdDev(values, nil)
	clipped := make([]float64, 0, len(values))
	for _, v := range values {
		if v <= mean+3*std {
			clipped = append(clipped, v)
		}
	}
	if len(clipped) < 2 {
		return std
	}
	_, clippedStd := stat.MeanStdDev(clipped, nil)
	return clippedStd
}

// Detect thresholds img at noiseEstimate*sigma above background and
// flood-fills connected bright regions into star centroids.
func (k Kernel) Detect(img camera.Image, noiseEstimate, sigma float64, binning int, normalizeRows, detectHotPixels, returnBinnedImage bool) (detect.KernelResult, error) {
	var hist [256]uint32
	for _, p := range img.Pixels {
		hist[p]++
	}

	values := toFloats(img.Pixels)
	mean, _ := stat.MeanStdDev(values, nil)
	threshold := mean + sigma*noiseEstimate
	if threshold > 254 {
		threshold = 254
	}

	visited := make([]bool, len(img.Pixels))
	var stars []detect.Star

	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			idx := y*img.Width + x
			if visited[idx] || float64(img.Pixels[idx]) <= threshold {
				continue
			}
			sx, sy, sw, n, satCount := floodFill(img, visited, x, y, threshold)
			if n == 0 {
				continue
			}
			if n == 1 && !detectHotPixels {
				continue
			}
			stars = append(stars, detect.Star{
				X:            sx / sw,
				Y:            sy / sw,
				Brightness:   sw,
				NumSaturated: satCount,
			})
		}
	}

	result := detect.KernelResult{Stars: stars, Histogram: hist, Noise: noiseEstimate}
	if returnBinnedImage && binning > 1 {
		b := imaging.Bin(img, binning)
		result.Binned = &b
	}
	return result, nil
}

func toFloats(pixels []byte) []float64 {
	out := make([]float64, len(pixels))
	for i, p := range pixels {
		out[i] = float64(p)
	}
	return out
}

// floodFill accumulates brightness-weighted centroid position over the
// 4-connected region of pixels above threshold starting at (x0, y0).
func floodFill(img camera.Image, visited []bool, x0, y0 int, threshold float64) (sumX, sumY, sumW float64, count int, saturated int) {
	stack := [][2]int{{x0, y0}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := p[0], p[1]
		if x < 0 || x >= img.Width || y < 0 || y >= img.Height {
			continue
		}
		idx := y*img.Width + x
		if visited[idx] {
			continue
		}
		val := float64(img.Pixels[idx])
		if val <= threshold {
			continue
		}
		visited[idx] = true
		sumX += float64(x) * val
		sumY += float64(y) * val
		sumW += val
		count++
		if img.Pixels[idx] == 255 {
			saturated++
		}
		if count > 4096 {
			break
		}
		stack = append(stack, [2]int{x + 1, y}, [2]int{x - 1, y}, [2]int{x, y + 1}, [2]int{x, y - 1})
	}
	if sumW == 0 {
		return 0, 0, 1, 0, 0
	}
	return sumX, sumY, sumW, count, saturated
}

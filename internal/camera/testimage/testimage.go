// Package testimage implements camera.Capability by replaying a single
// still image from disk as an endless sequence of frames, the
// --test_image backend used for bench testing and CI without real camera
// hardware attached.
package testimage

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	"cedar/internal/camera"
	"cedar/internal/cedarerr"
)

// Camera serves repeated copies of one decoded grayscale image.
type Camera struct {
	mu               sync.Mutex
	pixels           []byte
	width, height    int
	gain             int
	offset           int
	exposure         time.Duration
	updateInterval   time.Duration
	inverted         bool
	lastID           camera.FrameID
	lastServedAt     time.Time
}

// Load decodes path (JPEG or PNG) into an 8-bit grayscale frame buffer.
func Load(path string) (*Camera, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cedarerr.Wrap(err, "open test image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, cedarerr.Wrap(err, "decode test image")
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pixels := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray := (299*r + 587*g + 114*b) / 1000
			pixels[y*w+x] = byte(gray >> 8)
		}
	}

	return &Camera{
		pixels:         pixels,
		width:          w,
		height:         h,
		exposure:       10 * time.Millisecond,
		updateInterval: 200 * time.Millisecond,
	}, nil
}

func (c *Camera) Dimensions() (int, int) { return c.width, c.height }

func (c *Camera) SensorSizeMM() (float64, float64) {
	return float64(c.width) * 0.0024, float64(c.height) * 0.0024
}

func (c *Camera) OptimalGain() int { return 100 }

func (c *Camera) SetGain(gain int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = gain
	return nil
}

func (c *Camera) SetOffset(offset int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = offset
	return nil
}

func (c *Camera) SetExposureDuration(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposure = d
	return nil
}

func (c *Camera) SetUpdateInterval(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateInterval = d
	return nil
}

func (c *Camera) SetInverted(inverted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inverted = inverted
	return nil
}

func (c *Camera) TryCaptureImage(ctx context.Context, prevID camera.FrameID) (camera.Image, camera.FrameID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastServedAt) < c.updateInterval {
		return camera.Image{}, 0, false, nil
	}

	out := make([]byte, len(c.pixels))
	if c.inverted {
		for i, p := range c.pixels {
			out[i] = 255 - p
		}
	} else {
		copy(out, c.pixels)
	}

	c.lastID++
	c.lastServedAt = time.Now()

	return camera.Image{
		Width:            c.width,
		Height:           c.height,
		Pixels:           out,
		ExposureDuration: c.exposure,
		ReadoutTime:      c.lastServedAt,
		ParamsAccurate:   true,
	}, c.lastID, true, nil
}

func (c *Camera) EstimateDelay(prevID camera.FrameID) *time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.updateInterval
	return &d
}

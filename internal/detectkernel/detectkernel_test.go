package detectkernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/camera"
)

func flatImage(w, h int, level byte) camera.Image {
	pixels := make([]byte, w*h)
	for i := range pixels {
		pixels[i] = level
	}
	return camera.Image{Width: w, Height: h, Pixels: pixels}
}

func TestEstimateNoiseFlatImageIsZero(t *testing.T) {
	img := flatImage(8, 8, 10)
	k := New()
	assert.InDelta(t, 0, k.EstimateNoise(img), 1e-9)
}

func TestDetectFindsSingleStarAboveThreshold(t *testing.T) {
	img := flatImage(10, 10, 5)
	img.Pixels[5*10+5] = 200
	img.Pixels[5*10+6] = 200
	img.Pixels[6*10+5] = 200

	k := New()
	result, err := k.Detect(img, 1.0, 3.0, 1, false, false, false)
	require.NoError(t, err)
	require.Len(t, result.Stars, 1)
	assert.InDelta(t, 5.33, result.Stars[0].X, 0.1)
	assert.InDelta(t, 5.33, result.Stars[0].Y, 0.1)
}

func TestDetectExcludesHotPixelsByDefault(t *testing.T) {
	img := flatImage(10, 10, 5)
	img.Pixels[5*10+5] = 200

	k := New()
	result, err := k.Detect(img, 1.0, 3.0, 1, false, false, false)
	require.NoError(t, err)
	assert.Empty(t, result.Stars)
}

func TestDetectIncludesHotPixelsWhenRequested(t *testing.T) {
	img := flatImage(10, 10, 5)
	img.Pixels[5*10+5] = 200

	k := New()
	result, err := k.Detect(img, 1.0, 3.0, 1, false, true, false)
	require.NoError(t, err)
	require.Len(t, result.Stars, 1)
	assert.InDelta(t, 200, result.Stars[0].Brightness, 1e-9)
	assert.Equal(t, 0, result.Stars[0].NumSaturated)
}

func TestDetectReturnsBinnedImageWhenRequested(t *testing.T) {
	img := flatImage(8, 8, 20)
	k := New()
	result, err := k.Detect(img, 1.0, 3.0, 2, false, false, true)
	require.NoError(t, err)
	require.NotNil(t, result.Binned)
	assert.Equal(t, 4, result.Binned.Width)
	assert.Equal(t, 4, result.Binned.Height)
}

func TestDetectOmitsBinnedImageWhenBinningIsOne(t *testing.T) {
	img := flatImage(8, 8, 20)
	k := New()
	result, err := k.Detect(img, 1.0, 3.0, 1, false, false, true)
	require.NoError(t, err)
	assert.Nil(t, result.Binned)
}

func TestDetectMarksSaturatedPixels(t *testing.T) {
	img := flatImage(10, 10, 5)
	img.Pixels[5*10+5] = 255
	img.Pixels[5*10+6] = 255

	k := New()
	result, err := k.Detect(img, 1.0, 3.0, 1, false, false, false)
	require.NoError(t, err)
	require.Len(t, result.Stars, 1)
	assert.Equal(t, 2, result.Stars[0].NumSaturated)
}

// Package imaging implements the small 8-bit grayscale operations the
// detect and solve engines need for display: bilinear binning (when
// binning > 1 and display_sampling is enabled) and extracting the
// boresight inset crop. It leans on golang.org/x/image/draw for the
// downsample the way the donor pipeline's own image-processing tasks lean
// on an external imaging library rather than hand-rolling resampling.
package imaging

import (
	"image"

	"golang.org/x/image/draw"

	"cedar/internal/camera"
)

// Bin downsamples img by factor using x/image/draw's bilinear scaler, returning a new image
// of size (Width/factor, Height/factor). factor <= 1 returns img unchanged.
func Bin(img camera.Image, factor int) camera.Image {
	if factor <= 1 {
		return img
	}
	src := toGray(img)
	dstW := img.Width / factor
	dstH := img.Height / factor
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}
	dst := image.NewGray(image.Rect(0, 0, dstW, dstH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := camera.Image{
		Width:              dstW,
		Height:             dstH,
		Pixels:             append([]byte(nil), dst.Pix...),
		ExposureDuration:   img.ExposureDuration,
		ReadoutTime:        img.ReadoutTime,
		ParamsAccurate:     img.ParamsAccurate,
		ProcessingDuration: img.ProcessingDuration,
	}
	return out
}

// Crop extracts the px,py,w,h rectangle from img, clamped to its bounds.
func Crop(img camera.Image, px, py, w, h int) camera.Image {
	if px < 0 {
		px = 0
	}
	if py < 0 {
		py = 0
	}
	if px+w > img.Width {
		w = img.Width - px
	}
	if py+h > img.Height {
		h = img.Height - py
	}
	if w <= 0 || h <= 0 {
		return camera.Image{Width: 0, Height: 0}
	}
	out := camera.Image{
		Width:              w,
		Height:             h,
		Pixels:             make([]byte, w*h),
		ExposureDuration:   img.ExposureDuration,
		ReadoutTime:        img.ReadoutTime,
		ParamsAccurate:     img.ParamsAccurate,
		ProcessingDuration: img.ProcessingDuration,
	}
	for row := 0; row < h; row++ {
		srcOff := (py+row)*img.Width + px
		dstOff := row * w
		copy(out.Pixels[dstOff:dstOff+w], img.Pixels[srcOff:srcOff+w])
	}
	return out
}

func toGray(img camera.Image) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	copy(g.Pix, img.Pixels)
	return g
}

package rpc

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"cedar/internal/camera"
	"cedar/internal/solve"
	"cedar/internal/telescope"
)

// SolveSource is the subset of *solve.Engine the RPC layer depends on;
// declaring it as an interface keeps this package decoupled from the
// engine's concrete type.
type SolveSource interface {
	GetNextResult(ctx context.Context, prevFrameID camera.FrameID, havePrev bool) (solve.PlateSolution, error)
}

// StarResponse is one detected centroid in full-resolution image coordinates.
type StarResponse struct {
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Brightness float64 `json:"brightness,omitempty"`
}

// CatalogEntryResponse is one in-FOV catalog object, projected to image
// pixel coordinates.
type CatalogEntryResponse struct {
	Name       string  `json:"name"`
	Ra         float64 `json:"ra,omitempty"`
	Dec        float64 `json:"dec,omitempty"`
	Magnitude  *float64 `json:"magnitude,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// SolutionResponse reports the plate solve's fitted attitude.
type SolutionResponse struct {
	Ra          float64 `json:"ra"`
	Dec         float64 `json:"dec"`
	RollDeg     float64 `json:"roll_deg"`
	FovDeg      float64 `json:"fov_deg"`
	Distortion  float64 `json:"distortion"`
	MatchCount  int     `json:"match_count"`
}

// SlewResponse describes an in-progress slew-to-target overlay.
type SlewResponse struct {
	TargetRa            float64  `json:"target_ra"`
	TargetDec           float64  `json:"target_dec"`
	DistanceDeg         float64  `json:"distance_deg"`
	AngleDeg            float64  `json:"angle_deg"`
	TargetImageX        *float64 `json:"target_image_x,omitempty"`
	TargetImageY        *float64 `json:"target_image_y,omitempty"`
}

// FrameResponse merges one detect/solve iteration's output into the single
// DTO the UI (and the LX200/Alpaca adapters indirectly, via the telescope
// record) consumes, replacing the donor pipeline's per-job-type result
// payload with Cedar's frame result.
type FrameResponse struct {
	FrameID        uint64                 `json:"frame_id"`
	ImageJPEG      []byte                 `json:"image_jpeg,omitempty"`
	DisplayJPEG    []byte                 `json:"display_jpeg,omitempty"`
	Width          int                    `json:"width,omitempty"`
	Height         int                    `json:"height,omitempty"`
	Stars          []StarResponse         `json:"stars,omitempty"`
	DaylightMode   bool                   `json:"daylight_mode"`
	Solution       *SolutionResponse      `json:"solution,omitempty"`
	CatalogEntries []CatalogEntryResponse `json:"catalog_entries,omitempty"`
	Slew           *SlewResponse          `json:"slew,omitempty"`
	BoresightRa    float64                `json:"boresight_ra,omitempty"`
	BoresightDec   float64                `json:"boresight_dec,omitempty"`
	ProcessingMs   int64                  `json:"processing_ms"`
}

func encodeJPEG(img *camera.Image) []byte {
	if img == nil || len(img.Pixels) == 0 {
		return nil
	}
	gray := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	copy(gray.Pix, img.Pixels)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gray, &jpeg.Options{Quality: 85}); err != nil {
		return nil
	}
	return buf.Bytes()
}

// BuildFrameResponse flattens a solve.PlateSolution and the shared
// telescope record into the wire DTO clients poll for.
func BuildFrameResponse(sol solve.PlateSolution, tel *telescope.Record) *FrameResponse {
	dr := sol.DetectResult
	resp := &FrameResponse{
		FrameID:      uint64(dr.FrameID),
		Width:        dr.Image.Width,
		Height:       dr.Image.Height,
		DaylightMode: dr.DaylightMode,
		ProcessingMs: sol.ProcessingDuration.Milliseconds(),
	}

	displayImg := &dr.Image
	if dr.BinnedImage != nil {
		displayImg = dr.BinnedImage
	}
	resp.DisplayJPEG = encodeJPEG(displayImg)
	if sol.BoresightImage != nil {
		resp.ImageJPEG = encodeJPEG(sol.BoresightImage)
	}

	for _, star := range dr.Stars {
		resp.Stars = append(resp.Stars, StarResponse{X: star.X, Y: star.Y, Brightness: star.Brightness})
	}

	if sol.Solution != nil {
		resp.Solution = &SolutionResponse{
			Ra:         sol.Solution.Ra,
			Dec:        sol.Solution.Dec,
			RollDeg:    sol.Solution.RollDeg,
			FovDeg:     sol.Solution.FovDeg,
			Distortion: sol.Solution.Distortion,
			MatchCount: len(sol.Solution.Matches),
		}
	}

	for _, fce := range sol.FovCatalogEntries {
		entry := CatalogEntryResponse{
			Name: fce.Entry.Name,
			Ra:   fce.Entry.Ra,
			Dec:  fce.Entry.Dec,
			X:    fce.ImagePos.X,
			Y:    fce.ImagePos.Y,
		}
		if fce.Entry.Magnitude != 0 {
			mag := fce.Entry.Magnitude
			entry.Magnitude = &mag
		}
		resp.CatalogEntries = append(resp.CatalogEntries, entry)
	}

	if sol.SlewRequest != nil {
		sr := sol.SlewRequest
		slew := &SlewResponse{
			TargetRa:    sr.TargetRa,
			TargetDec:   sr.TargetDec,
			DistanceDeg: sr.TargetDistanceDeg,
			AngleDeg:    sr.TargetAngleDeg,
		}
		if sr.ImagePos != nil {
			x, y := sr.ImagePos.X, sr.ImagePos.Y
			slew.TargetImageX = &x
			slew.TargetImageY = &y
		}
		resp.Slew = slew
	}

	if tel != nil {
		pos := tel.Snapshot()
		resp.BoresightRa = pos.BoresightRa
		resp.BoresightDec = pos.BoresightDec
	}

	return resp
}

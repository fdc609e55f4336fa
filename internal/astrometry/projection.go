package astrometry

import "math"

// RotationMatrix is a row-major 3x3 rotation matrix relating the camera
// frame to the celestial frame, as produced by the plate solver.
type RotationMatrix [9]float64

func (m RotationMatrix) mulColVec(v Vector3) Vector3 {
	return Vector3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

func (m RotationMatrix) mulColVecTranspose(v Vector3) Vector3 {
	return Vector3{
		m[0]*v[0] + m[3]*v[1] + m[6]*v[2],
		m[1]*v[0] + m[4]*v[1] + m[7]*v[2],
		m[2]*v[0] + m[5]*v[1] + m[8]*v[2],
	}
}

// distortCentroid is a port of Tetra3's _distort_centroids(): maps an
// undistorted image coordinate to its distorted (as actually imaged through
// the lens) position, via Newton iteration since the distortion model is
// only defined in the undistort direction closed-form.
func distortCentroid(x, y float64, width, height int, distortion float64) (float64, float64) {
	const tol = 1e-6
	const maxIter = 30
	k := distortion
	w, h := float64(width), float64(height)
	kPrime := k * (2.0 / w) * (2.0 / w)

	x -= w / 2.0
	y -= h / 2.0
	rUndist := math.Hypot(x, y)

	rDist := rUndist
	for i := 0; i < maxIter; i++ {
		rUndistEst := rDist * (1.0 - kPrime*rDist*rDist) / (1.0 - k)
		druDrd := (1.0 - 2.0*kPrime*rDist) / (1.0 - k)
		err := rUndist - rUndistEst
		rDist += err / druDrd
		if math.Abs(err) < tol {
			break
		}
	}
	if rUndist != 0 {
		x *= rDist / rUndist
		y *= rDist / rUndist
	}
	return x + w/2.0, y + h/2.0
}

// undistortCentroid is a port of Tetra3's _undistort_centroids(): the
// closed-form inverse of the lens distortion model.
func undistortCentroid(x, y float64, width, height int, distortion float64) (float64, float64) {
	k := distortion
	w, h := float64(width), float64(height)
	kPrime := k * (2.0 / w) * (2.0 / w)

	x -= w / 2.0
	y -= h / 2.0
	rDist := math.Hypot(x, y)
	scale := (1.0 - kPrime*rDist*rDist) / (1.0 - k)
	x *= scale
	y *= scale
	return x + w/2.0, y + h/2.0
}

// computeVector is a port of Tetra3's _compute_vectors(): maps an image
// pixel to the camera-frame unit vector it corresponds to, given the
// horizontal field of view (radians).
func computeVector(x, y float64, width, height int, fovRad float64) Vector3 {
	w, h := float64(width), float64(height)
	scale := 2.0 * math.Tan(fovRad/2.0) / w
	vy := (w/2.0 - x) * scale
	vz := (h/2.0 - y) * scale
	norm := math.Sqrt(vz*vz + vy*vy + 1.0)
	return Vector3{1.0 / norm, vy / norm, vz / norm}
}

// computeCentroid is a port of Tetra3's _compute_centroids(): the inverse of
// computeVector.
func computeCentroid(v Vector3, width, height int, fovRad float64) (float64, float64) {
	w, h := float64(width), float64(height)
	i, j, k := v[0], v[1], v[2]
	scale := -w / 2.0 / math.Tan(fovRad/2.0)
	x := scale*j/i + w/2.0
	y := scale*k/i + h/2.0
	return x, y
}

// TransformToImageCoord projects a celestial coordinate (ra, dec in degrees)
// into image-pixel coordinates, given the image size, horizontal field of
// view (degrees), the camera-to-celestial rotation matrix, and the radial
// distortion coefficient.
func TransformToImageCoord(raDeg, decDeg float64, width, height int, fovDeg float64, rot RotationMatrix, distortion float64) (x, y float64) {
	ra := degToRad(raDeg)
	dec := degToRad(decDeg)
	celestial := Vector3{math.Cos(ra) * math.Cos(dec), math.Sin(ra) * math.Cos(dec), math.Sin(dec)}
	derot := rot.mulColVec(celestial)
	cx, cy := computeCentroid(derot, width, height, degToRad(fovDeg))
	return distortCentroid(cx, cy, width, height, distortion)
}

// TransformToCelestialCoords is the exact inverse of TransformToImageCoord.
func TransformToCelestialCoords(x, y float64, width, height int, fovDeg float64, rot RotationMatrix, distortion float64) (raDeg, decDeg float64) {
	ux, uy := undistortCentroid(x, y, width, height, distortion)
	v := computeVector(ux, uy, width, height, degToRad(fovDeg))
	rotated := rot.mulColVecTranspose(v)
	ra := math.Mod(radToDeg(math.Atan2(rotated[1], rotated[0])), 360.0)
	if ra < 0 {
		ra += 360.0
	}
	dec := 90.0 - radToDeg(math.Acos(clamp(rotated[2], -1, 1)))
	return ra, dec
}

// ImageCoord is a point in full-resolution image pixel space.
type ImageCoord struct {
	X, Y float64
}

// StarCentroid is a detected (or catalog-synthesized) star position plus its
// relative brightness, as produced by the detect kernel or by
// FillInDetections.
type StarCentroid struct {
	Position    ImageCoord
	Brightness  float64
	NumSaturated int
}

// FovCatalogEntry is a catalog object projected into the current frame,
// carrying its magnitude and image position.
type FovCatalogEntry struct {
	ImagePos  ImageCoord
	Magnitude float64
}

func imageDistanceSq(a, b ImageCoord) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// FillInDetections augments detections (ordered by descending brightness)
// with catalog entries that have no corresponding detection (typically a
// bright star or planet that bloomed out and was missed by the detect
// kernel), so SETUP alignment mode can still offer the brightest object as a
// selection target. detections and catalogEntries must both be ordered by
// descending brightness/ascending magnitude respectively for the match to
// calibrate correctly; the merged result is ordered by descending
// brightness.
func FillInDetections(detections []StarCentroid, catalogEntries []FovCatalogEntry) []StarCentroid {
	const imageDistanceThresholdSq = 4.0

	foundMatch := false
	var matchMagnitude, matchBrightness float64
	for _, entry := range catalogEntries {
		for _, det := range detections {
			if imageDistanceSq(det.Position, entry.ImagePos) < imageDistanceThresholdSq {
				matchMagnitude = entry.Magnitude
				matchBrightness = det.Brightness
				foundMatch = true
				break
			}
		}
		if foundMatch {
			break
		}
	}
	if !foundMatch {
		out := make([]StarCentroid, len(detections))
		copy(out, detections)
		return out
	}

	var synthesized []StarCentroid
	for _, entry := range catalogEntries {
		found := false
		for _, det := range detections {
			if imageDistanceSq(det.Position, entry.ImagePos) < imageDistanceThresholdSq {
				found = true
				break
			}
		}
		if !found {
			brightness := matchBrightness * MagnitudeIntensityRatio(matchMagnitude, entry.Magnitude)
			synthesized = append(synthesized, StarCentroid{
				Position:   entry.ImagePos,
				Brightness: brightness,
			})
		}
	}

	merged := make([]StarCentroid, 0, len(detections)+len(synthesized))
	i, j := 0, 0
	for i < len(detections) && j < len(synthesized) {
		if detections[i].Brightness > synthesized[j].Brightness {
			merged = append(merged, detections[i])
			i++
		} else {
			merged = append(merged, synthesized[j])
			j++
		}
	}
	merged = append(merged, detections[i:]...)
	merged = append(merged, synthesized[j:]...)
	return merged
}

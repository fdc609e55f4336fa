package astrometry

import "math"

// Precess converts a celestial coordinate (degrees) from one epoch
// (decimal year, e.g. 2000.0 for J2000) to another (e.g. the current
// JNow), using the rigorous Meeus 21.4 precession formula. The rotation
// angles (zeta, z, theta) are the same quantities goeph's
// precessionMatrixInverse builds into an explicit 3x3 matrix; Cedar applies
// them directly to ra/dec since it never needs the matrix form elsewhere.
func Precess(raDeg, decDeg, fromEpoch, toEpoch float64) (outRaDeg, outDecDeg float64) {
	if fromEpoch == toEpoch {
		return raDeg, decDeg
	}
	// T: Julian centuries from J2000 to fromEpoch. t: centuries from
	// fromEpoch to toEpoch.
	bigT := (fromEpoch - 2000.0) / 100.0
	smallT := (toEpoch - fromEpoch) / 100.0

	arcsecToDeg := 1.0 / 3600.0
	zeta := ((2306.2181+1.39656*bigT-0.000139*bigT*bigT)*smallT +
		(0.30188-0.000344*bigT)*smallT*smallT +
		0.017998*smallT*smallT*smallT) * arcsecToDeg
	z := ((2306.2181+1.39656*bigT-0.000139*bigT*bigT)*smallT +
		(1.09468+0.000066*bigT)*smallT*smallT +
		0.018203*smallT*smallT*smallT) * arcsecToDeg
	theta := ((2004.3109-0.85330*bigT-0.000217*bigT*bigT)*smallT -
		(0.42665+0.000217*bigT)*smallT*smallT -
		0.041833*smallT*smallT*smallT) * arcsecToDeg

	ra := degToRad(raDeg)
	dec := degToRad(decDeg)
	zetaR := degToRad(zeta)
	zR := degToRad(z)
	thetaR := degToRad(theta)

	a := math.Cos(dec) * math.Sin(ra+zetaR)
	b := math.Cos(thetaR)*math.Cos(dec)*math.Cos(ra+zetaR) - math.Sin(thetaR)*math.Sin(dec)
	c := math.Sin(thetaR)*math.Cos(dec)*math.Cos(ra+zetaR) + math.Cos(thetaR)*math.Sin(dec)

	outRa := zR + math.Atan2(a, b)
	outDec := math.Asin(clamp(c, -1, 1))

	outRaDeg = radToDeg(limitToTwoPi(outRa))
	outDecDeg = radToDeg(outDec)
	return outRaDeg, outDecDeg
}

package message

import "gonum.org/v1/gonum/spatial/r3"

// MatrixFromSpacingOriginAxes packs voxel spacing, origin and the three axis
// directions into the 12-float layout carried by image headers and transforms:
// elements 0-2 hold i*s_i, 3-5 hold -(j*s_j), 6-8 hold -(k*s_k), 9-11 the origin.
func MatrixFromSpacingOriginAxes(spacing [3]float64, origin r3.Vec, axes [3]r3.Vec) [12]float32 {
	tx := r3.Scale(spacing[0], axes[0])
	ty := r3.Scale(-spacing[1], axes[1])
	tz := r3.Scale(-spacing[2], axes[2])
	return [12]float32{
		float32(tx.X), float32(tx.Y), float32(tx.Z),
		float32(ty.X), float32(ty.Y), float32(ty.Z),
		float32(tz.X), float32(tz.Y), float32(tz.Z),
		float32(origin.X), float32(origin.Y), float32(origin.Z),
	}
}

// SpacingOriginAxesFromMatrix inverts MatrixFromSpacingOriginAxes. Spacing is the
// norm of each column triple; the axes come back normalized, so non-orthonormal
// input does not survive a round trip.
func SpacingOriginAxesFromMatrix(m [12]float32) ([3]float64, r3.Vec, [3]r3.Vec) {
	cols := [3]r3.Vec{
		{X: float64(m[0]), Y: float64(m[1]), Z: float64(m[2])},
		r3.Scale(-1, r3.Vec{X: float64(m[3]), Y: float64(m[4]), Z: float64(m[5])}),
		r3.Scale(-1, r3.Vec{X: float64(m[6]), Y: float64(m[7]), Z: float64(m[8])}),
	}
	var spacing [3]float64
	var axes [3]r3.Vec
	for i, c := range cols {
		spacing[i] = r3.Norm(c)
		if spacing[i] > 0 {
			axes[i] = r3.Scale(1/spacing[i], c)
		}
	}
	origin := r3.Vec{X: float64(m[9]), Y: float64(m[10]), Z: float64(m[11])}
	return spacing, origin, axes
}

package frame

import (
	"math"

	"github.com/achilleasa/polaris-denoise/types"
)

// Encode a unit normal into spherical (theta, phi) coordinates as stored in
// the G-buffer normal image.
func EncodeNormal(n types.Vec3) (float32, float32) {
	n = n.Normalize()
	z := math.Max(-1, math.Min(1, float64(n[2])))
	theta := math.Acos(z)
	phi := math.Atan2(float64(n[1]), float64(n[0]))
	return float32(theta), float32(phi)
}

// Decode a normal stored in spherical coordinates.
func DecodeNormal(theta, phi float32) types.Vec3 {
	st, ct := math.Sincos(float64(theta))
	sp, cp := math.Sincos(float64(phi))
	return types.Vec3{float32(st * cp), float32(st * sp), float32(ct)}
}

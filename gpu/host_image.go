package gpu

import (
	"math"

	"github.com/achilleasa/polaris-denoise/types"
)

// HostImage is a host-visible view of an image's texels. Texels are stored
// row-major with Channels interleaved float32 values per pixel.
type HostImage struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

// Create a zeroed host image.
func NewHostImage(width, height, channels int) *HostImage {
	return &HostImage{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, width*height*channels),
	}
}

// Returns true if (x, y) lies inside the image.
func (img *HostImage) Inside(x, y int) bool {
	return x >= 0 && y >= 0 && x < img.Width && y < img.Height
}

// Offset of the first channel of texel (x, y).
func (img *HostImage) Offset(x, y int) int {
	return (y*img.Width + x) * img.Channels
}

// Get the first channel of a texel.
func (img *HostImage) Float(x, y int) float32 {
	return img.Pix[img.Offset(x, y)]
}

// Get up to four channels of a texel; missing channels read as zero.
func (img *HostImage) Vec4(x, y int) types.Vec4 {
	var out types.Vec4
	off := img.Offset(x, y)
	copy(out[:img.Channels], img.Pix[off:off+img.Channels])
	return out
}

// Get the first three channels of a texel.
func (img *HostImage) Vec3(x, y int) types.Vec3 {
	return img.Vec4(x, y).Vec3()
}

// Set the first channel of a texel.
func (img *HostImage) SetFloat(x, y int, v float32) {
	img.Pix[img.Offset(x, y)] = v
}

// Set up to four channels of a texel.
func (img *HostImage) SetVec4(x, y int, v types.Vec4) {
	off := img.Offset(x, y)
	copy(img.Pix[off:off+img.Channels], v[:img.Channels])
}

// Sample the texel at clamped integer coordinates.
func (img *HostImage) Clamped(x, y int) types.Vec4 {
	return img.Vec4(clampInt(x, 0, img.Width-1), clampInt(y, 0, img.Height-1))
}

// Bilinearly sample at continuous pixel coordinates (texel centres at +0.5)
// with clamp-to-edge addressing.
func (img *HostImage) Bilinear(px, py float32) types.Vec4 {
	fx, fy := px-0.5, py-0.5
	x0, y0 := int(math.Floor(float64(fx))), int(math.Floor(float64(fy)))
	tx, ty := fx-float32(x0), fy-float32(y0)

	var out types.Vec4
	taps := [4]struct {
		x, y int
		w    float32
	}{
		{x0, y0, (1 - tx) * (1 - ty)},
		{x0 + 1, y0, tx * (1 - ty)},
		{x0, y0 + 1, (1 - tx) * ty},
		{x0 + 1, y0 + 1, tx * ty},
	}
	for _, tap := range taps {
		if tap.w == 0 {
			continue
		}
		v := img.Clamped(tap.x, tap.y)
		for c := 0; c < 4; c++ {
			out[c] += v[c] * tap.w
		}
	}
	return out
}

// Fill all texels with the given channel values.
func (img *HostImage) Fill(value []float32) {
	for off := 0; off < len(img.Pix); off += img.Channels {
		for c := 0; c < img.Channels; c++ {
			var v float32
			if c < len(value) {
				v = value[c]
			}
			img.Pix[off+c] = v
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package bmfr

import (
	"fmt"
)

// Feature planes in the order they are stored in the feature buffer. The
// first NumFeatures planes form the regression basis; the remaining planes
// hold the noisy targets.
const (
	FeatureConst = iota
	FeatureX
	FeatureY
	FeatureXX
	FeatureYY
	FeatureXY
	FeatureNormalX
	FeatureNormalY
	FeatureNormalZ
	FeatureDepth
	TargetR
	TargetG
	TargetB

	NumPlanes   = TargetB + 1
	NumFeatures = TargetR
	NumTargets  = NumPlanes - NumFeatures
)

// Fractional per-frame block offsets. Shifting the block grid every frame
// moves the seams between blocks so that temporal filtering can hide them.
var blockOffsetSequence = [16][2]float32{
	{0.50, 0.50}, {0.25, 0.75}, {0.75, 0.25}, {0.125, 0.375},
	{0.625, 0.875}, {0.375, 0.125}, {0.875, 0.625}, {0.0625, 0.5625},
	{0.5625, 0.0625}, {0.3125, 0.8125}, {0.8125, 0.3125}, {0.1875, 0.1875},
	{0.6875, 0.6875}, {0.4375, 0.9375}, {0.9375, 0.4375}, {0, 0},
}

// Layout describes the padded block grid shared by all BMFR stages. Image
// pixel (x, y) lives at padded position (x+ox, y+oy) where (ox, oy) is the
// block offset of the current frame. Padded positions that do not map back
// into the image are padding.
//
// The feature buffer is plane-major: plane p of padded pixel (px, py) is
// stored at p*PlaneLen() + py*PaddedWidth + px. The weights buffer holds
// NumFeatures coefficients per target channel per block, ordered as
// [block][channel][feature].
type Layout struct {
	Width     int
	Height    int
	BlockSize int
	Offsets   bool

	BlocksX      int
	BlocksY      int
	PaddedWidth  int
	PaddedHeight int
}

// Create the layout for an image. With offsets enabled the grid is grown
// by one block in each direction so that shifted images still fit.
func NewLayout(width, height, blockSize int, offsets bool) (Layout, error) {
	if width <= 0 || height <= 0 {
		return Layout{}, fmt.Errorf("%w: invalid image size %dx%d", ErrInvalidConfig, width, height)
	}
	if blockSize < 1 {
		return Layout{}, fmt.Errorf("%w: block size must be >= 1; got %d", ErrInvalidConfig, blockSize)
	}

	l := Layout{
		Width:     width,
		Height:    height,
		BlockSize: blockSize,
		Offsets:   offsets,
		BlocksX:   (width + blockSize - 1) / blockSize,
		BlocksY:   (height + blockSize - 1) / blockSize,
	}
	if offsets {
		l.BlocksX++
		l.BlocksY++
	}
	l.PaddedWidth = l.BlocksX * blockSize
	l.PaddedHeight = l.BlocksY * blockSize
	return l, nil
}

// Number of blocks in the grid.
func (l Layout) Blocks() int {
	return l.BlocksX * l.BlocksY
}

// Number of values in a single feature plane.
func (l Layout) PlaneLen() int {
	return l.PaddedWidth * l.PaddedHeight
}

// Size of the feature buffer.
func (l Layout) FeaturesLen() int {
	return NumPlanes * l.PlaneLen()
}

// Size of the weights buffer.
func (l Layout) WeightsLen() int {
	return l.Blocks() * NumTargets * NumFeatures
}

// Index of a padded pixel's plane value in the feature buffer.
func (l Layout) FeatureIndex(plane, px, py int) int {
	return plane*l.PlaneLen() + py*l.PaddedWidth + px
}

// Index of a block coefficient in the weights buffer.
func (l Layout) WeightIndex(block, channel, feature int) int {
	return (block*NumTargets+channel)*NumFeatures + feature
}

// Get the block containing a padded pixel.
func (l Layout) BlockAt(px, py int) int {
	return (py/l.BlockSize)*l.BlocksX + px/l.BlockSize
}

// Get the block offset for a frame. Without offsets this is always (0, 0).
func (l Layout) Offset(frameIndex uint32) (int, int) {
	if !l.Offsets {
		return 0, 0
	}
	f := blockOffsetSequence[frameIndex%uint32(len(blockOffsetSequence))]
	return int(f[0] * float32(l.BlockSize)), int(f[1] * float32(l.BlockSize))
}

// Map a padded pixel back to the image. The returned flag is false for
// padding pixels.
func (l Layout) ImageCoord(px, py, ox, oy int) (int, int, bool) {
	x, y := px-ox, py-oy
	return x, y, x >= 0 && y >= 0 && x < l.Width && y < l.Height
}

// Push constant block shared by the BMFR kernels.
const (
	pushWidth = iota
	pushHeight
	pushBlockSize
	pushOffsets
	pushOffsetX
	pushOffsetY
	pushLambda
	pushLen
)

func (l Layout) encode(ox, oy int, lambda float32) []float32 {
	push := make([]float32, pushLen)
	push[pushWidth] = float32(l.Width)
	push[pushHeight] = float32(l.Height)
	push[pushBlockSize] = float32(l.BlockSize)
	if l.Offsets {
		push[pushOffsets] = 1
	}
	push[pushOffsetX] = float32(ox)
	push[pushOffsetY] = float32(oy)
	push[pushLambda] = lambda
	return push
}

// Rebuild the layout from a push constant block.
func decodePush(push []float32) (l Layout, ox, oy int, lambda float32, err error) {
	if len(push) != pushLen {
		return l, 0, 0, 0, fmt.Errorf("bmfr: expected %d push constants; got %d", pushLen, len(push))
	}
	l, err = NewLayout(int(push[pushWidth]), int(push[pushHeight]), int(push[pushBlockSize]), push[pushOffsets] > 0.5)
	return l, int(push[pushOffsetX]), int(push[pushOffsetY]), push[pushLambda], err
}

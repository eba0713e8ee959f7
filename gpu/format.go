package gpu

import "fmt"

// Pixel format of an image. All formats are stored as float32 channels;
// the format controls the channel count and the precision kept after
// every write.
type Format uint8

const (
	FormatUndefined Format = iota
	FormatR32F
	FormatRG32F
	FormatRGBA8
	FormatRGBA16F
	FormatRGBA32F
)

// Number of channels per pixel.
func (f Format) Channels() int {
	switch f {
	case FormatR32F:
		return 1
	case FormatRG32F:
		return 2
	case FormatRGBA8, FormatRGBA16F, FormatRGBA32F:
		return 4
	}
	return 0
}

// Returns true if values written to this format lose precision.
func (f Format) Quantized() bool {
	return f == FormatRGBA8 || f == FormatRGBA16F
}

func (f Format) String() string {
	switch f {
	case FormatR32F:
		return "R32F"
	case FormatRG32F:
		return "RG32F"
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGBA16F:
		return "RGBA16F"
	case FormatRGBA32F:
		return "RGBA32F"
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Usage flags for images and buffers.
type Usage uint8

const (
	UsageSampled Usage = 1 << iota
	UsageStorage
	UsageTransferSrc
	UsageTransferDst

	// Common combination for images that are written by kernels and copied around.
	UsageDefault = UsageSampled | UsageStorage | UsageTransferSrc | UsageTransferDst
)

// Image layouts.
type Layout uint8

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	}
	return fmt.Sprintf("Layout(%d)", uint8(l))
}

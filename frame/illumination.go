package frame

import (
	"fmt"
	"strings"

	"github.com/achilleasa/polaris-denoise/gpu"
)

// Channel is the named binding of an illumination buffer image.
type Channel string

const (
	ChannelOutput               Channel = "outputImage"
	ChannelIllumination         Channel = "illumination"
	ChannelIlluminationSquared  Channel = "illuminationSquared"
	ChannelDirectIllumination   Channel = "directIllumination"
	ChannelIndirectIllumination Channel = "indirectIllumination"
)

// Variant identifies an illumination buffer layout.
type Variant uint8

const (
	Final Variant = iota
	FinalFloat
	FinalDirIndir
	FinalDemodulated
	Demodulated
	DemodulatedFloat
	numVariants
)

// A single image slot of a variant layout.
type slot struct {
	channel Channel
	format  gpu.Format
}

// Fixed image layouts for each variant.
var variantLayouts = [numVariants][]slot{
	Final: {
		{ChannelOutput, gpu.FormatRGBA8},
	},
	FinalFloat: {
		{ChannelOutput, gpu.FormatRGBA32F},
	},
	FinalDirIndir: {
		{ChannelOutput, gpu.FormatRGBA32F},
		{ChannelDirectIllumination, gpu.FormatRGBA32F},
		{ChannelIndirectIllumination, gpu.FormatRGBA32F},
	},
	FinalDemodulated: {
		{ChannelOutput, gpu.FormatRGBA32F},
		{ChannelIllumination, gpu.FormatRGBA32F},
		{ChannelIlluminationSquared, gpu.FormatRGBA32F},
	},
	Demodulated: {
		{ChannelIllumination, gpu.FormatRGBA16F},
		{ChannelIlluminationSquared, gpu.FormatRGBA16F},
	},
	DemodulatedFloat: {
		{ChannelIllumination, gpu.FormatRGBA32F},
	},
}

func (v Variant) String() string {
	switch v {
	case Final:
		return "final"
	case FinalFloat:
		return "final-float"
	case FinalDirIndir:
		return "final-dir-indir"
	case FinalDemodulated:
		return "final-demodulated"
	case Demodulated:
		return "demodulated"
	case DemodulatedFloat:
		return "demodulated-float"
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

// Parse a variant name as returned by Variant.String.
func ParseVariant(name string) (Variant, error) {
	for v := Variant(0); v < numVariants; v++ {
		if strings.EqualFold(v.String(), name) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownVariant, name)
}

// Returns true if the variant layout contains the channel.
func (v Variant) Has(ch Channel) bool {
	if v >= numVariants {
		return false
	}
	for _, s := range variantLayouts[v] {
		if s.channel == ch {
			return true
		}
	}
	return false
}

// Get the ordered list of channels for the variant.
func (v Variant) Channels() []Channel {
	if v >= numVariants {
		return nil
	}
	out := make([]Channel, len(variantLayouts[v]))
	for idx, s := range variantLayouts[v] {
		out[idx] = s.channel
	}
	return out
}

// IlluminationBuffer holds the images of one illumination variant.
type IlluminationBuffer struct {
	Width  int
	Height int

	variant Variant
	images  []*gpu.Image
}

// Allocate an illumination buffer. The prefix is prepended to image names.
func NewIlluminationBuffer(p gpu.Provider, variant Variant, prefix string, width, height int) (*IlluminationBuffer, error) {
	if variant >= numVariants {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, variant)
	}

	ib := &IlluminationBuffer{
		Width:   width,
		Height:  height,
		variant: variant,
		images:  make([]*gpu.Image, 0, len(variantLayouts[variant])),
	}
	for _, s := range variantLayouts[variant] {
		img, err := p.CreateImage(prefix+string(s.channel), width, height, s.format, gpu.UsageDefault)
		if err != nil {
			ib.Release(p)
			return nil, err
		}
		ib.images = append(ib.images, img)
	}

	if err := gpu.InitImages(p, ib.images...); err != nil {
		ib.Release(p)
		return nil, err
	}
	return ib, nil
}

// Get the buffer variant.
func (ib *IlluminationBuffer) Variant() Variant {
	return ib.variant
}

// Get the image bound to a channel.
func (ib *IlluminationBuffer) Image(ch Channel) (*gpu.Image, bool) {
	for idx, s := range variantLayouts[ib.variant] {
		if s.channel == ch {
			return ib.images[idx], true
		}
	}
	return nil, false
}

// Get the image for a channel that RequireChannels has already verified.
func (ib *IlluminationBuffer) MustImage(ch Channel) *gpu.Image {
	img, ok := ib.Image(ch)
	if !ok {
		panic(fmt.Sprintf("frame: variant %s has no %s channel", ib.variant, ch))
	}
	return img
}

// Get all images in variant order.
func (ib *IlluminationBuffer) Images() []*gpu.Image {
	return ib.images
}

// Release the buffer images.
func (ib *IlluminationBuffer) Release(p gpu.Provider) {
	for _, img := range ib.images {
		p.Release(img)
	}
	ib.images = nil
}

// Ensure that the buffer exposes all listed channels.
func RequireChannels(ib *IlluminationBuffer, channels ...Channel) error {
	if ib == nil {
		return fmt.Errorf("%w: no illumination buffer supplied", ErrUnsupportedVariant)
	}
	for _, ch := range channels {
		if !ib.variant.Has(ch) {
			return fmt.Errorf("%w: variant %s has no %q channel", ErrUnsupportedVariant, ib.variant, ch)
		}
	}
	return nil
}

// Ensure that two buffers share the same dimensions.
func RequireSize(what string, w, h, expW, expH int) error {
	if w != expW || h != expH {
		return fmt.Errorf("%w: %s is %dx%d; expected %dx%d", ErrSizeMismatch, what, w, h, expW, expH)
	}
	return nil
}

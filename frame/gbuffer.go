package frame

import (
	"github.com/achilleasa/polaris-denoise/gpu"
)

// GBuffer holds the per-frame geometric attributes written by the tracer.
//
// Depth is the linear view-space distance along -Z; values <= 0 mark
// pixels where the primary ray missed all geometry. Normals are stored
// spherical-encoded (see EncodeNormal). The material id lives in the red
// channel of the material image.
type GBuffer struct {
	Width  int
	Height int

	Depth    *gpu.Image
	Normal   *gpu.Image
	Material *gpu.Image
	Albedo   *gpu.Image
}

// Allocate a G-buffer and move its images into the general layout.
func NewGBuffer(p gpu.Provider, width, height int) (*GBuffer, error) {
	gb := &GBuffer{Width: width, Height: height}

	specs := []struct {
		dst    **gpu.Image
		name   string
		format gpu.Format
	}{
		{&gb.Depth, "depth", gpu.FormatR32F},
		{&gb.Normal, "normal", gpu.FormatRG32F},
		{&gb.Material, "material", gpu.FormatRGBA8},
		{&gb.Albedo, "albedo", gpu.FormatRGBA8},
	}

	for _, s := range specs {
		img, err := p.CreateImage(s.name, width, height, s.format, gpu.UsageDefault)
		if err != nil {
			gb.Release(p)
			return nil, err
		}
		*s.dst = img
	}

	if err := gpu.InitImages(p, gb.Images()...); err != nil {
		gb.Release(p)
		return nil, err
	}
	return gb, nil
}

// Get all G-buffer images.
func (gb *GBuffer) Images() []*gpu.Image {
	return []*gpu.Image{gb.Depth, gb.Normal, gb.Material, gb.Albedo}
}

// Get G-buffer images as named bindings.
func (gb *GBuffer) Bindings() gpu.Bindings {
	return gpu.Bindings{
		"depth":    gb.Depth,
		"normal":   gb.Normal,
		"material": gb.Material,
		"albedo":   gb.Albedo,
	}
}

// Release the G-buffer images.
func (gb *GBuffer) Release(p gpu.Provider) {
	for _, img := range gb.Images() {
		if img != nil {
			p.Release(img)
		}
	}
}

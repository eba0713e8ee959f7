package frame

import (
	"fmt"

	"github.com/achilleasa/polaris-denoise/gpu"
)

// AccumulationBuffer holds the temporal history used for reprojection.
//
// The Prev* images describe the end of the previous frame and are written
// exclusively by CopyToBackImages (and CommitOutput for PrevOutput), once
// per frame after every consumer has read them. Spp and Motion are written
// by the accumulator during the current frame.
type AccumulationBuffer struct {
	Width  int
	Height int

	PrevIllu        *gpu.Image
	PrevIlluSquared *gpu.Image
	PrevDepth       *gpu.Image
	PrevNormal      *gpu.Image
	PrevSpp         *gpu.Image
	PrevOutput      *gpu.Image

	Spp    *gpu.Image
	Motion *gpu.Image
}

// Allocate an accumulation buffer whose illumination history uses the given
// format. All images start zeroed which marks every pixel as having no history.
func NewAccumulationBuffer(p gpu.Provider, width, height int, illuFormat gpu.Format) (*AccumulationBuffer, error) {
	ab := &AccumulationBuffer{Width: width, Height: height}

	specs := []struct {
		dst    **gpu.Image
		name   string
		format gpu.Format
	}{
		{&ab.PrevIllu, "prevIllu", illuFormat},
		{&ab.PrevIlluSquared, "prevIlluSquared", illuFormat},
		{&ab.PrevDepth, "prevDepth", gpu.FormatR32F},
		{&ab.PrevNormal, "prevNormal", gpu.FormatRG32F},
		{&ab.PrevSpp, "prevSpp", gpu.FormatR32F},
		{&ab.PrevOutput, "prevOutput", gpu.FormatRGBA32F},
		{&ab.Spp, "spp", gpu.FormatR32F},
		{&ab.Motion, "motion", gpu.FormatRGBA32F},
	}

	for _, s := range specs {
		img, err := p.CreateImage(s.name, width, height, s.format, gpu.UsageDefault)
		if err != nil {
			ab.Release(p)
			return nil, err
		}
		*s.dst = img
	}

	cmds := gpu.NewCommandList()
	for _, img := range ab.Images() {
		cmds.Transition(img, gpu.LayoutUndefined, gpu.LayoutGeneral)
	}
	ab.Reset(cmds)
	if err := p.Submit(cmds); err != nil {
		ab.Release(p)
		return nil, err
	}
	return ab, nil
}

// Get all images.
func (ab *AccumulationBuffer) Images() []*gpu.Image {
	return []*gpu.Image{
		ab.PrevIllu, ab.PrevIlluSquared, ab.PrevDepth, ab.PrevNormal,
		ab.PrevSpp, ab.PrevOutput, ab.Spp, ab.Motion,
	}
}

// Record the commands that snapshot the current G-buffer, sample counts and
// illumination into the history images. Only buffers exposing both the
// illumination and illuminationSquared channels are accepted.
func (ab *AccumulationBuffer) CopyToBackImages(cmds *gpu.CommandList, gb *GBuffer, ib *IlluminationBuffer) error {
	if err := RequireChannels(ib, ChannelIllumination, ChannelIlluminationSquared); err != nil {
		return err
	}
	if err := RequireSize("g-buffer", gb.Width, gb.Height, ab.Width, ab.Height); err != nil {
		return err
	}
	if err := RequireSize("illumination buffer", ib.Width, ib.Height, ab.Width, ab.Height); err != nil {
		return err
	}

	illu := ib.MustImage(ChannelIllumination)
	illuSq := ib.MustImage(ChannelIlluminationSquared)
	if illu.Format() != ab.PrevIllu.Format() {
		return fmt.Errorf("%w: illumination is %s; history expects %s", gpu.ErrFormatMismatch, illu.Format(), ab.PrevIllu.Format())
	}

	cmds.CopyImage(gb.Depth, ab.PrevDepth)
	cmds.CopyImage(gb.Normal, ab.PrevNormal)
	cmds.CopyImage(ab.Spp, ab.PrevSpp)
	cmds.CopyImage(illu, ab.PrevIllu)
	cmds.CopyImage(illuSq, ab.PrevIlluSquared)
	cmds.Barrier(ab.PrevDepth, ab.PrevNormal, ab.PrevSpp, ab.PrevIllu, ab.PrevIlluSquared)
	return nil
}

// Record the commands that store the final output image as the history
// for the next frame's temporal anti-aliasing pass.
func (ab *AccumulationBuffer) CommitOutput(cmds *gpu.CommandList, output *gpu.Image) error {
	if output.Format() != ab.PrevOutput.Format() {
		return fmt.Errorf("%w: output is %s; history expects %s", gpu.ErrFormatMismatch, output.Format(), ab.PrevOutput.Format())
	}
	if err := RequireSize("output image", output.Width(), output.Height(), ab.Width, ab.Height); err != nil {
		return err
	}

	cmds.CopyImage(output, ab.PrevOutput)
	cmds.Barrier(ab.PrevOutput)
	return nil
}

// Record the commands that discard all history. The next frame accumulates
// from scratch.
func (ab *AccumulationBuffer) Reset(cmds *gpu.CommandList) {
	for _, img := range ab.Images() {
		cmds.Fill(img)
	}
	cmds.Barrier(ab.resources()...)
}

// Release all images.
func (ab *AccumulationBuffer) Release(p gpu.Provider) {
	for _, img := range ab.Images() {
		if img != nil {
			p.Release(img)
		}
	}
}

func (ab *AccumulationBuffer) resources() []gpu.Resource {
	images := ab.Images()
	out := make([]gpu.Resource, len(images))
	for idx, img := range images {
		out[idx] = img
	}
	return out
}

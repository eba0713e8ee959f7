package renderer

import (
	"fmt"

	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
)

// An alias for functions that can be used as part of the denoising pipeline.
// Stages record commands into the frame's command list; nothing executes
// until the list is submitted.
type Stage func(s *Session, cmds *gpu.CommandList) error

// The list of pluggable stages that are used to produce a frame.
type Pipeline struct {
	// Reset the accumulated history. This stage is executed when the
	// session history is reset or, if enabled, when the camera moves.
	Reset Stage

	// Blend the noisy frame with the reprojected history.
	Accumulate Stage

	// Reconstruct the clean illumination from the accumulated estimate.
	Denoise Stage

	// A set of post-processing stages that are executed prior to
	// producing the final frame.
	PostProcess []Stage

	// Commit the per-frame state that the next frame reprojects. This
	// stage runs after every other stage.
	Commit Stage
}

// Build the default pipeline for the given options.
func DefaultPipeline(opts Options) *Pipeline {
	pipeline := &Pipeline{
		Reset:      ClearHistory(),
		Accumulate: TemporalAccumulation(),
		Denoise:    Denoise(),
		Commit:     CommitHistory(),
	}

	if opts.TAA {
		pipeline.PostProcess = append(pipeline.PostProcess, TemporalAntiAliasing())
	} else {
		pipeline.PostProcess = append(pipeline.PostProcess, Modulate())
	}
	pipeline.PostProcess = append(pipeline.PostProcess, ConvertOutput())

	return pipeline
}

// Get the per-frame stages in execution order.
func (p *Pipeline) frameStages() []Stage {
	stages := []Stage{p.Accumulate, p.Denoise}
	stages = append(stages, p.PostProcess...)
	stages = append(stages, p.Commit)

	out := stages[:0]
	for _, stage := range stages {
		if stage != nil {
			out = append(out, stage)
		}
	}
	return out
}

// Clear the accumulation history images.
func ClearHistory() Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		s.accum.Reset(cmds)
		return nil
	}
}

// Reproject and blend the history with the current noisy frame.
func TemporalAccumulation() Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		return s.accumulator.Dispatch(cmds, s.curCamera, s.prevCamera, s.hasHistory)
	}
}

// Run the configured denoiser on the accumulated illumination.
func Denoise() Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		return s.denoiser.Dispatch(cmds, s.frameIndex)
	}
}

// Remodulate and blend with the anti-aliased output of the previous frame.
func TemporalAntiAliasing() Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		if s.taa == nil {
			return fmt.Errorf("%w: taa", ErrStageDisabled)
		}
		return s.taa.Dispatch(cmds)
	}
}

// Remodulate the denoised illumination by albedo.
func Modulate() Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		if s.modulator == nil {
			return fmt.Errorf("%w: modulate", ErrStageDisabled)
		}
		return s.modulator.Dispatch(cmds)
	}
}

// Convert the remodulated colour into the output format.
func ConvertOutput() Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		return s.converter.Dispatch(cmds)
	}
}

// Store the current geometry and accumulated illumination as history and,
// when TAA is active, the anti-aliased output.
func CommitHistory() Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		if err := s.accum.CopyToBackImages(cmds, s.gbuffer, s.accumulator.Output()); err != nil {
			return err
		}
		if s.taa != nil {
			return s.taa.Commit(cmds)
		}
		return nil
	}
}

// Record a copy of an illumination channel into a caller-owned image. The
// copy sees the state after all preceding stages.
func CaptureChannel(source func(s *Session) *frame.IlluminationBuffer, ch frame.Channel, dst *gpu.Image) Stage {
	return func(s *Session, cmds *gpu.CommandList) error {
		ib := source(s)
		if err := frame.RequireChannels(ib, ch); err != nil {
			return err
		}
		src := ib.MustImage(ch)
		if src.Format() != dst.Format() {
			return fmt.Errorf("%w: %s is %s; capture target is %s", gpu.ErrFormatMismatch, src.Name(), src.Format(), dst.Format())
		}
		cmds.CopyImage(src, dst)
		cmds.Barrier(dst)
		return nil
	}
}

package taa

import (
	"errors"
	"fmt"

	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
	"github.com/achilleasa/polaris-denoise/types"
)

const kernelName = "taa"

var (
	ErrInvalidConfig = errors.New("taa: invalid configuration")
	ErrNotCompiled   = errors.New("taa: dispatch before compile")
)

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: kernelName,
		Bindings: []gpu.Binding{
			{Name: "finalIllumination", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "albedo", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "motion", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "prevOutput", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "outputImage", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: taaHost,
	})
}

func taaHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	if len(push) != 1 {
		return nil, fmt.Errorf("taa: expected 1 push constant; got %d", len(push))
	}
	alpha := push[0]

	illu, albedo := res.Image("finalIllumination"), res.Image("albedo")
	motion, prev := res.Image("motion"), res.Image("prevOutput")
	out := res.Image("outputImage")

	colorAt := func(x, y int) types.Vec3 {
		return illu.Clamped(x, y).Vec3().MulVec(albedo.Clamped(x, y).Vec3())
	}

	return func(x, y int) {
		cur := colorAt(x, y)
		m := motion.Vec4(x, y)
		if m[2] < 0.5 {
			out.SetVec4(x, y, cur.Vec4(1))
			return
		}

		lo, hi := cur, cur
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				c := colorAt(x+dx, y+dy)
				lo, hi = types.MinVec3(lo, c), types.MaxVec3(hi, c)
			}
		}

		hist := prev.Bilinear(float32(x)+0.5-m[0], float32(y)+0.5-m[1]).Vec3().Clamp(lo, hi)
		out.SetVec4(x, y, hist.Lerp(cur, alpha).Vec4(1))
	}, nil
}

// Config controls temporal anti-aliasing.
type Config struct {
	// Weight of the current frame.
	Alpha float32
}

// Get the default TAA configuration.
func DefaultConfig() Config {
	return Config{Alpha: 0.1}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in (0, 1]; got %f", ErrInvalidConfig, c.Alpha)
	}
	return nil
}

// Taa remodulates the denoised illumination by albedo and blends it with
// the reprojected, neighbourhood-clamped output of the previous frame.
type Taa struct {
	logger   log.Logger
	cfg      Config
	provider gpu.Provider
	ab       *frame.AccumulationBuffer

	width    int
	height   int
	output   *frame.IlluminationBuffer
	pipeline *gpu.Pipeline
}

// Create a new TAA pass.
func New(cfg Config) *Taa {
	return &Taa{
		logger: log.New("taa"),
		cfg:    cfg,
	}
}

// Allocate the output image and build the pipeline.
func (t *Taa) Compile(p gpu.Provider, gb *frame.GBuffer, denoised *frame.IlluminationBuffer, ab *frame.AccumulationBuffer) error {
	if err := t.cfg.Validate(); err != nil {
		return err
	}
	if err := frame.RequireChannels(denoised, frame.ChannelIllumination); err != nil {
		return err
	}
	if err := frame.RequireSize("denoised buffer", denoised.Width, denoised.Height, gb.Width, gb.Height); err != nil {
		return err
	}
	if err := frame.RequireSize("accumulation buffer", ab.Width, ab.Height, gb.Width, gb.Height); err != nil {
		return err
	}
	t.Release()

	output, err := frame.NewIlluminationBuffer(p, frame.FinalFloat, "taa-", gb.Width, gb.Height)
	if err != nil {
		return err
	}
	pipeline, err := p.CreateComputeDispatch(kernelName, gpu.Bindings{
		"finalIllumination": denoised.MustImage(frame.ChannelIllumination),
		"albedo":            gb.Albedo,
		"motion":            ab.Motion,
		"prevOutput":        ab.PrevOutput,
		"outputImage":       output.MustImage(frame.ChannelOutput),
	})
	if err != nil {
		output.Release(p)
		return err
	}

	t.provider, t.ab = p, ab
	t.output, t.pipeline = output, pipeline
	t.width, t.height = gb.Width, gb.Height
	t.logger.Debugf("compiled for %dx%d (alpha %.3f)", t.width, t.height, t.cfg.Alpha)
	return nil
}

// Record the TAA pass followed by a barrier on its output.
func (t *Taa) Dispatch(cmds *gpu.CommandList) error {
	if t.pipeline == nil {
		return ErrNotCompiled
	}
	out := t.output.MustImage(frame.ChannelOutput)
	cmds.Dispatch(t.pipeline, []float32{t.cfg.Alpha}, t.width, t.height)
	cmds.Barrier(out)
	return nil
}

// Record the copy of the output into the TAA history. Must be recorded
// after every consumer of the previous history has run.
func (t *Taa) Commit(cmds *gpu.CommandList) error {
	if t.pipeline == nil {
		return ErrNotCompiled
	}
	return t.ab.CommitOutput(cmds, t.output.MustImage(frame.ChannelOutput))
}

// The anti-aliased output (FinalFloat).
func (t *Taa) Output() *frame.IlluminationBuffer {
	return t.output
}

func (t *Taa) Release() {
	if t.output != nil {
		t.output.Release(t.provider)
		t.output = nil
	}
	t.pipeline = nil
}

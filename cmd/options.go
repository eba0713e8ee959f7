package cmd

import (
	"fmt"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/denoiser/convert"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/gpu/host"
	"github.com/achilleasa/polaris-denoise/gpu/opencl"
	"github.com/achilleasa/polaris-denoise/renderer"
	"github.com/urfave/cli"
)

// Flags shared by all commands that run a denoising session.
var SessionFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "provider",
		Value: "host",
		Usage: "compute provider (host or opencl)",
	},
	cli.IntFlag{
		Name:  "workers",
		Value: 0,
		Usage: "host provider workers; 0 uses one per CPU",
	},
	cli.StringFlag{
		Name:  "device-type",
		Value: "all",
		Usage: "opencl device type (cpu, gpu, other or all)",
	},
	cli.StringFlag{
		Name:  "device",
		Usage: "select the opencl device whose name contains this value",
	},
	cli.BoolFlag{
		Name:  "profile",
		Usage: "wait for every opencl dispatch so kernel timings are accurate",
	},
	cli.StringFlag{
		Name:  "denoiser, d",
		Value: "bmfr",
		Usage: "denoiser (bmfr, bfr or none)",
	},
	cli.IntFlag{
		Name:  "block-size",
		Value: 32,
		Usage: "bmfr block size",
	},
	cli.BoolFlag{
		Name:  "no-block-offsets",
		Usage: "keep the bmfr block grid fixed between frames",
	},
	cli.IntFlag{
		Name:  "max-samples",
		Value: 32,
		Usage: "cap for the number of accumulated samples per pixel",
	},
	cli.BoolFlag{
		Name:  "reset-on-move",
		Usage: "discard history whenever the camera moves instead of reprojecting",
	},
	cli.BoolFlag{
		Name:  "no-taa",
		Usage: "disable temporal anti-aliasing",
	},
	cli.Float64Flag{
		Name:  "taa-alpha",
		Value: 0.1,
		Usage: "weight of the current frame in temporal anti-aliasing",
	},
	cli.Float64Flag{
		Name:  "exposure",
		Value: 0,
		Usage: "exposure adjustment in stops",
	},
	cli.BoolFlag{
		Name:  "no-tonemap",
		Usage: "disable tonemapping",
	},
	cli.BoolFlag{
		Name:  "linear",
		Usage: "write linear output instead of sRGB",
	},
	cli.BoolFlag{
		Name:  "stats",
		Usage: "display per-frame statistics",
	},
}

// Build session options from the command line.
func sessionOptions(ctx *cli.Context, width, height int) (renderer.Options, error) {
	opts := renderer.DefaultOptions()
	opts.FrameW, opts.FrameH = uint32(width), uint32(height)

	denoiserType, err := denoiser.ParseType(ctx.String("denoiser"))
	if err != nil {
		return opts, err
	}
	opts.Denoiser = denoiserType
	opts.BMFR.BlockSize = ctx.Int("block-size")
	opts.BMFR.BlockOffsets = !ctx.Bool("no-block-offsets")
	opts.Accumulator.MaxSamples = ctx.Int("max-samples")
	opts.ResetOnCameraMove = ctx.Bool("reset-on-move")
	opts.TAA = !ctx.Bool("no-taa")
	opts.TAAConfig.Alpha = float32(ctx.Float64("taa-alpha"))
	opts.Output = convert.Config{
		Exposure: float32(ctx.Float64("exposure")),
		Tonemap:  !ctx.Bool("no-tonemap"),
		SRGB:     !ctx.Bool("linear"),
	}

	return opts, opts.Validate()
}

// Create the compute provider selected on the command line.
func createProvider(ctx *cli.Context) (gpu.Provider, error) {
	switch name := ctx.String("provider"); name {
	case "host":
		return host.New(ctx.Int("workers")), nil
	case "opencl":
		devType, err := opencl.ParseDeviceType(ctx.String("device-type"))
		if err != nil {
			return nil, err
		}
		p, err := opencl.New(opencl.Config{
			DeviceType: devType,
			DeviceName: ctx.String("device"),
			Profile:    ctx.Bool("profile"),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

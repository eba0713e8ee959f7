package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/polaris-denoise/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "polaris-denoise"
	app.Usage = "denoise path traced frame sequences"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringSliceFlag{
			Name:  "log-module",
			Value: &cli.StringSlice{},
			Usage: "override the log level of a single module, e.g. bmfr=debug",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "denoise",
			Usage: "denoise a pre-rendered frame sequence",
			Description: `
Load the camera matrices of a sequence from a cameras.json file and the
per-frame colour, albedo, normal and depth planes that live next to it.

Every frame is accumulated with the reprojected history, filtered by the
selected denoiser and optionally written out using the --out file pattern.
The pattern extension selects the output format (png or tiff).`,
			ArgsUsage: "cameras.json",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "width",
					Value: 0,
					Usage: "frame width; 0 detects it from the first colour plane",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 0,
					Usage: "frame height; 0 detects it from the first colour plane",
				},
				cli.IntFlag{
					Name:  "frames",
					Value: 0,
					Usage: "max number of frames to denoise; 0 denoises the whole sequence",
				},
				cli.StringFlag{
					Name:  "color",
					Value: "color_%04d.png",
					Usage: "colour plane file pattern",
				},
				cli.StringFlag{
					Name:  "albedo",
					Value: "albedo_%04d.png",
					Usage: "albedo plane file pattern",
				},
				cli.StringFlag{
					Name:  "normal",
					Value: "normal_%04d.png",
					Usage: "normal plane file pattern",
				},
				cli.StringFlag{
					Name:  "depth",
					Value: "depth_%04d.png",
					Usage: "depth plane file pattern",
				},
				cli.StringFlag{
					Name:  "material",
					Usage: "optional material id plane file pattern",
				},
				cli.Float64Flag{
					Name:  "depth-scale",
					Value: 100,
					Usage: "scale applied to the depth plane values",
				},
				cli.Float64Flag{
					Name:  "radiance-scale",
					Value: 1,
					Usage: "scale applied to the colour plane values",
				},
				cli.BoolFlag{
					Name:  "no-demodulate",
					Usage: "the colour plane already stores demodulated illumination",
				},
				cli.IntFlag{
					Name:  "decode-workers",
					Value: 0,
					Usage: "max planes decoded concurrently; 0 uses one per CPU",
				},
				cli.BoolFlag{
					Name:  "halt-on-error",
					Usage: "stop at the first frame that cannot be loaded instead of skipping it",
				},
				cli.StringFlag{
					Name:  "out, o",
					Usage: "output file pattern, e.g. denoised_%04d.png",
				},
			}, cmd.SessionFlags...),
			Action: cmd.Denoise,
		},
		{
			Name:  "synthetic",
			Usage: "denoise a synthetic noisy plane and report convergence",
			Description: `
Render a camera facing a diffuse plane lit by constant radiance, add
Gaussian noise to every frame and denoise the sequence. The linear output of
the trailing frames is compared against the ground truth radiance.`,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "width",
					Value: 64,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 64,
					Usage: "frame height",
				},
				cli.IntFlag{
					Name:  "frames",
					Value: 64,
					Usage: "number of frames to render",
				},
				cli.IntFlag{
					Name:  "window",
					Value: 16,
					Usage: "number of trailing frames used for the convergence report",
				},
				cli.Float64Flag{
					Name:  "radiance",
					Value: 0.5,
					Usage: "ground truth radiance",
				},
				cli.Float64Flag{
					Name:  "albedo",
					Value: 1,
					Usage: "plane albedo",
				},
				cli.Float64Flag{
					Name:  "noise",
					Value: 0.02,
					Usage: "standard deviation of the per-frame illumination noise",
				},
				cli.Float64Flag{
					Name:  "pan-x",
					Value: 0,
					Usage: "horizontal camera translation applied before every frame",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 1,
					Usage: "noise generator seed",
				},
				cli.StringFlag{
					Name:  "out, o",
					Usage: "output file pattern, e.g. synthetic_%04d.tiff",
				},
			}, cmd.SessionFlags...),
			Action: cmd.Synthetic,
		},
		{
			Name:   "list-devices",
			Usage:  "list available opencl devices",
			Action: cmd.ListDevices,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

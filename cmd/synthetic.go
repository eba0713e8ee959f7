package cmd

import (
	"bytes"
	"fmt"
	"math"

	"github.com/achilleasa/polaris-denoise/denoiser/convert"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/renderer"
	"github.com/achilleasa/polaris-denoise/tracer/synthetic"
	"github.com/achilleasa/polaris-denoise/types"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
	"gonum.org/v1/gonum/stat"
)

// Per-channel convergence figures over the trailing frame window.
type convergence struct {
	Truth     float64
	Mean      float64
	MaxStdDev float64
}

func (c convergence) meanError() float64 {
	return 100 * math.Abs(c.Mean-c.Truth) / c.Truth
}

func (c convergence) maxStdDev() float64 {
	return 100 * c.MaxStdDev / c.Truth
}

// Denoise the synthetic plane scene and report how the output converges
// towards the ground truth radiance.
func Synthetic(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	radiance := float32(ctx.Float64("radiance"))
	albedo := float32(ctx.Float64("albedo"))
	numFrames := ctx.Int("frames")
	window := ctx.Int("window")
	if numFrames <= 0 || window < 2 || window > numFrames {
		return fmt.Errorf("window must be in [2, %d]; got %d", numFrames, window)
	}
	if radiance <= 0 || albedo <= 0 {
		return fmt.Errorf("radiance and albedo must be positive")
	}

	cfg := synthetic.DefaultConfig()
	cfg.Radiance = types.Vec3{radiance, radiance, radiance}
	cfg.Albedo = types.Vec3{albedo, albedo, albedo}
	cfg.Noise = float32(ctx.Float64("noise"))
	cfg.Pan = mgl32.Vec3{float32(ctx.Float64("pan-x")), 0, 0}
	cfg.Frames = numFrames
	cfg.Seed = ctx.Int64("seed")
	tr, err := synthetic.New(cfg)
	if err != nil {
		return err
	}

	opts, err := sessionOptions(ctx, ctx.Int("width"), ctx.Int("height"))
	if err != nil {
		tr.Close()
		return err
	}

	// The report compares linear radiance.
	opts.Output = convert.Config{}
	opts.OutputVariant = frame.FinalFloat

	var encode encoderFunc
	outPattern := ctx.String("out")
	if outPattern != "" {
		if encode, _, err = encoderFor(outPattern); err != nil {
			tr.Close()
			return err
		}
	}

	p, err := createProvider(ctx)
	if err != nil {
		tr.Close()
		return err
	}
	defer p.Close()

	s, err := renderer.NewSession(p, tr, nil, opts)
	if err != nil {
		tr.Close()
		return err
	}
	defer s.Close()

	numPixels := int(opts.FrameW * opts.FrameH)
	series := make([][]float64, numPixels*3)
	for frameIndex := 0; frameIndex < numFrames; frameIndex++ {
		if err = s.RenderFrame(); err != nil {
			return err
		}
		if ctx.Bool("stats") {
			displayFrameStats(s.Stats())
		}
		if encode != nil {
			if err = exportFrame(s, outPattern, encode); err != nil {
				return err
			}
		}
		if frameIndex < numFrames-window {
			continue
		}

		data, err := s.ReadOutput()
		if err != nil {
			return err
		}
		for pixel := 0; pixel < numPixels; pixel++ {
			for c := 0; c < 3; c++ {
				series[pixel*3+c] = append(series[pixel*3+c], float64(data[pixel*4+c]))
			}
		}
	}

	report := measureConvergence(series, float64(radiance*albedo))
	displayConvergence(report, window)
	return nil
}

// Measure per-channel convergence. Series are laid out as pixel*3+channel.
func measureConvergence(series [][]float64, truth float64) [3]convergence {
	var (
		report [3]convergence
		all    [3][]float64
	)
	for idx, values := range series {
		c := idx % 3
		all[c] = append(all[c], values...)
		if stdDev := stat.StdDev(values, nil); stdDev > report[c].MaxStdDev {
			report[c].MaxStdDev = stdDev
		}
	}
	for c := range report {
		report[c].Truth = truth
		report[c].Mean = stat.Mean(all[c], nil)
	}
	return report
}

func displayConvergence(report [3]convergence, window int) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Channel", "Truth", "Mean", "Mean error", "Max temporal std"})
	for c, name := range []string{"R", "G", "B"} {
		table.Append([]string{
			name,
			fmt.Sprintf("%.4f", report[c].Truth),
			fmt.Sprintf("%.4f", report[c].Mean),
			fmt.Sprintf("%.3f%%", report[c].meanError()),
			fmt.Sprintf("%.3f%%", report[c].maxStdDev()),
		})
	}

	table.Render()
	logger.Noticef("convergence over the last %d frames\n%s", window, buf.String())
}

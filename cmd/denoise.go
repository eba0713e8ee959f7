package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/achilleasa/polaris-denoise/renderer"
	"github.com/achilleasa/polaris-denoise/tracer"
	"github.com/achilleasa/polaris-denoise/tracer/offline"
	"github.com/urfave/cli"
)

// Denoise a pre-rendered frame sequence.
func Denoise(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	if ctx.NArg() != 1 {
		return errors.New("missing camera file argument")
	}

	cfg := offline.Config{
		CameraFile:      ctx.Args().First(),
		ColorPattern:    ctx.String("color"),
		AlbedoPattern:   ctx.String("albedo"),
		NormalPattern:   ctx.String("normal"),
		DepthPattern:    ctx.String("depth"),
		MaterialPattern: ctx.String("material"),
		DepthScale:      float32(ctx.Float64("depth-scale")),
		RadianceScale:   float32(ctx.Float64("radiance-scale")),
		Demodulate:      !ctx.Bool("no-demodulate"),
		Workers:         ctx.Int("decode-workers"),
	}
	tr, err := offline.New(cfg)
	if err != nil {
		return err
	}

	width, height := ctx.Int("width"), ctx.Int("height")
	if width == 0 || height == 0 {
		if width, height, err = tr.FrameSize(); err != nil {
			tr.Close()
			return err
		}
		logger.Infof("detected %dx%d frames", width, height)
	}

	opts, err := sessionOptions(ctx, width, height)
	if err != nil {
		tr.Close()
		return err
	}

	var encode encoderFunc
	outPattern := ctx.String("out")
	if outPattern != "" {
		if encode, opts.OutputVariant, err = encoderFor(outPattern); err != nil {
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

	numFrames := tr.Frames()
	if limit := ctx.Int("frames"); limit > 0 && limit < numFrames {
		numFrames = limit
	}
	logger.Noticef("denoising %d frames (%dx%d) with %s", numFrames, width, height, opts.Denoiser)

	var (
		errs     []error
		rendered int
		start    = time.Now()
	)
	for frameIndex := 0; frameIndex < numFrames; frameIndex++ {
		err = s.RenderFrame()
		if errors.Is(err, tracer.ErrNoMoreFrames) {
			break
		}
		if errors.Is(err, tracer.ErrFrameUnavailable) {
			logger.Warningf("%v", err)
			errs = append(errs, err)
			if ctx.Bool("halt-on-error") {
				break
			}
			if err = s.SkipFrame(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		rendered++

		if ctx.Bool("stats") {
			displayFrameStats(s.Stats())
		}
		if encode != nil {
			if err = exportFrame(s, outPattern, encode); err != nil {
				return err
			}
		}
	}

	logger.Noticef("denoised %d frames in %s; %d frames skipped", rendered, time.Since(start), len(errs))
	if len(errs) != 0 {
		return fmt.Errorf("%d frames failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

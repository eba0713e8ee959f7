package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/achilleasa/polaris-denoise/asset"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/renderer"
)

type encoderFunc func(w io.Writer, width, height int, rgba []float32) error

// Select the image encoder and output variant for an output file pattern.
func encoderFor(pattern string) (encoderFunc, frame.Variant, error) {
	switch ext := strings.ToLower(filepath.Ext(pattern)); ext {
	case ".png":
		return asset.EncodePNG, frame.Final, nil
	case ".tif", ".tiff":
		return asset.EncodeTIFF, frame.FinalFloat, nil
	default:
		return nil, frame.Final, fmt.Errorf("unsupported output format %q", ext)
	}
}

// Read back the session output and write it to the file produced by
// formatting pattern with the frame index.
func exportFrame(s *renderer.Session, pattern string, encode encoderFunc) (err error) {
	data, err := s.ReadOutput()
	if err != nil {
		return err
	}

	frameIndex := s.Stats().FrameIndex
	name := fmt.Sprintf(pattern, frameIndex)
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	opts := s.Options()
	if err = encode(f, int(opts.FrameW), int(opts.FrameH), data); err != nil {
		return fmt.Errorf("frame %d: %w", frameIndex, err)
	}
	logger.Infof("wrote frame %d to %s", frameIndex, name)
	return nil
}

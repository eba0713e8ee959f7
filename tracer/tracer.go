package tracer

import (
	"errors"
	"fmt"

	"github.com/achilleasa/polaris-denoise/camera"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/types"
)

var (
	ErrNoMoreFrames = errors.New("tracer: no more frames")
	ErrFrameSize    = errors.New("tracer: frame data does not match the target size")

	// Wraps errors that only affect a single frame; callers may skip the
	// frame and carry on with the next one.
	ErrFrameUnavailable = errors.New("tracer: frame unavailable")
)

// The session buffers that a tracer fills for each frame.
type Target struct {
	GBuffer *frame.GBuffer

	// Noisy demodulated illumination. It must expose the illumination and
	// illuminationSquared channels.
	Illumination *frame.IlluminationBuffer
}

type Tracer interface {
	// Get tracer id.
	Id() string

	// Fill the target buffers with the data for the given frame and return
	// the camera matrices the frame was rendered with. Tracers that run out
	// of frames return ErrNoMoreFrames.
	Trace(p gpu.Provider, frameIndex uint32, target Target) (camera.Matrices, error)

	// Shutdown and cleanup tracer.
	Close()
}

// Host-side copy of the data for one frame. Depth is 1 value per pixel,
// Normal holds encoded normals (2 values per pixel) and the remaining
// planes are RGBA.
type FrameData struct {
	Width  int
	Height int

	Depth        []float32
	Normal       []float32
	Material     []float32
	Albedo       []float32
	Illumination []float32
}

// Allocate frame data for the given dimensions.
func NewFrameData(width, height int) *FrameData {
	numPixels := width * height
	return &FrameData{
		Width:        width,
		Height:       height,
		Depth:        make([]float32, numPixels),
		Normal:       make([]float32, numPixels*2),
		Material:     make([]float32, numPixels*4),
		Albedo:       make([]float32, numPixels*4),
		Illumination: make([]float32, numPixels*4),
	}
}

// Set the geometry attributes of a pixel. The material id is stored
// normalized so it survives the 8-bit material image.
func (fd *FrameData) SetGeometry(x, y int, depth float32, normal types.Vec3, materialID uint8, albedo types.Vec3) {
	idx := y*fd.Width + x
	fd.Depth[idx] = depth
	fd.Normal[idx*2], fd.Normal[idx*2+1] = frame.EncodeNormal(normal)
	copy(fd.Material[idx*4:idx*4+4], []float32{float32(materialID) / 255, 0, 0, 1})
	copy(fd.Albedo[idx*4:idx*4+4], albedo[:])
	fd.Albedo[idx*4+3] = 1
}

// Set the demodulated illumination of a pixel.
func (fd *FrameData) SetIllumination(x, y int, illu types.Vec3) {
	idx := (y*fd.Width + x) * 4
	copy(fd.Illumination[idx:idx+3], illu[:])
	fd.Illumination[idx+3] = 1
}

// Upload the frame data into the target buffers. The illuminationSquared
// channel receives the per-channel square of the illumination and, when
// the target variant has an output channel, it receives the modulated
// colour.
func (fd *FrameData) Upload(p gpu.Provider, target Target) error {
	gb, ib := target.GBuffer, target.Illumination
	if err := frame.RequireChannels(ib, frame.ChannelIllumination, frame.ChannelIlluminationSquared); err != nil {
		return err
	}
	if fd.Width != gb.Width || fd.Height != gb.Height || fd.Width != ib.Width || fd.Height != ib.Height {
		return fmt.Errorf("%w: got %dx%d; expected %dx%d", ErrFrameSize, fd.Width, fd.Height, gb.Width, gb.Height)
	}

	uploads := []struct {
		img  *gpu.Image
		data []float32
	}{
		{gb.Depth, fd.Depth},
		{gb.Normal, fd.Normal},
		{gb.Material, fd.Material},
		{gb.Albedo, fd.Albedo},
		{ib.MustImage(frame.ChannelIllumination), fd.Illumination},
		{ib.MustImage(frame.ChannelIlluminationSquared), squared(fd.Illumination)},
	}
	if out, ok := ib.Image(frame.ChannelOutput); ok {
		uploads = append(uploads, struct {
			img  *gpu.Image
			data []float32
		}{out, modulated(fd.Illumination, fd.Albedo)})
	}

	for _, u := range uploads {
		if err := p.WriteImage(u.img, u.data); err != nil {
			return fmt.Errorf("tracer: upload %s: %w", u.img.Name(), err)
		}
	}
	return nil
}

func squared(rgba []float32) []float32 {
	out := make([]float32, len(rgba))
	for idx := 0; idx < len(rgba); idx += 4 {
		for c := 0; c < 3; c++ {
			out[idx+c] = rgba[idx+c] * rgba[idx+c]
		}
		out[idx+3] = rgba[idx+3]
	}
	return out
}

func modulated(illu, albedo []float32) []float32 {
	out := make([]float32, len(illu))
	for idx := 0; idx < len(illu); idx += 4 {
		for c := 0; c < 3; c++ {
			out[idx+c] = illu[idx+c] * albedo[idx+c]
		}
		out[idx+3] = 1
	}
	return out
}

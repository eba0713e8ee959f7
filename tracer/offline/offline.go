package offline

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/achilleasa/polaris-denoise/asset"
	"github.com/achilleasa/polaris-denoise/camera"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
	"github.com/achilleasa/polaris-denoise/tracer"
	"github.com/achilleasa/polaris-denoise/types"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidConfig = errors.New("offline: invalid configuration")
	ErrPlaneSize     = errors.New("offline: image plane size mismatch")
)

// Smallest albedo component used when dividing colour by albedo.
const minAlbedo = 1e-3

// The image planes that make up a frame.
type plane uint8

const (
	planeColor plane = iota
	planeAlbedo
	planeNormal
	planeDepth
	planeMaterial
	numPlanes
)

func (p plane) String() string {
	switch p {
	case planeColor:
		return "color"
	case planeAlbedo:
		return "albedo"
	case planeNormal:
		return "normal"
	case planeDepth:
		return "depth"
	case planeMaterial:
		return "material"
	}
	return fmt.Sprintf("plane(%d)", uint8(p))
}

// Config describes the layout of a pre-rendered sequence. File names are
// built with fmt.Sprintf(pattern, frameIndex) and resolved relative to the
// camera file, which may be local or served over http.
type Config struct {
	// Path or URL of the camera file (cameras.json).
	CameraFile string

	// Per-plane file name patterns. The material pattern is optional;
	// without it every pixel with positive depth gets material id 1.
	ColorPattern    string
	AlbedoPattern   string
	NormalPattern   string
	DepthPattern    string
	MaterialPattern string

	// Scale applied to the [0, 1] depth values read from the depth plane.
	DepthScale float32

	// Scale applied to the decoded colour to recover radiance.
	RadianceScale float32

	// Divide colour by albedo. Disable for sequences that already store
	// demodulated illumination in the colour plane.
	Demodulate bool

	// Max number of planes decoded concurrently; 0 selects runtime.NumCPU.
	Workers int
}

// Get the default sequence layout rooted at the given camera file.
func DefaultConfig(cameraFile string) Config {
	return Config{
		CameraFile:    cameraFile,
		ColorPattern:  "color_%04d.png",
		AlbedoPattern: "albedo_%04d.png",
		NormalPattern: "normal_%04d.png",
		DepthPattern:  "depth_%04d.png",
		DepthScale:    100,
		RadianceScale: 1,
		Demodulate:    true,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.CameraFile == "" {
		return fmt.Errorf("%w: no camera file specified", ErrInvalidConfig)
	}
	if c.ColorPattern == "" || c.AlbedoPattern == "" || c.NormalPattern == "" || c.DepthPattern == "" {
		return fmt.Errorf("%w: color, albedo, normal and depth patterns are required", ErrInvalidConfig)
	}
	if c.DepthScale <= 0 || c.RadianceScale <= 0 {
		return fmt.Errorf("%w: depth and radiance scales must be positive", ErrInvalidConfig)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0; got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

func (c Config) pattern(p plane) string {
	switch p {
	case planeColor:
		return c.ColorPattern
	case planeAlbedo:
		return c.AlbedoPattern
	case planeNormal:
		return c.NormalPattern
	case planeDepth:
		return c.DepthPattern
	case planeMaterial:
		return c.MaterialPattern
	}
	return ""
}

// Tracer replays a pre-rendered sequence of frames.
type Tracer struct {
	logger  log.Logger
	cfg     Config
	cameras *camera.History

	// The camera file; only used to resolve the frame planes.
	index *asset.Resource

	data *tracer.FrameData
}

// Load the camera file of a sequence. Frame planes are decoded lazily by Trace.
func New(cfg Config) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}

	res, err := asset.NewResource(cfg.CameraFile, nil)
	if err != nil {
		return nil, fmt.Errorf("offline: %w", err)
	}
	defer res.Close()

	cameras, err := camera.ReadHistory(res)
	if err != nil {
		return nil, err
	}

	tr := &Tracer{
		logger:  log.New("offline"),
		cfg:     cfg,
		cameras: cameras,
		index:   res,
	}
	tr.logger.Infof("loaded %d camera frames from %s", cameras.Len(), res.Path())
	return tr, nil
}

// Get tracer id.
func (tr *Tracer) Id() string {
	return "offline"
}

// Number of frames in the sequence.
func (tr *Tracer) Frames() int {
	return tr.cameras.Len()
}

// Get the frame size of the sequence from the colour plane of its first frame.
func (tr *Tracer) FrameSize() (int, int, error) {
	name := fmt.Sprintf(tr.cfg.ColorPattern, 0)
	res, err := tr.index.Sibling(name)
	if err != nil {
		return 0, 0, fmt.Errorf("offline: %w", err)
	}
	defer res.Close()

	img, err := asset.DecodeImage(res)
	if err != nil {
		return 0, 0, fmt.Errorf("offline: %w", err)
	}
	return img.Width, img.Height, nil
}

// Load and upload the planes of a frame.
func (tr *Tracer) Trace(p gpu.Provider, frameIndex uint32, target tracer.Target) (camera.Matrices, error) {
	mats, ok := tr.cameras.At(int(frameIndex))
	if !ok {
		return camera.Matrices{}, tracer.ErrNoMoreFrames
	}

	planes, err := tr.decode(frameIndex)
	if err != nil {
		return camera.Matrices{}, fmt.Errorf("%w: %w", tracer.ErrFrameUnavailable, err)
	}

	w, h := target.GBuffer.Width, target.GBuffer.Height
	for idx, img := range planes {
		if img != nil && (img.Width != w || img.Height != h) {
			return camera.Matrices{}, fmt.Errorf("%w: %w: frame %d %s plane is %dx%d; expected %dx%d", tracer.ErrFrameUnavailable, ErrPlaneSize, frameIndex, plane(idx), img.Width, img.Height, w, h)
		}
	}

	if tr.data == nil || tr.data.Width != w || tr.data.Height != h {
		tr.data = tracer.NewFrameData(w, h)
	}
	tr.fill(planes)

	if err = tr.data.Upload(p, target); err != nil {
		return camera.Matrices{}, err
	}
	return mats, nil
}

// Shutdown and cleanup tracer.
func (tr *Tracer) Close() {
	tr.data = nil
}

// Decode all planes of a frame concurrently.
func (tr *Tracer) decode(frameIndex uint32) ([numPlanes]*asset.Image, error) {
	var planes [numPlanes]*asset.Image

	var g errgroup.Group
	g.SetLimit(tr.cfg.Workers)
	for idx := plane(0); idx < numPlanes; idx++ {
		pattern := tr.cfg.pattern(idx)
		if pattern == "" {
			continue
		}

		name := fmt.Sprintf(pattern, frameIndex)
		idx := idx
		g.Go(func() error {
			res, err := tr.index.Sibling(name)
			if err != nil {
				return fmt.Errorf("offline: frame %d %s plane: %w", frameIndex, idx, err)
			}
			defer res.Close()

			img, err := asset.DecodeImage(res)
			if err != nil {
				return fmt.Errorf("offline: frame %d %s plane: %w", frameIndex, idx, err)
			}
			planes[idx] = img
			return nil
		})
	}

	err := g.Wait()
	return planes, err
}

// Convert decoded planes into frame data.
func (tr *Tracer) fill(planes [numPlanes]*asset.Image) {
	fd := tr.data
	for y := 0; y < fd.Height; y++ {
		for x := 0; x < fd.Width; x++ {
			colour := rgb(planes[planeColor].At(x, y)).Mul(tr.cfg.RadianceScale)
			albedo := rgb(planes[planeAlbedo].At(x, y))
			normal := rgb(planes[planeNormal].At(x, y)).Mul(2).Sub(types.Vec3{1, 1, 1}).Normalize()
			depth := planes[planeDepth].At(x, y)[0] * tr.cfg.DepthScale

			var material uint8
			switch {
			case planes[planeMaterial] != nil:
				material = uint8(math.Round(float64(planes[planeMaterial].At(x, y)[0]) * 255))
			case depth > 0:
				material = 1
			}

			illu := colour
			if tr.cfg.Demodulate {
				illu = colour.DivVec(types.MaxVec3(albedo, types.Vec3{minAlbedo, minAlbedo, minAlbedo}))
			}

			fd.SetGeometry(x, y, depth, normal, material, albedo)
			fd.SetIllumination(x, y, illu)
		}
	}
}

func rgb(v [4]float32) types.Vec3 {
	return types.Vec3{v[0], v[1], v[2]}
}

package synthetic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/achilleasa/polaris-denoise/camera"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
	"github.com/achilleasa/polaris-denoise/tracer"
	"github.com/achilleasa/polaris-denoise/types"
	"github.com/go-gl/mathgl/mgl32"
)

var ErrInvalidConfig = errors.New("synthetic: invalid configuration")

// Material id assigned to the plane.
const planeMaterial = 1

// Config describes a camera facing an infinite diffuse plane that receives
// constant radiance. Each frame adds Gaussian noise to the illumination.
type Config struct {
	// Ground truth demodulated radiance.
	Radiance types.Vec3

	// Plane albedo. When CheckerSize is positive the albedo alternates
	// between Albedo and Albedo*0.5 in world-space squares of that size.
	Albedo      types.Vec3
	CheckerSize float32

	// Standard deviation of the per-channel illumination noise.
	Noise float32

	// Distance between the camera and the plane.
	Distance float32

	// Vertical field of view in degrees.
	FOV float32

	// Camera translation applied before every frame but the first. It
	// should be parallel to the plane.
	Pan mgl32.Vec3

	// Frame count; 0 for an unbounded sequence.
	Frames int

	Seed int64
}

// Get the default synthetic scene configuration.
func DefaultConfig() Config {
	return Config{
		Radiance: types.Vec3{0.5, 0.5, 0.5},
		Albedo:   types.Vec3{1, 1, 1},
		Noise:    0.02,
		Distance: 2,
		FOV:      60,
		Seed:     1,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.Distance <= 0 {
		return fmt.Errorf("%w: plane distance must be positive; got %f", ErrInvalidConfig, c.Distance)
	}
	if c.FOV <= 0 || c.FOV >= 180 {
		return fmt.Errorf("%w: fov must be in (0, 180); got %f", ErrInvalidConfig, c.FOV)
	}
	if c.Noise < 0 {
		return fmt.Errorf("%w: noise must be >= 0; got %f", ErrInvalidConfig, c.Noise)
	}
	if c.Frames < 0 {
		return fmt.Errorf("%w: frame count must be >= 0; got %d", ErrInvalidConfig, c.Frames)
	}
	return nil
}

// Tracer renders the synthetic plane scene on the host.
type Tracer struct {
	logger log.Logger
	cfg    Config
	rng    *rand.Rand
	cam    *camera.Camera
	data   *tracer.FrameData
}

// Create a new synthetic tracer.
func New(cfg Config) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracer{
		logger: log.New("synthetic"),
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cam:    camera.NewCamera(cfg.FOV),
	}, nil
}

// Get tracer id.
func (tr *Tracer) Id() string {
	return "synthetic"
}

// Render the plane for the given frame.
func (tr *Tracer) Trace(p gpu.Provider, frameIndex uint32, target tracer.Target) (camera.Matrices, error) {
	if tr.cfg.Frames > 0 && int(frameIndex) >= tr.cfg.Frames {
		return camera.Matrices{}, tracer.ErrNoMoreFrames
	}

	w, h := target.GBuffer.Width, target.GBuffer.Height
	if tr.data == nil || tr.data.Width != w || tr.data.Height != h {
		tr.data = tracer.NewFrameData(w, h)
		tr.cam.SetupProjection(float32(w) / float32(h))
		tr.logger.Debugf("setup %dx%d frame; camera %s", w, h, tr.cam)
	}
	if frameIndex > 0 && tr.cfg.Pan.Len() > 0 {
		tr.cam.Translate(tr.cfg.Pan)
	}

	mats := tr.cam.Matrices()
	normal := types.Vec3{0, 0, 1}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			albedo := tr.cfg.Albedo
			if tr.cfg.CheckerSize > 0 {
				world := camera.Unproject(mats.InvView, mats.InvProj, float32(x)+0.5, float32(y)+0.5, w, h, tr.cfg.Distance)
				if checker(world, tr.cfg.CheckerSize) {
					albedo = albedo.Mul(0.5)
				}
			}
			tr.data.SetGeometry(x, y, tr.cfg.Distance, normal, planeMaterial, albedo)
			tr.data.SetIllumination(x, y, tr.cfg.Radiance.Add(tr.noise()))
		}
	}

	if err := tr.data.Upload(p, target); err != nil {
		return camera.Matrices{}, err
	}
	return mats, nil
}

// Shutdown and cleanup tracer.
func (tr *Tracer) Close() {
	tr.data = nil
}

func (tr *Tracer) noise() types.Vec3 {
	var n types.Vec3
	if tr.cfg.Noise == 0 {
		return n
	}
	for c := 0; c < 3; c++ {
		n[c] = float32(tr.rng.NormFloat64()) * tr.cfg.Noise
	}
	return n
}

func checker(world mgl32.Vec3, size float32) bool {
	cx := int(math.Floor(float64(world[0] / size)))
	cy := int(math.Floor(float64(world[1] / size)))
	return (cx+cy)&1 == 1
}

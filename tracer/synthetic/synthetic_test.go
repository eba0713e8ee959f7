package synthetic

import (
	"errors"
	"math"
	"testing"

	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/gpu/host"
	"github.com/achilleasa/polaris-denoise/tracer"
	"github.com/go-gl/mathgl/mgl32"
)

func newTarget(t *testing.T, p gpu.Provider, w, h int) tracer.Target {
	gb, err := frame.NewGBuffer(p, w, h)
	if err != nil {
		t.Fatal(err)
	}
	ib, err := frame.NewIlluminationBuffer(p, frame.FinalDemodulated, "noisy-", w, h)
	if err != nil {
		t.Fatal(err)
	}
	return tracer.Target{GBuffer: gb, Illumination: ib}
}

func read(t *testing.T, p gpu.Provider, img *gpu.Image) []float32 {
	data := make([]float32, img.Len())
	if err := p.ReadImage(img, data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNoiselessPlane(t *testing.T) {
	p := host.New(1)
	target := newTarget(t, p, 4, 3)

	cfg := DefaultConfig()
	cfg.Noise = 0
	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	mats, err := tr.Trace(p, 0, target)
	if err != nil {
		t.Fatal(err)
	}
	if !mats.HasProj {
		t.Fatal("expected returned matrices to include a projection")
	}

	depth := read(t, p, target.GBuffer.Depth)
	material := read(t, p, target.GBuffer.Material)
	illu := read(t, p, target.Illumination.MustImage(frame.ChannelIllumination))
	illuSq := read(t, p, target.Illumination.MustImage(frame.ChannelIlluminationSquared))
	out := read(t, p, target.Illumination.MustImage(frame.ChannelOutput))

	for idx, d := range depth {
		if d != cfg.Distance {
			t.Fatalf("[pixel %d] expected depth %f; got %f", idx, cfg.Distance, d)
		}
		if material[idx*4] == 0 {
			t.Fatalf("[pixel %d] expected a non-zero material id", idx)
		}
		for c := 0; c < 3; c++ {
			if illu[idx*4+c] != 0.5 || illuSq[idx*4+c] != 0.25 || out[idx*4+c] != 0.5 {
				t.Fatalf("[pixel %d] expected illumination 0.5, squared 0.25 and output 0.5; got %f, %f, %f", idx, illu[idx*4+c], illuSq[idx*4+c], out[idx*4+c])
			}
		}
	}
}

func TestNoiseStatistics(t *testing.T) {
	p := host.New(1)
	target := newTarget(t, p, 32, 32)

	tr, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	if _, err = tr.Trace(p, 0, target); err != nil {
		t.Fatal(err)
	}

	illu := read(t, p, target.Illumination.MustImage(frame.ChannelIllumination))
	var sum, sumSq float64
	var n int
	for idx := 0; idx < len(illu); idx += 4 {
		for c := 0; c < 3; c++ {
			v := float64(illu[idx+c])
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	std := math.Sqrt(sumSq/float64(n) - mean*mean)

	if math.Abs(mean-0.5) > 0.005 {
		t.Fatalf("expected noisy mean to be close to 0.5; got %f", mean)
	}
	if math.Abs(std-0.02) > 0.005 {
		t.Fatalf("expected noise std to be close to 0.02; got %f", std)
	}
}

func TestSameSeedIsDeterministic(t *testing.T) {
	p := host.New(1)
	target := newTarget(t, p, 4, 4)

	var frames [2][]float32
	for idx := range frames {
		tr, err := New(DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		if _, err = tr.Trace(p, 0, target); err != nil {
			t.Fatal(err)
		}
		frames[idx] = read(t, p, target.Illumination.MustImage(frame.ChannelIllumination))
	}

	for idx := range frames[0] {
		if frames[0][idx] != frames[1][idx] {
			t.Fatalf("[value %d] expected identical noise for identical seeds; got %f and %f", idx, frames[0][idx], frames[1][idx])
		}
	}
}

func TestPanAndFrameLimit(t *testing.T) {
	p := host.New(1)
	target := newTarget(t, p, 4, 4)

	cfg := DefaultConfig()
	cfg.Pan = mgl32.Vec3{0.1, 0, 0}
	cfg.Frames = 2
	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	first, err := tr.Trace(p, 0, target)
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.Trace(p, 1, target)
	if err != nil {
		t.Fatal(err)
	}
	if first.Equal(second) {
		t.Fatal("expected panned camera to produce different matrices")
	}
	if moved := second.InvView.Col(3)[0] - first.InvView.Col(3)[0]; math.Abs(float64(moved-0.1)) > 1e-5 {
		t.Fatalf("expected camera to move by 0.1 along x; got %f", moved)
	}

	if _, err = tr.Trace(p, 2, target); !errors.Is(err, tracer.ErrNoMoreFrames) {
		t.Fatalf("expected ErrNoMoreFrames; got %v", err)
	}
}

func TestConfigErrors(t *testing.T) {
	specs := []func(*Config){
		func(c *Config) { c.Distance = 0 },
		func(c *Config) { c.FOV = 180 },
		func(c *Config) { c.Noise = -1 },
		func(c *Config) { c.Frames = -1 },
	}

	for specIndex, mutate := range specs {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("[spec %d] expected ErrInvalidConfig; got %v", specIndex, err)
		}
	}
}

package bfr

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/gpu/host"
	"github.com/achilleasa/polaris-denoise/types"
)

type surface struct {
	depth    float32
	normal   types.Vec3
	material float32
}

func newInputs(t *testing.T, p gpu.Provider, w, h int) denoiser.Inputs {
	gb, err := frame.NewGBuffer(p, w, h)
	if err != nil {
		t.Fatal(err)
	}
	illu, err := frame.NewIlluminationBuffer(p, frame.FinalDemodulated, "accumulated-", w, h)
	if err != nil {
		t.Fatal(err)
	}
	ab, err := frame.NewAccumulationBuffer(p, w, h, gpu.FormatRGBA32F)
	if err != nil {
		t.Fatal(err)
	}
	return denoiser.Inputs{GBuffer: gb, Illumination: illu, Accumulation: ab}
}

func write(t *testing.T, p gpu.Provider, img *gpu.Image, data []float32) {
	if err := p.WriteImage(img, data); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, p gpu.Provider, img *gpu.Image) []float32 {
	data := make([]float32, img.Len())
	if err := p.ReadImage(img, data); err != nil {
		t.Fatal(err)
	}
	return data
}

func writeGeometry(t *testing.T, p gpu.Provider, gb *frame.GBuffer, fn func(x, y int) surface) {
	w, h := gb.Width, gb.Height
	depth := make([]float32, w*h)
	normal := make([]float32, w*h*2)
	material := make([]float32, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			s := fn(x, y)
			depth[idx] = s.depth
			normal[idx*2], normal[idx*2+1] = frame.EncodeNormal(s.normal)
			material[idx*4] = s.material / 255
		}
	}
	write(t, p, gb.Depth, depth)
	write(t, p, gb.Normal, normal)
	write(t, p, gb.Material, material)
}

func greyImage(w, h int, fn func(x, y int) float32) []float32 {
	data := make([]float32, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := fn(x, y)
			idx := (y*w + x) * 4
			data[idx], data[idx+1], data[idx+2], data[idx+3] = v, v, v, 1
		}
	}
	return data
}

func TestTapStride(t *testing.T) {
	specs := [][2]int{{1, 1}, {8, 1}, {12, 1}, {16, 2}, {32, 4}}
	for index, s := range specs {
		if got := tapStride(s[0]); got != s[1] {
			t.Fatalf("[spec %d] expected stride %d for block size %d; got %d", index, s[1], s[0], got)
		}
	}
}

func TestFilterRespectsGeometryEdges(t *testing.T) {
	flat := surface{depth: 2, normal: types.Vec3{0, 0, 1}, material: 1}

	type spec struct {
		left, right surface
	}
	specs := []spec{
		{flat, surface{depth: 2, normal: types.Vec3{0, 0, 1}, material: 2}},
		{flat, surface{depth: 2, normal: types.Vec3{1, 0, 0}, material: 1}},
		{surface{depth: 0, normal: types.Vec3{0, 0, 1}, material: 1}, flat},
	}

	for index, s := range specs {
		p := host.New(2)
		in := newInputs(t, p, 8, 4)
		writeGeometry(t, p, in.GBuffer, func(x, y int) surface {
			if x < 4 {
				return s.left
			}
			return s.right
		})
		write(t, p, in.Illumination.MustImage(frame.ChannelIllumination), greyImage(8, 4, func(x, y int) float32 {
			if x < 4 {
				return 0.2
			}
			return 0.9
		}))

		f := NewFilter(FilterConfig{BlockSize: 8, SigmaDepth: 0.1, SigmaNormal: 16})
		if err := f.Compile(p, in); err != nil {
			t.Fatalf("[spec %d] %v", index, err)
		}
		cmds := gpu.NewCommandList()
		if err := f.Dispatch(cmds); err != nil {
			t.Fatal(err)
		}
		if err := p.Submit(cmds); err != nil {
			t.Fatalf("[spec %d] %v", index, err)
		}

		out := read(t, p, f.Output())
		for y := 0; y < 4; y++ {
			for x := 0; x < 8; x++ {
				exp := float32(0.9)
				if x < 4 {
					exp = 0.2
				}
				px := out[(y*8+x)*4:]
				if math.Abs(float64(px[0]-exp)) > 1e-6 || math.Abs(float64(px[3])) > 1e-6 {
					t.Fatalf("[spec %d] pixel (%d, %d): expected %f with zero variance; got %v", index, x, y, exp, px[:4])
				}
			}
		}
		p.Close()
	}
}

func TestFilterAveragesFlatBlocks(t *testing.T) {
	p := host.New(2)
	defer p.Close()

	in := newInputs(t, p, 16, 8)
	writeGeometry(t, p, in.GBuffer, func(x, y int) surface {
		return surface{depth: 3, normal: types.Vec3{0, 0, 1}, material: 4}
	})
	rng := rand.New(rand.NewSource(3))
	noisy := greyImage(16, 8, func(x, y int) float32 { return rng.Float32() })
	write(t, p, in.Illumination.MustImage(frame.ChannelIllumination), noisy)

	f := NewFilter(FilterConfig{BlockSize: 8, SigmaDepth: 0.1, SigmaNormal: 16})
	if err := f.Compile(p, in); err != nil {
		t.Fatal(err)
	}
	cmds := gpu.NewCommandList()
	if err := f.Dispatch(cmds); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(cmds); err != nil {
		t.Fatal(err)
	}
	out := read(t, p, f.Output())

	for block := 0; block < 2; block++ {
		var sumL, sumL2 float64
		for y := 0; y < 8; y++ {
			for x := block * 8; x < block*8+8; x++ {
				l := float64(types.Vec3{noisy[(y*16+x)*4], noisy[(y*16+x)*4+1], noisy[(y*16+x)*4+2]}.Luminance())
				sumL += l
				sumL2 += l * l
			}
		}
		meanL := sumL / 64
		variance := sumL2/64 - meanL*meanL

		for y := 0; y < 8; y++ {
			for x := block * 8; x < block*8+8; x++ {
				px := out[(y*16+x)*4:]
				got := types.Vec3{px[0], px[1], px[2]}.Luminance()
				if math.Abs(float64(got)-meanL) > 1e-5 {
					t.Fatalf("pixel (%d, %d): expected block mean %f; got %f", x, y, meanL, got)
				}
				if math.Abs(float64(px[3])-variance) > 1e-4 {
					t.Fatalf("pixel (%d, %d): expected block variance %f; got %f", x, y, variance, px[3])
				}
			}
		}
	}
}

func TestBlender(t *testing.T) {
	p := host.New(1)
	defer p.Close()

	type spec struct {
		mean     float32
		variance float32
		spp      float32
		filtered [NumFilters]float32
		spread   [NumFilters]float32
		exp      float32
	}
	specs := []spec{
		// Zero variance selects the smallest block.
		{0.5, 0, 4, [NumFilters]float32{0.25, 0.75, 0.125}, [NumFilters]float32{}, 0.25},
		// High variance accepts the largest block.
		{0.5, 0.01, 1, [NumFilters]float32{0.50, 0.52, 0.54}, [NumFilters]float32{}, 0.54},
		// Lower variance rejects the largest block.
		{0.5, 0.01, 100, [NumFilters]float32{0.50, 0.51, 0.54}, [NumFilters]float32{}, 0.51},
		// No block is close enough to the mean.
		{0.5, 0.01, 10000, [NumFilters]float32{0.505, 0.51, 0.54}, [NumFilters]float32{}, 0.5},
		// Zero spp is treated as one sample.
		{0.5, 0.01, 0, [NumFilters]float32{0.50, 0.52, 0.54}, [NumFilters]float32{}, 0.54},
		// A block with detail is skipped even if its mean is close enough.
		{0.5, 0.01, 1, [NumFilters]float32{0.50, 0.52, 0.54}, [NumFilters]float32{0, 0, 0.5}, 0.52},
		// Detail in every block falls back to the mean.
		{0.5, 0.01, 1, [NumFilters]float32{0.50, 0.52, 0.54}, [NumFilters]float32{0.5, 0.5, 0.5}, 0.5},
	}

	w := len(specs)
	in := newInputs(t, p, w, 1)
	sq := func(x, y int) float32 { return specs[x].mean*specs[x].mean + specs[x].variance }
	write(t, p, in.Illumination.MustImage(frame.ChannelIllumination), greyImage(w, 1, func(x, y int) float32 { return specs[x].mean }))
	write(t, p, in.Illumination.MustImage(frame.ChannelIlluminationSquared), greyImage(w, 1, sq))
	spp := make([]float32, w)
	for x, s := range specs {
		spp[x] = s.spp
	}
	write(t, p, in.Accumulation.Spp, spp)

	var filtered [NumFilters]*gpu.Image
	for idx := range filtered {
		img, err := p.CreateImage("filtered", w, 1, gpu.FormatRGBA32F, gpu.UsageDefault)
		if err != nil {
			t.Fatal(err)
		}
		if err = gpu.InitImages(p, img); err != nil {
			t.Fatal(err)
		}
		data := greyImage(w, 1, func(x, y int) float32 { return specs[x].filtered[idx] })
		for x, s := range specs {
			data[x*4+3] = s.spread[idx]
		}
		write(t, p, img, data)
		filtered[idx] = img
	}

	b := NewBlender(4)
	if err := b.Compile(p, in, filtered); err != nil {
		t.Fatal(err)
	}
	cmds := gpu.NewCommandList()
	if err := b.Dispatch(cmds); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(cmds); err != nil {
		t.Fatal(err)
	}

	out := read(t, p, b.Output().MustImage(frame.ChannelIllumination))
	for index, s := range specs {
		for c := 0; c < 3; c++ {
			if got := out[index*4+c]; got != s.exp {
				t.Fatalf("[spec %d] channel %d: expected %f; got %f", index, c, s.exp, got)
			}
		}
	}
}

func TestEnsemble(t *testing.T) {
	p := host.New(2)
	defer p.Close()

	in := newInputs(t, p, 32, 32)
	writeGeometry(t, p, in.GBuffer, func(x, y int) surface {
		return surface{depth: 1, normal: types.Vec3{0, 0, 1}, material: 1}
	})
	rng := rand.New(rand.NewSource(11))
	write(t, p, in.Illumination.MustImage(frame.ChannelIllumination), greyImage(32, 32, func(x, y int) float32 { return 0.5 + 0.1*float32(rng.NormFloat64()) }))
	write(t, p, in.Illumination.MustImage(frame.ChannelIlluminationSquared), greyImage(32, 32, func(x, y int) float32 { return 0.26 }))
	spp := make([]float32, 32*32)
	for idx := range spp {
		spp[idx] = 1
	}
	write(t, p, in.Accumulation.Spp, spp)

	d := New(DefaultConfig())
	if err := d.Compile(p, in); err != nil {
		t.Fatal(err)
	}
	defer d.Release()

	cmds := gpu.NewCommandList()
	if err := d.Dispatch(cmds, 0); err != nil {
		t.Fatal(err)
	}
	if exp := NumFilters + 1; cmds.DispatchCount() != exp {
		t.Fatalf("expected %d dispatches; got %d", exp, cmds.DispatchCount())
	}
	if err := p.Submit(cmds); err != nil {
		t.Fatal(err)
	}

	// The input is flat, so every pixel should be close to the true value.
	for idx, v := range read(t, p, d.Output().MustImage(frame.ChannelIllumination)) {
		if idx%4 == 3 {
			continue
		}
		if math.IsNaN(float64(v)) || math.Abs(float64(v)-0.5) > 0.1 {
			t.Fatalf("expected denoised value near 0.5 at %d; got %f", idx/4, v)
		}
	}
}

func TestConfigErrors(t *testing.T) {
	specs := []Config{
		{BlockSizes: [NumFilters]int{16, 8, 32}, SigmaDepth: 0.1, SigmaNormal: 16, K: 4},
		{BlockSizes: [NumFilters]int{0, 8, 32}, SigmaDepth: 0.1, SigmaNormal: 16, K: 4},
		{BlockSizes: [NumFilters]int{8, 16, 32}, SigmaDepth: 0, SigmaNormal: 16, K: 4},
		{BlockSizes: [NumFilters]int{8, 16, 32}, SigmaDepth: 0.1, SigmaNormal: 16, K: 0},
	}

	for index, cfg := range specs {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("[spec %d] expected ErrInvalidConfig; got %v", index, err)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid; got %v", err)
	}
}

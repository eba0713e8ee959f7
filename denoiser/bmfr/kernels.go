package bmfr

import (
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/types"
)

const (
	preprocessKernel  = "bmfrPreprocess"
	fitKernel         = "bmfrFit"
	postprocessKernel = "bmfrPostprocess"
)

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: preprocessKernel,
		Bindings: []gpu.Binding{
			{Name: "depth", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 1},
			{Name: "normal", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 2},
			{Name: "illumination", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "features", Kind: gpu.BufferBinding, Access: gpu.Write},
		},
		Host: preprocessHost,
	})
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: fitKernel,
		Bindings: []gpu.Binding{
			{Name: "features", Kind: gpu.BufferBinding, Access: gpu.ReadWrite},
			{Name: "weights", Kind: gpu.BufferBinding, Access: gpu.Write},
		},
		Host: fitHost,
	})
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: postprocessKernel,
		Bindings: []gpu.Binding{
			{Name: "features", Kind: gpu.BufferBinding, Access: gpu.Read},
			{Name: "weights", Kind: gpu.BufferBinding, Access: gpu.Read},
			{Name: "finalIllumination", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: postprocessHost,
	})
}

// Write the feature vector of every padded pixel. Padding pixels replicate
// the nearest image pixel. Grid: PaddedWidth x PaddedHeight.
func preprocessHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	l, ox, oy, _, err := decodePush(push)
	if err != nil {
		return nil, err
	}
	depth, normal, illu := res.Image("depth"), res.Image("normal"), res.Image("illumination")
	features := res.Buffer("features")

	return func(px, py int) {
		x, y, _ := l.ImageCoord(px, py, ox, oy)
		lx, ly := float32(px%l.BlockSize), float32(py%l.BlockSize)

		nt := normal.Clamped(x, y)
		n := frame.DecodeNormal(nt[0], nt[1])
		rgb := illu.Clamped(x, y)

		var values [NumPlanes]float32
		values[FeatureConst] = 1
		values[FeatureX] = lx
		values[FeatureY] = ly
		values[FeatureXX] = lx * lx
		values[FeatureYY] = ly * ly
		values[FeatureXY] = lx * ly
		values[FeatureNormalX] = n[0]
		values[FeatureNormalY] = n[1]
		values[FeatureNormalZ] = n[2]
		values[FeatureDepth] = depth.Clamped(x, y)[0]
		values[TargetR] = rgb[0]
		values[TargetG] = rgb[1]
		values[TargetB] = rgb[2]

		for plane, v := range values {
			features[l.FeatureIndex(plane, px, py)] = v
		}
	}, nil
}

// Normalize the block features in place and fit the per-channel model.
// Grid: BlocksX x BlocksY.
func fitHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	l, ox, oy, lambda, err := decodePush(push)
	if err != nil {
		return nil, err
	}
	features, weights := res.Buffer("features"), res.Buffer("weights")

	return func(bx, by int) {
		x0, y0 := bx*l.BlockSize, by*l.BlockSize
		x1, y1 := x0+l.BlockSize, y0+l.BlockSize

		// Feature ranges over the image pixels of the block.
		var lo, hi [NumFeatures]float32
		first := true
		for py := y0; py < y1; py++ {
			for px := x0; px < x1; px++ {
				if _, _, inside := l.ImageCoord(px, py, ox, oy); !inside {
					continue
				}
				for k := FeatureConst + 1; k < NumFeatures; k++ {
					v := features[l.FeatureIndex(k, px, py)]
					if first || v < lo[k] {
						lo[k] = v
					}
					if first || v > hi[k] {
						hi[k] = v
					}
				}
				first = false
			}
		}

		// Map each feature to [-1, 1]; constant features become 0.
		for k := FeatureConst + 1; k < NumFeatures; k++ {
			span := hi[k] - lo[k]
			for py := y0; py < y1; py++ {
				for px := x0; px < x1; px++ {
					idx := l.FeatureIndex(k, px, py)
					if span < minFeatureRange {
						features[idx] = 0
						continue
					}
					features[idx] = 2*(features[idx]-lo[k])/span - 1
				}
			}
		}

		sys := newBlockSystem()
		var f [NumFeatures]float64
		var t [NumTargets]float64
		for py := y0; py < y1; py++ {
			for px := x0; px < x1; px++ {
				if _, _, inside := l.ImageCoord(px, py, ox, oy); !inside {
					continue
				}
				for k := range f {
					f[k] = float64(features[l.FeatureIndex(k, px, py)])
				}
				for c := range t {
					t[c] = float64(features[l.FeatureIndex(NumFeatures+c, px, py)])
				}
				sys.add(&f, &t)
			}
		}

		block := by*l.BlocksX + bx
		start := l.WeightIndex(block, 0, 0)
		sys.solve(float64(lambda), weights[start:start+NumTargets*NumFeatures])
	}, nil
}

// Evaluate the block model for every image pixel. Grid: Width x Height.
func postprocessHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	l, ox, oy, _, err := decodePush(push)
	if err != nil {
		return nil, err
	}
	features, weights := res.Buffer("features"), res.Buffer("weights")
	out := res.Image("finalIllumination")

	return func(x, y int) {
		px, py := x+ox, y+oy
		block := l.BlockAt(px, py)

		var rgb [NumTargets]float32
		for c := range rgb {
			var sum float32
			for k := 0; k < NumFeatures; k++ {
				sum += weights[l.WeightIndex(block, c, k)] * features[l.FeatureIndex(k, px, py)]
			}
			// Clamp negative and NaN estimates.
			if !(sum > 0) {
				sum = 0
			}
			rgb[c] = sum
		}
		out.SetVec4(x, y, types.Vec4{rgb[0], rgb[1], rgb[2], 1})
	}, nil
}

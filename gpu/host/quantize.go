package host

import (
	"math"

	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/x448/float16"
)

// Round stored values to the precision of the image format.
func quantize(format gpu.Format, pix []float32) {
	switch format {
	case gpu.FormatRGBA8:
		for idx, v := range pix {
			pix[idx] = quantizeUnorm8(v)
		}
	case gpu.FormatRGBA16F:
		for idx, v := range pix {
			pix[idx] = float16.Fromfloat32(v).Float32()
		}
	}
}

func quantizeUnorm8(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return float32(math.Round(float64(v)*255)) / 255
}

package asset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// A decoded image with 4 float channels per pixel in [0, 1].
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// Get the RGBA value of a pixel.
func (img *Image) At(x, y int) [4]float32 {
	off := (y*img.Width + x) * 4
	return [4]float32{img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3]}
}

// Decode an image resource. PNG, TIFF and BMP sources are supported; 16-bit
// sources keep their full precision.
func DecodeImage(res *Resource) (*Image, error) {
	src, _, err := image.Decode(res)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnsupportedImage, res.Path(), err)
	}

	bounds := src.Bounds()
	img := &Image{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    make([]float32, bounds.Dx()*bounds.Dy()*4),
	}

	off := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
			img.Pix[off] = float32(c.R) / 0xffff
			img.Pix[off+1] = float32(c.G) / 0xffff
			img.Pix[off+2] = float32(c.B) / 0xffff
			img.Pix[off+3] = float32(c.A) / 0xffff
			off += 4
		}
	}

	return img, nil
}

// Encode RGBA float data as an 8-bit PNG. Values are clamped to [0, 1].
func EncodePNG(w io.Writer, width, height int, rgba []float32) error {
	if len(rgba) != width*height*4 {
		return fmt.Errorf("%w: expected %d values for a %dx%d image; got %d", ErrUnsupportedImage, width*height*4, width, height, len(rgba))
	}

	im := image.NewNRGBA(image.Rect(0, 0, width, height))
	for idx, v := range rgba {
		im.Pix[idx] = uint8(unorm(v)*255 + 0.5)
	}
	return png.Encode(w, im)
}

// Encode RGBA float data as a deflate-compressed 16-bit TIFF. Values are
// clamped to [0, 1].
func EncodeTIFF(w io.Writer, width, height int, rgba []float32) error {
	if len(rgba) != width*height*4 {
		return fmt.Errorf("%w: expected %d values for a %dx%d image; got %d", ErrUnsupportedImage, width*height*4, width, height, len(rgba))
	}

	im := image.NewNRGBA64(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := (y*width + x) * 4
			im.SetNRGBA64(x, y, color.NRGBA64{
				R: unorm16(rgba[off]),
				G: unorm16(rgba[off+1]),
				B: unorm16(rgba[off+2]),
				A: unorm16(rgba[off+3]),
			})
		}
	}
	return tiff.Encode(w, im, &tiff.Options{Compression: tiff.Deflate})
}

func unorm(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func unorm16(v float32) uint16 {
	return uint16(unorm(v)*0xffff + 0.5)
}

package pipeline

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// scribbleThreshold is the luminance below which a pixel counts as part of a stroke
const scribbleThreshold = 128

// Preprocess turns an arbitrary sketch into the conditioning image: resampled to
// ControlSize x ControlSize, then converted to a scribble map with white strokes on black.
func Preprocess(sketch image.Image) *image.Gray {
	return Scribble(Resize(sketch, ControlSize))
}

// Resize resamples img to a size x size RGBA image, flattening any transparency onto white
func Resize(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Scribble maps dark pixels to white and everything else to black
func Scribble(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			lum := color.GrayModel.Convert(img.RGBAAt(x, y)).(color.Gray).Y
			if lum < scribbleThreshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

package source

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// LoadFile decodes an image file and converts it to RGBA. Images larger than
// maxW x maxH (when positive) are fitted inside that box.
func LoadFile(path string, maxW, maxH int) (*image.RGBA, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	if maxW > 0 && maxH > 0 {
		b := img.Bounds()
		if b.Dx() > maxW || b.Dy() > maxH {
			img = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
		}
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

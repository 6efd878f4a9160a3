package source

import (
	"image"
	"image/color"
)

// Pattern renders a solid test card with a vertical bar that sweeps one
// column per frame, so receivers can see motion and dropped frames.
type Pattern struct {
	Width  int
	Height int
	Fill   color.RGBA
	Bar    color.RGBA
}

// DefaultPattern matches the classic magenta send test card.
func DefaultPattern(width, height int) Pattern {
	return Pattern{
		Width:  width,
		Height: height,
		Fill:   color.RGBA{255, 32, 128, 255},
		Bar:    color.RGBA{255, 255, 255, 255},
	}
}

// Render returns a new image for frame n. A fresh image is returned every
// call because the previous one may still be read by an outstanding copy.
func (p Pattern) Render(n uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	if p.Width <= 0 || p.Height <= 0 {
		return img
	}
	fill := [4]byte{p.Fill.R, p.Fill.G, p.Fill.B, p.Fill.A}
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], fill[:])
	}
	barW := max(p.Width/32, 1)
	x0 := int(n % uint64(p.Width))
	for y := 0; y < p.Height; y++ {
		for x := x0; x < min(x0+barW, p.Width); x++ {
			img.SetRGBA(x, y, p.Bar)
		}
	}
	return img
}

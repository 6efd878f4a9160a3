package capture

import (
	"fmt"
	"image"
)

// ImageSource copies an RGBA image row by row into a packed destination.
// When temporary is set the image came from the surface pool and is
// recycled after the copy.
type ImageSource struct {
	Image     *image.RGBA
	Temporary bool
}

func (s ImageSource) CopyTo(dst []byte) error {
	img := s.Image
	if img == nil {
		return fmt.Errorf("capture: nil source image")
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	row := w * 4
	if len(dst) != row*h {
		return fmt.Errorf("capture: size mismatch src=%dx%d dst=%d bytes", w, h, len(dst))
	}
	if img.Stride == row {
		copy(dst, img.Pix[:row*h])
		return nil
	}
	for y := 0; y < h; y++ {
		copy(dst[y*row:(y+1)*row], img.Pix[y*img.Stride:y*img.Stride+row])
	}
	return nil
}

func (s ImageSource) Release() {
	if s.Temporary {
		RecycleFrame(s.Image)
	}
}

package capture

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/vova616/screenshot"
)

// Screen snapshots the active monitor into a pooled temporary surface.
// Snapshots wider than MaxWidth are downscaled preserving aspect ratio.
type Screen struct {
	MaxWidth int

	// grab is replaced in tests.
	grab func() (*image.RGBA, error)
}

// Grab returns a temporary surface holding the current screen. The caller
// must hand it to RecycleFrame (or wrap it in a temporary ImageSource).
func (s *Screen) Grab() (*image.RGBA, error) {
	grab := s.grab
	if grab == nil {
		grab = screenshot.CaptureScreen
	}
	img, err := grab()
	if err != nil {
		return nil, fmt.Errorf("capture: screen: %w", err)
	}
	if img == nil || img.Rect.Empty() {
		return nil, fmt.Errorf("capture: screen: empty snapshot")
	}
	var src image.Image = img
	if s.MaxWidth > 0 && img.Rect.Dx() > s.MaxWidth {
		src = imaging.Resize(img, s.MaxWidth, 0, imaging.Box)
	}
	b := src.Bounds()
	surf := acquireFrame(b.Size())
	draw.Draw(surf, surf.Rect, src, b.Min, draw.Src)
	return surf, nil
}

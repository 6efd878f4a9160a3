package capture

import (
	"image"
	"sync"
)

// Temporary screen surfaces. Every snapshot of a session has the same size
// (the screen, downscaled to Screen.MaxWidth), so only surfaces of the most
// recent size are kept; a resolution change drops the old ones. A surface is
// in use at most while it is filled, converted or copied, so a few free
// surfaces cover the overlap between cycles.
const maxFreeSurfaces = 3

type surfacePool struct {
	mu   sync.Mutex
	size image.Point
	free []*image.RGBA
}

var surfaces surfacePool

func (p *surfacePool) get(size image.Point) *image.RGBA {
	p.mu.Lock()
	if size != p.size {
		p.size = size
		clear(p.free)
		p.free = p.free[:0]
	}
	if n := len(p.free); n > 0 {
		img := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return img
	}
	p.mu.Unlock()
	return image.NewRGBA(image.Rectangle{Max: size})
}

func (p *surfacePool) put(img *image.RGBA) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if img.Rect.Min != (image.Point{}) || img.Rect.Size() != p.size || len(p.free) >= maxFreeSurfaces {
		return
	}
	p.free = append(p.free, img)
}

// acquireFrame returns a surface of the given size with Stride size.X*4.
// Its previous contents are undefined.
func acquireFrame(size image.Point) *image.RGBA {
	return surfaces.get(size)
}

// RecycleFrame hands a temporary surface back for reuse. The surface must no
// longer be accessed afterwards. Surfaces of a stale size are dropped.
func RecycleFrame(img *image.RGBA) {
	if img == nil || img.Pix == nil {
		return
	}
	surfaces.put(img)
}

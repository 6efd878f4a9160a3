package capture

import (
	"fmt"
	"image"
	"image/color"
	"sync"
)

// Converter encodes RGBA images into the planar layout: a UYVY plane of
// width*2 bytes per row followed, when alpha is kept, by a width*height alpha
// plane. Output buffers are pooled and returned when the readback releases
// them.
type Converter struct {
	buffers sync.Pool // stores *planarBuffer
}

func NewConverter() *Converter { return &Converter{} }

type planarBuffer struct {
	owner *Converter
	data  []byte
}

func (b *planarBuffer) CopyTo(dst []byte) error {
	if len(dst) != len(b.data) {
		return fmt.Errorf("capture: planar size mismatch src=%d dst=%d", len(b.data), len(dst))
	}
	copy(dst, b.data)
	return nil
}

func (b *planarBuffer) Release() {
	if b.owner != nil {
		b.owner.buffers.Put(b)
	}
}

// Encode converts img. The returned Source stays valid until released.
func (c *Converter) Encode(img *image.RGBA, keepAlpha bool) Source {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	size := w * h * 2
	if keepAlpha {
		size += w * h
	}
	var buf *planarBuffer
	if v := c.buffers.Get(); v != nil {
		buf = v.(*planarBuffer)
	}
	if buf == nil {
		buf = &planarBuffer{owner: c}
	}
	if cap(buf.data) < size {
		buf.data = make([]byte, size)
	}
	buf.data = buf.data[:size]
	encodeUYVY(buf.data[:w*h*2], img)
	if keepAlpha {
		alpha := buf.data[w*h*2:]
		for y := 0; y < h; y++ {
			src := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				alpha[y*w+x] = src[x*4+3]
			}
		}
	}
	return buf
}

// encodeUYVY writes one U Y V Y quad per horizontal pixel pair. With an odd
// width the last column only gets its U Y half.
func encodeUYVY(dst []byte, img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		out := dst[y*w*2:]
		for x := 0; x < w; x += 2 {
			x1 := min(x+1, w-1)
			y0, cb0, cr0 := color.RGBToYCbCr(src[x*4], src[x*4+1], src[x*4+2])
			y1, cb1, cr1 := color.RGBToYCbCr(src[x1*4], src[x1*4+1], src[x1*4+2])
			i := x * 2
			out[i] = uint8((uint16(cb0) + uint16(cb1)) / 2)
			out[i+1] = y0
			if x+1 < w {
				out[i+2] = uint8((uint16(cr0) + uint16(cr1)) / 2)
				out[i+3] = y1
			}
		}
	}
}

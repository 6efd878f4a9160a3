package source

import (
	"context"
	"image"
	"time"
)

// Sink receives source images. sender.Sender satisfies it.
type Sink interface {
	SetSourceImage(img *image.RGBA)
}

// Producer pushes images into a Sink at its own pace, independent of the
// sender's cycle.
type Producer struct {
	Sink     Sink
	Interval time.Duration

	// Next returns the image for frame n; nil skips the frame.
	Next func(n uint64) *image.RGBA
}

// Run blocks until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second / 30
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if img := p.Next(n); img != nil {
				p.Sink.SetSourceImage(img)
			}
			n++
		}
	}
}

// Still returns a Next function that publishes img once.
func Still(img *image.RGBA) func(uint64) *image.RGBA {
	return func(n uint64) *image.RGBA {
		if n == 0 {
			return img
		}
		return nil
	}
}

package sender

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// ErrTransmitterUnavailable is reported when the transmitter handle is
// missing, invalid or closed.
var ErrTransmitterUnavailable = errors.New("sender: transmitter unavailable")

// Transmitter owns the outgoing stream. SendFrame may block until the
// transmitter is ready for another frame; after it returns the transmitter
// may keep reading the previous frame's bytes until the next SendFrame.
type Transmitter interface {
	ActiveConnections() int
	SendFrame(ctx context.Context, f readback.Frame) error
	Valid() bool
	Closed() bool
	Close() error
}

// TransmitterFactory creates or opens the named transmitter.
type TransmitterFactory func(name string) (Transmitter, error)

// ScreenGrabber snapshots the screen into a temporary pooled surface.
type ScreenGrabber interface {
	Grab() (*image.RGBA, error)
}

// Settings are the user-facing sender options.
type Settings struct {
	Name         string
	KeepAlpha    bool
	RGBAChannel  bool // packed RGBA/RGBX instead of planar UYVY/UYVA
	SendOnThread bool
	FetchScreen  bool
	Metadata     string
}

// requiresRestart reports whether moving from a to b must rebuild the
// transmitter, pool and worker.
func requiresRestart(a, b Settings) bool {
	return a.Name != b.Name || a.KeepAlpha != b.KeepAlpha ||
		a.RGBAChannel != b.RGBAChannel || a.SendOnThread != b.SendOnThread
}

// Stats summarises sender behaviour for instrumentation.
type Stats struct {
	Cycles      uint64
	IdleCycles  uint64 // cycles skipped for lack of connections
	Requests    uint64
	Sent        uint64
	Discarded   uint64 // copy errors, unavailable transmitter, superseded frames
	Unknown     uint64 // completions for entries no longer hot
	SendErrors  uint64
	DoubleMarks uint64
	LastSent    time.Time
	Pool        readback.PoolStats
}

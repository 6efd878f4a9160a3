package readback

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle is an opaque identity for one allocation of an Entry. A new handle is
// issued on every Allocate, so a completion carrying a handle from an earlier
// allocation never resolves to the re-bound entry.
type Handle struct{ id uuid.UUID }

// IsZero reports whether h identifies nothing.
func (h Handle) IsZero() bool { return h.id == uuid.Nil }

func (h Handle) String() string { return h.id.String() }

var leaks atomic.Uint64

// LeakCount returns how many entries were garbage collected while still bound.
func LeakCount() uint64 { return leaks.Load() }

// Entry stores a single frame readback: the destination buffer plus the
// dimensions and metadata the copy backend does not carry.
//
// An Entry is reusable: Allocate may be called again after Deallocate. The
// backing array survives Deallocate so that a later Allocate of an equal or
// smaller shape does not allocate.
type Entry struct {
	data     []byte
	backing  []byte
	metadata []byte
	width    int
	height   int
	alpha    bool
	packed   bool
	handle   Handle
}

// NewEntry returns an unbound entry.
func NewEntry() *Entry {
	e := &Entry{}
	runtime.SetFinalizer(e, (*Entry).checkLeak)
	return e
}

func (e *Entry) checkLeak() {
	if e.data == nil {
		return
	}
	leaks.Add(1)
	slog.Default().Warn("readback entry leakage detected",
		"width", e.width, "height", e.height, "fourcc", e.FourCC().String())
}

// Allocate binds the entry to a width x height frame. metadata, when not
// empty, is stored as a NUL-terminated byte string.
func (e *Entry) Allocate(width, height int, alpha, packed bool, metadata string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidShape, width, height)
	}
	if e.data != nil {
		e.Deallocate()
	}
	size := FrameDataSize(width, height, alpha, packed)
	if cap(e.backing) < size {
		e.backing = make([]byte, size)
	}
	e.data = e.backing[:size]
	if metadata != "" {
		e.metadata = append([]byte(metadata), 0)
	}
	e.width, e.height, e.alpha, e.packed = width, height, alpha, packed
	e.handle = Handle{id: uuid.New()}
	return nil
}

// Deallocate unbinds the entry and resets its shape. Calling it on an unbound
// entry is a no-op.
func (e *Entry) Deallocate() {
	e.data = nil
	e.metadata = nil
	e.width, e.height = 0, 0
	e.alpha, e.packed = false, false
	e.handle = Handle{}
}

// free deallocates and drops the retained backing array.
func (e *Entry) free() {
	e.Deallocate()
	e.backing = nil
}

// Allocated reports whether the entry is bound.
func (e *Entry) Allocated() bool { return e.data != nil }

// Handle returns the identity of the current allocation, zero when unbound.
func (e *Entry) Handle() Handle { return e.handle }

func (e *Entry) Width() int     { return e.width }
func (e *Entry) Height() int    { return e.height }
func (e *Entry) HasAlpha() bool { return e.alpha }
func (e *Entry) Packed() bool   { return e.packed }

// Stride is the byte length of one row across all planes; see Frame.
func (e *Entry) Stride() int { return e.width * BytesPerPixel(e.alpha, e.packed) }

// Size is the byte length of the bound buffer.
func (e *Entry) Size() int { return len(e.data) }

// FourCC returns the layout tag derived from the alpha and packed flags.
func (e *Entry) FourCC() FourCC { return FourCCFor(e.alpha, e.packed) }

// Data returns the destination buffer. The slice must not be retained past
// the release of the entry.
func (e *Entry) Data() []byte { return e.data }

// Metadata returns the NUL-terminated metadata or nil.
func (e *Entry) Metadata() []byte { return e.metadata }

// Capacity is the size of the retained backing array.
func (e *Entry) Capacity() int { return cap(e.backing) }

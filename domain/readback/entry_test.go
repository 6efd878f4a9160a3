package readback

import (
	"errors"
	"testing"
)

func TestEntry_AllocateShape(t *testing.T) {
	e := NewEntry()
	if err := e.Allocate(64, 32, true, true, "meta"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if e.Stride() != 256 || e.Size() != 256*32 {
		t.Fatalf("unexpected stride=%d size=%d", e.Stride(), e.Size())
	}
	if e.FourCC() != FourCCRGBA {
		t.Fatalf("expected RGBA, got %s", e.FourCC())
	}
	if got := string(e.Metadata()); got != "meta\x00" {
		t.Fatalf("metadata not NUL terminated: %q", got)
	}
	if e.Handle().IsZero() {
		t.Fatalf("allocated entry has zero handle")
	}
	e.Deallocate()
}

func TestEntry_PlanarSizes(t *testing.T) {
	cases := []struct {
		alpha, packed bool
		bpp           int
		fourcc        FourCC
	}{
		{false, false, 2, FourCCUYVY},
		{true, false, 3, FourCCUYVA},
		{false, true, 4, FourCCRGBX},
		{true, true, 4, FourCCRGBA},
	}
	for _, c := range cases {
		e := NewEntry()
		if err := e.Allocate(10, 4, c.alpha, c.packed, ""); err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if e.Stride() != 10*c.bpp || e.Size() != 40*c.bpp || e.FourCC() != c.fourcc {
			t.Fatalf("alpha=%v packed=%v: stride=%d size=%d fourcc=%s", c.alpha, c.packed, e.Stride(), e.Size(), e.FourCC())
		}
		if e.Metadata() != nil {
			t.Fatalf("empty metadata should leave no buffer")
		}
		e.Deallocate()
	}
}

func TestEntry_InvalidShape(t *testing.T) {
	e := NewEntry()
	for _, wh := range [][2]int{{0, 10}, {10, 0}, {-1, 5}} {
		if err := e.Allocate(wh[0], wh[1], false, true, ""); !errors.Is(err, ErrInvalidShape) {
			t.Fatalf("%v: expected ErrInvalidShape, got %v", wh, err)
		}
		if e.Allocated() {
			t.Fatalf("failed allocate left the entry bound")
		}
	}
}

func TestEntry_DeallocateRoundTrip(t *testing.T) {
	e := NewEntry()
	if err := e.Allocate(8, 8, true, false, "meta"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	e.Deallocate()
	e.Deallocate() // idempotent
	fresh := NewEntry()
	if e.Allocated() || e.Width() != fresh.Width() || e.Height() != fresh.Height() ||
		e.HasAlpha() != fresh.HasAlpha() || e.Packed() != fresh.Packed() ||
		e.Data() != nil || e.Metadata() != nil || !e.Handle().IsZero() {
		t.Fatalf("deallocated entry differs from a fresh one")
	}
	if err := e.Allocate(16, 2, false, true, ""); err != nil {
		t.Fatalf("re-allocate: %v", err)
	}
	if e.Size() != 16*2*4 {
		t.Fatalf("unexpected size after re-allocate: %d", e.Size())
	}
	e.Deallocate()
}

func TestEntry_NewHandlePerAllocation(t *testing.T) {
	e := NewEntry()
	_ = e.Allocate(4, 4, false, true, "")
	first := e.Handle()
	e.Deallocate()
	_ = e.Allocate(4, 4, false, true, "")
	if e.Handle() == first {
		t.Fatalf("handle reused across allocations")
	}
	e.Deallocate()
}

func TestEntry_LeakDiagnostic(t *testing.T) {
	before := LeakCount()
	e := NewEntry()
	e.checkLeak()
	if LeakCount() != before {
		t.Fatalf("unbound entry counted as leak")
	}
	_ = e.Allocate(2, 2, false, true, "")
	e.checkLeak()
	if LeakCount() != before+1 {
		t.Fatalf("bound entry not reported as leak")
	}
	e.Deallocate()
}

func TestFrame_FromEntry(t *testing.T) {
	e := NewEntry()
	_ = e.Allocate(6, 3, false, false, "hello")
	f := NewFrame(e, 7)
	if f.Width != 6 || f.Height != 3 || f.Stride != 12 || f.FourCC != FourCCUYVY {
		t.Fatalf("unexpected frame %+v", f)
	}
	if f.Timecode != TimecodeSynthesize || f.Sequence != 7 || f.FrameRateN != FrameRateN {
		t.Fatalf("unexpected timing fields %+v", f)
	}
	if f.MetadataString() != "hello" {
		t.Fatalf("metadata = %q", f.MetadataString())
	}
	if &f.Data[0] != &e.Data()[0] {
		t.Fatalf("frame does not alias entry buffer")
	}
	e.Deallocate()
}

package sender

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soocke/pixel-cast-go/domain/capture"
	"github.com/soocke/pixel-cast-go/domain/readback"
)

var discardLogger = slog.New(slog.NewTextHandler(&discardWriter{}, nil))

type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeBackend queues requests until complete or WaitAll is called.
type fakeBackend struct {
	mu      sync.Mutex
	pending []*fakeRequest
	waits   int
}

type fakeRequest struct {
	src    capture.Source
	handle readback.Handle
	buf    []byte
	done   func(readback.Completion)
}

func (b *fakeBackend) Request(src capture.Source, dst *readback.Entry, done func(readback.Completion)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, &fakeRequest{src: src, handle: dst.Handle(), buf: dst.Data(), done: done})
}

func (b *fakeBackend) WaitAll() {
	b.mu.Lock()
	b.waits++
	b.mu.Unlock()
	for b.count() > 0 {
		b.complete(nil)
	}
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// complete finishes the oldest request, copying unless err is set.
func (b *fakeBackend) complete(err error) readback.Handle {
	b.mu.Lock()
	r := b.pending[0]
	b.pending = b.pending[1:]
	b.mu.Unlock()
	if err == nil {
		err = r.src.CopyTo(r.buf)
	}
	if rel, ok := r.src.(capture.Releaser); ok {
		rel.Release()
	}
	r.done(readback.Completion{Handle: r.handle, Err: err})
	return r.handle
}

type fakeTransmitter struct {
	name   string
	conns  atomic.Int32
	closed atomic.Bool
	block  chan struct{} // when set, SendFrame waits on it
	delay  time.Duration

	mu     sync.Mutex
	frames []readback.Frame
	data   [][]byte
}

func (t *fakeTransmitter) ActiveConnections() int { return int(t.conns.Load()) }
func (t *fakeTransmitter) Valid() bool            { return true }
func (t *fakeTransmitter) Closed() bool           { return t.closed.Load() }
func (t *fakeTransmitter) Close() error           { t.closed.Store(true); return nil }

func (t *fakeTransmitter) SendFrame(ctx context.Context, f readback.Frame) error {
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, f)
	t.data = append(t.data, append([]byte(nil), f.Data...))
	return nil
}

func (t *fakeTransmitter) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

type harness struct {
	s       *Sender
	backend *fakeBackend
	txs     []*fakeTransmitter
	mu      sync.Mutex
}

func newHarness(set Settings, conns int32) *harness {
	h := &harness{backend: &fakeBackend{}}
	h.s = NewSender(Options{
		Logger:   discardLogger,
		Settings: set,
		Interval: time.Hour,
		Backend:  h.backend,
		Transmitters: func(name string) (Transmitter, error) {
			tx := &fakeTransmitter{name: name}
			tx.conns.Store(conns)
			h.mu.Lock()
			h.txs = append(h.txs, tx)
			h.mu.Unlock()
			return tx, nil
		},
	})
	return h
}

func (h *harness) tx(i int) *fakeTransmitter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txs[i]
}

func (h *harness) objs() *senderObjects {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.objs
}

func solid(w, hgt int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, hgt))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestSender_NoConnectionsSkipsCycle(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true}, 0)
	defer h.s.Close()
	h.s.SetSourceImage(solid(4, 4, 1))
	h.s.runCycle()
	if h.backend.count() != 0 {
		t.Fatalf("expected no readback requests, got %d", h.backend.count())
	}
	st := h.s.Stats()
	if st.Pool.Hot != 0 || st.Pool.Created != 0 || st.IdleCycles != 1 || h.s.HasConnections() {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestSender_DirectModeMarksAndReleasesNextCycle(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true, KeepAlpha: true, Metadata: "m"}, 1)
	defer h.s.Close()

	h.s.SetSourceImage(solid(4, 4, 7))
	h.s.runCycle()
	if !h.s.HasConnections() || h.backend.count() != 1 {
		t.Fatalf("expected one request, got %d", h.backend.count())
	}
	// Not updated again: the next cycle must not capture.
	h.s.runCycle()
	if h.backend.count() != 1 {
		t.Fatalf("unchanged source captured twice")
	}
	h.backend.complete(nil)

	tx := h.tx(0)
	if tx.sentCount() != 1 {
		t.Fatalf("expected one frame sent, got %d", tx.sentCount())
	}
	f := tx.frames[0]
	if f.Width != 4 || f.FourCC != readback.FourCCRGBA || f.MetadataString() != "m" || tx.data[0][0] != 7 {
		t.Fatalf("unexpected frame %+v", f)
	}
	objs := h.objs()
	first := objs.pool.Marked()
	if first == nil || !first.Allocated() {
		t.Fatalf("sent entry should be marked and still bound")
	}

	h.s.SetSourceImage(solid(4, 4, 9))
	h.s.runCycle()
	h.backend.complete(nil)
	if first.Allocated() {
		t.Fatalf("previous entry not released on the next send")
	}
	if second := objs.pool.Marked(); second == nil || second == first {
		t.Fatalf("new entry not marked")
	}
	if st := objs.pool.Stats(); st.Hot != 0 || st.Cold != 1 || !st.Marked {
		t.Fatalf("unexpected pool stats %+v", st)
	}
}

func TestSender_UnknownCompletionIgnored(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true}, 1)
	defer h.s.Close()
	h.s.SetSourceImage(solid(2, 2, 1))
	h.s.runCycle()
	objs := h.objs()
	before := objs.pool.Stats()

	stale := readback.NewEntry()
	_ = stale.Allocate(2, 2, false, true, "")
	h.s.onReadback(objs, readback.Completion{Handle: stale.Handle()})
	stale.Deallocate()

	if after := objs.pool.Stats(); after != before {
		t.Fatalf("pool mutated by unknown completion: %+v -> %+v", before, after)
	}
	if h.tx(0).sentCount() != 0 || h.s.Stats().Unknown != 1 {
		t.Fatalf("unknown completion reached the transmitter")
	}
}

func TestSender_CopyErrorDiscards(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true}, 1)
	defer h.s.Close()
	h.s.SetSourceImage(solid(2, 2, 1))
	h.s.runCycle()
	h.backend.complete(readback.ErrCopyFailed)
	st := h.s.Stats()
	if h.tx(0).sentCount() != 0 || st.Discarded != 1 || st.Pool.Hot != 0 || st.Pool.Cold != 1 {
		t.Fatalf("copy error not discarded: %+v", st)
	}
}

func TestSender_ClosedTransmitterDiscards(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true}, 1)
	defer h.s.Close()
	h.s.SetSourceImage(solid(2, 2, 1))
	h.s.runCycle()
	h.tx(0).closed.Store(true)
	h.backend.complete(nil)
	if h.tx(0).sentCount() != 0 || h.s.Stats().Discarded != 1 {
		t.Fatalf("frame sent through closed transmitter")
	}
}

func TestSender_PlanarModeUsesConverter(t *testing.T) {
	h := newHarness(Settings{Name: "a"}, 1)
	defer h.s.Close()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 255, 255, 255
	}
	h.s.SetSourceImage(img)
	h.s.runCycle()
	h.backend.complete(nil)
	tx := h.tx(0)
	if tx.sentCount() != 1 {
		t.Fatalf("expected a frame")
	}
	f := tx.frames[0]
	if f.FourCC != readback.FourCCUYVY || len(tx.data[0]) != 4*2*2 || f.Stride != 8 {
		t.Fatalf("unexpected planar frame %+v", f)
	}
	if tx.data[0][1] != 255 {
		t.Fatalf("luma not encoded: %v", tx.data[0][:4])
	}
}

type fakeScreen struct{ grabs int }

func (f *fakeScreen) Grab() (*image.RGBA, error) {
	f.grabs++
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(0, 0, color.RGBA{1, 2, 3, 255})
	return img, nil
}

func TestSender_FetchScreenWhenNoSourceUpdate(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true, FetchScreen: true}, 1)
	scr := &fakeScreen{}
	h.s.screen = scr
	defer h.s.Close()

	h.s.runCycle()
	if scr.grabs != 1 || h.backend.count() != 1 {
		t.Fatalf("expected screen capture, grabs=%d requests=%d", scr.grabs, h.backend.count())
	}
	// A pending source update wins over the screen in the same cycle.
	h.s.SetSourceImage(solid(2, 2, 5))
	h.s.runCycle()
	if scr.grabs != 1 || h.backend.count() != 2 {
		t.Fatalf("source and screen both captured in one cycle")
	}
	h.backend.complete(nil)
	if f := h.tx(0).frames[0]; f.Width != 8 || h.tx(0).data[0][0] != 1 {
		t.Fatalf("unexpected screen frame %+v", f)
	}
}

func TestSender_OffloadDeliversAndDropsWhilePending(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true, SendOnThread: true}, 1)
	defer h.s.Close()
	h.s.runCycle() // prepare
	tx := h.tx(0)
	tx.block = make(chan struct{})

	h.s.SetSourceImage(solid(2, 2, 1))
	h.s.runCycle()
	h.backend.complete(nil)
	objs := h.objs()
	deadline := time.Now().Add(time.Second)
	for !objs.worker.Pending() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	h.s.SetSourceImage(solid(2, 2, 2))
	h.s.runCycle()
	h.backend.complete(nil)
	if h.s.Stats().Discarded != 1 {
		t.Fatalf("completion during pending send not discarded")
	}

	close(tx.block)
	deadline = time.Now().Add(time.Second)
	for (tx.sentCount() != 1 || objs.worker.Pending()) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if tx.sentCount() != 1 || tx.data[0][0] != 1 {
		t.Fatalf("offloaded frame not sent")
	}
	if objs.pool.Marked() == nil {
		t.Fatalf("offloaded entry not marked")
	}
}

func TestSender_CloseWithBlockedOffloadFreesEntries(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true, SendOnThread: true}, 1)
	h.s.runCycle()
	tx := h.tx(0)
	tx.block = make(chan struct{}) // never released

	h.s.SetSourceImage(solid(2, 2, 1))
	h.s.runCycle()
	h.backend.complete(nil)
	h.s.SetSourceImage(solid(2, 2, 2))
	h.s.runCycle() // left pending for the teardown barrier

	objs := h.objs()
	var entries []*readback.Entry
	for _, r := range h.backend.pending {
		if e, ok := objs.pool.Resolve(r.handle); ok {
			entries = append(entries, e)
		}
	}
	done := make(chan struct{})
	go func() {
		h.s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close blocked on the offload worker")
	}
	for _, e := range entries {
		if e.Allocated() {
			t.Fatalf("entry still bound after close")
		}
	}
	if h.backend.waits == 0 || !tx.Closed() {
		t.Fatalf("teardown skipped barrier or transmitter close")
	}
}

func TestOffloadWorker_StopReturnsSlotEntry(t *testing.T) {
	w := &offloadWorker{done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	e := readback.NewEntry()
	_ = e.Allocate(2, 2, false, true, "")
	if !w.Offer(readback.NewFrame(e, 1), e) {
		t.Fatalf("offer refused on empty slot")
	}
	if w.Offer(readback.NewFrame(e, 2), e) {
		t.Fatalf("offer accepted while pending")
	}
	close(w.done) // loop never started
	if got := w.Stop(); got != e {
		t.Fatalf("stop did not hand back the pending entry")
	}
	if w.Offer(readback.NewFrame(e, 3), e) {
		t.Fatalf("offer accepted after stop")
	}
	e.Deallocate()
}

func TestSender_CloseDrainsOutstandingCopies(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true}, 1)
	h.s.SetSourceImage(solid(2, 2, 3))
	h.s.runCycle()
	objs := h.objs()
	e, ok := objs.pool.Resolve(h.backend.pending[0].handle)
	if !ok {
		t.Fatalf("pending entry not hot")
	}
	h.s.Close()
	if h.backend.count() != 0 {
		t.Fatalf("outstanding copy not drained")
	}
	if e.Allocated() {
		t.Fatalf("entry leaked past dispose")
	}
	if h.objs() != nil {
		t.Fatalf("collaborators not released")
	}
}

func TestSender_ApplyRestartsOnNameChange(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true}, 1)
	defer h.s.Close()
	h.s.Activate(true)
	h.s.runCycle()
	h.s.Apply(Settings{Name: "a", RGBAChannel: true, Metadata: "live"})
	if h.objs() == nil {
		t.Fatalf("metadata change should not restart")
	}
	h.s.Apply(Settings{Name: "b", RGBAChannel: true})
	if h.objs() != nil || !h.tx(0).Closed() {
		t.Fatalf("name change did not release the old transmitter")
	}
	if !h.s.Active() {
		t.Fatalf("sender inactive after restart")
	}
	h.s.runCycle()
	if got := h.tx(1).name; got != "b" {
		t.Fatalf("new transmitter opened as %q", got)
	}
}

func TestSender_PrepareErrorSkipsCycle(t *testing.T) {
	s := NewSender(Options{
		Logger:   discardLogger,
		Settings: Settings{Name: "x"},
		Backend:  &fakeBackend{},
		Transmitters: func(string) (Transmitter, error) {
			return nil, errors.New("busy")
		},
	})
	defer s.Close()
	s.runCycle()
	if _, err := s.prepare(); !errors.Is(err, ErrTransmitterUnavailable) {
		t.Fatalf("expected ErrTransmitterUnavailable, got %v", err)
	}
	if s.HasConnections() {
		t.Fatalf("unexpected connections")
	}
}

func TestSender_MarkFrameUpdatedRecaptures(t *testing.T) {
	h := newHarness(Settings{Name: "a", RGBAChannel: true}, 1)
	defer h.s.Close()
	img := solid(2, 2, 1)
	h.s.SetSourceImage(img)
	h.s.runCycle()
	h.s.runCycle()
	h.s.MarkFrameUpdated()
	h.s.runCycle()
	if h.backend.count() != 2 {
		t.Fatalf("expected 2 requests, got %d", h.backend.count())
	}
}

func TestSender_ApplyWhileInactiveRebuildsOnNextCycle(t *testing.T) {
	h := newHarness(Settings{Name: "old", RGBAChannel: true}, 1)
	defer h.s.Close()
	h.s.runCycle()
	h.s.Activate(false)

	h.s.Apply(Settings{Name: "new", RGBAChannel: true, SendOnThread: true})
	if h.objs() != nil || !h.tx(0).Closed() {
		t.Fatalf("inactive apply kept the old transmitter")
	}
	if h.s.Active() {
		t.Fatalf("apply activated an inactive sender")
	}

	h.s.runCycle()
	h.mu.Lock()
	opened := len(h.txs)
	h.mu.Unlock()
	if opened != 2 || h.tx(1).name != "new" {
		t.Fatalf("expected a transmitter named new, opened=%d", opened)
	}
	if objs := h.objs(); objs == nil || objs.worker == nil {
		t.Fatalf("offload mode not applied on rebuild")
	}
}

func TestSender_DirectModeSlowTransmitterKeepsHotSetBounded(t *testing.T) {
	tx := &fakeTransmitter{name: "a", delay: 50 * time.Millisecond}
	tx.conns.Store(1)
	s := NewSender(Options{
		Logger:   discardLogger,
		Settings: Settings{Name: "a", RGBAChannel: true},
		Interval: 2 * time.Millisecond,
		Backend:  capture.NewAsyncReadback(discardLogger, 0),
		Transmitters: func(string) (Transmitter, error) {
			return tx, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for n := uint8(0); ; n++ {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				s.SetSourceImage(solid(8, 8, n))
			}
		}
	}()

	s.Activate(true)
	maxHot := 0
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if hot := s.Stats().Pool.Hot; hot > maxHot {
			maxHot = hot
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-produced
	st := s.Stats()
	s.Close()

	if maxHot > 8 {
		t.Fatalf("hot set grew to %d behind a slow transmitter", maxHot)
	}
	if st.Sent == 0 || st.Discarded == 0 {
		t.Fatalf("expected sends and drops, got %+v", st)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := 1; i < len(tx.frames); i++ {
		if tx.frames[i].Sequence != tx.frames[i-1].Sequence+1 {
			t.Fatalf("frames sent out of sequence: %d after %d", tx.frames[i].Sequence, tx.frames[i-1].Sequence)
		}
	}
}

package sender

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soocke/pixel-cast-go/domain/capture"
	"github.com/soocke/pixel-cast-go/domain/readback"
)

const (
	defaultInterval        = time.Second / 30
	senderStatsLogInterval = 5 * time.Second
)

// Options wires a Sender to its collaborators.
type Options struct {
	Logger       *slog.Logger
	Settings     Settings
	Interval     time.Duration // render cycle period
	Transmitters TransmitterFactory
	Backend      capture.Backend
	Encoder      capture.Encoder
	Screen       ScreenGrabber // optional, used by Settings.FetchScreen
}

// Sender captures the source image once per cycle, reads it back
// asynchronously into pooled buffers and hands completed buffers to the
// transmitter. Use NewSender to construct an instance.
type Sender struct {
	logger       *slog.Logger
	interval     time.Duration
	transmitters TransmitterFactory
	backend      capture.Backend
	encoder      capture.Encoder
	screen       ScreenGrabber

	lifeMu     sync.Mutex // serialises Activate/Restart/Close/Apply
	active     bool
	stopDriver func()

	mu          sync.Mutex // guards settings and objs
	settings    Settings
	objs        *senderObjects
	prepareErrs int

	source         atomic.Pointer[sourceFrame]
	sentVersion    uint64 // owned by the cycle driver
	hasConnections atomic.Bool
	sequence       atomic.Uint64

	cycles      atomic.Uint64
	idleCycles  atomic.Uint64
	requests    atomic.Uint64
	sent        atomic.Uint64
	discarded   atomic.Uint64
	unknown     atomic.Uint64
	sendErrors  atomic.Uint64
	doubleMarks atomic.Uint64
	lastSent    atomic.Int64
}

// sourceFrame pairs the current source image with a version bumped on every
// update, so an update landing mid-cycle is never lost.
type sourceFrame struct {
	img     *image.RGBA
	version uint64
}

// senderObjects are the collaborators built lazily on the first cycle and
// released on Restart/Close.
type senderObjects struct {
	tx     Transmitter
	pool   *readback.Pool
	worker *offloadWorker
	ctx    context.Context
	cancel context.CancelFunc
	sendMu sync.Mutex

	onReadback func(readback.Completion)
}

// NewSender constructs an inactive sender. Call Activate(true) to start it.
func NewSender(opts Options) *Sender {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	backend := opts.Backend
	if backend == nil {
		backend = capture.NewAsyncReadback(opts.Logger, 0)
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = capture.NewConverter()
	}
	return &Sender{
		logger:       opts.Logger,
		interval:     interval,
		transmitters: opts.Transmitters,
		backend:      backend,
		encoder:      encoder,
		screen:       opts.Screen,
		settings:     opts.Settings,
	}
}

// SetSourceImage replaces the source image and flags it as updated.
func (s *Sender) SetSourceImage(img *image.RGBA) {
	for {
		cur := s.source.Load()
		next := &sourceFrame{img: img, version: 1}
		if cur != nil {
			next.version = cur.version + 1
		}
		if s.source.CompareAndSwap(cur, next) {
			return
		}
	}
}

// MarkFrameUpdated flags the current source image as changed in place.
func (s *Sender) MarkFrameUpdated() {
	for {
		cur := s.source.Load()
		if cur == nil {
			return
		}
		if s.source.CompareAndSwap(cur, &sourceFrame{img: cur.img, version: cur.version + 1}) {
			return
		}
	}
}

// SetMetadata changes the metadata attached to subsequent frames.
func (s *Sender) SetMetadata(text string) {
	s.mu.Lock()
	s.settings.Metadata = text
	s.mu.Unlock()
}

// Settings returns the current settings.
func (s *Sender) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// HasConnections reports whether the last cycle saw at least one receiver.
func (s *Sender) HasConnections() bool { return s.hasConnections.Load() }

// Active reports whether the cycle driver is running.
func (s *Sender) Active() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.active
}

// Activate starts (willRun) or stops the cycle driver without releasing the
// transmitter and pool.
func (s *Sender) Activate(willRun bool) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.resetState(willRun)
}

// Restart stops the driver, releases every collaborator and starts again if
// the sender was active.
func (s *Sender) Restart() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.restart(s.active)
}

// Close stops the sender and releases every collaborator.
func (s *Sender) Close() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.restart(false)
}

// Apply installs new settings. Changing the name, alpha, channel layout or
// offload mode releases the transmitter, pool and worker; an active sender
// starts again right away, an inactive one rebuilds them on its next cycle.
func (s *Sender) Apply(set Settings) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.mu.Lock()
	old := s.settings
	s.settings = set
	s.mu.Unlock()
	if requiresRestart(old, set) {
		if s.logger != nil {
			s.logger.Info("sender settings changed, restarting", "name", set.Name, "active", s.active)
		}
		s.restart(s.active)
	}
}

func (s *Sender) restart(willRun bool) {
	s.resetState(false)
	s.releaseObjects()
	s.resetState(willRun)
}

func (s *Sender) resetState(willRun bool) {
	if s.stopDriver != nil {
		s.stopDriver()
		s.stopDriver = nil
	}
	s.active = willRun
	if !willRun {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go s.loop(ctx, done)
	s.stopDriver = func() {
		cancel()
		<-done
	}
}

// prepare builds the collaborators on first use. It runs on the driver.
func (s *Sender) prepare() (*senderObjects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objs != nil {
		return s.objs, nil
	}
	if s.transmitters == nil {
		return nil, ErrTransmitterUnavailable
	}
	tx, err := s.transmitters(s.settings.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransmitterUnavailable, err)
	}
	objs := &senderObjects{tx: tx, pool: readback.NewPool(s.logger)}
	objs.ctx, objs.cancel = context.WithCancel(context.Background())
	objs.onReadback = func(c readback.Completion) { s.onReadback(objs, c) }
	if s.settings.SendOnThread {
		objs.worker = newOffloadWorker(func(f readback.Frame, e *readback.Entry) { s.transmit(objs, f, e) })
	}
	s.objs = objs
	s.prepareErrs = 0
	if s.logger != nil {
		s.logger.Info("sender prepared", "name", s.settings.Name, "offload", objs.worker != nil)
	}
	return objs, nil
}

// releaseObjects tears the collaborators down in the only safe order: the
// driver is already stopped, so wait for every outstanding readback, join the
// send worker, then close the transmitter and dispose the pool.
func (s *Sender) releaseObjects() {
	s.mu.Lock()
	objs := s.objs
	s.objs = nil
	s.mu.Unlock()
	if objs == nil {
		return
	}
	objs.cancel()
	s.backend.WaitAll()
	if objs.worker != nil {
		if e := objs.worker.Stop(); e != nil {
			objs.pool.Release(e)
			s.discarded.Add(1)
		}
	}
	if err := objs.tx.Close(); err != nil && s.logger != nil {
		s.logger.Warn("transmitter close", "error", err)
	}
	objs.pool.Dispose()
	s.hasConnections.Store(false)
}

// Stats returns a snapshot of the sender counters.
func (s *Sender) Stats() Stats {
	st := Stats{
		Cycles:      s.cycles.Load(),
		IdleCycles:  s.idleCycles.Load(),
		Requests:    s.requests.Load(),
		Sent:        s.sent.Load(),
		Discarded:   s.discarded.Load(),
		Unknown:     s.unknown.Load(),
		SendErrors:  s.sendErrors.Load(),
		DoubleMarks: s.doubleMarks.Load(),
	}
	if ns := s.lastSent.Load(); ns > 0 {
		st.LastSent = time.Unix(0, ns)
	}
	s.mu.Lock()
	if s.objs != nil {
		st.Pool = s.objs.pool.Stats()
	}
	s.mu.Unlock()
	return st
}

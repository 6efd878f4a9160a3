package sender

import (
	"sync"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// offloadWorker runs the blocking transmit call on its own goroutine. It
// holds a single slot: while a frame is ready or being sent, Offer refuses
// new frames so completions that outrun the transmitter are dropped rather
// than overwriting the pending one.
type offloadWorker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  readback.Frame
	entry  *readback.Entry
	ready  bool
	closed bool

	send func(readback.Frame, *readback.Entry)
	done chan struct{}
}

func newOffloadWorker(send func(readback.Frame, *readback.Entry)) *offloadWorker {
	w := &offloadWorker{send: send, done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// Pending reports whether the slot is occupied.
func (w *offloadWorker) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Offer fills the slot. It returns false when the slot is busy or the worker
// is stopped; the caller keeps ownership of entry in that case.
func (w *offloadWorker) Offer(f readback.Frame, e *readback.Entry) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.ready {
		return false
	}
	w.frame, w.entry, w.ready = f, e, true
	w.cond.Signal()
	return true
}

func (w *offloadWorker) loop() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for !w.ready && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			return
		}
		f, e := w.frame, w.entry
		w.mu.Unlock()

		w.send(f, e)

		w.mu.Lock()
		w.frame, w.entry, w.ready = readback.Frame{}, nil, false
		w.mu.Unlock()
	}
}

// Stop signals the loop, waits for it to exit and returns the entry left in
// the slot, if any, so the caller can release it.
func (w *offloadWorker) Stop() *readback.Entry {
	w.mu.Lock()
	w.closed = true
	w.cond.Signal()
	w.mu.Unlock()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ready {
		return nil
	}
	e := w.entry
	w.frame, w.entry, w.ready = readback.Frame{}, nil, false
	return e
}

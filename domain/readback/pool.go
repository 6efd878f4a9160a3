package readback

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Pool stores ongoing readback entries (hot) and recycled entries (cold).
//
// The marked slot holds an entry whose copy has completed but whose bytes may
// still be read by an asynchronous transmitter. It is released on the next
// ReleaseMarked, one cycle later. Every method is safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	hot    []*Entry
	cold   []*Entry
	marked *Entry
	logger *slog.Logger

	created uint64
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Hot      int
	Cold     int
	Marked   bool
	Created  uint64
	Retained uint64 // bytes held by backing arrays
}

func NewPool(logger *slog.Logger) *Pool {
	return &Pool{logger: logger}
}

// Acquire pops a cold entry (or constructs one), binds it to the given shape
// and moves it to the hot set.
func (p *Pool) Acquire(width, height int, alpha, packed bool, metadata string) (*Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var e *Entry
	if n := len(p.cold); n > 0 {
		e = p.cold[n-1]
		p.cold = p.cold[:n-1]
	} else {
		e = NewEntry()
		p.created++
	}
	if err := e.Allocate(width, height, alpha, packed, metadata); err != nil {
		p.cold = append(p.cold, e)
		return nil, err
	}
	p.hot = append(p.hot, e)
	return e, nil
}

// Release deallocates e and moves it to the cold set. Releasing an entry that
// is not hot only deallocates it.
func (p *Pool) Release(e *Entry) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release(e)
}

func (p *Pool) release(e *Entry) {
	e.Deallocate()
	if i := slices.Index(p.hot, e); i >= 0 {
		p.hot = slices.Delete(p.hot, i, i+1)
	}
	if p.marked == e {
		p.marked = nil
	}
	if !slices.Contains(p.cold, e) {
		p.cold = append(p.cold, e)
	}
}

// Resolve finds the hot entry currently allocated under h. A miss is the
// normal outcome for a completion that arrives after its entry was recycled.
func (p *Pool) Resolve(h Handle) (*Entry, bool) {
	if h.IsZero() {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.hot {
		if e.handle == h {
			return e, true
		}
	}
	return nil, false
}

// Mark takes e out of the hot set and defers its release to the next
// ReleaseMarked. A second Mark before that returns ErrDoubleMark and leaves
// the existing mark untouched.
func (p *Pool) Mark(e *Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.marked != nil {
		if p.logger != nil {
			p.logger.Warn("readback pool marked twice", "held", p.marked.handle.String(), "rejected", e.handle.String())
		}
		return fmt.Errorf("%w: %s", ErrDoubleMark, e.handle)
	}
	i := slices.Index(p.hot, e)
	if i < 0 {
		return fmt.Errorf("%w: mark %s: not in flight", ErrEntryNotFound, e.handle)
	}
	p.hot = slices.Delete(p.hot, i, i+1)
	p.marked = e
	return nil
}

// ReleaseMarked releases the marked entry, if any.
func (p *Pool) ReleaseMarked() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.marked == nil {
		return
	}
	p.release(p.marked)
	p.marked = nil
}

// Marked returns the entry awaiting deferred release.
func (p *Pool) Marked() *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marked
}

// Dispose deallocates every entry the pool owns. No copy or send may be
// outstanding when it is called.
func (p *Pool) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.hot {
		e.free()
	}
	for _, e := range p.cold {
		e.free()
	}
	if p.marked != nil {
		p.marked.free()
		p.marked = nil
	}
	p.hot = nil
	p.cold = nil
}

// Stats returns counts and retained bytes.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{Hot: len(p.hot), Cold: len(p.cold), Marked: p.marked != nil, Created: p.created}
	for _, e := range p.hot {
		s.Retained += uint64(e.Capacity())
	}
	for _, e := range p.cold {
		s.Retained += uint64(e.Capacity())
	}
	if p.marked != nil {
		s.Retained += uint64(p.marked.Capacity())
	}
	return s
}

// Completion is what the copy backend reports when a readback finishes.
type Completion struct {
	Handle Handle
	Err    error
}

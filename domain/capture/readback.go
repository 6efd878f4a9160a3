package capture

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// AsyncReadback is a host-memory Backend: each request copies on its own
// goroutine after an optional transfer latency and then reports completion.
// WaitAll is a full barrier over outstanding copies; a panic in a copy is
// re-raised from WaitAll.
type AsyncReadback struct {
	wg      conc.WaitGroup
	latency time.Duration
	logger  *slog.Logger

	requests  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	inflight  atomic.Int64
	copyNanos atomic.Uint64
}

// NewAsyncReadback returns a backend that delays every copy by latency.
func NewAsyncReadback(logger *slog.Logger, latency time.Duration) *AsyncReadback {
	return &AsyncReadback{logger: logger, latency: latency}
}

// Request schedules a copy of src into dst. The destination buffer and the
// handle are captured now; done receives the handle of this allocation even
// if the entry is re-bound later.
func (r *AsyncReadback) Request(src Source, dst *readback.Entry, done func(readback.Completion)) {
	h := dst.Handle()
	buf := dst.Data()
	r.requests.Add(1)
	r.inflight.Add(1)
	r.wg.Go(func() {
		defer r.inflight.Add(-1)
		if r.latency > 0 {
			time.Sleep(r.latency)
		}
		start := time.Now()
		err := src.CopyTo(buf)
		if rel, ok := src.(Releaser); ok {
			rel.Release()
		}
		r.copyNanos.Add(uint64(time.Since(start).Nanoseconds()))
		if err != nil {
			r.failed.Add(1)
			if r.logger != nil {
				r.logger.Debug("readback copy failed", "handle", h.String(), "error", err)
			}
			err = fmt.Errorf("%w: %v", readback.ErrCopyFailed, err)
		} else {
			r.completed.Add(1)
		}
		if done != nil {
			done(readback.Completion{Handle: h, Err: err})
		}
	})
}

// WaitAll blocks until every outstanding request has completed.
func (r *AsyncReadback) WaitAll() { r.wg.Wait() }

func (r *AsyncReadback) Stats() ReadbackStats {
	completed := r.completed.Load()
	failed := r.failed.Load()
	var avg time.Duration
	if n := completed + failed; n > 0 {
		avg = time.Duration(r.copyNanos.Load() / n)
	}
	return ReadbackStats{
		Requests:  r.requests.Load(),
		Completed: completed,
		Failed:    failed,
		InFlight:  r.inflight.Load(),
		AvgCopy:   avg,
	}
}

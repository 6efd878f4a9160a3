package sender

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soocke/pixel-cast-go/domain/capture"
	"github.com/soocke/pixel-cast-go/domain/readback"
)

func (s *Sender) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	logTicker := time.NewTicker(senderStatsLogInterval)
	defer logTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle()
		case <-logTicker.C:
			s.logStats()
		}
	}
}

// runCycle performs one capture cycle: skip when nobody listens, otherwise
// request a readback of the updated source image or, failing that, of a
// screen snapshot.
func (s *Sender) runCycle() {
	s.cycles.Add(1)
	objs, err := s.prepare()
	if err != nil {
		s.mu.Lock()
		s.prepareErrs++
		first := s.prepareErrs == 1
		s.mu.Unlock()
		if first && s.logger != nil {
			s.logger.Error("sender prepare", "error", err)
		}
		return
	}

	if objs.tx.ActiveConnections() == 0 {
		s.hasConnections.Store(false)
		s.idleCycles.Add(1)
		return
	}
	s.hasConnections.Store(true)

	set := s.Settings()
	if cur := s.source.Load(); cur != nil && cur.img != nil && cur.version != s.sentVersion {
		s.request(objs, set, cur.img, false)
		s.sentVersion = cur.version
	} else if set.FetchScreen && s.screen != nil {
		surf, err := s.screen.Grab()
		if err != nil {
			if s.logger != nil {
				s.logger.Error("capture screen", "error", err)
			}
			return
		}
		s.request(objs, set, surf, true)
	}
}

// request acquires an entry sized to img and issues the asynchronous copy,
// converting to the planar layout first unless packed RGBA is selected.
// Temporary surfaces are recycled once nothing reads them anymore.
func (s *Sender) request(objs *senderObjects, set Settings, img *image.RGBA, temporary bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	entry, err := objs.pool.Acquire(w, h, set.KeepAlpha, set.RGBAChannel, set.Metadata)
	if err != nil {
		if temporary {
			capture.RecycleFrame(img)
		}
		if s.logger != nil && errors.Is(err, readback.ErrInvalidShape) {
			s.logger.Warn("source image rejected", "error", err)
		}
		return
	}
	var src capture.Source
	if set.RGBAChannel {
		src = capture.ImageSource{Image: img, Temporary: temporary}
	} else {
		src = s.encoder.Encode(img, set.KeepAlpha)
		if temporary {
			capture.RecycleFrame(img)
		}
	}
	s.requests.Add(1)
	s.backend.Request(src, entry, objs.onReadback)
}

func (s *Sender) logStats() {
	if s.logger == nil {
		return
	}
	st := s.Stats()
	s.logger.Debug("sender.stats",
		"cycles", st.Cycles,
		"idle", st.IdleCycles,
		"requests", st.Requests,
		"sent", st.Sent,
		"discarded", st.Discarded,
		"unknown", st.Unknown,
		"hot", st.Pool.Hot,
		"cold", st.Pool.Cold,
		"retained", humanize.Bytes(st.Pool.Retained),
	)
}

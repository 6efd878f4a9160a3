package sender

import (
	"errors"
	"time"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// onReadback handles a finished copy. It runs on whatever goroutine the
// backend completes on.
func (s *Sender) onReadback(objs *senderObjects, c readback.Completion) {
	entry, ok := objs.pool.Resolve(c.Handle)
	if !ok {
		s.unknown.Add(1)
		if s.logger != nil {
			s.logger.Debug("readback ignored", "handle", c.Handle.String(), "error", readback.ErrEntryNotFound)
		}
		return
	}

	if (objs.worker != nil && objs.worker.Pending()) || c.Err != nil || !usable(objs.tx) {
		objs.pool.Release(entry)
		s.discarded.Add(1)
		if c.Err != nil && s.logger != nil {
			s.logger.Debug("readback discarded", "error", c.Err)
		}
		return
	}

	frame := readback.NewFrame(entry, 0)
	if objs.worker != nil {
		if !objs.worker.Offer(frame, entry) {
			objs.pool.Release(entry)
			s.discarded.Add(1)
		}
		return
	}

	// Direct mode: a completion landing while another send blocks is
	// dropped, so the hot set never grows past the copies in flight.
	if !objs.sendMu.TryLock() {
		objs.pool.Release(entry)
		s.discarded.Add(1)
		return
	}
	defer objs.sendMu.Unlock()
	s.transmitLocked(objs, frame, entry)
}

// transmit is the offload worker's entry point.
func (s *Sender) transmit(objs *senderObjects, frame readback.Frame, entry *readback.Entry) {
	objs.sendMu.Lock()
	defer objs.sendMu.Unlock()
	s.transmitLocked(objs, frame, entry)
}

// transmitLocked numbers and sends frame, frees the previous cycle's entry
// and marks this one so it survives until the transmitter has moved on to
// the next frame. objs.sendMu must be held.
func (s *Sender) transmitLocked(objs *senderObjects, frame readback.Frame, entry *readback.Entry) {
	frame.Sequence = s.sequence.Add(1)
	if err := objs.tx.SendFrame(objs.ctx, frame); err != nil {
		objs.pool.Release(entry)
		s.sendErrors.Add(1)
		if s.logger != nil && objs.ctx.Err() == nil {
			s.logger.Warn("send frame", "error", err)
		}
		return
	}
	s.sent.Add(1)
	s.lastSent.Store(time.Now().UnixNano())
	objs.pool.ReleaseMarked()
	if err := objs.pool.Mark(entry); err != nil {
		if errors.Is(err, readback.ErrDoubleMark) {
			s.doubleMarks.Add(1)
		}
		if s.logger != nil {
			s.logger.Error("readback pool", "error", err)
		}
		objs.pool.Release(entry)
	}
}

func usable(tx Transmitter) bool {
	return tx != nil && tx.Valid() && !tx.Closed()
}

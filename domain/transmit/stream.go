package transmit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// Stream is one named outgoing frame stream. SendFrame hands the frame to a
// writer goroutine and returns; it blocks only while the previous frame is
// still being written, so the caller must keep a frame's bytes alive until
// the following SendFrame returns.
type Stream struct {
	name   string
	server *Server

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	busy      chan struct{}
	frames    chan readback.Frame
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newStream(name string, server *Server) *Stream {
	st := &Stream{
		name:    name,
		server:  server,
		clients: make(map[*websocket.Conn]struct{}),
		busy:    make(chan struct{}, 1),
		frames:  make(chan readback.Frame, 1),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go st.writeLoop()
	return st
}

func (st *Stream) Name() string { return st.name }

// ActiveConnections returns the number of connected receivers.
func (st *Stream) ActiveConnections() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.clients)
}

// Valid reports whether the stream is bound to a server.
func (st *Stream) Valid() bool { return st != nil && st.server != nil }

// Closed reports whether Close was called.
func (st *Stream) Closed() bool {
	select {
	case <-st.closed:
		return true
	default:
		return false
	}
}

// SendFrame queues f for every receiver.
func (st *Stream) SendFrame(ctx context.Context, f readback.Frame) error {
	if st.Closed() {
		return ErrClosed
	}
	select {
	case st.busy <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-st.closed:
		return ErrClosed
	}
	st.frames <- f
	return nil
}

func (st *Stream) writeLoop() {
	defer close(st.done)
	var buf []byte
	for {
		select {
		case <-st.closed:
			return
		case f := <-st.frames:
			buf = EncodeFrame(buf[:0], f, st.server.enc)
			st.broadcast(buf)
			<-st.busy
		}
	}
}

func (st *Stream) broadcast(msg []byte) {
	st.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(st.clients))
	for c := range st.clients {
		conns = append(conns, c)
	}
	st.mu.RUnlock()
	deadline := time.Now().Add(st.server.writeTimeout)
	for _, c := range conns {
		_ = c.SetWriteDeadline(deadline)
		if err := c.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			st.dropped.Add(1)
			if st.server.logger != nil {
				st.server.logger.Debug("receiver dropped", "stream", st.name, "error", err)
			}
			st.unregister(c)
			continue
		}
		st.sent.Add(1)
	}
}

func (st *Stream) register(c *websocket.Conn) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.Closed() {
		return false
	}
	st.clients[c] = struct{}{}
	if st.server.logger != nil {
		st.server.logger.Info("receiver connected", "stream", st.name, "total", len(st.clients))
	}
	return true
}

func (st *Stream) unregister(c *websocket.Conn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.clients[c]; !ok {
		return
	}
	delete(st.clients, c)
	c.Close()
	if st.server.logger != nil {
		st.server.logger.Info("receiver disconnected", "stream", st.name, "total", len(st.clients))
	}
}

// Close stops the writer, waits until it no longer touches frame memory and
// disconnects every receiver.
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		close(st.closed)
		<-st.done
		st.mu.Lock()
		for c := range st.clients {
			c.Close()
		}
		clear(st.clients)
		st.mu.Unlock()
		st.server.remove(st)
	})
	return nil
}

// Delivered returns the number of messages written and receivers dropped.
func (st *Stream) Delivered() (sent, dropped uint64) {
	return st.sent.Load(), st.dropped.Load()
}

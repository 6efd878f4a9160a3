package transmit

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
)

const defaultWriteTimeout = 2 * time.Second

var (
	// ErrStreamExists is returned when a stream name is already open.
	ErrStreamExists = errors.New("transmit: stream already open")
	// ErrClosed is returned by operations on a closed stream or server.
	ErrClosed = errors.New("transmit: closed")
)

// ServerOptions configure a Server.
type ServerOptions struct {
	Compress     bool
	WriteTimeout time.Duration
}

// Server hosts named frame streams. Receivers connect with a WebSocket to
// /streams/{name}.
type Server struct {
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	enc          *zstd.Encoder

	mu      sync.Mutex
	streams map[string]*Stream
	closed  bool
}

func NewServer(logger *slog.Logger, opts ServerOptions) (*Server, error) {
	s := &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: opts.WriteTimeout,
		streams:      make(map[string]*Stream),
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if opts.Compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("transmit: zstd encoder: %w", err)
		}
		s.enc = enc
	}
	return s, nil
}

// Open creates the named stream.
func (s *Server) Open(name string) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.streams[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrStreamExists, name)
	}
	st := newStream(name, s)
	s.streams[name] = st
	if s.logger != nil {
		s.logger.Info("stream opened", "name", name)
	}
	return st, nil
}

func (s *Server) lookup(name string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[name]
}

func (s *Server) remove(st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams[st.name] == st {
		delete(s.streams, st.name)
	}
}

// Handler returns the HTTP handler serving the stream endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /streams/{name}", s.handleStream)
	mux.HandleFunc("GET /streams", s.handleList)
	return mux
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for name, st := range s.streams {
		fmt.Fprintf(w, "%s\t%d\n", name, st.ActiveConnections())
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	st := s.lookup(r.PathValue("name"))
	if st == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade", "error", err)
		}
		return
	}
	if !st.register(conn) {
		conn.Close()
		return
	}
	defer st.unregister(conn)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close closes every open stream.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()
	for _, st := range streams {
		st.Close()
	}
	if s.enc != nil {
		return s.enc.Close()
	}
	return nil
}

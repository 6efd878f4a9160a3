package transmit

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// Client receives frames from a stream endpoint. Close may be called from
// any goroutine, also while ReadFrame is blocked.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex // held by ReadFrame; guards dec and closed
	dec    *zstd.Decoder
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to a stream URL such as ws://host:port/streams/name.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transmit: dial %s: %w", url, err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDataSize))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transmit: zstd decoder: %w", err)
	}
	return &Client{conn: conn, dec: dec}, nil
}

// ReadFrame blocks for the next frame.
func (c *Client) ReadFrame() (readback.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.closed {
			return readback.Frame{}, net.ErrClosed
		}
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			return readback.Frame{}, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return DecodeFrame(msg, c.dec)
	}
}

// Close closes the connection, which unblocks a pending ReadFrame, and
// releases the decoder once that read has returned.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		c.mu.Lock()
		c.closed = true
		c.dec.Close()
		c.mu.Unlock()
	})
	return c.closeErr
}

// Package transport carries protocol frames over WebSocket connections, one
// JSON envelope per text message.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// ErrFrameTooLarge is returned when a peer sends a message over the read limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Options tunes a WebSocket transport. Zero values disable the matching
// limit or deadline.
type Options struct {
	MaxMessageSize int64
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
}

// WebSocket adapts a gorilla connection to frame reads and writes. Reads must
// come from a single goroutine; writes may come from any number.
type WebSocket struct {
	conn    *websocket.Conn
	opts    Options
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps conn and applies the read limit and pong deadline.
func NewWebSocket(conn *websocket.Conn, opts Options) *WebSocket {
	t := &WebSocket{conn: conn, opts: opts}
	if opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	if opts.PongTimeout > 0 {
		t.setupReadDeadline()
	}
	return t
}

// setupReadDeadline arms the read deadline and extends it on every pong.
func (t *WebSocket) setupReadDeadline() {
	_ = t.conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	})
}

// RemoteAddr returns the peer address.
func (t *WebSocket) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// ReadFrame blocks for the next frame. Orderly closes are reported as io.EOF;
// undecodable frames return an error wrapping protocol.ErrMalformedFrame and
// leave the connection usable.
func (t *WebSocket) ReadFrame() (protocol.Frame, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, classifyReadError(err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		return protocol.Decode(data)
	}
}

// SetReadDeadline bounds the next reads. A zero time clears it.
func (t *WebSocket) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// WriteFrame encodes and writes one frame.
func (t *WebSocket) WriteFrame(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.setWriteDeadline(); err != nil {
		return err
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Ping sends a keepalive ping.
func (t *WebSocket) Ping() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.setWriteDeadline(); err != nil {
		return err
	}
	if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

// WriteClose sends a normal-closure control frame without closing the
// connection.
func (t *WebSocket) WriteClose() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.setWriteDeadline(); err != nil {
		return err
	}
	err := t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !IsExpectedCloseError(err) {
		return fmt.Errorf("write close: %w", err)
	}
	return nil
}

// Close closes the underlying connection immediately, unblocking any pending
// read. It is safe to call more than once.
func (t *WebSocket) Close() error {
	t.closeOnce.Do(func() {
		if err := t.conn.Close(); err != nil && !IsExpectedCloseError(err) {
			t.closeErr = err
		}
	})
	return t.closeErr
}

func (t *WebSocket) setWriteDeadline() error {
	if t.opts.WriteTimeout <= 0 {
		return nil
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return nil
}

// classifyReadError maps routine disconnects to io.EOF.
func classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return io.EOF
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || IsExpectedCloseError(err) {
		return io.EOF
	}

	return err
}

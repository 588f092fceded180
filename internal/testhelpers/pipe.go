package testhelpers

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// ErrTimeout is returned by PipeConn.Next when no frame arrives in time.
var ErrTimeout = errors.New("timed out waiting for frame")

// PipeConn is one end of an in-memory frame pipe. Closing either end closes
// both, like net.Pipe.
type PipeConn struct {
	addr   string
	reads  chan protocol.Frame
	writes chan protocol.Frame
	done   chan struct{}
	once   *sync.Once

	mu       sync.Mutex
	failNext bool
}

// NewPipe returns two connected ends. Each direction buffers up to 256 frames.
func NewPipe() (server, client *PipeConn) {
	toServer := make(chan protocol.Frame, 256)
	toClient := make(chan protocol.Frame, 256)
	done := make(chan struct{})
	once := &sync.Once{}

	server = &PipeConn{addr: "pipe-client", reads: toServer, writes: toClient, done: done, once: once}
	client = &PipeConn{addr: "pipe-server", reads: toClient, writes: toServer, done: done, once: once}
	return server, client
}

// ReadFrame returns the next frame, preferring buffered frames over the close
// signal so nothing written before Close is lost.
func (p *PipeConn) ReadFrame() (protocol.Frame, error) {
	select {
	case f := <-p.reads:
		return f, nil
	default:
	}

	select {
	case f := <-p.reads:
		return f, nil
	case <-p.done:
		select {
		case f := <-p.reads:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

// WriteFrame queues f for the other end.
func (p *PipeConn) WriteFrame(f protocol.Frame) error {
	p.mu.Lock()
	fail := p.failNext
	p.failNext = false
	p.mu.Unlock()
	if fail {
		return fmt.Errorf("write frame: %w", io.ErrClosedPipe)
	}

	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.writes <- f:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

// FailNextWrite makes the next WriteFrame on this end return an error.
func (p *PipeConn) FailNextWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = true
}

// Close closes both ends.
func (p *PipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Closed reports whether the pipe has been closed.
func (p *PipeConn) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed when the pipe closes.
func (p *PipeConn) Done() <-chan struct{} {
	return p.done
}

// RemoteAddr returns a fixed label for logs.
func (p *PipeConn) RemoteAddr() string {
	return p.addr
}

// Next waits up to timeout for the next frame.
func (p *PipeConn) Next(timeout time.Duration) (protocol.Frame, error) {
	select {
	case f := <-p.reads:
		return f, nil
	default:
	}

	select {
	case f := <-p.reads:
		return f, nil
	case <-p.done:
		select {
		case f := <-p.reads:
			return f, nil
		default:
			return nil, io.EOF
		}
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// NextChat skips membership frames until a chat message arrives.
func (p *PipeConn) NextChat(timeout time.Duration) (protocol.ChatMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := p.Next(time.Until(deadline))
		if err != nil {
			return protocol.ChatMessage{}, err
		}
		if m, ok := f.(protocol.ChatMessage); ok {
			return m, nil
		}
	}
}

// NextMembership skips chat frames until a membership response arrives.
func (p *PipeConn) NextMembership(timeout time.Duration) (protocol.MembershipResponse, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := p.Next(time.Until(deadline))
		if err != nil {
			return protocol.MembershipResponse{}, err
		}
		if m, ok := f.(protocol.MembershipResponse); ok {
			return m, nil
		}
	}
}

// Drain discards frames until none arrive for quiet.
func (p *PipeConn) Drain(quiet time.Duration) []protocol.Frame {
	var frames []protocol.Frame
	for {
		f, err := p.Next(quiet)
		if err != nil {
			return frames
		}
		frames = append(frames, f)
	}
}

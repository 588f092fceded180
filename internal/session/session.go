// Package session runs one client connection through its lifecycle:
// handshake, receive loop, and teardown. Each session owns a write pump that
// serializes every outbound frame.
package session

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// Close reasons recorded on a session.
const (
	ReasonInvalidRequest = "invalid request"
	ReasonNameRejected   = "name rejected"
	ReasonDisconnected   = "client disconnected"
	ReasonTransportError = "transport error"
	ReasonSendFailed     = "send failed"
	ReasonShutdown       = "relay shutdown"
)

// RateLimitedText is sent back to a client whose message was discarded.
const RateLimitedText = "Error: Rate limit exceeded, message discarded."

var (
	// ErrSessionClosed is returned by Send once the session is closing.
	ErrSessionClosed = errors.New("session closed")

	// ErrSendQueueFull is returned when the outbound queue overflows; the
	// session is closed as a result.
	ErrSendQueueFull = errors.New("send queue full")
)

// Transport is the framed stream a session reads from and writes to.
type Transport interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(protocol.Frame) error
	Close() error
	RemoteAddr() string
}

// Pinger is implemented by transports that need keepalive pings.
type Pinger interface {
	Ping() error
}

// closeWriter is implemented by transports that can announce an orderly close.
type closeWriter interface {
	WriteClose() error
}

// Dispatcher is the routing surface a session needs.
type Dispatcher interface {
	Join(name string, p registry.Peer) (string, error)
	Leave(name string, p registry.Peer) bool
	Route(msg protocol.ChatMessage) int
}

// Observer is told about lifecycle transitions. Calls are made from the
// session's own goroutine.
type Observer interface {
	SessionJoined(s *Session)
	SessionRejected(s *Session, proposed string, err error)
	SessionClosed(s *Session)
}

// Options tunes a session. Zero durations disable the matching timer.
type Options struct {
	SendBuffer       int
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	RateLimit        RateLimit
	Observer         Observer
	Logger           *logrus.Entry
}

// Session is one accepted connection.
type Session struct {
	id         string
	transport  Transport
	dispatcher Dispatcher
	opts       Options
	limiter    *rate.Limiter
	observer   Observer
	log        *logrus.Entry

	mu             sync.Mutex
	state          State
	name           string
	reason         string
	send           chan protocol.Frame
	outboundClosed bool

	done       chan struct{}
	writerDone chan struct{}
}

// New creates a session in the Connecting state. Call Run to drive it.
func New(t Transport, d Dispatcher, opts Options) *Session {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		transport:  t,
		dispatcher: d,
		opts:       opts,
		limiter:    newLimiter(opts.RateLimit),
		observer:   observer,
		log:        log.WithFields(logrus.Fields{"session_id": id, "remote_addr": t.RemoteAddr()}),
		state:      Connecting,
		send:       make(chan protocol.Frame, opts.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the transport's peer address.
func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

// Done is closed once Run has returned and all resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the registered name, or "" before the handshake succeeds.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Reason returns why the session closed, or "" while it is open.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Run performs the handshake and then reads frames until the transport fails
// or the session is closed. It returns after teardown completes.
func (s *Session) Run() {
	defer close(s.done)
	go s.writePump()

	if s.handshake() {
		s.receiveLoop()
		s.dispatcher.Leave(s.Name(), s)
	}
	s.finish()
}

// Send queues a frame for delivery. It never blocks; a full queue closes the
// session.
func (s *Session) Send(f protocol.Frame) error {
	s.mu.Lock()
	if s.outboundClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	select {
	case s.send <- f:
		s.mu.Unlock()
		return nil
	default:
	}
	s.mu.Unlock()

	s.log.WithField("client", s.Name()).Warn("Send queue full; closing session")
	s.Close(ReasonSendFailed)
	return ErrSendQueueFull
}

// Close asks the session to stop. It closes the transport, which unblocks the
// receive loop; Run then deregisters and announces the departure. Safe to
// call any number of times from any goroutine.
func (s *Session) Close(reason string) {
	s.setReason(reason)
	s.closeOutbound()
	if err := s.transport.Close(); err != nil {
		s.log.WithError(err).Debug("Error closing transport")
	}
}

func (s *Session) handshake() bool {
	if s.opts.HandshakeTimeout > 0 {
		timer := time.AfterFunc(s.opts.HandshakeTimeout, func() {
			if s.State() == Connecting {
				s.log.Warn("Handshake timed out")
				s.Close(ReasonInvalidRequest)
			}
		})
		defer timer.Stop()
	}

	frame, err := s.transport.ReadFrame()
	if err != nil {
		if isBadFrame(err) {
			s.log.WithError(err).Warn("Invalid connection request")
			s.setReason(ReasonInvalidRequest)
		} else {
			s.setReason(readFailureReason(err))
		}
		return false
	}

	req, ok := frame.(protocol.JoinRequest)
	if !ok {
		s.log.WithField("frame_type", frame.FrameType()).Warn("Invalid connection request")
		s.setReason(ReasonInvalidRequest)
		return false
	}

	name, err := s.dispatcher.Join(req.ClientName, s)
	if err != nil {
		s.log.WithError(err).WithField("client", req.ClientName).Info("Join rejected")
		s.setReason(ReasonNameRejected)
		s.observer.SessionRejected(s, req.ClientName, err)
		return false
	}

	s.mu.Lock()
	s.name = name
	s.state = Joined
	s.mu.Unlock()

	s.log.WithField("client", name).Info("Client joined")
	s.observer.SessionJoined(s)
	return true
}

func (s *Session) receiveLoop() {
	log := s.log.WithField("client", s.Name())
	for {
		frame, err := s.transport.ReadFrame()
		if err != nil {
			if isBadFrame(err) {
				log.WithError(err).Warn("Discarding invalid frame")
				continue
			}
			reason := readFailureReason(err)
			if reason == ReasonTransportError {
				log.WithError(err).Warn("Read failed")
			}
			s.setReason(reason)
			return
		}

		switch f := frame.(type) {
		case protocol.ChatMessage:
			s.handleChat(log, f)
		case protocol.JoinRequest:
			log.Debug("Ignoring join request from joined client")
		case protocol.MembershipResponse:
			log.Debug("Ignoring membership frame from client")
		}
	}
}

func (s *Session) handleChat(log *logrus.Entry, msg protocol.ChatMessage) {
	if s.limiter != nil && !s.limiter.Allow() {
		log.WithFields(logrus.Fields{
			"burst":    s.opts.RateLimit.Burst,
			"interval": s.opts.RateLimit.RefillInterval,
		}).Warn("Rate limit exceeded; discarding message")
		_ = s.Send(protocol.ServerNotice(s.Name(), RateLimitedText))
		return
	}

	msg.Sender = s.Name()
	s.dispatcher.Route(msg)
}

// writePump is the only goroutine that writes frames to the transport.
func (s *Session) writePump() {
	defer close(s.writerDone)

	var ping <-chan time.Time
	pinger, canPing := s.transport.(Pinger)
	if canPing && s.opts.PingInterval > 0 {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				if cw, ok := s.transport.(closeWriter); ok {
					_ = cw.WriteClose()
				}
				_ = s.transport.Close()
				return
			}
			if err := s.transport.WriteFrame(frame); err != nil {
				s.log.WithError(err).Debug("Write failed")
				s.Close(ReasonSendFailed)
				return
			}
		case <-ping:
			if err := pinger.Ping(); err != nil {
				s.log.WithError(err).Debug("Ping failed")
				s.Close(ReasonSendFailed)
				return
			}
		}
	}
}

// finish drains the outbound queue, releases the transport and marks the
// session Closed.
func (s *Session) finish() {
	s.closeOutbound()
	<-s.writerDone
	_ = s.transport.Close()

	s.mu.Lock()
	s.state = Closed
	if s.reason == "" {
		s.reason = ReasonDisconnected
	}
	reason := s.reason
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"client": s.Name(), "reason": reason}).Info("Session closed")
	s.observer.SessionClosed(s)
}

func (s *Session) closeOutbound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outboundClosed {
		return
	}
	s.outboundClosed = true
	close(s.send)
}

// setReason records the first close reason only.
func (s *Session) setReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

func isBadFrame(err error) bool {
	return errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, protocol.ErrUnknownFrameType)
}

func readFailureReason(err error) string {
	if errors.Is(err, io.EOF) {
		return ReasonDisconnected
	}
	return ReasonTransportError
}

type nopObserver struct{}

func (nopObserver) SessionJoined(*Session)                  {}
func (nopObserver) SessionRejected(*Session, string, error) {}
func (nopObserver) SessionClosed(*Session)                  {}

// Package client connects to a chat relay, joins under a name and exchanges
// messages with the other members.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/transport"
)

// StatusConnected is reported once the relay accepts the join.
const StatusConnected = "Connected to server"

var (
	// ErrNotConnected is returned by Send when the client is not joined.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyUsed is returned by Connect on a client that has already
	// connected once. Create a new Client to reconnect.
	ErrAlreadyUsed = errors.New("client already used")

	// ErrJoinRejected is matched by every *RejectedError.
	ErrJoinRejected = errors.New("join rejected")

	// ErrUnexpectedResponse is returned when the relay answers a join with
	// anything but a membership response.
	ErrUnexpectedResponse = errors.New("invalid response from server")
)

// RejectedError carries the relay's reason for refusing a join and the
// members present at the time.
type RejectedError struct {
	Reason  string
	Clients []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrJoinRejected
}

// DisconnectedStatus is the status reported when the client disconnects.
func DisconnectedStatus(reason string) string {
	return "Disconnected: " + reason
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the default WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithOrigin sends origin as the Origin header, for relays that check it.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.header.Set("Origin", origin)
	}
}

// WithJoinTimeout bounds the wait for the relay's join response.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.joinTimeout = d
	}
}

// WithLogger routes the client's logs through log.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Client) {
		c.log = logger.Component(log, "client")
	}
}

type state int

const (
	idle state = iota
	connected
	closed
)

// Client is one connection to a relay. It is single-use: after Disconnect,
// create a new Client to join again.
type Client struct {
	url         string
	name        string
	observer    Observer
	dialer      *websocket.Dialer
	header      http.Header
	joinTimeout time.Duration
	log         *logrus.Entry

	mu      sync.Mutex
	state   state
	conn    *transport.WebSocket
	members []string
	done    chan struct{}
}

// New creates a client that will join the relay at url as name. A nil
// observer discards all callbacks.
func New(url, name string, observer Observer, opts ...Option) *Client {
	if observer == nil {
		observer = Handlers{}
	}
	c := &Client{
		url:         url,
		name:        name,
		observer:    observer,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		header:      http.Header{},
		joinTimeout: 10 * time.Second,
		log:         logger.Component(nil, "client"),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("client", name)
	return c
}

// Name returns the name the client joins under.
func (c *Client) Name() string { return c.name }

// Connected reports whether the client is joined.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connected
}

// Members returns the latest member list received from the relay.
func (c *Client) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.members...)
}

// Done is closed once the reader goroutine has exited after a successful
// Connect.
func (c *Client) Done() <-chan struct{} { return c.done }

// Connect dials the relay and joins. A refused join returns a *RejectedError
// and leaves the client closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != idle {
		c.mu.Unlock()
		return ErrAlreadyUsed
	}
	c.state = closed
	c.mu.Unlock()

	ws, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.observer.OnStatusChange("Connection error: " + err.Error())
		c.observer.OnStatusChange(DisconnectedStatus("Error connecting to server"))
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn := transport.NewWebSocket(ws, transport.Options{WriteTimeout: 10 * time.Second})

	welcome, err := c.join(ctx, conn)
	if err != nil {
		_ = conn.WriteClose()
		_ = conn.Close()

		reason := "Error connecting to server"
		var rejected *RejectedError
		switch {
		case errors.As(err, &rejected):
			reason = rejected.Reason
		case errors.Is(err, ErrUnexpectedResponse):
			reason = "Invalid response from server"
		}
		c.observer.OnStatusChange(DisconnectedStatus(reason))
		return err
	}

	c.mu.Lock()
	c.state = connected
	c.conn = conn
	c.members = append([]string(nil), welcome.ConnectedClients...)
	c.mu.Unlock()

	c.log.WithField("clients", len(welcome.ConnectedClients)).Info("Joined relay")
	c.observer.OnStatusChange(StatusConnected)
	c.notifyMembership(welcome.ConnectedClients)

	go c.readLoop(conn)
	return nil
}

func (c *Client) join(ctx context.Context, conn *transport.WebSocket) (protocol.MembershipResponse, error) {
	if err := conn.WriteFrame(protocol.JoinRequest{ClientName: c.name}); err != nil {
		return protocol.MembershipResponse{}, fmt.Errorf("send join request: %w", err)
	}

	deadline := time.Now().Add(c.joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return protocol.MembershipResponse{}, err
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		if errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, protocol.ErrUnknownFrameType) {
			return protocol.MembershipResponse{}, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		return protocol.MembershipResponse{}, fmt.Errorf("read join response: %w", err)
	}

	resp, ok := frame.(protocol.MembershipResponse)
	if !ok {
		return protocol.MembershipResponse{}, fmt.Errorf("%w: got %s", ErrUnexpectedResponse, frame.FrameType())
	}
	if !resp.Success {
		return resp, &RejectedError{Reason: resp.Message, Clients: resp.ConnectedClients}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return protocol.MembershipResponse{}, err
	}
	return resp, nil
}

// Send delivers content to destination, which may be a member name or
// protocol.BroadcastAddress. A failed write disconnects the client.
func (c *Client) Send(destination, content string) error {
	c.mu.Lock()
	if c.state != connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	msg := protocol.ChatMessage{Sender: c.name, Destination: destination, Content: content}
	if err := conn.WriteFrame(msg); err != nil {
		c.log.WithError(err).Warn("Error sending message")
		c.Disconnect("Error sending message")
		return err
	}
	return nil
}

// Broadcast sends content to every other member.
func (c *Client) Broadcast(content string) error {
	return c.Send(protocol.BroadcastAddress, content)
}

// Disconnect leaves the relay and reports "Disconnected: <reason>". Calls
// after the first are no-ops.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	if c.state != connected {
		c.mu.Unlock()
		return
	}
	c.state = closed
	conn := c.conn
	c.mu.Unlock()

	if err := conn.WriteClose(); err != nil {
		c.log.WithError(err).Debug("Error sending close frame")
	}
	if err := conn.Close(); err != nil {
		c.log.WithError(err).Debug("Error closing connection")
	}

	c.log.WithField("reason", reason).Info("Disconnected")
	c.observer.OnStatusChange(DisconnectedStatus(reason))
}

func (c *Client) readLoop(conn *transport.WebSocket) {
	defer close(c.done)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) || errors.Is(err, protocol.ErrUnknownFrameType) {
				c.log.WithError(err).Warn("Discarding invalid frame")
				continue
			}
			c.Disconnect("Connection lost: " + describeReadError(err))
			return
		}

		switch f := frame.(type) {
		case protocol.ChatMessage:
			c.observer.OnMessage(f)
		case protocol.MembershipResponse:
			c.mu.Lock()
			c.members = append([]string(nil), f.ConnectedClients...)
			c.mu.Unlock()
			c.notifyMembership(f.ConnectedClients)
		case protocol.JoinRequest:
			c.log.Debug("Ignoring join request from relay")
		}
	}
}

func (c *Client) notifyMembership(clients []string) {
	if mo, ok := c.observer.(MembershipObserver); ok {
		mo.OnMembership(append([]string(nil), clients...))
	}
}

func describeReadError(err error) string {
	if errors.Is(err, io.EOF) {
		return "connection closed by server"
	}
	return err.Error()
}

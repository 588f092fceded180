// Package protocol defines the frames exchanged between the relay and its
// clients and the JSON envelope that carries one frame per transport message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// BroadcastAddress is the destination that addresses every joined client.
	BroadcastAddress = "ALL"

	// ServerSender is the sender name used for relay-originated notices.
	ServerSender = "SERVER"
)

// Membership response texts.
const (
	MsgConnected         = "Connected successfully"
	MsgNameInUse         = "Name already in use"
	MsgInvalidName       = "Invalid client name"
	MsgClientListUpdated = "Client list updated"
)

// FrameType tags the payload carried by an Envelope.
type FrameType string

const (
	TypeJoinRequest FrameType = "join_request"
	TypeMembership  FrameType = "membership"
	TypeChat        FrameType = "chat"
)

var (
	// ErrMalformedFrame is returned when a frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownFrameType is returned for envelopes with an unrecognized type tag.
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Frame is one of JoinRequest, MembershipResponse or ChatMessage.
type Frame interface {
	FrameType() FrameType
	isFrame()
}

// JoinRequest is the first frame a client sends, proposing its name.
type JoinRequest struct {
	ClientName string `json:"clientName"`
}

// MembershipResponse answers a join request and is re-sent whenever the set
// of connected clients changes.
type MembershipResponse struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	ConnectedClients []string `json:"connectedClients"`
}

// ChatMessage is a text message addressed to one client or to BroadcastAddress.
type ChatMessage struct {
	Sender      string `json:"sender"`
	Destination string `json:"destination"`
	Content     string `json:"content"`
}

func (JoinRequest) FrameType() FrameType        { return TypeJoinRequest }
func (MembershipResponse) FrameType() FrameType { return TypeMembership }
func (ChatMessage) FrameType() FrameType        { return TypeChat }

func (JoinRequest) isFrame()        {}
func (MembershipResponse) isFrame() {}
func (ChatMessage) isFrame()        {}

// IsBroadcast reports whether the message is addressed to every client.
func (m ChatMessage) IsBroadcast() bool {
	return m.Destination == BroadcastAddress
}

// String renders the message the way a terminal client displays it.
func (m ChatMessage) String() string {
	if m.IsBroadcast() {
		return fmt.Sprintf("From: %s [BROADCAST]\n%s", m.Sender, m.Content)
	}
	return fmt.Sprintf("From: %s [To: %s]\n%s", m.Sender, m.Destination, m.Content)
}

// NewMembership builds a MembershipResponse holding a copy of clients.
// A nil list is encoded as an empty array.
func NewMembership(success bool, message string, clients []string) MembershipResponse {
	list := make([]string, len(clients))
	copy(list, clients)
	return MembershipResponse{Success: success, Message: message, ConnectedClients: list}
}

// ServerNotice builds a relay-originated message.
func ServerNotice(destination, content string) ChatMessage {
	return ChatMessage{Sender: ServerSender, Destination: destination, Content: content}
}

// Envelope is the wire representation of a Frame.
type Envelope struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode wraps the frame in an Envelope and marshals it.
func Encode(f Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	if m, ok := f.(MembershipResponse); ok && m.ConnectedClients == nil {
		m.ConnectedClients = []string{}
		f = m
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", f.FrameType(), err)
	}

	return json.Marshal(Envelope{
		Type:      f.FrameType(),
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// Decode parses an Envelope and returns the concrete Frame it carries.
func Decode(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}

	switch env.Type {
	case TypeJoinRequest:
		var req JoinRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return req, nil
	case TypeMembership:
		var resp MembershipResponse
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return resp, nil
	case TypeChat:
		var msg ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}
}

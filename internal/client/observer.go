package client

import "github.com/Tyrowin/chatrelay/internal/protocol"

// Observer receives a client's messages and status changes. Callbacks run on
// the client's reader goroutine, or on the caller's goroutine during Connect
// and Disconnect, and must not block for long.
type Observer interface {
	OnMessage(msg protocol.ChatMessage)
	OnStatusChange(status string)
}

// MembershipObserver is optionally implemented by an Observer that wants the
// member list each time the relay sends one.
type MembershipObserver interface {
	OnMembership(clients []string)
}

// Handlers adapts plain functions to Observer and MembershipObserver. Nil
// fields are skipped.
type Handlers struct {
	Message    func(protocol.ChatMessage)
	Status     func(string)
	Membership func([]string)
}

func (h Handlers) OnMessage(msg protocol.ChatMessage) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h Handlers) OnStatusChange(status string) {
	if h.Status != nil {
		h.Status(status)
	}
}

func (h Handlers) OnMembership(clients []string) {
	if h.Membership != nil {
		h.Membership(clients)
	}
}

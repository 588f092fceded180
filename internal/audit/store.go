// Package audit records membership events (joins, departures and rejected
// joins) so operators can see who used the relay and when. Message content is
// never stored.
package audit

import (
	"context"
	"errors"
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	KindJoin   Kind = "join"
	KindLeave  Kind = "leave"
	KindReject Kind = "reject"
)

// DefaultLimit caps Recent when the caller passes a non-positive limit.
const DefaultLimit = 100

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("audit store closed")

// Event is one membership event.
type Event struct {
	ID         int64     `json:"id"`
	Kind       Kind      `json:"kind"`
	Client     string    `json:"client"`
	SessionID  string    `json:"sessionId"`
	RemoteAddr string    `json:"remoteAddr"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, e Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Nop discards events. It is used when no audit driver is configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Event, error) { return []Event{}, nil }
func (Nop) Close() error                                 { return nil }

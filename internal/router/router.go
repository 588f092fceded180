// Package router decides where chat messages go and delivers them through the
// registry's peers.
package router

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// Delivery is one frame bound for one peer.
type Delivery struct {
	Recipient string
	Peer      registry.Peer
	Frame     protocol.Frame
}

// Router routes messages between registered peers. It holds no state of its
// own beyond the registry it reads.
type Router struct {
	reg *registry.Registry
	log *logrus.Entry
}

// New creates a Router over reg and subscribes it to membership changes.
func New(reg *registry.Registry, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Router{reg: reg, log: log}
	reg.OnChange(r.membershipChanged)
	return r
}

// Registry returns the registry the router reads.
func (r *Router) Registry() *registry.Registry {
	return r.reg
}

// NotFoundText is the error content sent back for an unknown destination.
func NotFoundText(destination string) string {
	return fmt.Sprintf("Error: Client '%s' not found.", destination)
}

// JoinedText is the announcement broadcast when a client joins.
func JoinedText(name string) string {
	return name + " has joined the chat."
}

// LeftText is the announcement broadcast when a client leaves.
func LeftText(name string) string {
	return name + " has left the chat."
}

// Join registers p under name and announces the arrival. The welcome and the
// refreshed member list are delivered by the membership observer, inside the
// registry's critical section, so every peer sees list updates in mutation
// order. On failure the rejection is sent to p, which is not registered.
func (r *Router) Join(name string, p registry.Peer) (string, error) {
	canonical, err := r.reg.Register(name, p)
	if err != nil {
		reason := protocol.MsgNameInUse
		if errors.Is(err, registry.ErrInvalidName) {
			reason = protocol.MsgInvalidName
		}
		if sendErr := p.Send(protocol.NewMembership(false, reason, r.reg.Snapshot())); sendErr != nil {
			r.log.WithError(sendErr).WithField("client", name).Debug("Failed to deliver join rejection")
		}
		return "", err
	}

	r.Announce(JoinedText(canonical))
	return canonical, nil
}

// Leave deregisters p and announces the departure to the remaining members.
// It is a no-op when p is no longer registered under name.
func (r *Router) Leave(name string, p registry.Peer) bool {
	if !r.reg.Deregister(name, p) {
		return false
	}
	r.Announce(LeftText(name))
	return true
}

// Announce broadcasts a server notice to every joined client, with no
// exclusions.
func (r *Router) Announce(content string) int {
	notice := protocol.ServerNotice(protocol.BroadcastAddress, content)

	members := r.reg.Members()
	deliveries := make([]Delivery, 0, len(members))
	for _, m := range members {
		deliveries = append(deliveries, Delivery{Recipient: m.Name, Peer: m.Peer, Frame: notice})
	}
	return r.Dispatch(deliveries)
}

// Plan computes the deliveries for a client message without sending anything.
//
// A broadcast goes to every member except the sender. A targeted message goes
// to its destination only; if the destination is unknown the sender gets a
// server error instead.
func (r *Router) Plan(msg protocol.ChatMessage) []Delivery {
	if msg.IsBroadcast() {
		members := r.reg.Members()
		deliveries := make([]Delivery, 0, len(members))
		for _, m := range members {
			if m.Name == msg.Sender {
				continue
			}
			deliveries = append(deliveries, Delivery{Recipient: m.Name, Peer: m.Peer, Frame: msg})
		}
		return deliveries
	}

	if name, err := registry.NormalizeName(msg.Destination); err == nil {
		if peer, ok := r.reg.Lookup(name); ok {
			return []Delivery{{Recipient: name, Peer: peer, Frame: msg}}
		}
	}

	sender, ok := r.reg.Lookup(msg.Sender)
	if !ok {
		return nil
	}
	notice := protocol.ServerNotice(msg.Sender, NotFoundText(msg.Destination))
	return []Delivery{{Recipient: msg.Sender, Peer: sender, Frame: notice}}
}

// Dispatch sends every delivery independently and returns how many were
// accepted. A failing peer does not stop delivery to the others.
func (r *Router) Dispatch(deliveries []Delivery) int {
	delivered := 0
	for _, d := range deliveries {
		if err := d.Peer.Send(d.Frame); err != nil {
			r.log.WithError(err).WithField("recipient", d.Recipient).Debug("Delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Route plans and dispatches a client message.
func (r *Router) Route(msg protocol.ChatMessage) int {
	deliveries := r.Plan(msg)
	delivered := r.Dispatch(deliveries)

	r.log.WithFields(logrus.Fields{
		"sender":      msg.Sender,
		"destination": msg.Destination,
		"targets":     len(deliveries),
		"delivered":   delivered,
	}).Debug("Routed message")
	return delivered
}

// Snapshot returns the sorted names of the joined clients.
func (r *Router) Snapshot() []string {
	return r.reg.Snapshot()
}

// membershipChanged runs under the registry lock. Peer sends only enqueue, so
// this never blocks on the network.
func (r *Router) membershipChanged(c registry.Change) {
	names := c.Names()

	if c.Kind == registry.Added {
		if err := c.Peer.Send(protocol.NewMembership(true, protocol.MsgConnected, names)); err != nil {
			r.log.WithError(err).WithField("client", c.Name).Debug("Failed to deliver welcome")
		}
	}

	update := protocol.NewMembership(true, protocol.MsgClientListUpdated, names)
	deliveries := make([]Delivery, 0, len(c.Members))
	for _, m := range c.Members {
		deliveries = append(deliveries, Delivery{Recipient: m.Name, Peer: m.Peer, Frame: update})
	}
	delivered := r.Dispatch(deliveries)

	r.log.WithFields(logrus.Fields{
		"client":  c.Name,
		"change":  c.Kind.String(),
		"clients": len(names),
		"updated": delivered,
	}).Info("Membership changed")
}

// Package registry keeps the process-wide table of joined clients, keyed by
// client name. It is the only state shared between sessions.
package registry

import (
	"errors"
	"sort"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// MaxNameLength is the longest accepted client name, in runes.
const MaxNameLength = 64

var (
	// ErrNameInUse is returned when a name is taken or reserved.
	ErrNameInUse = errors.New("name already in use")

	// ErrInvalidName is returned for empty or over-long names.
	ErrInvalidName = errors.New("invalid client name")
)

// Peer is the registry's non-owning handle on a joined session.
type Peer interface {
	Send(frame protocol.Frame) error
}

// Member pairs a registered name with its peer.
type Member struct {
	Name string
	Peer Peer
}

// ChangeKind says whether a Change added or removed a member.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

func (k ChangeKind) String() string {
	if k == Added {
		return "added"
	}
	return "removed"
}

// Change describes one membership mutation and the membership right after it.
type Change struct {
	Kind    ChangeKind
	Name    string
	Peer    Peer
	Members []Member
}

// Names returns the sorted names of c.Members.
func (c Change) Names() []string {
	names := make([]string, len(c.Members))
	for i, m := range c.Members {
		names[i] = m.Name
	}
	return names
}

// ChangeFunc observes membership changes. It runs while the registry lock is
// held, so it must not call back into the Registry.
type ChangeFunc func(Change)

// Registry maps client names to peers.
type Registry struct {
	mu       sync.Mutex
	peers    map[string]Peer
	reserved map[string]struct{}
	onChange ChangeFunc
}

// New creates an empty Registry. The broadcast address and the server sender
// name can never be registered.
func New() *Registry {
	return &Registry{
		peers: make(map[string]Peer),
		reserved: map[string]struct{}{
			protocol.BroadcastAddress: {},
			protocol.ServerSender:     {},
		},
	}
}

// OnChange installs the membership observer, replacing any previous one.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// NormalizeName validates a proposed client name and returns its canonical
// (NFC) form. Names are case-sensitive and are not trimmed.
func NormalizeName(name string) (string, error) {
	if name == "" || !utf8.ValidString(name) {
		return "", ErrInvalidName
	}
	canonical := norm.NFC.String(name)
	if utf8.RuneCountInString(canonical) > MaxNameLength {
		return "", ErrInvalidName
	}
	return canonical, nil
}

// Register inserts name -> p iff the name is free and not reserved. It
// returns the canonical name that was registered.
func (r *Registry) Register(name string, p Peer) (string, error) {
	canonical, err := NormalizeName(name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, reserved := r.reserved[canonical]; reserved {
		return "", ErrNameInUse
	}
	if _, taken := r.peers[canonical]; taken {
		return "", ErrNameInUse
	}

	r.peers[canonical] = p
	r.notifyLocked(Added, canonical, p)
	return canonical, nil
}

// Deregister removes name if it is still mapped to p; a nil p removes the
// name unconditionally. It reports whether anything was removed, so repeated
// calls are harmless.
func (r *Registry) Deregister(name string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.peers[name]
	if !ok {
		return false
	}
	if p != nil && current != p {
		return false
	}

	delete(r.peers, name)
	r.notifyLocked(Removed, name, current)
	return true
}

// Lookup returns the peer registered under name.
func (r *Registry) Lookup(name string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[name]
	return p, ok
}

// Snapshot returns the sorted names of all registered clients.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.peers))
	for name := range r.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Members returns every registered member, sorted by name.
func (r *Registry) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Registry) membersLocked() []Member {
	members := make([]Member, 0, len(r.peers))
	for name, p := range r.peers {
		members = append(members, Member{Name: name, Peer: p})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Name < members[j].Name
	})
	return members
}

func (r *Registry) notifyLocked(kind ChangeKind, name string, p Peer) {
	if r.onChange == nil {
		return
	}
	r.onChange(Change{
		Kind:    kind,
		Name:    name,
		Peer:    p,
		Members: r.membersLocked(),
	})
}

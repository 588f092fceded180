package session

// State is a session's lifecycle state.
type State int

const (
	// Connecting: accepted, waiting for the join request.
	Connecting State = iota
	// Joined: registered and relaying messages.
	Joined
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

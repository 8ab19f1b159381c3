package session

import "fmt"

// State is the connection state of a Supervisor.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition is reported to the OnState hook on every state change.
// Attempt counts consecutive failed connections and is only set for
// StateBackoff.
type Transition struct {
	Meter   string
	From    State
	To      State
	Attempt int
	Err     error
}

func (t Transition) String() string {
	if t.To == StateBackoff {
		return fmt.Sprintf("%s: %s -> %s(%d): %v", t.Meter, t.From, t.To, t.Attempt, t.Err)
	}
	return fmt.Sprintf("%s: %s -> %s", t.Meter, t.From, t.To)
}

package session

import "fmt"

// State is the lifecycle phase of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Status is a session State plus the reason when the State is StateError.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

var (
	StatusDisconnected = Status{State: StateDisconnected}
	StatusConnecting   = Status{State: StateConnecting}
	StatusConnected    = Status{State: StateConnected}
)

// StatusError returns an error status carrying reason.
func StatusError(reason string) Status {
	return Status{State: StateError, Reason: reason}
}

// IsConnected reports whether the status is StateConnected.
func (s Status) IsConnected() bool {
	return s.State == StateConnected
}

func (s Status) String() string {
	if s.State == StateError && s.Reason != "" {
		return fmt.Sprintf("%s: %s", s.State, s.Reason)
	}
	return string(s.State)
}

package reachability

import (
	"fmt"
	"time"
)

// State is the coalesced reachability of the device.
type State int

const (
	// StateUnknown is current while no observation has arrived since the
	// source was activated, and whenever the monitor is idle.
	StateUnknown State = iota
	StateReachable
	StateUnreachable
	// StateError is current after the source could not be activated. It is
	// never folded into StateUnreachable.
	StateError
)

var stateNames = map[State]string{
	StateUnknown:     "unknown",
	StateReachable:   "reachable",
	StateUnreachable: "unreachable",
	StateError:       "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Known reports whether s is an established observation (reachable or
// unreachable) that can be replayed to new observers.
func (s State) Known() bool {
	return s == StateReachable || s == StateUnreachable
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown reachability state %q", string(text))
}

// Update is what observers receive on every state change.
type Update struct {
	State State
	// Err is the source error for a StateError update, which is sent only
	// to the observer whose Subscribe failed to activate the source.
	Err error
	At  time.Time
	// Seq increases with every change the monitor notifies. Subscriptions
	// use it to discard updates older than one they already delivered.
	Seq uint64
}

// Status is a point-in-time view of the monitor, used by status endpoints.
type Status struct {
	State     State     `json:"state"`
	Source    string    `json:"source"`
	Watching  bool      `json:"watching"`
	Observers int       `json:"observers"`
	Available []string  `json:"available"`
	ChangedAt time.Time `json:"changedAt,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

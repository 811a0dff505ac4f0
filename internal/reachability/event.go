package reachability

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEvent is reported for interface events the monitor cannot
// apply. Such events are dropped; they never change state.
var ErrMalformedEvent = errors.New("malformed interface event")

// EventKind classifies a raw interface event.
type EventKind int

const (
	// EventAvailable marks an interface as usable.
	EventAvailable EventKind = iota + 1
	// EventLost marks an interface as no longer usable.
	EventLost
	// EventSynced tells the monitor the source has reported every interface
	// it currently sees. It carries no interface id and lets an empty
	// initial scan settle to StateUnreachable instead of staying unknown.
	EventSynced
)

func (k EventKind) String() string {
	switch k {
	case EventAvailable:
		return "available"
	case EventLost:
		return "lost"
	case EventSynced:
		return "synced"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// InterfaceEvent is a single transition reported by a ConnectivitySource.
type InterfaceEvent struct {
	Kind EventKind
	// Interface is an opaque identifier, e.g. "wlan0" or a platform handle.
	Interface string
	At        time.Time
}

// Available builds an EventAvailable for id.
func Available(id string) InterfaceEvent {
	return InterfaceEvent{Kind: EventAvailable, Interface: id}
}

// Lost builds an EventLost for id.
func Lost(id string) InterfaceEvent {
	return InterfaceEvent{Kind: EventLost, Interface: id}
}

// Synced builds an EventSynced.
func Synced() InterfaceEvent {
	return InterfaceEvent{Kind: EventSynced}
}

// Validate returns an error wrapping ErrMalformedEvent if e cannot be applied.
func (e InterfaceEvent) Validate() error {
	switch e.Kind {
	case EventAvailable, EventLost:
		if e.Interface == "" {
			return fmt.Errorf("%w: %s event without interface id", ErrMalformedEvent, e.Kind)
		}
		return nil
	case EventSynced:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMalformedEvent, e.Kind)
	}
}

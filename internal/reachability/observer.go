package reachability

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Observer receives reachability changes. Identity is the interface value
// itself, so implementations must be comparable; use pointer receivers.
type Observer interface {
	OnReachability(Update)
}

type funcObserver struct {
	fn func(Update)
}

func (f *funcObserver) OnReachability(u Update) { f.fn(u) }

// ObserverFunc wraps fn in a new Observer. Each call returns a distinct
// observer, even for the same fn.
func ObserverFunc(fn func(Update)) Observer {
	return &funcObserver{fn: fn}
}

// Subscription is the handle for one registered observer.
type Subscription struct {
	id       string
	observer Observer

	// mu serializes deliveries to observer.
	mu      sync.Mutex
	lastSeq uint64
	closed  atomic.Bool
}

func newSubscription(o Observer) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		observer: o,
	}
}

// ID returns a unique identifier for this subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	return !s.closed.Load()
}

// deliver hands u to the observer unless the subscription was removed or
// an update at least as new was already delivered.
func (s *Subscription) deliver(u Update) bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || u.Seq <= s.lastSeq {
		return false
	}
	s.lastSeq = u.Seq
	s.observer.OnReachability(u)
	return true
}

package reachability

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/metrics"
)

var (
	// ErrActivationFailed wraps the source error when StartWatching fails.
	ErrActivationFailed = errors.New("connectivity source activation failed")
	// ErrNilObserver is returned by Subscribe for a nil observer.
	ErrNilObserver = errors.New("nil observer")
)

// Monitor coalesces per-interface events from a ConnectivitySource into a
// single reachability State and fans changes out to observers.
//
// The source is watched only while at least one observer is registered:
// the first Subscribe starts it and the last Unsubscribe stops it.
type Monitor struct {
	// lifecycleMu serializes source activation and deactivation. It is
	// never taken by the event path.
	lifecycleMu sync.Mutex

	// mu protects everything below.
	mu         sync.Mutex
	observers  map[Observer]*Subscription
	available  map[string]struct{}
	state      State
	lastErr    error
	changedAt  time.Time
	seq        uint64
	generation uint64
	watching   bool
	watch      WatchHandle

	source  ConnectivitySource
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// WithClock sets the clock used to timestamp updates.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewMonitor creates an idle monitor over source.
func NewMonitor(source ConnectivitySource, opts ...Option) *Monitor {
	m := &Monitor{
		observers: make(map[Observer]*Subscription),
		available: make(map[string]struct{}),
		source:    source,
		clock:     clock.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "reachability", "source", source.Name())
	return m
}

// Subscribe registers o. The first registration starts watching the
// source. If that fails, o receives a single StateError update carrying the
// source error, o is not registered, the monitor stays idle with
// Current() == StateError, and the returned error wraps ErrActivationFailed.
//
// If the monitor already holds a reachable or unreachable state, o receives
// it before Subscribe returns. Subscribing an already registered observer
// returns its existing Subscription and delivers nothing.
func (m *Monitor) Subscribe(o Observer) (*Subscription, error) {
	if o == nil {
		return nil, ErrNilObserver
	}

	m.lifecycleMu.Lock()

	m.mu.Lock()
	if existing, ok := m.observers[o]; ok {
		m.mu.Unlock()
		m.lifecycleMu.Unlock()
		return existing, nil
	}
	sub := newSubscription(o)
	m.observers[o] = sub
	count := len(m.observers)
	activate := !m.watching
	var gen uint64
	if activate {
		m.generation++
		gen = m.generation
		m.watching = true
		m.resetLocked()
	}
	m.mu.Unlock()
	m.metrics.SetObservers(count)

	if activate {
		if failed, err := m.activate(gen); err != nil {
			m.mu.Lock()
			delete(m.observers, o)
			count = len(m.observers)
			m.mu.Unlock()
			m.metrics.SetObservers(count)
			m.lifecycleMu.Unlock()

			// o learns about the failure once; it is not registered.
			sub.deliver(failed)
			sub.closed.Store(true)
			return nil, err
		}
	}

	m.mu.Lock()
	replay, ok := m.latestLocked()
	m.mu.Unlock()
	m.lifecycleMu.Unlock()

	m.logger.Debug("Observer subscribed", "subscription", sub.id, "observers", count)
	if ok {
		sub.deliver(replay)
	}
	return sub, nil
}

// activate starts the source for watch generation gen. Caller must hold
// lifecycleMu and must already have marked the monitor as watching. On
// failure it also returns the StateError update for the subscriber.
func (m *Monitor) activate(gen uint64) (Update, error) {
	h, err := m.source.StartWatching(func(ev InterfaceEvent) {
		m.handleEvent(gen, ev)
	})
	if err != nil {
		m.mu.Lock()
		m.watching = false
		m.generation++
		m.resetLocked()
		m.state = StateError
		m.lastErr = err
		m.changedAt = m.clock.Now()
		m.seq++
		u := Update{State: StateError, Err: err, At: m.changedAt, Seq: m.seq}
		m.mu.Unlock()

		m.metrics.ActivationFailed()
		m.metrics.Transition(StateError.String())
		m.metrics.SetWatching(false)
		m.logger.Error("Failed to start watching", "err", err)
		return u, fmt.Errorf("%w: %s: %w", ErrActivationFailed, m.source.Name(), err)
	}

	m.mu.Lock()
	m.watch = h
	m.mu.Unlock()

	m.metrics.ActivationSucceeded()
	m.metrics.SetWatching(true)
	m.logger.Info("Started watching")
	return Update{}, nil
}

// Unsubscribe removes the observer behind s. Removing the last observer
// stops the source and returns the monitor to idle. Unknown, nil and
// already removed subscriptions are ignored.
func (m *Monitor) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.Lock()
	current, ok := m.observers[s.observer]
	if !ok || current != s {
		m.mu.Unlock()
		return
	}
	delete(m.observers, s.observer)
	s.closed.Store(true)
	count := len(m.observers)
	h, stop := m.detachLocked()
	m.mu.Unlock()

	m.metrics.SetObservers(count)
	m.logger.Debug("Observer unsubscribed", "subscription", s.id, "observers", count)
	if stop {
		m.deactivate(h)
	}
}

// Close removes every observer and stops the source if it is watched.
func (m *Monitor) Close() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.Lock()
	for o, s := range m.observers {
		s.closed.Store(true)
		delete(m.observers, o)
	}
	h, stop := m.detachLocked()
	m.mu.Unlock()

	m.metrics.SetObservers(0)
	if stop {
		return m.deactivate(h)
	}
	return nil
}

// detachLocked marks the monitor idle when no observers remain and returns
// the watch to stop. Caller must hold mu.
func (m *Monitor) detachLocked() (WatchHandle, bool) {
	if len(m.observers) > 0 || !m.watching {
		return nil, false
	}
	h := m.watch
	m.watching = false
	m.watch = nil
	m.generation++
	m.resetLocked()
	return h, true
}

// deactivate stops watch h. A failing stop is logged; the monitor is idle
// either way.
func (m *Monitor) deactivate(h WatchHandle) error {
	m.metrics.SetWatching(false)
	if err := m.source.StopWatching(h); err != nil {
		m.metrics.StopFailed()
		m.logger.Warn("Failed to stop watching", "err", err)
		return fmt.Errorf("stop watching %s: %w", m.source.Name(), err)
	}
	m.logger.Info("Stopped watching")
	return nil
}

// resetLocked clears the interface set and forgets the current state.
// Caller must hold mu.
func (m *Monitor) resetLocked() {
	clear(m.available)
	m.state = StateUnknown
	m.lastErr = nil
	m.changedAt = time.Time{}
}

func (m *Monitor) handleEvent(gen uint64, ev InterfaceEvent) {
	if err := ev.Validate(); err != nil {
		m.metrics.MalformedEvent()
		m.logger.Warn("Dropping interface event", "err", err)
		return
	}
	m.metrics.Event(ev.Kind.String())

	m.mu.Lock()
	if !m.watching || gen != m.generation {
		m.mu.Unlock()
		m.metrics.StaleEvent()
		m.logger.Debug("Dropping event from stopped watch", "kind", ev.Kind, "interface", ev.Interface)
		return
	}

	switch ev.Kind {
	case EventAvailable:
		if _, ok := m.available[ev.Interface]; ok {
			m.mu.Unlock()
			return
		}
		m.available[ev.Interface] = struct{}{}
	case EventLost:
		if _, ok := m.available[ev.Interface]; !ok {
			m.mu.Unlock()
			return
		}
		delete(m.available, ev.Interface)
	}

	next := StateUnreachable
	if len(m.available) > 0 {
		next = StateReachable
	}
	if next == m.state {
		m.mu.Unlock()
		return
	}

	at := ev.At
	if at.IsZero() {
		at = m.clock.Now()
	}
	m.state = next
	m.changedAt = at
	m.seq++
	u := Update{State: next, At: at, Seq: m.seq}
	subs := make([]*Subscription, 0, len(m.observers))
	for _, s := range m.observers {
		subs = append(subs, s)
	}
	interfaces := len(m.available)
	m.mu.Unlock()

	m.metrics.Transition(next.String())
	m.logger.Info("Reachability changed", "state", next, "interface", ev.Interface, "available", interfaces)

	for _, s := range subs {
		s.deliver(u)
	}
}

// latestLocked returns the replayable state, if any. Caller must hold mu.
func (m *Monitor) latestLocked() (Update, bool) {
	if !m.state.Known() {
		return Update{}, false
	}
	return Update{State: m.state, At: m.changedAt, Seq: m.seq}, true
}

// Current returns the latest known state without registering an observer.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the full monitor status.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := make([]string, 0, len(m.available))
	for id := range m.available {
		available = append(available, id)
	}
	sort.Strings(available)

	st := Status{
		State:     m.state,
		Source:    m.source.Name(),
		Watching:  m.watching,
		Observers: len(m.observers),
		Available: available,
		ChangedAt: m.changedAt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// ObserverCount returns the number of registered observers.
func (m *Monitor) ObserverCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

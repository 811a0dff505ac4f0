package netsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/metrics"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
)

// ErrUnknownWatch is returned when StopWatching gets a handle the source
// did not issue.
var ErrUnknownWatch = errors.New("unknown watch handle")

const (
	defaultPollInterval     = 2 * time.Second
	defaultFastPollInterval = 500 * time.Millisecond
	defaultFastPollDuration = 10 * time.Second
	listTimeout             = 5 * time.Second
)

// PollConfig controls the polling cadence of a PollSource.
type PollConfig struct {
	// Interval is the normal time between enumerations.
	Interval time.Duration
	// FastInterval is used for FastDuration after a change was detected.
	FastInterval time.Duration
	FastDuration time.Duration
	// FailureThreshold is the number of consecutive enumeration failures
	// after which the source reports itself failed.
	FailureThreshold int
	// Ignore holds path.Match patterns of interface names to skip.
	Ignore []string
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.FastInterval <= 0 || c.FastInterval > c.Interval {
		c.FastInterval = min(defaultFastPollInterval, c.Interval)
	}
	if c.FastDuration < 0 {
		c.FastDuration = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	return c
}

// PollSource is a ConnectivitySource that periodically enumerates host
// interfaces and reports the difference between consecutive scans.
type PollSource struct {
	cfg     PollConfig
	list    Lister
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	health  *health

	mu      sync.Mutex
	watches map[*pollWatch]struct{}
}

// PollOption configures a PollSource.
type PollOption func(*PollSource)

// WithLister replaces the interface lister. Defaults to HostInterfaces.
func WithLister(l Lister) PollOption {
	return func(s *PollSource) { s.list = l }
}

// WithPollClock sets the clock driving the poll timer.
func WithPollClock(c clock.Clock) PollOption {
	return func(s *PollSource) { s.clock = c }
}

// WithPollLogger sets the logger.
func WithPollLogger(l *slog.Logger) PollOption {
	return func(s *PollSource) { s.logger = l }
}

// WithPollMetrics enables Prometheus instrumentation.
func WithPollMetrics(m *metrics.Metrics) PollOption {
	return func(s *PollSource) { s.metrics = m }
}

// NewPollSource creates a polling source.
func NewPollSource(cfg PollConfig, opts ...PollOption) *PollSource {
	s := &PollSource{
		cfg:     cfg.withDefaults(),
		list:    HostInterfaces,
		clock:   clock.New(),
		logger:  slog.Default(),
		watches: make(map[*pollWatch]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = newHealth(s.Name(), s.cfg.FailureThreshold)
	s.logger = s.logger.With("component", "netsource", "source", s.Name())
	return s
}

func (s *PollSource) Name() string { return "poll" }

// Health returns the enumeration health of the source.
func (s *PollSource) Health() HealthSnapshot {
	return s.health.snapshot()
}

// StartWatching runs one enumeration synchronously so that a source that
// cannot read interfaces at all fails activation, then polls in the
// background. The initial set is reported as Available events followed
// by a Synced event.
func (s *PollSource) StartWatching(fn reachability.EventFunc) (reachability.WatchHandle, error) {
	initial, err := s.enumerate()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	w := &pollWatch{
		source: s,
		fn:     fn,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		known:  make(map[string]struct{}),
	}
	s.mu.Lock()
	s.watches[w] = struct{}{}
	s.mu.Unlock()

	go w.run(initial)
	return w, nil
}

// StopWatching stops the watch behind h. It does not wait for the poll
// goroutine, so it is safe to call from inside an event callback.
func (s *PollSource) StopWatching(h reachability.WatchHandle) error {
	w, ok := h.(*pollWatch)
	if !ok || w == nil || w.source != s {
		return ErrUnknownWatch
	}
	s.mu.Lock()
	_, ok = s.watches[w]
	delete(s.watches, w)
	s.mu.Unlock()
	if !ok {
		return ErrUnknownWatch
	}
	w.stopOnce.Do(func() { close(w.stop) })
	return nil
}

// enumerate lists interfaces once, recording health and metrics.
func (s *PollSource) enumerate() ([]Interface, error) {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	started := s.clock.Now()
	ifaces, err := s.list(ctx)
	s.metrics.ObservePoll(s.Name(), s.clock.Since(started))
	if err != nil {
		s.metrics.PollFailed(s.Name())
		if s.health.recordFailure(err, s.clock.Now()) {
			s.logger.Error("Interface enumeration failing", "err", err, "failures", s.cfg.FailureThreshold)
		} else {
			s.logger.Warn("Interface enumeration failed", "err", err)
		}
		return nil, err
	}
	s.health.recordSuccess(s.clock.Now())
	return ifaces, nil
}

type pollWatch struct {
	source   *PollSource
	fn       reachability.EventFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// known is only touched by run.
	known map[string]struct{}
}

func (w *pollWatch) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *pollWatch) run(initial []Interface) {
	defer close(w.done)

	s := w.source
	w.apply(initial)
	if w.stopped() {
		return
	}
	w.fn(reachability.Synced())

	var fastUntil time.Time
	timer := s.clock.Timer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-timer.C:
		}

		now := s.clock.Now()
		if ifaces, err := s.enumerate(); err == nil && w.apply(ifaces) {
			if s.cfg.FastDuration > 0 && !now.Before(fastUntil) {
				s.logger.Debug("Entering fast poll mode", "interval", s.cfg.FastInterval)
			}
			fastUntil = now.Add(s.cfg.FastDuration)
		}

		next := s.cfg.Interval
		if now.Before(fastUntil) {
			next = s.cfg.FastInterval
		}
		timer.Reset(next)
	}
}

// apply diffs ifaces against the known set and emits events for the
// difference. New interfaces are reported before lost ones so that a
// handover between interfaces never passes through an empty set. It
// reports whether anything changed.
func (w *pollWatch) apply(ifaces []Interface) bool {
	s := w.source
	current := usableSet(ifaces, s.cfg.Ignore)
	now := s.clock.Now()

	var added, lost []string
	for name := range current {
		if _, ok := w.known[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range w.known {
		if _, ok := current[name]; !ok {
			lost = append(lost, name)
		}
	}
	sort.Strings(added)
	sort.Strings(lost)

	for _, name := range added {
		if w.stopped() {
			return true
		}
		w.known[name] = struct{}{}
		s.logger.Debug("Interface available", "interface", name)
		w.fn(reachability.InterfaceEvent{Kind: reachability.EventAvailable, Interface: name, At: now})
	}
	for _, name := range lost {
		if w.stopped() {
			return true
		}
		delete(w.known, name)
		s.logger.Debug("Interface lost", "interface", name)
		w.fn(reachability.InterfaceEvent{Kind: reachability.EventLost, Interface: name, At: now})
	}
	return len(added) > 0 || len(lost) > 0
}

package mock

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
)

var (
	// ErrActivationRefused is returned by StartWatching when the source is
	// configured to simulate a platform that denies network access.
	ErrActivationRefused = errors.New("mock: network state access denied")
	errUnknownWatch      = errors.New("mock: unknown watch handle")
)

// Interface patterns.
const (
	PatternSteady   = "steady"   // always available
	PatternPeriodic = "periodic" // alternates every Period ticks
	PatternFlaky    = "flaky"    // toggles at random
	PatternDown     = "down"     // never available
)

// Patterns lists every supported interface pattern.
var Patterns = []string{PatternSteady, PatternPeriodic, PatternFlaky, PatternDown}

// ValidPattern reports whether p is one of Patterns.
func ValidPattern(p string) bool {
	return slices.Contains(Patterns, p)
}

// InterfaceSpec describes one simulated interface.
type InterfaceSpec struct {
	Name    string
	Pattern string
	// Period is the number of ticks per phase for PatternPeriodic.
	Period int
}

// DefaultInterfaces is a small laptop-like setup: wired link that comes
// and goes, a flaky wifi and an idle cellular modem.
func DefaultInterfaces() []InterfaceSpec {
	return []InterfaceSpec{
		{Name: "eth0", Pattern: PatternPeriodic, Period: 12},
		{Name: "wlan0", Pattern: PatternFlaky},
		{Name: "wwan0", Pattern: PatternDown},
	}
}

// Config configures a Source.
type Config struct {
	Interval   time.Duration
	Interfaces []InterfaceSpec
	Seed       uint64
	// FailActivation makes every StartWatching fail.
	FailActivation bool
}

// Source is a ConnectivitySource that simulates interfaces flapping on a
// ticker. Every watch starts from the same seed, so runs are repeatable.
type Source struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	watches map[*watch]struct{}
}

// NewSource creates a simulated source. A nil clock uses the wall clock.
func NewSource(cfg Config, clk clock.Clock, logger *slog.Logger) *Source {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if len(cfg.Interfaces) == 0 {
		cfg.Interfaces = DefaultInterfaces()
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With("component", "mock", "source", "mock"),
		watches: make(map[*watch]struct{}),
	}
}

func (s *Source) Name() string { return "mock" }

func (s *Source) StartWatching(fn reachability.EventFunc) (reachability.WatchHandle, error) {
	if s.cfg.FailActivation {
		return nil, ErrActivationRefused
	}

	w := &watch{
		source: s,
		fn:     fn,
		stop:   make(chan struct{}),
		rng:    rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15)),
		up:     make(map[string]bool, len(s.cfg.Interfaces)),
	}
	s.mu.Lock()
	s.watches[w] = struct{}{}
	s.mu.Unlock()

	go w.run()
	return w, nil
}

func (s *Source) StopWatching(h reachability.WatchHandle) error {
	w, ok := h.(*watch)
	if !ok || w == nil {
		return errUnknownWatch
	}
	s.mu.Lock()
	_, ok = s.watches[w]
	delete(s.watches, w)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: already stopped", errUnknownWatch)
	}
	close(w.stop)
	return nil
}

type watch struct {
	source *Source
	fn     reachability.EventFunc
	stop   chan struct{}
	rng    *rand.Rand
	up     map[string]bool
}

func (w *watch) run() {
	s := w.source
	w.advance(0)
	select {
	case <-w.stop:
		return
	default:
	}
	w.fn(reachability.Synced())

	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			tick++
			w.advance(tick)
		}
	}
}

// advance moves every simulated interface to its state for tick and
// emits the transitions.
func (w *watch) advance(tick int) {
	now := w.source.clock.Now()
	for _, iface := range w.source.cfg.Interfaces {
		was := w.up[iface.Name]
		next := w.nextState(iface, was, tick)
		if next == was {
			continue
		}
		select {
		case <-w.stop:
			return
		default:
		}
		w.up[iface.Name] = next
		kind := reachability.EventLost
		if next {
			kind = reachability.EventAvailable
		}
		w.source.logger.Debug("Simulated interface change", "interface", iface.Name, "kind", kind, "tick", tick)
		w.fn(reachability.InterfaceEvent{Kind: kind, Interface: iface.Name, At: now})
	}
}

func (w *watch) nextState(iface InterfaceSpec, was bool, tick int) bool {
	switch iface.Pattern {
	case PatternSteady:
		return true
	case PatternPeriodic:
		period := iface.Period
		if period <= 0 {
			period = 10
		}
		return (tick/period)%2 == 0
	case PatternFlaky:
		if tick == 0 {
			return true
		}
		if w.rng.Float64() < 0.2 {
			return !was
		}
		return was
	default:
		return false
	}
}

package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
)

const (
	DefaultSaveInterval = 30 * time.Second
	DefaultMaxEntries   = 256

	attachBaseDelay = time.Second
	attachMaxDelay  = 30 * time.Second
)

// Subscriber is the part of reachability.Monitor the recorder attaches to.
type Subscriber interface {
	Subscribe(reachability.Observer) (*reachability.Subscription, error)
}

// Recorder is a reachability Observer that keeps a bounded log of
// transitions and periodically persists it.
type Recorder struct {
	persist      *Store
	clock        clock.Clock
	logger       *slog.Logger
	maxEntries   int
	saveInterval time.Duration

	mu      sync.Mutex
	history *History
	dirty   bool
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	MaxEntries   int
	SaveInterval time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// NewRecorder loads existing history from persist. The caller must run Run
// in a goroutine to get periodic saves.
func NewRecorder(persist *Store, cfg RecorderConfig) (*Recorder, error) {
	h, err := persist.Load()
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		persist:      persist,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		maxEntries:   cfg.MaxEntries,
		saveInterval: cfg.SaveInterval,
		history:      h,
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "history")
	if r.maxEntries <= 0 {
		r.maxEntries = DefaultMaxEntries
	}
	if r.saveInterval <= 0 {
		r.saveInterval = DefaultSaveInterval
	}
	r.trimLocked()
	return r, nil
}

// OnReachability records u.
func (r *Recorder) OnReachability(u reachability.Update) {
	t := Transition{State: u.State, At: u.At}
	if u.Err != nil {
		t.Error = u.Err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.Transitions = append(r.history.Transitions, t)
	r.history.Counts[u.State.String()]++
	r.history.LastUpdated = r.clock.Now().UTC()
	r.trimLocked()
	r.dirty = true
}

func (r *Recorder) trimLocked() {
	if over := len(r.history.Transitions) - r.maxEntries; over > 0 {
		r.history.Transitions = append([]Transition(nil), r.history.Transitions[over:]...)
	}
}

// Attach subscribes r to m, retrying with exponential backoff while the
// source cannot be activated. It returns the subscription once attached,
// or ctx.Err() if ctx ends first.
func (r *Recorder) Attach(ctx context.Context, m Subscriber) (*reachability.Subscription, error) {
	delay := attachBaseDelay
	for {
		sub, err := m.Subscribe(r)
		if err == nil {
			r.logger.Info("Recording reachability history")
			return sub, nil
		}
		r.logger.Warn("History recording unavailable, retrying", "err", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.clock.After(delay):
		}
		delay = min(delay*2, attachMaxDelay)
	}
}

// Run periodically saves dirty history to disk. It blocks until ctx is
// cancelled, then performs a final save.
func (r *Recorder) Run(ctx context.Context) {
	ticker := r.clock.Ticker(r.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

// Flush saves the history if it changed since the last save.
func (r *Recorder) Flush() {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	h := r.history.clone()
	r.dirty = false
	r.mu.Unlock()

	if err := r.persist.Save(h); err != nil {
		r.logger.Error("Failed to save history", "path", r.persist.Path(), "err", err)
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}

// History returns a deep copy of the recorded history.
func (r *Recorder) History() *History {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.clone()
}

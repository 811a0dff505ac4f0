package netsource

import (
	"sync"
	"time"
)

// HealthStatus summarizes how a source's interface enumeration is doing.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// HealthSnapshot is a consistent copy of a source's health counters.
type HealthSnapshot struct {
	Source              string       `json:"source"`
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastError           string       `json:"lastError,omitempty"`
	LastFailure         time.Time    `json:"lastFailure,omitempty"`
	LastSuccess         time.Time    `json:"lastSuccess,omitempty"`
}

// HealthReporter is implemented by sources that track enumeration health.
type HealthReporter interface {
	Health() HealthSnapshot
}

// health tracks consecutive enumeration failures for a single source.
// A failing poll keeps the last known interface set; it is never reported
// as a lost interface.
type health struct {
	mu          sync.Mutex
	source      string
	threshold   int
	failures    int
	lastErr     string
	lastFail    time.Time
	lastSuccess time.Time
}

func newHealth(source string, threshold int) *health {
	if threshold <= 0 {
		threshold = 1
	}
	return &health{source: source, threshold: threshold}
}

func (h *health) recordSuccess(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
	h.lastSuccess = now
}

// recordFailure counts a failure and reports whether this one crossed the
// failure threshold.
func (h *health) recordFailure(err error, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = now
	return h.failures == h.threshold
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *health) statusLocked() HealthStatus {
	switch {
	case h.failures >= h.threshold:
		return StatusFailed
	case h.failures > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func (h *health) snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Source:              h.source,
		Status:              h.statusLocked(),
		ConsecutiveFailures: h.failures,
		LastError:           h.lastErr,
		LastFailure:         h.lastFail,
		LastSuccess:         h.lastSuccess,
	}
}

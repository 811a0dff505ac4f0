package netsource

import (
	"fmt"
	"testing"
	"time"
)

func TestHealthFailureTracking(t *testing.T) {
	h := newHealth("poll", 3)
	now := time.Now()

	if h.snapshot().Status != StatusHealthy {
		t.Fatal("new health should be healthy")
	}

	if h.recordFailure(fmt.Errorf("permission denied"), now) {
		t.Error("first failure should not cross the threshold")
	}
	if h.snapshot().Status != StatusDegraded {
		t.Errorf("status = %q, want %q", h.snapshot().Status, StatusDegraded)
	}

	h.recordFailure(fmt.Errorf("timeout"), now)
	if !h.recordFailure(fmt.Errorf("still broken"), now) {
		t.Error("third failure should cross the threshold")
	}
	if h.snapshot().Status != StatusFailed {
		t.Errorf("status = %q, want %q", h.snapshot().Status, StatusFailed)
	}
	if h.recordFailure(fmt.Errorf("again"), now) {
		t.Error("threshold crossing should be reported once")
	}

	snap := h.snapshot()
	if snap.LastError != "again" {
		t.Errorf("LastError = %q, want %q", snap.LastError, "again")
	}
	if snap.ConsecutiveFailures != 4 {
		t.Errorf("ConsecutiveFailures = %d, want 4", snap.ConsecutiveFailures)
	}
}

func TestHealthRecovery(t *testing.T) {
	h := newHealth("poll", 2)
	for i := 0; i < 5; i++ {
		h.recordFailure(fmt.Errorf("fail %d", i), time.Now())
	}
	if h.snapshot().Status != StatusFailed {
		t.Fatal("should be failed")
	}

	now := time.Now()
	h.recordSuccess(now)
	snap := h.snapshot()
	if snap.Status != StatusHealthy {
		t.Errorf("status = %q, want healthy after success", snap.Status)
	}
	if snap.ConsecutiveFailures != 0 || snap.LastError != "" {
		t.Errorf("counters not reset: %+v", snap)
	}
	if !snap.LastSuccess.Equal(now) {
		t.Errorf("LastSuccess = %v, want %v", snap.LastSuccess, now)
	}
}

func TestHealthThresholdFloor(t *testing.T) {
	h := newHealth("poll", 0)
	if !h.recordFailure(fmt.Errorf("boom"), time.Now()) {
		t.Error("threshold below one should be treated as one")
	}
}

package mock

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
)

type eventLog struct {
	mu     sync.Mutex
	events []reachability.InterfaceEvent
}

func (l *eventLog) add(ev reachability.InterfaceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []reachability.InterfaceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]reachability.InterfaceEvent(nil), l.events...)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestSource_InitialStateAndSync(t *testing.T) {
	src := NewSource(Config{Interfaces: []InterfaceSpec{
		{Name: "eth0", Pattern: PatternSteady},
		{Name: "wwan0", Pattern: PatternDown},
	}}, clock.NewMock(), nil)

	log := &eventLog{}
	h, err := src.StartWatching(log.add)
	require.NoError(t, err)
	defer src.StopWatching(h)

	require.Eventually(t, func() bool { return log.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	events := log.snapshot()
	assert.Equal(t, reachability.Available("eth0").Kind, events[0].Kind)
	assert.Equal(t, "eth0", events[0].Interface)
	assert.Equal(t, reachability.EventSynced, events[1].Kind)
}

func TestSource_PeriodicFlaps(t *testing.T) {
	mock := clock.NewMock()
	src := NewSource(Config{
		Interval:   time.Second,
		Interfaces: []InterfaceSpec{{Name: "eth0", Pattern: PatternPeriodic, Period: 2}},
	}, mock, nil)

	log := &eventLog{}
	h, err := src.StartWatching(log.add)
	require.NoError(t, err)
	defer src.StopWatching(h)

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return log.len() >= 4
	}, 2*time.Second, 5*time.Millisecond)

	events := log.snapshot()
	assert.Equal(t, reachability.EventAvailable, events[0].Kind)
	assert.Equal(t, reachability.EventSynced, events[1].Kind)
	assert.Equal(t, reachability.EventLost, events[2].Kind)
	assert.Equal(t, reachability.EventAvailable, events[3].Kind)
}

func TestSource_FailActivation(t *testing.T) {
	src := NewSource(Config{FailActivation: true}, clock.NewMock(), nil)
	m := reachability.NewMonitor(src)

	_, err := m.Subscribe(reachability.ObserverFunc(func(reachability.Update) {}))
	assert.ErrorIs(t, err, reachability.ErrActivationFailed)
	assert.ErrorIs(t, err, ErrActivationRefused)
	assert.Equal(t, reachability.StateError, m.Current())
}

func TestSource_StopWatching(t *testing.T) {
	src := NewSource(Config{}, clock.NewMock(), nil)
	h, err := src.StartWatching(func(reachability.InterfaceEvent) {})
	require.NoError(t, err)

	require.NoError(t, src.StopWatching(h))
	assert.Error(t, src.StopWatching(h))
	assert.Error(t, src.StopWatching(42))
}

func TestSource_SameSeedSameSequence(t *testing.T) {
	run := func() []reachability.InterfaceEvent {
		mock := clock.NewMock()
		src := NewSource(Config{
			Interval:   time.Second,
			Seed:       7,
			Interfaces: []InterfaceSpec{{Name: "wlan0", Pattern: PatternFlaky}},
		}, mock, nil)
		log := &eventLog{}
		h, err := src.StartWatching(log.add)
		require.NoError(t, err)
		defer src.StopWatching(h)

		require.Eventually(t, func() bool {
			mock.Add(time.Second)
			return log.len() >= 5
		}, 2*time.Second, time.Millisecond)
		return log.snapshot()[:5]
	}

	first, second := run(), run()
	for i := range first {
		assert.Equal(t, first[i].Kind, second[i].Kind, "event %d", i)
	}
}

func TestValidPattern(t *testing.T) {
	for _, p := range Patterns {
		assert.True(t, ValidPattern(p), p)
	}
	for _, cfg := range DefaultInterfaces() {
		assert.True(t, ValidPattern(cfg.Pattern), cfg.Name)
	}
	assert.False(t, ValidPattern("sometimes"))
	assert.False(t, ValidPattern(""))
}

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/config"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/mock"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/ws"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func startWatch(t *testing.T, w *Watcher) (*eventLog, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	log := &eventLog{}
	errCh := make(chan error, 1)
	go func() { errCh <- w.Watch(ctx, log.add) }()
	t.Cleanup(cancel)
	return log, cancel, errCh
}

func newReachdServer(t *testing.T, src reachability.ConnectivitySource, cfg config.ServerConfig) (*httptest.Server, *reachability.Monitor) {
	t.Helper()
	m := reachability.NewMonitor(src)
	b := ws.NewBroadcaster(m, ws.BroadcasterConfig{})
	srv := httptest.NewServer(ws.NewServer(cfg, m, b, nil).Handler())
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return srv, m
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWatcher_ReceivesStates(t *testing.T) {
	src := mock.NewSource(mock.Config{
		Interfaces: []mock.InterfaceSpec{{Name: "eth0", Pattern: mock.PatternSteady}},
	}, clock.NewMock(), nil)
	srv, m := newReachdServer(t, src, config.ServerConfig{AuthToken: "tok"})

	log, cancel, errCh := startWatch(t, NewWatcher(wsURL(srv), "tok"))

	require.Eventually(t, func() bool {
		kinds := log.kinds()
		return len(kinds) >= 2 && kinds[len(kinds)-1] == EventState
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, EventConnected, log.kinds()[0])
	assert.Equal(t, reachability.StateReachable, log.last().State.State)
	assert.Equal(t, 1, m.ObserverCount())

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	require.Eventually(t, func() bool { return m.ObserverCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_ActivationFailureIsReported(t *testing.T) {
	src := mock.NewSource(mock.Config{FailActivation: true}, clock.NewMock(), nil)
	srv, _ := newReachdServer(t, src, config.ServerConfig{})

	log, _, _ := startWatch(t, NewWatcher(wsURL(srv), "", WithClock(clock.NewMock())))

	require.Eventually(t, func() bool {
		return len(log.kinds()) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventKind{EventConnected, EventState, EventServerError, EventDisconnected}, log.kinds()[:4])

	log.mu.Lock()
	state, serverErr := log.events[1], log.events[2]
	log.mu.Unlock()
	assert.Equal(t, reachability.StateError, state.State.State)
	assert.NotEmpty(t, state.State.Error)
	assert.Equal(t, ws.CodeActivationFailed, serverErr.ServerError.Code)
	assert.True(t, errors.Is(serverErr.AsError(), ErrServer))
}

func TestWatcher_ReconnectsWithBackoff(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			conn.Close()
			return
		}
		conn.WriteJSON(ws.WSMessage{
			Type:    ws.MsgState,
			Payload: ws.StatePayload{State: reachability.StateUnreachable, Seq: 1},
		})
		go func() {
			defer conn.Close()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	defer srv.Close()

	clk := clock.NewMock()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	log, _, _ := startWatch(t, NewWatcher(url, "", WithClock(clk), WithBackoff(time.Second, 4*time.Second)))

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		kinds := log.kinds()
		return len(kinds) >= 4
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []EventKind{EventConnected, EventDisconnected, EventConnected, EventState}, log.kinds()[:4])
	assert.Equal(t, reachability.StateUnreachable, log.last().State.State)
	assert.Equal(t, int32(2), conns.Load())
}

func TestWatcher_DialFailureRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	clk := clock.NewMock()
	log, cancel, errCh := startWatch(t, NewWatcher(url, "", WithClock(clk)))

	// Nothing connects, so no events are produced; Watch keeps retrying
	// until cancelled.
	for i := 0; i < 3; i++ {
		clk.Add(reconnectMaxDelay)
	}
	assert.Empty(t, log.kinds())

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

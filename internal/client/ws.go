package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// ErrServer is wrapped by errors built from a server error message.
var ErrServer = errors.New("server error")

// EventKind identifies what a watcher Event carries.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventState
	EventServerError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventState:
		return "state"
	case EventServerError:
		return "server_error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to the Watch callback.
type Event struct {
	Kind EventKind
	// State is set for EventState.
	State ws.StatePayload
	// ServerError is set for EventServerError.
	ServerError ws.ErrorPayload
	// Err is the cause of an EventDisconnected, if any.
	Err error
}

// Watcher follows the reachability stream of a reachd server and
// reconnects with exponential backoff when the connection drops.
type Watcher struct {
	url   string
	token string

	dialer    *websocket.Dialer
	clock     clock.Clock
	logger    *slog.Logger
	baseDelay time.Duration
	maxDelay  time.Duration

	writeMu sync.Mutex // serialises conn writes
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithClock sets the clock used for reconnect delays.
func WithClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithBackoff overrides the reconnect delays.
func WithBackoff(base, max time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.baseDelay = base
		w.maxDelay = max
	}
}

// NewWatcher creates a watcher for the given websocket URL
// (e.g. "ws://127.0.0.1:8080/ws").
func NewWatcher(url, token string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		url:       url,
		token:     token,
		dialer:    websocket.DefaultDialer,
		clock:     clock.New(),
		logger:    slog.Default(),
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch connects and calls fn for every event until ctx is cancelled. fn is
// called from a single goroutine. Watch always returns ctx.Err().
func (w *Watcher) Watch(ctx context.Context, fn func(Event)) error {
	delay := w.baseDelay
	for {
		conn, _, err := w.dialer.DialContext(ctx, w.url, w.header())
		if err == nil {
			delay = w.baseDelay
			fn(Event{Kind: EventConnected})
			err = w.readLoop(ctx, conn, fn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn(Event{Kind: EventDisconnected, Err: err})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Warn("Reconnecting", "url", w.url, "err", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(delay):
		}
		delay = min(delay*2, w.maxDelay)
	}
}

func (w *Watcher) header() http.Header {
	h := http.Header{}
	if w.token != "" {
		h.Set(ws.TokenHeader, w.token)
	}
	return h
}

// readLoop reads messages from conn until it fails or ctx is cancelled.
func (w *Watcher) readLoop(ctx context.Context, conn *websocket.Conn, fn func(Event)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	go w.pingLoop(done, conn)

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var msg struct {
			Type    ws.MessageType  `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Debug("Ignoring malformed message", "err", err)
			continue
		}
		if ev, ok := decode(msg.Type, msg.Payload); ok {
			fn(ev)
		}
	}
}

func decode(t ws.MessageType, payload json.RawMessage) (Event, bool) {
	switch t {
	case ws.MsgState:
		var p ws.StatePayload
		if json.Unmarshal(payload, &p) == nil {
			return Event{Kind: EventState, State: p}, true
		}
	case ws.MsgError:
		var p ws.ErrorPayload
		if json.Unmarshal(payload, &p) == nil {
			return Event{Kind: EventServerError, ServerError: p}, true
		}
	}
	return Event{}, false
}

// pingLoop sends periodic pings on conn until done is closed.
func (w *Watcher) pingLoop(done <-chan struct{}, conn *websocket.Conn) {
	ticker := w.clock.Ticker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// AsError returns the failure carried by e, or nil.
func (e Event) AsError() error {
	switch e.Kind {
	case EventServerError:
		return fmt.Errorf("%w: %s: %s", ErrServer, e.ServerError.Code, e.ServerError.Message)
	case EventDisconnected:
		return e.Err
	}
	return nil
}

package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/metrics"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
)

var (
	// ErrTooManyConnections is returned by AddClient when the connection
	// limit has been reached.
	ErrTooManyConnections = errors.New("too many websocket connections")
	// ErrClosed is returned by AddClient after Close.
	ErrClosed = errors.New("broadcaster closed")
)

const (
	writeWait         = 10 * time.Second
	defaultBufferSize = 16
)

// client is one websocket connection. It is registered with the monitor as
// an Observer for as long as the connection is open.
type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte

	mu     sync.Mutex
	closed bool
	sub    *reachability.Subscription
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, b.bufferSize),
	}
	go c.writePump()
	return c
}

// OnReachability queues a state message. A client whose queue is full is
// disconnected.
func (c *client) OnReachability(u reachability.Update) {
	data, err := json.Marshal(newStateMessage(u))
	if err != nil {
		c.b.logger.Error("Failed to marshal state message", "err", err)
		return
	}
	switch c.enqueue(data) {
	case enqueued:
		c.b.metrics.MessageSent(string(MsgState))
	case queueFull:
		c.b.logger.Warn("Client too slow, disconnecting", "remote", c.remoteAddr())
		c.b.metrics.SlowClientDropped()
		c.b.RemoveClient(c)
	}
}

func (c *client) sendError(code string, err error) {
	data, mErr := json.Marshal(WSMessage{
		Type:    MsgError,
		Payload: ErrorPayload{Code: code, Message: err.Error()},
	})
	if mErr != nil {
		return
	}
	if c.enqueue(data) == enqueued {
		c.b.metrics.MessageSent(string(MsgError))
	}
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	queueFull
	clientClosed
)

// enqueue queues data without blocking. Messages for a closed client are
// discarded.
func (c *client) enqueue(data []byte) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return clientClosed
	}
	select {
	case c.send <- data:
		return enqueued
	default:
		return queueFull
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// close stops the write pump and returns the subscription to release.
func (c *client) close() *reachability.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	sub := c.sub
	c.sub = nil
	return sub
}

func (c *client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	// BufferSize is the per-client message queue length.
	BufferSize int
	// MaxConns caps concurrent clients. Zero means no limit.
	MaxConns int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Broadcaster tracks websocket clients and subscribes each of them to the
// reachability monitor. The monitor watches its source only while at least
// one client is connected.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool

	monitor    *reachability.Monitor
	bufferSize int
	maxConns   int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewBroadcaster(monitor *reachability.Monitor, cfg BroadcasterConfig) *Broadcaster {
	b := &Broadcaster{
		clients:    make(map[*client]bool),
		monitor:    monitor,
		bufferSize: cfg.BufferSize,
		maxConns:   cfg.MaxConns,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if b.bufferSize <= 0 {
		b.bufferSize = defaultBufferSize
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "ws")
	return b
}

// AddClient registers conn and subscribes it to the monitor. The client
// receives the current state right away if one is known.
//
// If the monitor cannot start watching, an error message is written to
// conn, the connection is closed and the activation error is returned.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b)
	b.clients[c] = true
	b.mu.Unlock()
	b.metrics.ClientConnected()

	sub, err := b.monitor.Subscribe(c)
	if err != nil {
		c.sendError(CodeActivationFailed, err)
		b.RemoveClient(c)
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		// Removed while subscribing.
		c.mu.Unlock()
		b.monitor.Unsubscribe(sub)
		return c, nil
	}
	c.sub = sub
	c.mu.Unlock()
	return c, nil
}

// RemoveClient unsubscribes c and closes its connection. It is safe to call
// more than once.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()
	if !ok {
		return
	}

	b.monitor.Unsubscribe(c.close())
	b.metrics.ClientDisconnected()
}

// Close disconnects every client and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.sendError(CodeShuttingDown, ErrClosed)
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

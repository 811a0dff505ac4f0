package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the reachability monitor, its
// sources and the websocket fan-out. All methods are safe on a nil receiver
// so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	observers          prometheus.Gauge
	watching           prometheus.Gauge
	activations        *prometheus.CounterVec
	stopFailures       prometheus.Counter
	events             *prometheus.CounterVec
	malformedEvents    prometheus.Counter
	staleEvents        prometheus.Counter
	transitions        *prometheus.CounterVec
	pollErrors         *prometheus.CounterVec
	pollDuration       *prometheus.HistogramVec
	clientsConnected   prometheus.Gauge
	messagesSent       *prometheus.CounterVec
	slowClientsDropped prometheus.Counter
}

// New creates metrics and registers them with registry. When registry is
// nil a fresh one is created, including the Go and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reachd_observers",
			Help: "Current number of registered reachability observers",
		}),
		watching: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reachd_source_watching",
			Help: "1 while the connectivity source subscription is active",
		}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reachd_source_activations_total",
			Help: "Connectivity source activations by result",
		}, []string{"result"}),
		stopFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachd_source_stop_failures_total",
			Help: "Connectivity source deactivations that returned an error",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reachd_interface_events_total",
			Help: "Interface events received from the source by kind",
		}, []string{"kind"}),
		malformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachd_malformed_events_total",
			Help: "Interface events dropped because they could not be applied",
		}),
		staleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachd_stale_events_total",
			Help: "Interface events dropped because their watch was already stopped",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reachd_state_transitions_total",
			Help: "Notified reachability state changes by new state",
		}, []string{"state"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reachd_poll_errors_total",
			Help: "Interface enumeration failures by source",
		}, []string{"source"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reachd_poll_duration_seconds",
			Help:    "Duration of interface enumeration by source",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"source"}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reachd_ws_clients_connected",
			Help: "Current number of connected websocket clients",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reachd_ws_messages_sent_total",
			Help: "Websocket messages queued to clients by type",
		}, []string{"type"}),
		slowClientsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reachd_ws_slow_clients_dropped_total",
			Help: "Websocket clients disconnected because their send buffer was full",
		}),
	}

	registry.MustRegister(
		m.observers,
		m.watching,
		m.activations,
		m.stopFailures,
		m.events,
		m.malformedEvents,
		m.staleEvents,
		m.transitions,
		m.pollErrors,
		m.pollDuration,
		m.clientsConnected,
		m.messagesSent,
		m.slowClientsDropped,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetObservers records the current observer count.
func (m *Metrics) SetObservers(n int) {
	if m == nil {
		return
	}
	m.observers.Set(float64(n))
}

// SetWatching records whether the source subscription is active.
func (m *Metrics) SetWatching(active bool) {
	if m == nil {
		return
	}
	if active {
		m.watching.Set(1)
	} else {
		m.watching.Set(0)
	}
}

// ActivationSucceeded counts a successful source activation.
func (m *Metrics) ActivationSucceeded() {
	if m == nil {
		return
	}
	m.activations.WithLabelValues("ok").Inc()
}

// ActivationFailed counts a failed source activation.
func (m *Metrics) ActivationFailed() {
	if m == nil {
		return
	}
	m.activations.WithLabelValues("failed").Inc()
}

// StopFailed counts a failed source deactivation.
func (m *Metrics) StopFailed() {
	if m == nil {
		return
	}
	m.stopFailures.Inc()
}

// Event counts a received interface event.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// MalformedEvent counts a dropped malformed event.
func (m *Metrics) MalformedEvent() {
	if m == nil {
		return
	}
	m.malformedEvents.Inc()
}

// StaleEvent counts an event that arrived after its watch was stopped.
func (m *Metrics) StaleEvent() {
	if m == nil {
		return
	}
	m.staleEvents.Inc()
}

// Transition counts a notified state change.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// PollFailed counts an interface enumeration failure.
func (m *Metrics) PollFailed(source string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(source).Inc()
}

// ObservePoll records how long one interface enumeration took.
func (m *Metrics) ObservePoll(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ClientConnected increments the connected websocket clients count.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.clientsConnected.Inc()
}

// ClientDisconnected decrements the connected websocket clients count.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.clientsConnected.Dec()
}

// MessageSent counts a websocket message queued to a client.
func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// SlowClientDropped counts a client disconnected for falling behind.
func (m *Metrics) SlowClientDropped() {
	if m == nil {
		return
	}
	m.slowClientsDropped.Inc()
}

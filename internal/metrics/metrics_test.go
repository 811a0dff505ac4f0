package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetObservers(3)
		m.SetWatching(true)
		m.ActivationSucceeded()
		m.ActivationFailed()
		m.StopFailed()
		m.Event("available")
		m.MalformedEvent()
		m.StaleEvent()
		m.Transition("reachable")
		m.PollFailed("poll")
		m.ObservePoll("poll", time.Millisecond)
		m.ClientConnected()
		m.ClientDisconnected()
		m.MessageSent("state")
		m.SlowClientDropped()
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetObservers(2)
	m.SetWatching(true)
	m.ActivationSucceeded()
	m.ActivationFailed()
	m.ActivationFailed()
	m.Transition("reachable")
	m.Event("lost")
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.observers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.watching))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activations.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("reachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clientsConnected))

	m.SetWatching(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.watching))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.PollFailed("poll")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `reachd_poll_errors_total{source="poll"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

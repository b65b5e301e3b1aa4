// Package metrics exposes Prometheus collectors for the session hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's collectors. A nil *Metrics is valid and records
// nothing, so tests can construct sessions without a registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    *prometheus.GaugeVec
	SessionsCreated   *prometheus.CounterVec
	EventsBroadcast   prometheus.Counter
	SpawnFailures     prometheus.Counter
	AuthFailures      prometheus.Counter
	ConnectionsActive prometheus.Gauge
	MessagesHandled   *prometheus.CounterVec
}

// New creates and registers the hub collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deckd_sessions_active",
			Help: "Live sessions by kind.",
		}, []string{"kind"}),
		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckd_sessions_created_total",
			Help: "Sessions created since start, by kind.",
		}, []string{"kind"}),
		EventsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckd_events_broadcast_total",
			Help: "Output and lifecycle events fanned out to subscribers.",
		}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckd_spawn_failures_total",
			Help: "Child processes the OS refused to start.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckd_auth_failures_total",
			Help: "Inbound messages rejected for a missing or invalid token.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deckd_connections_active",
			Help: "Open WebSocket connections.",
		}),
		MessagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckd_messages_handled_total",
			Help: "Inbound messages dispatched, by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsCreated,
		m.EventsBroadcast,
		m.SpawnFailures,
		m.AuthFailures,
		m.ConnectionsActive,
		m.MessagesHandled,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Nil-safe recording helpers.

func (m *Metrics) SessionOpened(kind string) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(kind).Inc()
	m.SessionsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionClosed(kind string) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(kind).Dec()
}

func (m *Metrics) EventBroadcast() {
	if m == nil {
		return
	}
	m.EventsBroadcast.Inc()
}

func (m *Metrics) SpawnFailed() {
	if m == nil {
		return
	}
	m.SpawnFailures.Inc()
}

func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) MessageHandled(msgType string) {
	if m == nil {
		return
	}
	m.MessagesHandled.WithLabelValues(msgType).Inc()
}

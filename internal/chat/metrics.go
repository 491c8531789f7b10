package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	usersOnline       prometheus.Gauge
	events            *prometheus.CounterVec
	eventLatency      *prometheus.HistogramVec
	dropped           prometheus.Counter
	authFailures      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Current number of joined socket connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Socket connections joined since start.",
		}),
		usersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_users_online",
			Help: "Users with at least one live connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Inbound socket events by type and result.",
		}, []string{"event", "result"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_event_latency_seconds",
			Help:    "Time to handle an inbound socket event.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_deliveries_dropped_total",
			Help: "Outbound frames dropped because a connection queue was full or closed.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_auth_failures_total",
			Help: "Rejected socket handshakes and API calls by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.usersOnline,
		m.events,
		m.eventLatency,
		m.dropped,
		m.authFailures,
	)
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) userOnline() {
	if m == nil {
		return
	}
	m.usersOnline.Inc()
}

func (m *Metrics) userOffline() {
	if m == nil {
		return
	}
	m.usersOnline.Dec()
}

func (m *Metrics) observeEvent(event, result string, dur time.Duration) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.events.WithLabelValues(event, result).Inc()
	m.eventLatency.WithLabelValues(event).Observe(dur.Seconds())
}

func (m *Metrics) recordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// RecordAuthFailure counts a rejected credential.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

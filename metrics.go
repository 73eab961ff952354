package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "syncengine"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	eventsReceived  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	emitsDropped    *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	snapshotErrors  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		eventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_received_total",
			Help:      "Inbound channel events decoded, by channel and event name.",
		}, []string{"channel", "event"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Inbound events that produced no state change, by reason.",
		}, []string{"reason"}),
		emitsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "emits_dropped_total",
			Help:      "Outbound events dropped because the channel was not connected.",
		}, []string{"channel", "event"}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts, by channel.",
		}, []string{"channel"}),
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}, []string{"channel"}),
		snapshotErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_errors_total",
			Help:      "Failed REST snapshot fetches, by resource.",
		}, []string{"resource"}),
	}
}

func (m *Metrics) eventReceived(channel string, name EventName) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(channel, string(name)).Inc()
}

func (m *Metrics) eventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) emitDropped(channel string, name EventName) {
	if m == nil {
		return
	}
	m.emitsDropped.WithLabelValues(channel, string(name)).Inc()
}

func (m *Metrics) reconnectAttempt(channel string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(channel).Inc()
}

func (m *Metrics) setState(channel string, s ConnState) {
	if m == nil {
		return
	}
	var v float64
	switch s {
	case StateConnecting:
		v = 1
	case StateConnected:
		v = 2
	}
	m.connectionState.WithLabelValues(channel).Set(v)
}

func (m *Metrics) snapshotFailed(resource string) {
	if m == nil {
		return
	}
	m.snapshotErrors.WithLabelValues(resource).Inc()
}

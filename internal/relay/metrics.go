package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricConnected       = "relay_connected"
	MetricEventsReceived  = "relay_events_received_total"
	MetricEventsPublished = "relay_events_published_total"
	MetricReconnects      = "relay_reconnects_total"
	MetricNotices         = "relay_notices_total"
)

// Publish outcomes used as the result label.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultTimeout  = "timeout"
	resultError    = "error"
)

// Metrics contains Prometheus metrics for relay connections.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	connected       *prometheus.GaugeVec
	eventsReceived  *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	notices         *prometheus.CounterVec
}

// NewMetrics creates relay metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricConnected,
			Help: "Whether the relay websocket is connected (1) or not (0)",
		}, []string{"relay"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsReceived,
			Help: "Total number of verified events received from a relay",
		}, []string{"relay"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsPublished,
			Help: "Total number of events published to a relay by outcome",
		}, []string{"relay", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricReconnects,
			Help: "Total number of failed connection attempts followed by a reconnect",
		}, []string{"relay"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNotices,
			Help: "Total number of NOTICE messages received from a relay",
		}, []string{"relay"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connected,
		m.eventsReceived,
		m.eventsPublished,
		m.reconnects,
		m.notices,
	}
}

func (m *Metrics) SetConnected(relay string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(relay).Set(v)
}

func (m *Metrics) IncReceived(relay string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(relay).Inc()
}

func (m *Metrics) IncPublished(relay, result string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(relay, result).Inc()
}

func (m *Metrics) IncReconnects(relay string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(relay).Inc()
}

func (m *Metrics) IncNotices(relay string) {
	if m == nil {
		return
	}
	m.notices.WithLabelValues(relay).Inc()
}

// Forget drops the label series of a removed relay.
func (m *Metrics) Forget(relay string) {
	if m == nil {
		return
	}
	m.connected.DeleteLabelValues(relay)
	m.eventsReceived.DeleteLabelValues(relay)
	m.reconnects.DeleteLabelValues(relay)
	m.notices.DeleteLabelValues(relay)
	m.eventsPublished.DeletePartialMatch(prometheus.Labels{"relay": relay})
}

package sharing

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricSessionActive = "sharing_session_active"
	MetricSends         = "sharing_sends_total"
)

const (
	triggerChange    = "change"
	triggerHeartbeat = "heartbeat"
)

// Metrics contains Prometheus metrics for sharing sessions.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	active prometheus.Gauge
	sends  *prometheus.CounterVec
}

// NewMetrics creates sharing metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSessionActive,
			Help: "Whether a continuous sharing session is running",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSends,
			Help: "Total number of location sends by trigger and result",
		}, []string{"trigger", "result"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.active, m.sends} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}

func (m *Metrics) IncSend(trigger string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.sends.WithLabelValues(trigger, result).Inc()
}

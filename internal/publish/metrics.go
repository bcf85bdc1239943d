package publish

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricPipelineResults = "publish_pipeline_results_total"
	MetricRelayAcks       = "publish_relay_acks_total"
)

const (
	resultPublished  = "published"
	resultSignFailed = "sign_failed"
	resultNoRelays   = "no_relays"
)

// Metrics counts pipeline outcomes. Methods are no-ops on a nil *Metrics.
type Metrics struct {
	results *prometheus.CounterVec
	acks    *prometheus.CounterVec
}

// NewMetrics creates pipeline metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPipelineResults,
			Help: "Total number of sign and publish attempts by result",
		}, []string{"result"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRelayAcks,
			Help: "Total number of per-relay acknowledgements by outcome",
		}, []string{"accepted"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.results, m.acks} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncResult(result string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRelayAck(accepted bool) {
	if m == nil {
		return
	}
	label := "false"
	if accepted {
		label = "true"
	}
	m.acks.WithLabelValues(label).Inc()
}

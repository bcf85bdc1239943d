package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEventsIngested  = "ingest_events_total"
	MetricStoreSize       = "ingest_store_events"
	MetricSweeps          = "ingest_decrypt_sweeps_total"
	MetricDecryptAttempts = "ingest_decrypt_attempts_total"
	MetricSweepDuration   = "ingest_decrypt_sweep_duration_seconds"
)

const (
	outcomeAccepted  = "accepted"
	outcomeDuplicate = "duplicate"
	outcomeStale     = "stale"
	outcomeIgnored   = "ignored"
)

// Metrics contains Prometheus metrics for the ingestion engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	ingested      *prometheus.CounterVec
	storeSize     prometheus.Gauge
	sweeps        prometheus.Counter
	decrypts      *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewMetrics creates ingestion metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsIngested,
			Help: "Total number of relay events seen by the store by outcome",
		}, []string{"outcome"}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricStoreSize,
			Help: "Number of location events currently held",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweeps,
			Help: "Total number of decryption sweeps",
		}),
		decrypts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDecryptAttempts,
			Help: "Total number of per-candidate decryption attempts by result",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSweepDuration,
			Help:    "Histogram of decryption sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.ingested,
		m.storeSize,
		m.sweeps,
		m.decrypts,
		m.sweepDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncIngested(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetStoreSize(n int) {
	if m == nil {
		return
	}
	m.storeSize.Set(float64(n))
}

func (m *Metrics) IncSweeps() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

func (m *Metrics) IncDecrypt(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.decrypts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}

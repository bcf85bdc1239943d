package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_RegisterAndObserve(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("second Register() should fail with duplicate collectors")
	}

	m.ObserveHTTPRequest("GET", "/locations", "200", 0.02, 0, 512)
	m.ObserveHTTPRequest("GET", "/locations", "200", 0.04, 0, 256)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	byName := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	for _, name := range []string{MetricHTTPRequestDuration, MetricHTTPRequestsTotal, MetricHTTPRequestSizeBytes, MetricHTTPResponseSizeBytes} {
		if byName[name] == nil {
			t.Errorf("metric %s not gathered", name)
		}
	}

	total := byName[MetricHTTPRequestsTotal].GetMetric()[0].GetCounter().GetValue()
	if total != 2 {
		t.Errorf("requests total = %v, want 2", total)
	}
	hist := byName[MetricHTTPResponseSizeBytes].GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 2 || hist.GetSampleSum() != 768 {
		t.Errorf("response size histogram = %d/%v", hist.GetSampleCount(), hist.GetSampleSum())
	}
}

func TestMetrics_Collectors(t *testing.T) {
	if n := len(NewMetrics().Collectors()); n != 4 {
		t.Errorf("Collectors() = %d, want 4", n)
	}
}

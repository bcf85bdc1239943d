package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{ServiceName: "spotstr"}, newTestLogger())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if p.Tracer("x") == nil {
		t.Error("Tracer() = nil on disabled provider")
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"missing service name", Config{Enabled: true, SamplingRate: 0.1}, ErrMissingServiceName},
		{"negative rate", Config{Enabled: true, ServiceName: "s", SamplingRate: -0.1}, ErrInvalidSamplingRate},
		{"rate above one", Config{Enabled: true, ServiceName: "s", SamplingRate: 1.5}, ErrInvalidSamplingRate},
		{"unknown exporter", Config{Enabled: true, ServiceName: "s", ExporterType: "zipkin"}, ErrUnsupportedExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg, newTestLogger())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewProvider() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// traceCollector accepts OTLP exports over HTTP and gRPC in-process.
type traceCollector struct {
	coltracepb.UnimplementedTraceServiceServer

	httpAddr string
	grpcAddr string
	exports  atomic.Int32
}

func newTraceCollector(t *testing.T) *traceCollector {
	t.Helper()
	c := &traceCollector{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			c.exports.Add(1)
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	c.httpAddr = strings.TrimPrefix(srv.URL, "http://")

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := grpc.NewServer()
	coltracepb.RegisterTraceServiceServer(gs, c)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	c.grpcAddr = lis.Addr().String()
	return c
}

func (c *traceCollector) Export(context.Context, *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	c.exports.Add(1)
	return &coltracepb.ExportTraceServiceResponse{}, nil
}

func TestNewProvider_Exporters(t *testing.T) {
	collector := newTraceCollector(t)

	tests := []struct {
		name        string
		exporter    string
		endpoint    string
		rate        float64
		wantExports bool
	}{
		{"http", ExporterOTLPHTTP, collector.httpAddr, 1, true},
		{"http sampled", ExporterOTLPHTTP, collector.httpAddr, 0.25, false},
		{"grpc", ExporterOTLPGRPC, collector.grpcAddr, 1, true},
		{"default", "", collector.httpAddr, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := collector.exports.Load()
			p, err := NewProvider(Config{
				ServiceName:  "spotstr-test",
				Enabled:      true,
				Environment:  "test",
				ExporterType: tt.exporter,
				OTLPEndpoint: tt.endpoint,
				SamplingRate: tt.rate,
				InsecureMode: true,
			}, newTestLogger())
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if !p.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}
			_, span := p.Tracer("test").Start(context.Background(), "exporter-check")
			span.End()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
			if tt.wantExports && collector.exports.Load() == before {
				t.Error("collector received no export")
			}
		})
	}
}

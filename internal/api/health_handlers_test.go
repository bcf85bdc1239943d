package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

var (
	passing = checkerFunc(func(context.Context) error { return nil })
	failing = checkerFunc(func(context.Context) error { return errors.New("down") })
)

func TestHealth(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{Checkers: map[string]HealthChecker{"relays": failing}})
	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[HealthResponse](t, rr)
	if resp.Status != "healthy" || resp.Checks["runtime"] != "ok" {
		t.Errorf("response = %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]HealthChecker
		optional   []string
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "all ok",
			checkers:   map[string]HealthChecker{"relays": passing, "database": passing},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"relays": "ok", "database": "ok"},
		},
		{
			name:       "required failure",
			checkers:   map[string]HealthChecker{"relays": failing, "database": passing},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"relays": "error", "database": "ok"},
		},
		{
			name:       "optional failure",
			checkers:   map[string]HealthChecker{"relays": passing, "redis": failing},
			optional:   []string{"redis"},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"relays": "ok", "redis": "error"},
		},
		{
			name:       "nil checkers are skipped",
			checkers:   map[string]HealthChecker{"database": nil},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandlers(HealthHandlersConfig{Checkers: tt.checkers, Optional: tt.optional})
			rr := httptest.NewRecorder()
			h.Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			resp := decode[HealthResponse](t, rr)
			if len(resp.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", resp.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
		})
	}
}

func TestReady_Timeout(t *testing.T) {
	slow := checkerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := NewHealthHandlers(HealthHandlersConfig{
		Checkers: map[string]HealthChecker{"database": slow},
		Timeout:  20 * time.Millisecond,
	})
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/spotstr/internal/middleware"
)

// RouterConfig collects the handlers served by the daemon. Nil handler
// groups are not routed.
type RouterConfig struct {
	Logger      *slog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	// Gatherer backs GET /metrics when set.
	Gatherer prometheus.Gatherer
	// Tracing wraps the router in otelhttp spans.
	Tracing bool

	Health    *HealthHandlers
	Locations *LocationHandlers
	Relays    *RelayHandlers
	Sharing   *SharingHandlers
	Groups    *GroupHandlers
	Contacts  *ContactHandlers
	Profiles  *ProfileHandlers
	Archive   *ArchiveHandlers
}

// NewRouter builds the HTTP handler with the middleware chain
// RequestID -> Tracing -> Logging -> HTTPMetrics.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	if h := cfg.Health; h != nil {
		mux.HandleFunc("GET /health", h.Health)
		mux.HandleFunc("GET /ready", h.Ready)
	}
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if h := cfg.Locations; h != nil {
		mux.HandleFunc("GET /locations", h.List)
		mux.HandleFunc("POST /locations", h.Publish)
		mux.HandleFunc("GET /locations/stream", h.Stream)
		mux.HandleFunc("GET /locations/{id}", h.Get)
	}
	if h := cfg.Relays; h != nil {
		mux.HandleFunc("GET /relays", h.List)
		mux.HandleFunc("POST /relays", h.Add)
		mux.HandleFunc("DELETE /relays", h.Remove)
	}
	if h := cfg.Sharing; h != nil {
		mux.HandleFunc("GET /sharing", h.Status)
		mux.HandleFunc("POST /sharing/start", h.Start)
		mux.HandleFunc("POST /sharing/stop", h.Stop)
		mux.HandleFunc("POST /position", h.Position)
	}
	if h := cfg.Groups; h != nil {
		mux.HandleFunc("GET /groups", h.List)
		mux.HandleFunc("POST /groups", h.Create)
		mux.HandleFunc("GET /groups/{id}", h.Get)
		mux.HandleFunc("PATCH /groups/{id}", h.Rename)
		mux.HandleFunc("DELETE /groups/{id}", h.Delete)
		mux.HandleFunc("GET /groups/{id}/share", h.Share)
	}
	if h := cfg.Contacts; h != nil {
		mux.HandleFunc("GET /contacts", h.List)
		mux.HandleFunc("POST /contacts", h.Create)
		mux.HandleFunc("POST /contacts/import", h.Import)
		mux.HandleFunc("GET /contacts/{id}", h.Get)
		mux.HandleFunc("PATCH /contacts/{id}", h.Rename)
		mux.HandleFunc("DELETE /contacts/{id}", h.Delete)
	}
	if h := cfg.Profiles; h != nil {
		mux.HandleFunc("GET /profiles/{pubkey}", h.Get)
	}
	if h := cfg.Archive; h != nil {
		mux.HandleFunc("GET /archive", h.List)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		WriteJSON(w, r.Context(), http.StatusOK, map[string]string{"service": cfg.ServiceName})
	})

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	}
	handler = middleware.Logging(cfg.Logger)(handler)
	if cfg.Tracing {
		handler = middleware.Tracing(cfg.ServiceName)(handler)
	}
	return middleware.RequestID(handler)
}

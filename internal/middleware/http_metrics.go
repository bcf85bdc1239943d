package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var staticRoutes = map[string]bool{
	"/":          true,
	"/health":    true,
	"/ready":     true,
	"/metrics":   true,
	"/locations": true,
	"/archive":   true,
	"/relays":    true,
	"/groups":    true,
	"/contacts":  true,
	"/sharing":   true,
	"/position":  true,
}

// normalizePath maps dynamic paths to route patterns so metric label
// cardinality stays bounded, e.g. /locations/30473:ab:home to /locations/{id}.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) < 3 || parts[2] == "" {
		return path
	}
	switch parts[1] {
	case "locations", "profiles":
		if len(parts) == 3 && parts[1] == "locations" && parts[2] == "stream" {
			return path
		}
		if len(parts) == 3 {
			return "/" + parts[1] + "/{id}"
		}
	case "groups":
		if len(parts) == 3 {
			return "/groups/{id}"
		}
		if len(parts) == 4 && parts[3] == "share" {
			return "/groups/{id}/share"
		}
	case "contacts":
		if len(parts) == 3 && parts[2] == "import" {
			return path
		}
		if len(parts) == 3 {
			return "/contacts/{id}"
		}
	case "sharing":
		if len(parts) == 3 && (parts[2] == "start" || parts[2] == "stop") {
			return path
		}
	}
	return "other"
}

// HTTPMetrics records request duration, counts and sizes. /health and
// /ready are not recorded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			var requestSize int64
			if r.ContentLength > 0 {
				requestSize = r.ContentLength
			}
			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(rw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				int64(rw.size),
			)
		})
	}
}

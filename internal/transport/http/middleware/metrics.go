// Package middleware holds HTTP middleware specific to the pad server.
package httpmw

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/pad/internal/metrics"
)

// Metrics records request count and latency per chi route pattern, so
// /rooms/abc and /rooms/xyz share one series.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(m.Code)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(m.Duration.Seconds())
	})
}

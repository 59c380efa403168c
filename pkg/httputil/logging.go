package httputil

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
)

// MiddlewareLogging logs method, path, status, size, duration and request id.
// Websocket upgrades are logged when the connection ends.
func MiddlewareLogging(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			reqID, _ := FromContext(r.Context())
			level := slog.LevelInfo
			switch {
			case m.Code >= 500:
				level = slog.LevelError
			case r.URL.Path == "/healthz" || strings.HasPrefix(r.URL.Path, "/metrics"):
				level = slog.LevelDebug
			}

			log.LogAttrs(r.Context(), level, "http request",
				slog.String("req_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", m.Code),
				slog.Int64("bytes", m.Written),
				slog.Duration("duration", m.Duration),
			)
		})
	}
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpmw "github.com/cwrk-planet/pad/internal/transport/http/middleware"
	"github.com/cwrk-planet/pad/internal/transport/ws"
	"github.com/cwrk-planet/pad/pkg/httputil"
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(h *Handler, wsServer *ws.Server, cfg RouterConfig, log *slog.Logger) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(httputil.MiddlewareLogging(log))
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", httputil.HeaderRequestID},
		ExposedHeaders: []string{httputil.HeaderRequestID},
		MaxAge:         300,
	}))

	// WS endpoint, outside the request timeout.
	r.Get("/ws/rooms/{id}", wsServer.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(middlewareChi.Timeout(cfg.RequestTimeout))

		pr.Route("/rooms", func(rm chi.Router) {
			rm.Get("/", h.ListRooms)
			rm.Post("/", h.EnsureRoom)

			rm.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetRoom)
				rr.Put("/", h.SaveRoom)
				rr.Delete("/", h.DeleteRoom)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

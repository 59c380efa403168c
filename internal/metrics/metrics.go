// Package metrics holds the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pad_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pad_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pad_ws_connections",
			Help: "Open websocket connections",
		},
	)

	BroadcastsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pad_broadcasts_relayed_total",
			Help: "Broadcast frames fanned out to a topic",
		},
		[]string{"origin"}, // "local" or "remote"
	)

	BroadcastsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pad_broadcasts_rejected_total",
			Help: "Inbound frames dropped by the server",
		},
		[]string{"reason"},
	)

	PresenceSyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pad_presence_syncs_total",
			Help: "Presence sync frames sent to topics",
		},
	)

	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pad_store_writes_total",
			Help: "Room store writes through the REST API",
		},
		[]string{"op", "result"},
	)

	ChangeNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pad_change_notifications_total",
			Help: "Store change notifications relayed to websocket topics",
		},
	)
)

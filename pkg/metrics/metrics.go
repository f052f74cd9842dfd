package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks websocket connections currently registered in
	// the presence registry.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "caseflow_active_connections",
			Help: "Number of open realtime connections",
		},
	)

	// Pushes counts per-connection push attempts by result (ok|error).
	Pushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseflow_pushes_total",
			Help: "Total number of realtime push attempts",
		},
		[]string{"result"},
	)

	// EmailDeferrals counts notifications handed to the deferred email channel.
	EmailDeferrals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseflow_email_deferrals_total",
			Help: "Total number of notifications deferred to email",
		},
		[]string{"category"},
	)

	// ReapedConnections counts connections force-closed by the heartbeat reaper.
	ReapedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caseflow_reaped_connections_total",
			Help: "Total number of connections closed for missing heartbeats",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caseflow_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Package metrics wires prometheus/client_golang collectors for this
// engine: package-level collectors registered against a dedicated
// Registry, exposed via promhttp, matching the
// metrics.DatabaseConnectionsGauge call in internal/app/application.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	// DatabaseConnectionsGauge tracks sqlx/database/sql pool stats,
	// labeled by state (open/idle/in_use).
	DatabaseConnectionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "r_data_core",
			Subsystem: "database",
			Name:      "connections",
			Help:      "Database connection pool state.",
		},
		[]string{"state"},
	)

	// HTTPRequests counts every handled request by route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r_data_core",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration observes request latency by route.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "r_data_core",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	// PermissionCacheLookups counts evaluator permission-cache hits and
	// misses (its PermissionEvaluator caching layer).
	PermissionCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r_data_core",
			Subsystem: "permission_cache",
			Name:      "lookups_total",
			Help:      "Permission scheme cache lookups by outcome.",
		},
		[]string{"outcome"}, // hit | miss
	)

	// RunsProcessed counts Run completions by terminal status, the
	// run-throughput metric operators need to watch.
	RunsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r_data_core",
			Subsystem: "runs",
			Name:      "processed_total",
			Help:      "Workflow runs completed, by terminal status.",
		},
		[]string{"status"},
	)

	// RawItemsProcessed counts individual RawItem outcomes within a run.
	RawItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "r_data_core",
			Subsystem: "runs",
			Name:      "items_processed_total",
			Help:      "Raw items processed across all runs, by outcome.",
		},
		[]string{"outcome"}, // processed | failed
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		DatabaseConnectionsGauge,
		HTTPRequests,
		HTTPDuration,
		PermissionCacheLookups,
		RunsProcessed,
		RawItemsProcessed,
	)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

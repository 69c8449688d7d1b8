package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churchcal_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "churchcal_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// Calendar core metrics
	ExpansionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churchcal_expansions_total",
			Help: "Event expansions by outcome",
		},
		[]string{"status"}, // ok, degraded, failed
	)

	OccurrencesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "churchcal_occurrences_generated_total",
			Help: "Occurrences produced by recurrence expansion",
		},
	)

	CycleSuspected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "churchcal_hierarchy_cycle_suspected_total",
			Help: "Ancestor walks stopped by the depth bound or a repeated room",
		},
	)

	SeriesMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churchcal_series_mutations_total",
			Help: "Event updates and deletions by operation and mode",
		},
		[]string{"op", "mode"},
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "churchcal_broadcasts_total",
			Help: "Broadcast copies created",
		},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churchcal_view_cache_lookups_total",
			Help: "View cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	// Maintenance metrics
	ExceptionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "churchcal_exceptions_purged_total",
			Help: "Exceptions removed by the maintenance job",
		},
	)
)

// Package metrics defines the prometheus collectors exported by obr.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexLookups counts capability set leaf evaluations by path:
	// "index" when an equality bucket answered, "scan" otherwise.
	IndexLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obr_capset_lookups_total",
			Help: "Capability set leaf evaluations by lookup path",
		},
		[]string{"namespace", "path"},
	)

	// QueriesTotal counts findProviders calls.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obr_find_providers_total",
			Help: "Total number of findProviders calls",
		},
		[]string{"repository"},
	)

	// QueryDuration measures findProviders latency.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obr_find_providers_duration_seconds",
			Help:    "findProviders duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"repository"},
	)

	// SourceFailures counts sub-repository failures seen by an aggregate.
	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obr_aggregate_source_failures_total",
			Help: "Sub-repository query failures by policy outcome",
		},
		[]string{"outcome"},
	)

	// LoadsTotal counts repository loads by outcome: fetched, not_modified,
	// unchanged, cached, fallback or error.
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obr_repository_loads_total",
			Help: "Repository document loads by outcome",
		},
		[]string{"source", "outcome"},
	)

	// LoadDuration measures document fetch and parse time.
	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obr_repository_load_duration_seconds",
			Help:    "Repository document load duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// SnapshotCapabilities reports the capability count of the live snapshot.
	SnapshotCapabilities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "obr_snapshot_capabilities",
			Help: "Capabilities in the currently published snapshot",
		},
		[]string{"repository"},
	)

	// CacheRequests counts snapshot cache lookups by result: hit or miss.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obr_cache_requests_total",
			Help: "Cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	// RefreshesTotal counts refresher cycles by outcome: swapped, unchanged
	// or failed.
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obr_refreshes_total",
			Help: "Live repository refresh cycles by outcome",
		},
		[]string{"repository", "outcome"},
	)

	// HTTPRequests counts serve API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration measures serve API latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

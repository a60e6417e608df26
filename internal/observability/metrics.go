// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Admission metrics
	EventsAdmitted    *prometheus.CounterVec
	DuplicatesDropped prometheus.Gauge
	SequenceGaps      prometheus.Counter
	WindowOverflows   prometheus.Counter
	NormalizeErrors   *prometheus.CounterVec
	SnapshotsPublished prometheus.Counter
	PoolRebuilds      prometheus.Counter

	// Buffer metrics
	PendingBufferSize prometheus.Gauge
	HighestBlockSeen  prometheus.Gauge

	// Transport metrics
	PullCyclesTotal  *prometheus.CounterVec
	PullCycleLatency prometheus.Histogram
	FeedReconnects   prometheus.Gauge
	FeedFramesTotal  prometheus.Counter

	// Cross-check metrics
	CrossCheckRuns       prometheus.Counter
	CrossCheckMismatches *prometheus.CounterVec

	// Storage metrics
	ArchiveWriteErrors *prometheus.CounterVec
	HistoryRowsFlushed prometheus.Counter

	// Health metrics
	LastSuccessfulPull prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsOn registers all metrics on the given registerer, so tests
// and embedders can use an isolated registry.
func NewMetricsOn(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "market_state_engine"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Admission metrics
		EventsAdmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_admitted_total",
			Help:      "Total number of events admitted by kind",
		}, []string{"kind"}),
		DuplicatesDropped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_dropped",
			Help:      "Duplicate events dropped by the ordering window since start",
		}),
		SequenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sequence_gaps_total",
			Help:      "Total number of events force-admitted past a sequence gap",
		}),
		WindowOverflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "window_overflows_total",
			Help:      "Total number of events force-flushed on pending buffer overflow",
		}),
		NormalizeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "normalize_errors_total",
			Help:      "Total number of payloads rejected during normalization",
		}, []string{"transport"}),
		SnapshotsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "snapshots_published_total",
			Help:      "Total number of snapshots published",
		}),
		PoolRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pool_rebuilds_total",
			Help:      "Total number of pools marked rebuilding after an inconsistent snapshot",
		}),

		// Buffer metrics
		PendingBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pending_buffer_size",
			Help:      "Current number of events buffered in the ordering window",
		}),
		HighestBlockSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "highest_block_seen",
			Help:      "Highest block number seen across all streams",
		}),

		// Transport metrics
		PullCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pull",
			Name:      "cycles_total",
			Help:      "Total number of pull cycles by status",
		}, []string{"status"}),
		PullCycleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pull",
			Name:      "cycle_latency_seconds",
			Help:      "Pull cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		FeedReconnects: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects",
			Help:      "Number of feed reconnects since start",
		}),
		FeedFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "frames_total",
			Help:      "Total number of frames received on the push feed",
		}),

		// Cross-check metrics
		CrossCheckRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onchain",
			Name:      "cross_check_runs_total",
			Help:      "Total number of on-chain best price cross-checks",
		}),
		CrossCheckMismatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onchain",
			Name:      "cross_check_mismatches_total",
			Help:      "Total number of best price mismatches by side",
		}, []string{"side"}),

		// Storage metrics
		ArchiveWriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "archive_write_errors_total",
			Help:      "Total number of failed archive writes by store",
		}, []string{"store"}),
		HistoryRowsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "history_rows_flushed_total",
			Help:      "Total number of snapshot history rows flushed",
		}),

		// Health metrics
		LastSuccessfulPull: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_pull_timestamp",
			Help:      "Unix timestamp of last successful pull cycle",
		}),
		UptimeSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

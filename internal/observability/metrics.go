// Package observability provides Prometheus instrumentation and in-memory
// per-sensor ingest tracking.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store metrics
	RecordsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frostwatch_records_appended_total",
			Help: "Telemetry records submitted to the store, by result",
		},
		[]string{"result"}, // "ok", "failed"
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frostwatch_store_operation_duration_seconds",
			Help:    "Duration of telemetry store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "query", "stats", "prune"
	)

	PartitionsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frostwatch_partitions_skipped_total",
			Help: "Partition files skipped by the sensor index during filtered queries",
		},
	)

	CorruptPartitions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frostwatch_corrupt_partitions_total",
			Help: "Partition files that could not be parsed",
		},
	)

	PartitionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frostwatch_partitions_pruned_total",
			Help: "Partition files deleted by retention",
		},
	)

	PartitionsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frostwatch_partitions_archived_total",
			Help: "Partition archive attempts, by result",
		},
		[]string{"result"},
	)

	PartitionFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frostwatch_partition_files",
			Help: "Partition files present at the last stats scan",
		},
	)

	JournalReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frostwatch_journal_replayed_records_total",
			Help: "Journaled records written back to partitions during recovery",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frostwatch_http_requests_total",
			Help: "HTTP requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frostwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "route"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frostwatch_stream_subscribers",
			Help: "Open live feed connections",
		},
	)
)

// RecordAppend counts one append attempt.
func RecordAppend(ok bool) {
	if ok {
		RecordsAppended.WithLabelValues("ok").Inc()
		return
	}
	RecordsAppended.WithLabelValues("failed").Inc()
}

// ObserveOperation records a store operation's duration.
func ObserveOperation(operation string, start time.Time) {
	QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordArchive counts one archive attempt.
func RecordArchive(err error) {
	if err != nil {
		PartitionsArchived.WithLabelValues("failed").Inc()
		return
	}
	PartitionsArchived.WithLabelValues("ok").Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package rmetrics exposes the process's Prometheus metrics: replication
// coordinator election/write-concern timings and storage catalog operation
// counts.
package rmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology / election metrics
	ElectionsWon = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "repl_elections_won_total",
			Help: "Total number of elections won by this node",
		},
	)

	ElectionsLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "repl_elections_lost_total",
			Help: "Total number of elections lost or cancelled by this node",
		},
	)

	StepDownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repl_stepdowns_total",
			Help: "Total number of stepdowns by outcome",
		},
		[]string{"outcome"}, // ok
	)

	CurrentMemberState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "repl_current_member_state",
			Help: "Numeric encoding of the local member state",
		},
	)

	// Write concern / waiter metrics
	AwaitReplicationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repl_await_replication_duration_seconds",
			Help:    "Time spent waiting for a write-concern to be satisfied",
			Buckets: prometheus.DefBuckets,
		},
	)

	AwaitReplicationResult = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repl_await_replication_result_total",
			Help: "Outcome of awaitReplication calls",
		},
		[]string{"status"},
	)

	WaitersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "repl_waiters_active",
			Help: "Number of in-flight awaitReplication waiters",
		},
	)

	// Heartbeat metrics
	HeartbeatRoundTrip = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repl_heartbeat_round_trip_seconds",
			Help:    "Heartbeat round-trip latency per remote member",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"member"},
	)

	HeartbeatFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repl_heartbeat_failures_total",
			Help: "Total failed heartbeats per remote member",
		},
		[]string{"member"},
	)

	// Topology driver metrics
	DriverQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "repl_topology_driver_queue_depth",
			Help: "Number of tasks queued on the topology driver",
		},
	)

	DriverTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repl_topology_driver_task_duration_seconds",
			Help:    "Time to run a single topology driver task",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage catalog metrics
	CatalogOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_operation_duration_seconds",
			Help:    "Time taken for catalog operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"}, // newCollection, putMetaData, renameCollection, dropCollection
	)

	CatalogCollectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_collections_total",
			Help: "Total number of collections tracked by the namespace catalog",
		},
	)

	CatalogOrphanIdentsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_orphan_idents_pending",
			Help: "Number of idents recorded as delete-pending and not yet reclaimed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ElectionsWon,
		ElectionsLost,
		StepDownsTotal,
		CurrentMemberState,
		AwaitReplicationDuration,
		AwaitReplicationResult,
		WaitersActive,
		HeartbeatRoundTrip,
		HeartbeatFailures,
		DriverQueueDepth,
		DriverTaskDuration,
		CatalogOperationDuration,
		CatalogCollectionsTotal,
		CatalogOrphanIdentsPending,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

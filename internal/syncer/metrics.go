package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Index writes by partition, operation and outcome.
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_sync_operations_total",
		Help: "The total number of index operations applied by the sync",
	}, []string{"partition", "op", "outcome"})

	ApplyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finder_sync_apply_latency_seconds",
		Help:    "The latency of applying one change to the index",
		Buckets: prometheus.DefBuckets,
	}, []string{"partition", "op"})

	TransformFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_sync_transform_failures_total",
		Help: "The total number of records skipped because their transform failed",
	}, []string{"partition"})

	StreamRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_sync_stream_restarts_total",
		Help: "The total number of change stream errors followed by a reconnect",
	}, []string{"partition"})

	Backfilled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_sync_backfilled_total",
		Help: "The total number of records indexed by backfill",
	}, []string{"partition"})
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(ApplyLatency)
	prometheus.MustRegister(TransformFailures)
	prometheus.MustRegister(StreamRestarts)
	prometheus.MustRegister(Backfilled)
}

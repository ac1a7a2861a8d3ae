package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "cloudbackup"

	metricLabelOperation = "operation"
	metricLabelStatus    = "status"
)

// Metrics is the structure that holds all prometheus metrics
var (
	// SyncOperationsCounter counts read, write, prune and listing operations
	SyncOperationsCounter = newCounterVec(
		"sync_operation_count",
		"Count of sync operations by operation and result",
		metricLabelOperation, metricLabelStatus,
	)
	// SyncOperationDuration observes the duration of sync operations
	SyncOperationDuration = newSummaryVec(
		"sync_operation_duration_seconds",
		"Seconds spent in a sync operation including container resolution and retries",
		metricLabelOperation, metricLabelStatus,
	)
	// StaleReferencesCounter counts container references found to be gone
	StaleReferencesCounter = newCounterVec(
		"stale_reference_count",
		"Number of writes that hit a stale container reference and relocated",
	)
	// ContainersCreatedCounter counts containers created by this process
	ContainersCreatedCounter = newCounterVec(
		"containers_created_count",
		"Number of backup containers created",
	)
	// ContainerCandidatesGauge tracks the number of same named containers seen on the last locate
	ContainerCandidatesGauge = newGaugeVec(
		"container_candidates_total",
		"Number of containers sharing the application container name on the last locate",
	)
	// SnapshotsPrunedCounter counts snapshots removed by retention
	SnapshotsPrunedCounter = newCounterVec(
		"snapshots_pruned_count",
		"Number of snapshots removed by the retention limit",
	)
	// LocalHistoryPersistFailedCounter counts failures to store state in the local history
	LocalHistoryPersistFailedCounter = newCounterVec(
		"local_history_persist_failed_count",
		"Number of failures to store state in the local history",
	)
)

func newSummaryVec(name, help string, labels ...string) *prometheus.SummaryVec {
	vec := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

func newGaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	prometheus.MustRegister(vec)
	return vec
}

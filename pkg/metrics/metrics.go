// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsImportedTotal tracks transaction rows committed per filing import
	RowsImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of transaction rows imported by outcome",
		},
		[]string{"outcome"},
	)

	// ImportDuration tracks batch import duration in seconds
	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "import",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch imports in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// EntitySyncFailuresTotal tracks best-effort profile sync failures
	EntitySyncFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "entitysync",
			Name:      "failures_total",
			Help:      "Total number of companion profile sync failures by profile type",
		},
		[]string{"profile_type"},
	)

	// ProfilesCreatedTotal tracks profiles created by the entity resolver
	ProfilesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "entitysync",
			Name:      "profiles_created_total",
			Help:      "Total number of companion profiles created by profile type",
		},
		[]string{"profile_type"},
	)

	// MergeGroupsTotal tracks duplicate groups handled by the merge engine
	MergeGroupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dedupe",
			Name:      "groups_total",
			Help:      "Total number of duplicate groups processed by status",
		},
		[]string{"kind", "status"},
	)

	// ReconcileFilingsTotal tracks reconciler outcomes per filing
	ReconcileFilingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "filings_total",
			Help:      "Total number of filings visited by the reconciler by outcome",
		},
		[]string{"outcome"},
	)
)

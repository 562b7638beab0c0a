package wal

import "github.com/prometheus/client_golang/prometheus"

// Collectors for WAL metrics.
var (
	appendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "indexbridge_wal_appends_total",
		Help: "Cumulative number of operations journaled, by operation type.",
	}, []string{"operation"})
	statusUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "indexbridge_wal_status_updates_total",
		Help: "Cumulative number of record status transitions, by new status.",
	}, []string{"status"})
	contentSaveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "indexbridge_wal_content_save_failures_total",
		Help: "Cumulative number of operations journaled without their content.",
	})
	cleanupRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "indexbridge_wal_cleanup_removed_total",
		Help: "Cumulative number of successful records purged by cleanup.",
	})
)

// Collectors returns the WAL metric collectors for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		appendsTotal,
		statusUpdatesTotal,
		contentSaveFailuresTotal,
		cleanupRemovedTotal,
	}
}

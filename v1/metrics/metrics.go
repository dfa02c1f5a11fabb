package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquiredCounter tracks lease acquisitions that won the lock.
	LockAcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_lock_acquired_total",
		Help: "Total number of lease acquisitions that obtained the lock",
	})
	// LockContendedCounter tracks lease acquisitions that lost the lock.
	LockContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_lock_contended_total",
		Help: "Total number of lease acquisitions that lost to another holder",
	})
	// LockReleasedCounter tracks lease releases.
	LockReleasedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_lock_released_total",
		Help: "Total number of lease releases",
	})
	// LeasesSweptCounter tracks expired lease records removed by the sweep.
	LeasesSweptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_leases_swept_total",
		Help: "Total number of expired lease records removed",
	})
	// DeletionStartedCounter tracks deletion requests claimed for dispatch.
	DeletionStartedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_deletion_started_total",
		Help: "Total number of deletion requests claimed and dispatched",
	})
	// DeletionCompletedCounter tracks deletion requests that completed.
	DeletionCompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_deletion_completed_total",
		Help: "Total number of deletion requests completed",
	})
	// DeletionFailedCounter tracks deletion dispatches that failed.
	DeletionFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_deletion_failed_total",
		Help: "Total number of deletion dispatches that failed",
	})
	// DeletionRecoveredCounter tracks stalled deletion requests reset by the sweep.
	DeletionRecoveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_deletion_recovered_total",
		Help: "Total number of stalled deletion requests returned to submitted",
	})
	// DeletionPurgedCounter tracks completed deletion records physically removed.
	DeletionPurgedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_deletion_purged_total",
		Help: "Total number of completed deletion records purged",
	})
	// KeysRotatedCounter tracks signing keys created by the rotation job.
	KeysRotatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_signing_keys_rotated_total",
		Help: "Total number of signing keys created by rotation",
	})
	// JobRunsCounter tracks scheduled job invocations per job.
	JobRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_scheduler_runs_total",
		Help: "Total number of scheduled job invocations",
	}, []string{"job"})
	// JobFailuresCounter tracks scheduled job invocations that returned an error.
	JobFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_scheduler_failures_total",
		Help: "Total number of scheduled job invocations that failed",
	}, []string{"job"})
	// CleanupSkippedCounter tracks relationship cleanups suppressed by the dedupe cache.
	CleanupSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_relationship_cleanup_skipped_total",
		Help: "Total number of relationship cleanups skipped as duplicates",
	})
	// CleanupInflightGauge reports relationship cleanups currently draining.
	CleanupInflightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_relationship_cleanup_inflight",
		Help: "Current number of relationship cleanups draining in the background",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers warden core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		LockAcquiredCounter, LockContendedCounter, LockReleasedCounter,
		LeasesSweptCounter,
		DeletionStartedCounter, DeletionCompletedCounter, DeletionFailedCounter,
		DeletionRecoveredCounter, DeletionPurgedCounter,
		KeysRotatedCounter,
		JobRunsCounter, JobFailuresCounter,
		CleanupSkippedCounter, CleanupInflightGauge,
	)
}

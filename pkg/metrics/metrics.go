// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArchivesReady counts archives that reached the ready state.
	ArchivesReady = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_archives_ready_total",
		Help: "Archives uploaded and finalized successfully",
	})

	// ArchivesFailed counts archives that ended in the error state.
	ArchivesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_archives_failed_total",
		Help: "Archives that failed terminally during upload",
	})

	// ArchivesRequeued counts archive-level transient retries.
	ArchivesRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_archives_requeued_total",
		Help: "Archives returned to the queue after a transient failure",
	})

	// PartsUploaded counts committed parts.
	PartsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_parts_uploaded_total",
		Help: "Ciphertext parts committed to the part vector",
	})

	// PartBytesUploaded counts committed ciphertext bytes.
	PartBytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_part_bytes_uploaded_total",
		Help: "Ciphertext bytes committed across all parts",
	})

	// Restores counts restore requests by kind (whole, entry, range).
	Restores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stowfs_restores_total",
		Help: "Restore requests served",
	}, []string{"kind"})

	// URLRepairs counts stale download URLs healed during reads.
	URLRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_url_repairs_total",
		Help: "Stale part URLs refreshed in place",
	})

	// MirrorBackfills counts mirror copies placed by the synchronizer.
	MirrorBackfills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_mirror_backfills_total",
		Help: "Mirror copies placed by the synchronizer",
	})

	// MirrorFailures counts mirror placements that stayed pending.
	MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_mirror_failures_total",
		Help: "Mirror placement attempts that failed",
	})

	// ArchivesReaped counts archives fully deleted by the reaper.
	ArchivesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stowfs_archives_reaped_total",
		Help: "Archives tombstoned by the deletion reaper",
	})

	// QueueDepth is the number of queued archives at the last tick.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stowfs_queue_depth",
		Help: "Archives waiting in the upload queue",
	})

	// StagingFreeBytes is the free space at the staging root.
	StagingFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stowfs_staging_free_bytes",
		Help: "Free bytes on the filesystem holding the staging root",
	})
)

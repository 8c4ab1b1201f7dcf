// Package reaper retires archives: trashed past retention or explicitly
// purged, it deletes their remote parts, tombstones the record, and refunds
// the owner's quota.
package reaper

import (
	"context"
	"os"
	"time"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/metrics"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/provider"
	"github.com/marmos91/stowfs/pkg/store"
)

// DefaultRetention is how long trashed archives survive before the reaper
// takes them.
const DefaultRetention = 30 * 24 * time.Hour

// Reaper deletes one archive at a time.
type Reaper struct {
	store     *store.GORMStore
	pool      provider.Pool
	retention time.Duration
}

// New builds a reaper. A non-positive retention falls back to the default.
func New(st *store.GORMStore, pool provider.Pool, retention time.Duration) *Reaper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Reaper{store: st, pool: pool, retention: retention}
}

// RunOnce claims the next deletable archive and processes it to the
// tombstone. Returns models.ErrNoPendingWork when nothing is due.
func (r *Reaper) RunOnce(ctx context.Context) error {
	archive, err := r.store.ClaimDeletable(ctx, r.retention)
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, logger.NewJobContext("reap", archive.ID))

	if err := r.reap(ctx, archive); err != nil {
		logger.ErrorCtx(ctx, "reaping failed", logger.Err(err))
		// Release the claim so a later pass retries.
		if cerr := r.store.ClearDeleting(ctx, archive.ID); cerr != nil {
			logger.ErrorCtx(ctx, "releasing deletion claim", logger.Err(cerr))
		}
		return err
	}
	metrics.ArchivesReaped.Inc()
	return nil
}

func (r *Reaper) reap(ctx context.Context, archive *models.Archive) error {
	parts := archive.SortedParts()
	if err := r.store.BeginDeletion(ctx, archive.ID, len(parts)); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "reaping archive", "parts", len(parts), logger.Size(archive.OriginalSize))

	for i := range parts {
		part := &parts[i]
		r.deletePlacement(ctx, part.Idx, part.PrimaryPlacement())
		if part.MirrorProvider != "" && part.MirrorMessageID != "" {
			r.deletePlacement(ctx, part.Idx, part.MirrorPlacement())
		}
		if err := r.store.IncDeletedParts(ctx, archive.ID); err != nil {
			return err
		}
		if (i+1)%10 == 0 {
			logger.InfoCtx(ctx, "deletion progress", "deleted", i+1, "parts", len(parts))
		}
	}

	if err := r.store.CompleteDeletion(ctx, archive); err != nil {
		return err
	}
	if archive.StagingDir != "" {
		os.RemoveAll(archive.StagingDir)
	}
	logger.InfoCtx(ctx, "archive reaped", "parts", len(parts))
	return nil
}

// deletePlacement is best-effort: remote messages may already be gone, and
// a failed delete must not stall the rest of the archive.
func (r *Reaper) deletePlacement(ctx context.Context, idx int, placement models.Placement) {
	prov, err := r.pool.ByPlacement(ctx, placement)
	if err != nil {
		logger.WarnCtx(ctx, "no provider for part placement",
			logger.PartIndex(idx), logger.Provider(string(placement.Provider)), logger.Err(err))
		return
	}
	if err := prov.Delete(ctx, placement); err != nil {
		logger.WarnCtx(ctx, "remote delete failed",
			logger.PartIndex(idx), logger.Provider(string(placement.Provider)), logger.Err(err))
	}
}

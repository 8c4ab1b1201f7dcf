// Package mirror keeps every part of a ready archive replicated on both
// provider families: a prepare phase assigns the missing family, a sync
// phase copies the ciphertext across.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/metrics"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/provider"
	"github.com/marmos91/stowfs/pkg/restore"
	"github.com/marmos91/stowfs/pkg/store"
)

// Synchronizer backfills mirror copies when the upload queue is idle.
type Synchronizer struct {
	store       *store.GORMStore
	pool        provider.Pool
	engine      *restore.Engine
	concurrency int
}

// New builds a synchronizer. The restore engine supplies self-repairing
// primary downloads.
func New(st *store.GORMStore, pool provider.Pool, engine *restore.Engine, concurrency int) *Synchronizer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Synchronizer{store: st, pool: pool, engine: engine, concurrency: concurrency}
}

// RunOnce performs one maintenance pass: assign mirror providers on one
// archive, then backfill pending mirrors on one archive. Returns
// models.ErrNoPendingWork when neither phase found anything.
func (s *Synchronizer) RunOnce(ctx context.Context) error {
	prepared, perr := s.prepare(ctx)
	synced, serr := s.sync(ctx)
	if perr != nil {
		return perr
	}
	if serr != nil {
		return serr
	}
	if !prepared && !synced {
		return models.ErrNoPendingWork
	}
	return nil
}

// prepare assigns the opposite family to every unassigned part of one
// ready archive. Parts are left alone when that family has no handles.
func (s *Synchronizer) prepare(ctx context.Context) (bool, error) {
	archive, err := s.store.NextMirrorAssign(ctx)
	if errors.Is(err, models.ErrNoPendingWork) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ctx = logger.WithContext(ctx, logger.NewJobContext("mirror_prepare", archive.ID))

	available, err := s.availableKinds(ctx)
	if err != nil {
		return false, err
	}

	assigned := 0
	parts := archive.SortedParts()
	for i := range parts {
		part := &parts[i]
		if part.MirrorProvider != "" {
			continue
		}
		other := part.Provider.Other()
		if !available[other] {
			continue
		}
		if err := s.store.AssignMirrorProvider(ctx, part.ID, other); err != nil {
			return false, err
		}
		assigned++
	}
	if assigned > 0 {
		logger.InfoCtx(ctx, "assigned mirror providers", "parts", assigned)
	}
	return assigned > 0, nil
}

// sync backfills pending mirror copies for one archive, bounded by the
// inner concurrency. Each part is claimed individually so parallel
// processes never copy the same part twice.
func (s *Synchronizer) sync(ctx context.Context) (bool, error) {
	available, err := s.availableKinds(ctx)
	if err != nil {
		return false, err
	}
	kinds := make([]models.ProviderKind, 0, len(available))
	for kind := range available {
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return false, nil
	}

	archive, err := s.store.NextMirrorSync(ctx, kinds)
	if errors.Is(err, models.ErrNoPendingWork) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ctx = logger.WithContext(ctx, logger.NewJobContext("mirror_sync", archive.ID))

	jobs := make(chan models.Part)
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for part := range jobs {
				s.syncPart(ctx, part)
			}
		}()
	}

	dispatched := 0
	for _, part := range archive.SortedParts() {
		if !part.MirrorPending || !available[part.MirrorProvider] {
			continue
		}
		jobs <- part
		dispatched++
	}
	close(jobs)
	wg.Wait()

	if dispatched > 0 {
		logger.InfoCtx(ctx, "mirror sync pass finished", "parts", dispatched)
	}
	return dispatched > 0, nil
}

// syncPart copies one part to its assigned mirror family. Failures flip the
// part back to pending with the error recorded, so the next pass retries
// and an operator can see persistent problems.
func (s *Synchronizer) syncPart(ctx context.Context, part models.Part) {
	claimed, err := s.store.ClaimMirrorPart(ctx, part.ID, part.MirrorProvider)
	if err != nil || !claimed {
		if err != nil {
			logger.WarnCtx(ctx, "claiming mirror part", logger.PartIndex(part.Idx), logger.Err(err))
		}
		return
	}

	if err := s.copyPart(ctx, &part); err != nil {
		logger.WarnCtx(ctx, "mirror backfill failed",
			logger.PartIndex(part.Idx),
			logger.Provider(string(part.MirrorProvider)),
			logger.Err(err))
		metrics.MirrorFailures.Inc()
		if ferr := s.store.FailMirror(ctx, part.ID, err.Error()); ferr != nil {
			logger.ErrorCtx(ctx, "recording mirror failure", logger.PartIndex(part.Idx), logger.Err(ferr))
		}
	}
}

func (s *Synchronizer) copyPart(ctx context.Context, part *models.Part) error {
	ciphertext, err := s.engine.PartCiphertext(ctx, part)
	if err != nil {
		return fmt.Errorf("downloading primary copy: %w", err)
	}

	prov, err := s.pool.Mirror(ctx, part.Provider, part.Idx)
	if err != nil {
		return fmt.Errorf("selecting mirror provider: %w", err)
	}
	name := fmt.Sprintf("%s_%d.bin", part.ArchiveID, part.Idx)
	res, err := prov.Upload(ctx, name, ciphertext)
	if err != nil {
		return fmt.Errorf("uploading mirror copy: %w", err)
	}

	if err := s.store.CompleteMirror(ctx, part.ID, res.Placement(prov.Kind(), true)); err != nil {
		return fmt.Errorf("persisting mirror placement: %w", err)
	}
	metrics.MirrorBackfills.Inc()
	logger.DebugCtx(ctx, "mirror copy placed",
		logger.PartIndex(part.Idx),
		logger.Provider(string(prov.Kind())))
	return nil
}

func (s *Synchronizer) availableKinds(ctx context.Context) (map[models.ProviderKind]bool, error) {
	kinds, err := s.pool.Kinds(ctx)
	if err != nil {
		return nil, err
	}
	available := make(map[models.ProviderKind]bool, len(kinds))
	for _, kind := range kinds {
		available[kind] = true
	}
	return available, nil
}

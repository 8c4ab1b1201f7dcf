// Package scheduler drives the background pipeline: a single periodic tick
// dispatches startup recovery, stale-lease resets, uploads, mirror
// maintenance, and the deletion reaper, bounded by the worker concurrency.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/metrics"
	"github.com/marmos91/stowfs/pkg/mirror"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/reaper"
	"github.com/marmos91/stowfs/pkg/uploader"
	"github.com/marmos91/stowfs/pkg/vault"
)

// Config carries the scheduling knobs.
type Config struct {
	// PollInterval is the tick period.
	PollInterval time.Duration
	// Concurrency bounds simultaneously running work units.
	Concurrency int
	// StaleAfter is the age at which a processing lease is reclaimed.
	StaleAfter time.Duration
	// CacheRoot is the staging tree whose free space gates new leases.
	CacheRoot string
	// DiskSoftLimitGb and DiskHardLimitGb are the gating thresholds.
	DiskSoftLimitGb int
	DiskHardLimitGb int
}

// Scheduler runs the background tick loop.
type Scheduler struct {
	worker *uploader.Worker
	mirror *mirror.Synchronizer
	reaper *reaper.Reaper
	cfg    Config

	// Soft singletons: they only prevent duplicate passes within this
	// process. Cross-process safety comes from the store's claims.
	mirroring atomic.Bool
	reaping   atomic.Bool
}

// New builds a scheduler.
func New(worker *uploader.Worker, sync *mirror.Synchronizer, reap *reaper.Reaper, cfg Config) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Scheduler{worker: worker, mirror: sync, reaper: reap, cfg: cfg}
}

// Run ticks until the context is cancelled. Each tick tops the pool up to
// the configured concurrency; a unit that is still working simply keeps its
// slot and the tick moves on.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval.String(),
		"concurrency", s.cfg.Concurrency)

	slots := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

	fill:
		for {
			select {
			case slots <- struct{}{}:
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-slots }()
					s.runUnit(ctx)
				}()
			default:
				break fill
			}
		}
	}
}

// runUnit executes one unit of work in the fixed dispatch order.
func (s *Scheduler) runUnit(ctx context.Context) {
	if err := s.worker.RecoverStartup(ctx); err != nil {
		logger.Error("startup recovery", logger.Err(err))
		return
	}
	if err := s.worker.ResetStale(ctx, s.cfg.StaleAfter); err != nil {
		logger.Error("stale lease reset", logger.Err(err))
	}
	s.observeQueue(ctx)

	pressure, err := vault.CheckDisk(s.cfg.CacheRoot, s.cfg.DiskSoftLimitGb, s.cfg.DiskHardLimitGb)
	if err != nil {
		logger.Error("disk pressure check", logger.Path(s.cfg.CacheRoot), logger.Err(err))
		return
	}
	if pressure == vault.DiskHard {
		logger.Warn("staging disk under hard pressure, not leasing work", logger.Path(s.cfg.CacheRoot))
		return
	}

	err = s.worker.ProcessNext(ctx)
	if err == nil {
		if pressure == vault.DiskSoft {
			// Let disk pressure relax before taking more work.
			sleepCtx(ctx, s.cfg.PollInterval)
		}
		return
	}
	if !errors.Is(err, models.ErrNoPendingWork) {
		if !errors.Is(err, context.Canceled) {
			logger.Error("upload pass", logger.Err(err))
		}
		return
	}

	// Queue is empty: mirror maintenance, then deletion.
	if s.mirroring.CompareAndSwap(false, true) {
		defer s.mirroring.Store(false)
		err := s.mirror.RunOnce(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, models.ErrNoPendingWork) {
			logger.Error("mirror maintenance", logger.Err(err))
			return
		}
	}

	if s.reaping.CompareAndSwap(false, true) {
		defer s.reaping.Store(false)
		if err := s.reaper.RunOnce(ctx); err != nil && !errors.Is(err, models.ErrNoPendingWork) {
			logger.Error("deletion pass", logger.Err(err))
		}
	}
}

func (s *Scheduler) observeQueue(ctx context.Context) {
	if queued, err := s.worker.QueuedCount(ctx); err == nil {
		metrics.QueueDepth.Set(float64(queued))
	}
	if free, err := vault.FreeBytes(s.cfg.CacheRoot); err == nil {
		metrics.StagingFreeBytes.Set(float64(free))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package uploader

import (
	"context"
	"time"

	"github.com/marmos91/stowfs/internal/logger"
)

// RecoverStartup requeues every archive stuck in processing from a previous
// process. Committed parts survive; phantom progress counters are zeroed.
// Runs at most once per process lifetime.
func (w *Worker) RecoverStartup(ctx context.Context) error {
	var err error
	w.startupOnce.Do(func() {
		var n int64
		n, err = w.store.ResetProcessing(ctx, 0)
		if err == nil && n > 0 {
			logger.Info("startup recovery requeued interrupted uploads", "archives", n)
		}
	})
	return err
}

// ResetStale requeues processing archives whose lease went quiet, usually a
// worker that died mid-upload in another process.
func (w *Worker) ResetStale(ctx context.Context, olderThan time.Duration) error {
	n, err := w.store.ResetProcessing(ctx, olderThan)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warn("reset stale processing archives", "archives", n, "older_than", olderThan.String())
	}
	return nil
}

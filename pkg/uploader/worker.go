// Package uploader drains the archive queue: it leases queued archives,
// chunks and encrypts their staged payload, uploads each ciphertext part to
// the providers, and finalizes the archive once every part is committed.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/crypt"
	"github.com/marmos91/stowfs/pkg/metrics"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/provider"
	"github.com/marmos91/stowfs/pkg/store"
)

// DefaultChunkSize applies when an archive record carries no chunk size.
const DefaultChunkSize = 8 << 20

// Config carries the upload pipeline knobs.
type Config struct {
	// PartsConcurrency bounds parallel part uploads within one archive.
	PartsConcurrency int
	// RetryMax is the number of archive-level retries for transient errors.
	RetryMax int
	// DeleteStagingAfterUpload removes the staging tree once ready.
	DeleteStagingAfterUpload bool
}

// Worker processes one archive at a time from the queue.
type Worker struct {
	store       *store.GORMStore
	pool        provider.Pool
	cipher      *crypt.Cipher
	cfg         Config
	startupOnce sync.Once
}

// New builds an upload worker.
func New(st *store.GORMStore, pool provider.Pool, cipher *crypt.Cipher, cfg Config) *Worker {
	if cfg.PartsConcurrency < 1 {
		cfg.PartsConcurrency = 1
	}
	return &Worker{store: st, pool: pool, cipher: cipher, cfg: cfg}
}

// ProcessNext leases the highest-priority queued archive and runs it to
// completion. Returns models.ErrNoPendingWork when the queue is empty.
func (w *Worker) ProcessNext(ctx context.Context) error {
	archive, err := w.store.LeaseNextQueued(ctx)
	if err != nil {
		return err
	}
	return w.process(ctx, archive)
}

// QueuedCount reports how many archives are waiting in the queue.
func (w *Worker) QueuedCount(ctx context.Context) (int64, error) {
	return w.store.CountQueued(ctx)
}

func (w *Worker) process(ctx context.Context, archive *models.Archive) error {
	ctx = logger.WithContext(ctx, logger.NewJobContext("upload", archive.ID))
	start := time.Now()

	err := w.run(ctx, archive)
	if err == nil {
		metrics.ArchivesReady.Inc()
		logger.InfoCtx(ctx, "archive ready",
			logger.Size(archive.OriginalSize),
			logger.DurationMs(logger.Duration(start)))
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Leave the lease in place; the stale reset reclaims it.
		return err
	}
	if provider.IsTransient(err) && archive.RetryCount < w.cfg.RetryMax {
		logger.WarnCtx(ctx, "upload failed, requeueing",
			logger.Err(err),
			logger.Attempt(archive.RetryCount+1),
			logger.MaxRetries(w.cfg.RetryMax))
		if rerr := w.store.RequeueArchive(ctx, archive.ID, err.Error()); rerr != nil {
			return rerr
		}
		metrics.ArchivesRequeued.Inc()
		return nil
	}
	logger.ErrorCtx(ctx, "upload failed terminally", logger.Err(err))
	if ferr := w.store.FailArchive(ctx, archive.ID, err.Error()); ferr != nil {
		return ferr
	}
	metrics.ArchivesFailed.Inc()
	return nil
}

type partJob struct {
	idx       int
	plainSize int64
	sealed    *crypt.SealedChunk
}

func (w *Worker) run(ctx context.Context, archive *models.Archive) error {
	payload, err := PayloadPath(archive)
	if err != nil {
		return err
	}

	chunkSize := archive.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	limit, err := w.pool.MaxPartSize(ctx)
	if err != nil {
		return err
	}
	if chunkSize > limit {
		chunkSize = limit
	}

	slots, err := w.pool.Slots(ctx)
	if err != nil {
		return err
	}
	concurrency := w.cfg.PartsConcurrency
	if slots > 0 && slots < concurrency {
		concurrency = slots
	}

	// Parts committed by a previous interrupted run are skipped.
	committed := make(map[int]bool, len(archive.Parts))
	for _, p := range archive.SortedParts() {
		committed[p.Idx] = true
	}

	f, err := os.Open(payload)
	if err != nil {
		return fmt.Errorf("opening payload: %w", err)
	}
	defer f.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make(chan partJob, backpressureLimit(concurrency))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range pending {
				if err := w.uploadPart(runCtx, archive, job); err != nil {
					fail(err)
					return
				}
			}
		}()
	}

	totalParts, err := w.produce(runCtx, f, chunkSize, committed, pending)
	close(pending)
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	if err != nil {
		return err
	}

	return w.finalize(ctx, archive, totalParts)
}

// produce streams the payload in chunkSize pieces, sealing and enqueueing
// every chunk not already committed. Returns the total chunk count.
func (w *Worker) produce(ctx context.Context, r io.Reader, chunkSize int64, committed map[int]bool, pending chan<- partJob) (int, error) {
	buf := make([]byte, chunkSize)
	idx := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := w.emit(ctx, idx, buf[:n], committed, pending); err != nil {
				return idx, err
			}
			idx++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return idx, nil
		}
		if err != nil {
			return idx, fmt.Errorf("reading payload chunk %d: %w", idx, err)
		}
	}
}

func (w *Worker) emit(ctx context.Context, idx int, plain []byte, committed map[int]bool, pending chan<- partJob) error {
	if committed[idx] {
		logger.DebugCtx(ctx, "part already committed, skipping", logger.PartIndex(idx))
		return nil
	}
	sealed, err := w.cipher.Seal(plain)
	if err != nil {
		return fmt.Errorf("encrypting part %d: %w", idx, err)
	}
	select {
	case pending <- partJob{idx: idx, plainSize: int64(len(plain)), sealed: sealed}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) uploadPart(ctx context.Context, archive *models.Archive, job partJob) error {
	name := fmt.Sprintf("%s_%d.bin", archive.ID, job.idx)
	res, err := w.pool.MirroredUpload(ctx, job.idx, name, job.sealed.Ciphertext)
	if err != nil {
		return fmt.Errorf("uploading part %d: %w", job.idx, err)
	}

	part := &models.Part{
		Idx:       job.idx,
		Size:      int64(len(job.sealed.Ciphertext)),
		PlainSize: job.plainSize,
		Hash:      job.sealed.Hash,
		IV:        crypt.EncodeB64(job.sealed.IV),
		AuthTag:   crypt.EncodeB64(job.sealed.Tag),
	}
	applyPrimary(part, res.Primary)
	if res.Mirror != nil {
		applyMirror(part, *res.Mirror)
	}
	part.MirrorPending = res.MirrorPending
	part.MirrorError = res.MirrorError

	if err := w.store.AppendPart(ctx, archive.ID, part); err != nil {
		return fmt.Errorf("committing part %d: %w", job.idx, err)
	}
	metrics.PartsUploaded.Inc()
	metrics.PartBytesUploaded.Add(float64(part.Size))
	logger.DebugCtx(ctx, "part committed",
		logger.PartIndex(job.idx),
		logger.Bytes(part.Size),
		logger.Provider(string(part.Provider)),
		"mirror", res.Mirror != nil)
	return nil
}

// finalize verifies every produced chunk is committed and flips the archive
// to ready.
func (w *Worker) finalize(ctx context.Context, archive *models.Archive, totalParts int) error {
	fresh, err := w.store.GetArchive(ctx, archive.ID)
	if err != nil {
		return err
	}
	if fresh.UploadedParts != totalParts {
		return fmt.Errorf("archive %s committed %d of %d parts", archive.ID, fresh.UploadedParts, totalParts)
	}
	if err := w.store.FinalizeArchive(ctx, archive.ID, fresh.UploadedBytes, totalParts); err != nil {
		return err
	}
	if w.cfg.DeleteStagingAfterUpload && archive.StagingDir != "" {
		if err := os.RemoveAll(archive.StagingDir); err != nil {
			logger.WarnCtx(ctx, "removing staging dir", logger.Path(archive.StagingDir), logger.Err(err))
		}
	}
	return nil
}

// backpressureLimit bounds the pending queue so the producer cannot run
// unboundedly ahead of the uploaders on large files.
func backpressureLimit(concurrency int) int {
	limit := concurrency * 3
	if limit < 10 {
		limit = 10
	}
	return limit
}

func applyPrimary(part *models.Part, p models.Placement) {
	part.Provider = p.Provider
	part.URL = p.URL
	part.MessageID = p.MessageID
	part.WebhookID = p.WebhookID
	part.ChannelID = p.ChannelID
	part.FileID = p.FileID
	part.ChatID = p.ChatID
}

func applyMirror(part *models.Part, p models.Placement) {
	part.MirrorProvider = p.Provider
	part.MirrorURL = p.URL
	part.MirrorMessageID = p.MessageID
	part.MirrorWebhookID = p.WebhookID
	part.MirrorChannelID = p.ChannelID
	part.MirrorFileID = p.FileID
	part.MirrorChatID = p.ChatID
}

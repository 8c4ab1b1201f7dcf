package restore

import (
	"context"
	"fmt"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/crypt"
	"github.com/marmos91/stowfs/pkg/metrics"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/provider"
)

// fetchCiphertext downloads and verifies one part's ciphertext. Stale URLs
// are healed in place; when the primary stays unreachable the mirror copy
// serves the read.
func (e *Engine) fetchCiphertext(ctx context.Context, part *models.Part) ([]byte, error) {
	data, err := e.fetchWithRepair(ctx, part, part.PrimaryPlacement())
	if err == nil {
		return e.verifyHash(part, data)
	}
	if e.mirrorFallback && part.Mirrored() {
		logger.WarnCtx(ctx, "primary unreachable, reading mirror",
			logger.PartIndex(part.Idx), logger.Err(err))
		if data, merr := e.fetchWithRepair(ctx, part, part.MirrorPlacement()); merr == nil {
			return e.verifyHash(part, data)
		}
	}
	return nil, fmt.Errorf("fetching part %d: %w", part.Idx, err)
}

// PartCiphertext downloads one part's verified ciphertext without
// decrypting it, for callers that relay or re-upload the ciphertext as-is.
func (e *Engine) PartCiphertext(ctx context.Context, part *models.Part) ([]byte, error) {
	return e.fetchCiphertext(ctx, part)
}

// fetchWithRepair downloads a placement, refreshing the URL once when the
// remote reports it stale. Two consecutive stale responses escalate.
func (e *Engine) fetchWithRepair(ctx context.Context, part *models.Part, placement models.Placement) ([]byte, error) {
	data, err := e.pool.Fetch(ctx, placement.URL)
	if err == nil || !provider.IsStale(err) {
		return data, err
	}

	prov, perr := e.pool.ByPlacement(ctx, placement)
	if perr != nil {
		return nil, fmt.Errorf("resolving provider for part %d: %w", part.Idx, perr)
	}
	fresh, perr := prov.RefreshURL(ctx, placement)
	if perr != nil {
		return nil, fmt.Errorf("refreshing url for part %d: %w", part.Idx, perr)
	}
	if uerr := e.store.UpdatePartURL(ctx, part.ID, fresh, placement.Mirror); uerr != nil {
		logger.WarnCtx(ctx, "persisting refreshed part url",
			logger.PartIndex(part.Idx), logger.Err(uerr))
	}
	metrics.URLRepairs.Inc()
	logger.InfoCtx(ctx, "healed stale part url",
		logger.PartIndex(part.Idx),
		logger.Provider(string(placement.Provider)),
		"mirror", placement.Mirror)
	return e.pool.Fetch(ctx, fresh)
}

func (e *Engine) verifyHash(part *models.Part, ciphertext []byte) ([]byte, error) {
	if part.Hash != "" && crypt.HashHex(ciphertext) != part.Hash {
		return nil, &IntegrityError{Reason: "part_hash_mismatch", Index: part.Idx}
	}
	return ciphertext, nil
}

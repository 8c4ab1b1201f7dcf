package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/marmos91/stowfs/pkg/models"
)

// ============================================
// SHARE OPERATIONS
// ============================================

func (s *GORMStore) CreateShare(ctx context.Context, share *models.Share) (string, error) {
	if share.Token == "" {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		share.Token = hex.EncodeToString(buf)
	}
	return createWithID(s.db, ctx, share, func(sh *models.Share, id string) { sh.ID = id }, share.ID, models.ErrShareNotFound)
}

// ResolveShare looks up a share by token. Expired shares resolve as not found.
func (s *GORMStore) ResolveShare(ctx context.Context, token string) (*models.Share, error) {
	share, err := getByField[models.Share](s.db, ctx, "token", token, models.ErrShareNotFound)
	if err != nil {
		return nil, err
	}
	if share.Expired(time.Now()) {
		return nil, models.ErrShareNotFound
	}
	return share, nil
}

func (s *GORMStore) ListShares(ctx context.Context, ownerID string) ([]*models.Share, error) {
	var shares []*models.Share
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("created_at DESC").Find(&shares).Error
	if err != nil {
		return nil, err
	}
	return shares, nil
}

func (s *GORMStore) DeleteShare(ctx context.Context, ownerID, id string) error {
	share, err := getByField[models.Share](s.db, ctx, "id", id, models.ErrShareNotFound)
	if err != nil {
		return err
	}
	if share.OwnerID != ownerID {
		return models.ErrForbidden
	}
	return deleteByField[models.Share](s.db, ctx, "id", id, models.ErrShareNotFound)
}

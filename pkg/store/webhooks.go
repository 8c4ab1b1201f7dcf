package store

import (
	"context"
	"time"

	"github.com/marmos91/stowfs/pkg/models"
)

// ============================================
// PROVIDER HANDLE OPERATIONS
// ============================================

func (s *GORMStore) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	return getByField[models.Webhook](s.db, ctx, "id", id, models.ErrHandleNotFound)
}

func (s *GORMStore) ListWebhooks(ctx context.Context) ([]*models.Webhook, error) {
	return listAll[models.Webhook](s.db, ctx)
}

// ListEnabledWebhooks returns the enabled handles of one family in a stable
// order, so the index-modulo placement rule is deterministic.
func (s *GORMStore) ListEnabledWebhooks(ctx context.Context, kind models.ProviderKind) ([]*models.Webhook, error) {
	var handles []*models.Webhook
	err := s.db.WithContext(ctx).
		Where("kind = ? AND enabled = ?", kind, true).
		Order("created_at ASC").Find(&handles).Error
	if err != nil {
		return nil, err
	}
	return handles, nil
}

func (s *GORMStore) CreateWebhook(ctx context.Context, handle *models.Webhook) (string, error) {
	return createWithID(s.db, ctx, handle, func(h *models.Webhook, id string) { h.ID = id }, handle.ID, models.ErrHandleNotFound)
}

// SetWebhookEnabled toggles a handle. Disabled handles stop receiving new
// parts but stay resolvable for refresh and delete of existing parts.
func (s *GORMStore) SetWebhookEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrHandleNotFound
	}
	return nil
}

func (s *GORMStore) DeleteWebhook(ctx context.Context, id string) error {
	return deleteByField[models.Webhook](s.db, ctx, "id", id, models.ErrHandleNotFound)
}

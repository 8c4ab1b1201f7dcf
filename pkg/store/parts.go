package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/stowfs/pkg/models"
)

// ============================================
// PART OPERATIONS
// ============================================

// AppendPart commits one uploaded part and refreshes the archive's progress
// counters in the same transaction. The counters are recomputed from the
// persisted rows rather than incremented, so a duplicate append for an
// already-present index (startup recovery racing an old worker) cannot skew
// them: uploaded_parts is the count of distinct indices and uploaded_bytes
// the ciphertext sum over the newest record per index.
func (s *GORMStore) AppendPart(ctx context.Context, archiveID string, part *models.Part) error {
	part.ArchiveID = archiveID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(part).Error; err != nil {
			return err
		}
		return refreshPartCounters(tx, archiveID)
	})
}

// refreshPartCounters recomputes uploaded_parts and uploaded_bytes from the
// parts table. Runs inside the caller's transaction.
func refreshPartCounters(tx *gorm.DB, archiveID string) error {
	return tx.Exec(`
		UPDATE archives SET
			uploaded_parts = (
				SELECT COUNT(DISTINCT idx) FROM parts WHERE parts.archive_id = ?
			),
			uploaded_bytes = (
				SELECT COALESCE(SUM(size), 0) FROM parts
				WHERE parts.archive_id = ?
				AND parts.id IN (
					SELECT MAX(id) FROM parts WHERE parts.archive_id = ? GROUP BY idx
				)
			),
			updated_at = ?
		WHERE id = ?`,
		archiveID, archiveID, archiveID, time.Now(), archiveID).Error
}

// GetPart loads a single part row.
func (s *GORMStore) GetPart(ctx context.Context, partID uint64) (*models.Part, error) {
	return getByField[models.Part](s.db, ctx, "id", partID, models.ErrNoPendingWork)
}

// UpdatePartURL persists a refreshed download URL for one side of a part.
func (s *GORMStore) UpdatePartURL(ctx context.Context, partID uint64, url string, mirror bool) error {
	column := "url"
	if mirror {
		column = "mirror_url"
	}
	return s.db.WithContext(ctx).Model(&models.Part{}).
		Where("id = ?", partID).
		Updates(map[string]any{column: url, "updated_at": time.Now()}).Error
}

// ============================================
// MIRROR OPERATIONS
// ============================================

// AssignMirrorProvider assigns the mirror family for a part that has none
// yet and flags it pending for the synchronizer.
func (s *GORMStore) AssignMirrorProvider(ctx context.Context, partID uint64, kind models.ProviderKind) error {
	return s.db.WithContext(ctx).Model(&models.Part{}).
		Where("id = ? AND (mirror_provider = '' OR mirror_provider IS NULL)", partID).
		Updates(map[string]any{
			"mirror_provider": kind,
			"mirror_pending":  true,
			"mirror_error":    "",
			"updated_at":      time.Now(),
		}).Error
}

// ClaimMirrorPart claims one pending mirror part for synchronization by
// clearing its pending flag, guarded by the current assignment so parallel
// workers do not duplicate the upload. Returns false if another worker won.
func (s *GORMStore) ClaimMirrorPart(ctx context.Context, partID uint64, kind models.ProviderKind) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Part{}).
		Where("id = ? AND mirror_pending = ? AND mirror_provider = ?", partID, true, kind).
		Updates(map[string]any{"mirror_pending": false, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteMirror persists a successful mirror placement.
func (s *GORMStore) CompleteMirror(ctx context.Context, partID uint64, placement models.Placement) error {
	return s.db.WithContext(ctx).Model(&models.Part{}).
		Where("id = ?", partID).
		Updates(map[string]any{
			"mirror_provider":   placement.Provider,
			"mirror_url":        placement.URL,
			"mirror_message_id": placement.MessageID,
			"mirror_webhook_id": placement.WebhookID,
			"mirror_channel_id": placement.ChannelID,
			"mirror_file_id":    placement.FileID,
			"mirror_chat_id":    placement.ChatID,
			"mirror_pending":    false,
			"mirror_error":      "",
			"updated_at":        time.Now(),
		}).Error
}

// FailMirror re-flags a part pending after a failed mirror attempt,
// recording the error for operators.
func (s *GORMStore) FailMirror(ctx context.Context, partID uint64, message string) error {
	return s.db.WithContext(ctx).Model(&models.Part{}).
		Where("id = ?", partID).
		Updates(map[string]any{
			"mirror_pending": true,
			"mirror_error":   message,
			"updated_at":     time.Now(),
		}).Error
}

// HealPrimary replaces a part's primary placement, used when the mirror
// synchronizer rebuilds a broken primary from the surviving copy.
func (s *GORMStore) HealPrimary(ctx context.Context, partID uint64, placement models.Placement) error {
	return s.db.WithContext(ctx).Model(&models.Part{}).
		Where("id = ?", partID).
		Updates(map[string]any{
			"provider":   placement.Provider,
			"url":        placement.URL,
			"message_id": placement.MessageID,
			"webhook_id": placement.WebhookID,
			"channel_id": placement.ChannelID,
			"file_id":    placement.FileID,
			"chat_id":    placement.ChatID,
			"updated_at": time.Now(),
		}).Error
}

// NextMirrorAssign finds one ready archive with at least one part lacking a
// mirror assignment. Returns models.ErrNoPendingWork when there is none.
func (s *GORMStore) NextMirrorAssign(ctx context.Context) (*models.Archive, error) {
	var archive models.Archive
	err := s.db.WithContext(ctx).Preload("Parts").
		Where("status = ? AND deleted_at IS NULL", models.StatusReady).
		Where("EXISTS (SELECT 1 FROM parts WHERE parts.archive_id = archives.id AND (parts.mirror_provider = '' OR parts.mirror_provider IS NULL))").
		First(&archive).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrNoPendingWork)
	}
	return &archive, nil
}

// NextMirrorSync finds one ready archive with at least one pending mirror
// part whose assigned family is in kinds (the currently available providers).
func (s *GORMStore) NextMirrorSync(ctx context.Context, kinds []models.ProviderKind) (*models.Archive, error) {
	if len(kinds) == 0 {
		return nil, models.ErrNoPendingWork
	}
	var archive models.Archive
	err := s.db.WithContext(ctx).Preload("Parts").
		Where("status = ? AND deleted_at IS NULL", models.StatusReady).
		Where("EXISTS (SELECT 1 FROM parts WHERE parts.archive_id = archives.id AND parts.mirror_pending = ? AND parts.mirror_provider IN ?)", true, kinds).
		First(&archive).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrNoPendingWork)
	}
	return &archive, nil
}

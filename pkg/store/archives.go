package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marmos91/stowfs/pkg/models"
)

// ============================================
// ARCHIVE OPERATIONS
// ============================================

// CreateArchive persists a new archive together with its file entries.
func (s *GORMStore) CreateArchive(ctx context.Context, archive *models.Archive) error {
	if archive.ID == "" {
		archive.ID = uuid.New().String()
	}
	for i := range archive.Files {
		if archive.Files[i].ID == "" {
			archive.Files[i].ID = uuid.New().String()
		}
		archive.Files[i].ArchiveID = archive.ID
	}
	return s.db.WithContext(ctx).Create(archive).Error
}

// GetArchive loads an archive with its files and parts.
func (s *GORMStore) GetArchive(ctx context.Context, id string) (*models.Archive, error) {
	return getByField[models.Archive](s.db, ctx, "id", id, models.ErrArchiveNotFound, "Files", "Parts")
}

// GetOwnedArchive loads an archive and verifies ownership. Archives already
// reaped are reported as not found.
func (s *GORMStore) GetOwnedArchive(ctx context.Context, ownerID, id string) (*models.Archive, error) {
	archive, err := s.GetArchive(ctx, id)
	if err != nil {
		return nil, err
	}
	if archive.DeletedAt != nil {
		return nil, models.ErrArchiveNotFound
	}
	if archive.OwnerID != ownerID {
		return nil, models.ErrForbidden
	}
	return archive, nil
}

// ListArchives returns the live archives of a user, optionally scoped to one
// folder. Trashed and reaped archives are excluded.
func (s *GORMStore) ListArchives(ctx context.Context, ownerID string, folderID *string) ([]*models.Archive, error) {
	q := s.db.WithContext(ctx).Preload("Files").
		Where("owner_id = ? AND trashed_at IS NULL AND deleted_at IS NULL", ownerID)
	if folderID != nil {
		q = q.Where("folder_id = ?", *folderID)
	}
	var archives []*models.Archive
	if err := q.Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, err
	}
	return archives, nil
}

// ListTrashed returns the trash view: trashed but not yet reaped archives.
func (s *GORMStore) ListTrashed(ctx context.Context, ownerID string) ([]*models.Archive, error) {
	var archives []*models.Archive
	err := s.db.WithContext(ctx).Preload("Files").
		Where("owner_id = ? AND trashed_at IS NOT NULL AND deleted_at IS NULL", ownerID).
		Order("trashed_at DESC").Find(&archives).Error
	if err != nil {
		return nil, err
	}
	return archives, nil
}

// CountQueued returns the number of archives waiting for an upload worker.
func (s *GORMStore) CountQueued(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("status = ?", models.StatusQueued).Count(&n).Error
	return n, err
}

// LeaseNextQueued atomically claims the highest-priority queued archive
// (ties broken by oldest creation time), moving it to processing and
// clearing its error. Returns models.ErrNoPendingWork when the queue is
// empty. The status predicate on the UPDATE makes the claim safe across
// processes; on a lost race the next candidate is tried.
func (s *GORMStore) LeaseNextQueued(ctx context.Context) (*models.Archive, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var candidate models.Archive
		err := s.db.WithContext(ctx).
			Select("id").
			Where("status = ?", models.StatusQueued).
			Order("priority DESC").Order("created_at ASC").
			First(&candidate).Error
		if err != nil {
			return nil, convertNotFoundError(err, models.ErrNoPendingWork)
		}

		res := s.db.WithContext(ctx).Model(&models.Archive{}).
			Where("id = ? AND status = ?", candidate.ID, models.StatusQueued).
			Updates(map[string]any{
				"status":     models.StatusProcessing,
				"error":      "",
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return s.GetArchive(ctx, candidate.ID)
		}
		// Lost the race to another worker; try the next candidate.
	}
	return nil, models.ErrNoPendingWork
}

// FinalizeArchive marks an upload complete: the archive becomes ready, the
// totals are fixed, and any legacy whole-payload crypto fields are cleared.
func (s *GORMStore) FinalizeArchive(ctx context.Context, id string, encryptedSize int64, totalParts int) error {
	res := s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":             models.StatusReady,
			"error":              "",
			"encrypted_size":     encryptedSize,
			"total_parts":        totalParts,
			"encryption_version": models.EncryptionChunked,
			"legacy_iv":          "",
			"legacy_auth_tag":    "",
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrArchiveNotFound
	}
	return nil
}

// FailArchive records a terminal upload failure.
func (s *GORMStore) FailArchive(ctx context.Context, id, message string) error {
	return s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     models.StatusError,
			"error":      message,
			"updated_at": time.Now(),
		}).Error
}

// RequeueArchive returns an archive to the queue after a transient failure,
// incrementing its retry count.
func (s *GORMStore) RequeueArchive(ctx context.Context, id, message string) error {
	return s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      models.StatusQueued,
			"error":       message,
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		}).Error
}

// ResetProcessing returns processing archives to the queue. With a non-zero
// olderThan only stale leases (no update within the window) are reset; with
// zero every processing archive is reset, which is the startup recovery
// behavior. Archives without any committed part also get their progress
// counters zeroed.
func (s *GORMStore) ResetProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	var reset int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match := tx.Model(&models.Archive{}).Where("status = ?", models.StatusProcessing)
		if olderThan > 0 {
			match = match.Where("updated_at < ?", time.Now().Add(-olderThan))
		}

		// Zero counters where nothing was committed yet.
		zero := tx.Model(&models.Archive{}).
			Where("status = ?", models.StatusProcessing).
			Where("NOT EXISTS (SELECT 1 FROM parts WHERE parts.archive_id = archives.id)")
		if olderThan > 0 {
			zero = zero.Where("updated_at < ?", time.Now().Add(-olderThan))
		}
		if err := zero.Updates(map[string]any{
			"uploaded_bytes": 0,
			"uploaded_parts": 0,
		}).Error; err != nil {
			return err
		}

		res := match.Updates(map[string]any{
			"status":     models.StatusQueued,
			"updated_at": time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		reset = res.RowsAffected
		return nil
	})
	return reset, err
}

// ============================================
// DELETION CLAIMS
// ============================================

// ClaimDeletable atomically claims one archive due for reaping: purge was
// requested explicitly, or the archive has sat in the trash past the
// retention window. Oldest purge requests are served first, then oldest
// trash entries. Returns models.ErrNoPendingWork when nothing is due.
func (s *GORMStore) ClaimDeletable(ctx context.Context, retention time.Duration) (*models.Archive, error) {
	cutoff := time.Now().Add(-retention)
	for attempt := 0; attempt < 3; attempt++ {
		var candidate models.Archive
		err := s.db.WithContext(ctx).
			Select("id").
			Where("deleted_at IS NULL AND deleting = ?", false).
			Where("delete_requested_at IS NOT NULL OR (trashed_at IS NOT NULL AND trashed_at <= ?)", cutoff).
			Order("CASE WHEN delete_requested_at IS NULL THEN 1 ELSE 0 END").
			Order("delete_requested_at ASC").
			Order("trashed_at ASC").
			First(&candidate).Error
		if err != nil {
			return nil, convertNotFoundError(err, models.ErrNoPendingWork)
		}

		res := s.db.WithContext(ctx).Model(&models.Archive{}).
			Where("id = ? AND deleting = ? AND deleted_at IS NULL", candidate.ID, false).
			Updates(map[string]any{"deleting": true, "updated_at": time.Now()})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return s.GetArchive(ctx, candidate.ID)
		}
	}
	return nil, models.ErrNoPendingWork
}

// BeginDeletion fixes the deletion progress denominator to the unique part
// count and resets the progress counter.
func (s *GORMStore) BeginDeletion(ctx context.Context, id string, totalParts int) error {
	return s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delete_total_parts": totalParts,
			"deleted_parts":      0,
			"updated_at":         time.Now(),
		}).Error
}

// IncDeletedParts advances deletion progress, bounded by the fixed total.
func (s *GORMStore) IncDeletedParts(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("id = ? AND deleted_parts < delete_total_parts", id).
		Updates(map[string]any{
			"deleted_parts": gorm.Expr("deleted_parts + 1"),
			"updated_at":    time.Now(),
		}).Error
}

// CompleteDeletion tombstones the archive, strips its part records, and
// refunds the owner's quota by the archive's plaintext size.
func (s *GORMStore) CompleteDeletion(ctx context.Context, archive *models.Archive) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("archive_id = ?", archive.ID).Delete(&models.Part{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Archive{}).
			Where("id = ?", archive.ID).
			Updates(map[string]any{
				"deleted_at": time.Now(),
				"deleting":   false,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		return releaseQuota(tx, archive.OwnerID, archive.OriginalSize)
	})
}

// ClearDeleting drops the in-flight deletion claim after a failed pass so a
// later tick can retry the archive.
func (s *GORMStore) ClearDeleting(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("id = ?", id).
		Update("deleting", false).Error
}

// ============================================
// LIFECYCLE OPERATIONS
// ============================================

// TrashArchive soft-deletes an archive into the trash view.
func (s *GORMStore) TrashArchive(ctx context.Context, ownerID, id string) error {
	return s.ownedLifecycleUpdate(ctx, ownerID, id, map[string]any{"trashed_at": time.Now()})
}

// RestoreFromTrash returns a trashed archive to the live view. A restore is
// a no-op on parts, sizes, and quota.
func (s *GORMStore) RestoreFromTrash(ctx context.Context, ownerID, id string) error {
	return s.ownedLifecycleUpdate(ctx, ownerID, id, map[string]any{"trashed_at": nil})
}

// RequestPurge schedules an archive for hard deletion by the reaper.
func (s *GORMStore) RequestPurge(ctx context.Context, ownerID, id string) error {
	return s.ownedLifecycleUpdate(ctx, ownerID, id, map[string]any{"delete_requested_at": time.Now()})
}

// MoveToFolder reassigns an archive to a folder (nil means the root).
func (s *GORMStore) MoveToFolder(ctx context.Context, ownerID, id string, folderID *string) error {
	return s.ownedLifecycleUpdate(ctx, ownerID, id, map[string]any{"folder_id": folderID})
}

// RenameArchive updates the display and download names.
func (s *GORMStore) RenameArchive(ctx context.Context, ownerID, id, name string) error {
	return s.ownedLifecycleUpdate(ctx, ownerID, id, map[string]any{
		"display_name":  name,
		"download_name": name,
	})
}

// SetPriority sets an archive's upload priority. When override is set, later
// folder-level priority changes leave the archive untouched.
func (s *GORMStore) SetPriority(ctx context.Context, ownerID, id string, priority int, override bool) error {
	if priority < models.PriorityMin {
		priority = models.PriorityMin
	}
	if priority > models.PriorityMax {
		priority = models.PriorityMax
	}
	return s.ownedLifecycleUpdate(ctx, ownerID, id, map[string]any{
		"priority":          priority,
		"priority_override": override,
	})
}

// PropagateFolderPriority applies a folder's priority to its archives,
// skipping archives whose priority is pinned.
func (s *GORMStore) PropagateFolderPriority(ctx context.Context, ownerID, folderID string, priority int) error {
	return s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("owner_id = ? AND folder_id = ? AND priority_override = ?", ownerID, folderID, false).
		Update("priority", priority).Error
}

// RenameFile renames one entry of a bundle archive.
func (s *GORMStore) RenameFile(ctx context.Context, ownerID, archiveID string, idx int, name string) error {
	archive, err := s.GetOwnedArchive(ctx, ownerID, archiveID)
	if err != nil {
		return err
	}
	file, ok := archive.FileByIndex(idx)
	if !ok {
		return models.ErrFileNotFound
	}
	return s.db.WithContext(ctx).Model(&models.ArchiveFile{}).
		Where("id = ?", file.ID).
		Update("original_name", name).Error
}

// IncDownloadCount bumps a file's download counter.
func (s *GORMStore) IncDownloadCount(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).Model(&models.ArchiveFile{}).
		Where("id = ?", fileID).
		Update("download_count", gorm.Expr("download_count + 1")).Error
}

// ownedLifecycleUpdate applies a guarded single-document update on a live
// (not reaped) archive owned by ownerID.
func (s *GORMStore) ownedLifecycleUpdate(ctx context.Context, ownerID, id string, updates map[string]any) error {
	archive, err := s.GetOwnedArchive(ctx, ownerID, id)
	if err != nil {
		return err
	}
	updates["updated_at"] = time.Now()
	return s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("id = ? AND deleted_at IS NULL", archive.ID).
		Updates(updates).Error
}

package store

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/stowfs/pkg/models"
)

// ============================================
// FOLDER OPERATIONS
// ============================================

func (s *GORMStore) GetFolder(ctx context.Context, ownerID, id string) (*models.Folder, error) {
	folder, err := getByField[models.Folder](s.db, ctx, "id", id, models.ErrFolderNotFound)
	if err != nil {
		return nil, err
	}
	if folder.OwnerID != ownerID {
		return nil, models.ErrForbidden
	}
	return folder, nil
}

// ListFolders returns the children of one folder (nil parent = user root).
func (s *GORMStore) ListFolders(ctx context.Context, ownerID string, parentID *string) ([]*models.Folder, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var folders []*models.Folder
	if err := q.Order("name ASC").Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

func (s *GORMStore) CreateFolder(ctx context.Context, folder *models.Folder) (string, error) {
	return createWithID(s.db, ctx, folder, func(f *models.Folder, id string) { f.ID = id }, folder.ID, models.ErrDuplicateFolder)
}

// RenameFolder updates a folder's name.
func (s *GORMStore) RenameFolder(ctx context.Context, ownerID, id, name string) error {
	if _, err := s.GetFolder(ctx, ownerID, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.Folder{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": time.Now()}).Error
}

// SetFolderPriority sets a folder's priority and propagates it to the
// archives in the folder, except those with a pinned priority.
func (s *GORMStore) SetFolderPriority(ctx context.Context, ownerID, id string, priority int) error {
	if priority < models.PriorityMin {
		priority = models.PriorityMin
	}
	if priority > models.PriorityMax {
		priority = models.PriorityMax
	}
	if _, err := s.GetFolder(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&models.Folder{}).
		Where("id = ?", id).
		Updates(map[string]any{"priority": priority, "updated_at": time.Now()}).Error; err != nil {
		return err
	}
	return s.PropagateFolderPriority(ctx, ownerID, id, priority)
}

// DeleteFolder removes an empty folder.
func (s *GORMStore) DeleteFolder(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetFolder(ctx, ownerID, id); err != nil {
		return err
	}
	var archives int64
	if err := s.db.WithContext(ctx).Model(&models.Archive{}).
		Where("folder_id = ? AND deleted_at IS NULL", id).Count(&archives).Error; err != nil {
		return err
	}
	var children int64
	if err := s.db.WithContext(ctx).Model(&models.Folder{}).
		Where("parent_id = ?", id).Count(&children).Error; err != nil {
		return err
	}
	if archives > 0 || children > 0 {
		return models.ErrDuplicateFolder
	}
	return deleteByField[models.Folder](s.db, ctx, "id", id, models.ErrFolderNotFound)
}

// EnsureFolderPath resolves a slash-separated relative path under parentID,
// creating missing folders along the way, and returns the leaf folder ID.
// Used by batch uploads that carry relative paths.
func (s *GORMStore) EnsureFolderPath(ctx context.Context, ownerID string, parentID *string, relPath string) (*string, error) {
	current := parentID
	for _, segment := range strings.Split(relPath, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." {
			continue
		}
		q := s.db.WithContext(ctx).Where("owner_id = ? AND name = ?", ownerID, segment)
		if current == nil {
			q = q.Where("parent_id IS NULL")
		} else {
			q = q.Where("parent_id = ?", *current)
		}
		var folder models.Folder
		err := q.First(&folder).Error
		if err == nil {
			id := folder.ID
			current = &id
			continue
		}
		created := &models.Folder{
			OwnerID:  ownerID,
			ParentID: current,
			Name:     segment,
			Priority: models.PriorityDefault,
		}
		id, err := s.CreateFolder(ctx, created)
		if err != nil {
			return nil, err
		}
		current = &id
	}
	return current, nil
}

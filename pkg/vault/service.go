// Package vault is the archive service: it turns incoming files into queued
// archives (grouping small files into zip bundles), enforces quota and disk
// capacity on the way in, and exposes the archive lifecycle operations.
package vault

import (
	"context"

	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/store"
)

// Config carries the creation-side knobs.
type Config struct {
	// CacheRoot is the scratch tree holding per-archive staging directories.
	CacheRoot string
	// ChunkSize is the plaintext chunk size recorded on new archives.
	ChunkSize int64
	// BundleSingleFileBytes is the size at or above which a file always
	// becomes its own archive.
	BundleSingleFileBytes int64
	// BundleMaxBytes caps the total plaintext size of one bundle.
	BundleMaxBytes int64
	// DiskSoftLimitGb and DiskHardLimitGb gate intake on free staging space.
	DiskSoftLimitGb int
	DiskHardLimitGb int
}

// Service implements archive creation and lifecycle over the store.
type Service struct {
	store *store.GORMStore
	cfg   Config
}

// New builds the archive service.
func New(st *store.GORMStore, cfg Config) *Service {
	return &Service{store: st, cfg: cfg}
}

// Get returns one archive owned by the user.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*models.Archive, error) {
	return s.store.GetOwnedArchive(ctx, ownerID, id)
}

// List returns the user's live archives, optionally scoped to a folder.
func (s *Service) List(ctx context.Context, ownerID string, folderID *string) ([]*models.Archive, error) {
	return s.store.ListArchives(ctx, ownerID, folderID)
}

// ListTrash returns the user's trashed, not yet reaped archives.
func (s *Service) ListTrash(ctx context.Context, ownerID string) ([]*models.Archive, error) {
	return s.store.ListTrashed(ctx, ownerID)
}

// Trash soft-deletes an archive.
func (s *Service) Trash(ctx context.Context, ownerID, id string) error {
	return s.store.TrashArchive(ctx, ownerID, id)
}

// RestoreFromTrash clears the soft-delete mark.
func (s *Service) RestoreFromTrash(ctx context.Context, ownerID, id string) error {
	return s.store.RestoreFromTrash(ctx, ownerID, id)
}

// Purge requests hard deletion; the reaper picks it up on its next pass.
func (s *Service) Purge(ctx context.Context, ownerID, id string) error {
	return s.store.RequestPurge(ctx, ownerID, id)
}

// Move reassigns the archive's folder.
func (s *Service) Move(ctx context.Context, ownerID, id string, folderID *string) error {
	return s.store.MoveToFolder(ctx, ownerID, id, folderID)
}

// Rename changes the display and download names.
func (s *Service) Rename(ctx context.Context, ownerID, id, name string) error {
	return s.store.RenameArchive(ctx, ownerID, id, name)
}

// RenameFile renames one entry of a bundle.
func (s *Service) RenameFile(ctx context.Context, ownerID, id string, idx int, name string) error {
	return s.store.RenameFile(ctx, ownerID, id, idx, name)
}

// SetPriority pins the archive's upload priority. The override flag keeps
// later folder-level priority changes from touching it.
func (s *Service) SetPriority(ctx context.Context, ownerID, id string, priority int, override bool) error {
	return s.store.SetPriority(ctx, ownerID, id, priority, override)
}

// checkDisk rejects intake under hard disk pressure.
func (s *Service) checkDisk() error {
	pressure, err := CheckDisk(s.cfg.CacheRoot, s.cfg.DiskSoftLimitGb, s.cfg.DiskHardLimitGb)
	if err != nil {
		return err
	}
	if pressure == DiskHard {
		return models.ErrDiskFull
	}
	return nil
}

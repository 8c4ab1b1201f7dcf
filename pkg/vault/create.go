package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/models"
)

// Input is one incoming file for batch creation. Path points at bytes
// already spooled to local disk by the transport layer.
type Input struct {
	Name    string
	Path    string
	Size    int64
	RelPath string // optional client-side directory, auto-created as folders
}

// CreateBatch groups the inputs into archives and queues them for upload.
// Any file at or above the single-file threshold becomes its own archive;
// the rest are greedily packed into zip bundles capped at BundleMaxBytes.
// Quota is reserved up front for the whole batch; the staging bytes are
// moved (not copied) into per-archive staging directories.
func (s *Service) CreateBatch(ctx context.Context, ownerID string, folderID *string, inputs []Input) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if err := s.checkDisk(); err != nil {
		return nil, err
	}

	var total int64
	for _, in := range inputs {
		total += in.Size
	}
	if err := s.store.ReserveQuota(ctx, ownerID, total); err != nil {
		return nil, err
	}

	ids, err := s.createGroups(ctx, ownerID, folderID, groupInputs(inputs, s.cfg.BundleSingleFileBytes, s.cfg.BundleMaxBytes))
	if err != nil {
		// Created archives keep their reservation; refund only the rest.
		var created int64
		for _, id := range ids {
			if a, gerr := s.store.GetArchive(ctx, id); gerr == nil {
				created += a.OriginalSize
			}
		}
		if total > created {
			if rerr := s.store.ReleaseQuota(ctx, ownerID, total-created); rerr != nil {
				logger.Warn("quota refund after failed batch", logger.UserID(ownerID), logger.Err(rerr))
			}
		}
		return ids, err
	}
	return ids, nil
}

func (s *Service) createGroups(ctx context.Context, ownerID string, folderID *string, groups [][]Input) ([]string, error) {
	var ids []string
	for _, group := range groups {
		id, err := s.createArchive(ctx, ownerID, folderID, group)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) createArchive(ctx context.Context, ownerID string, folderID *string, group []Input) (string, error) {
	target := folderID
	if rel := filepath.Dir(group[0].RelPath); rel != "." && rel != "" && rel != "/" {
		resolved, err := s.store.EnsureFolderPath(ctx, ownerID, folderID, rel)
		if err != nil {
			return "", fmt.Errorf("resolving folder path %q: %w", rel, err)
		}
		target = resolved
	}

	archiveID := uuid.New().String()
	stagingDir := filepath.Join(s.cfg.CacheRoot, "staging", archiveID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}

	isBundle := len(group) > 1
	archive := &models.Archive{
		ID:         archiveID,
		OwnerID:    ownerID,
		FolderID:   target,
		Status:     models.StatusQueued,
		Priority:   models.PriorityDefault,
		IsBundle:   isBundle,
		ChunkSize:  s.cfg.ChunkSize,
		StagingDir: stagingDir,
		EncryptionVersion: models.EncryptionChunked,
	}

	var total int64
	for i, in := range group {
		staged := filepath.Join(stagingDir, fmt.Sprintf("%d_%s", i, SafeName(in.Name)))
		if err := moveFile(in.Path, staged); err != nil {
			os.RemoveAll(stagingDir)
			return "", fmt.Errorf("staging %s: %w", in.Name, err)
		}
		archive.Files = append(archive.Files, models.ArchiveFile{
			Idx:          i,
			Name:         SafeName(in.Name),
			OriginalName: in.Name,
			StagingPath:  staged,
			Size:         in.Size,
		})
		total += in.Size
	}
	archive.OriginalSize = total
	archive.Name = group[0].Name
	archive.DisplayName = group[0].Name
	archive.DownloadName = group[0].Name
	if isBundle {
		bundleName := fmt.Sprintf("bundle-%s.zip", archiveID[:8])
		archive.Name = bundleName
		archive.DisplayName = bundleName
		archive.DownloadName = bundleName
	}

	if err := s.store.CreateArchive(ctx, archive); err != nil {
		os.RemoveAll(stagingDir)
		return "", err
	}
	logger.Info("archive queued",
		logger.ArchiveID(archiveID),
		logger.UserID(ownerID),
		logger.Size(total),
		"files", len(group))
	return archiveID, nil
}

// CreateStream accepts an upload whose size is unknown up front. The
// archive exists as processing while bytes spool to staging; quota is
// settled when the stream completes, then the archive joins the queue. An
// aborted stream leaves nothing behind.
func (s *Service) CreateStream(ctx context.Context, ownerID string, folderID *string, name string, r io.Reader) (*models.Archive, error) {
	if err := s.checkDisk(); err != nil {
		return nil, err
	}

	archiveID := uuid.New().String()
	stagingDir := filepath.Join(s.cfg.CacheRoot, "staging", archiveID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	staged := filepath.Join(stagingDir, "0_"+SafeName(name))

	archive := &models.Archive{
		ID:                archiveID,
		OwnerID:           ownerID,
		FolderID:          folderID,
		Name:              name,
		DisplayName:       name,
		DownloadName:      name,
		Status:            models.StatusProcessing,
		Priority:          models.PriorityDefault,
		ChunkSize:         s.cfg.ChunkSize,
		StagingDir:        stagingDir,
		EncryptionVersion: models.EncryptionChunked,
		Files: []models.ArchiveFile{{
			Idx:          0,
			Name:         SafeName(name),
			OriginalName: name,
			StagingPath:  staged,
		}},
	}
	if err := s.store.CreateArchive(ctx, archive); err != nil {
		os.RemoveAll(stagingDir)
		return nil, err
	}

	size, err := spool(staged, r)
	if err != nil {
		s.abortStream(ctx, archive)
		return nil, fmt.Errorf("spooling stream: %w", err)
	}
	if err := s.store.ReserveQuota(ctx, ownerID, size); err != nil {
		s.abortStream(ctx, archive)
		return nil, err
	}
	if err := s.finishStream(ctx, archive.ID, size); err != nil {
		return nil, err
	}
	return s.store.GetArchive(ctx, archive.ID)
}

func (s *Service) finishStream(ctx context.Context, id string, size int64) error {
	return s.store.DB().WithContext(ctx).Model(&models.Archive{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.StatusQueued,
			"original_size": size,
		}).Error
}

// abortStream removes an archive whose stream never finished. No parts have
// been committed at this point, so the record and its staging tree go away.
func (s *Service) abortStream(ctx context.Context, archive *models.Archive) {
	if err := s.store.DB().WithContext(ctx).
		Where("archive_id = ?", archive.ID).Delete(&models.ArchiveFile{}).Error; err != nil {
		logger.Warn("removing aborted stream files", logger.ArchiveID(archive.ID), logger.Err(err))
	}
	if err := s.store.DB().WithContext(ctx).
		Where("id = ?", archive.ID).Delete(&models.Archive{}).Error; err != nil {
		logger.Warn("removing aborted stream archive", logger.ArchiveID(archive.ID), logger.Err(err))
	}
	os.RemoveAll(archive.StagingDir)
}

// groupInputs partitions a batch: big files alone, the rest greedily packed
// by arrival order under the bundle ceiling. Files from different relative
// paths never share a bundle so their folder assignment stays unambiguous.
func groupInputs(inputs []Input, singleThreshold, bundleMax int64) [][]Input {
	var groups [][]Input
	var current []Input
	var currentSize int64
	currentDir := ""

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
			currentSize = 0
		}
	}

	for _, in := range inputs {
		dir := filepath.Dir(in.RelPath)
		if in.Size >= singleThreshold {
			groups = append(groups, []Input{in})
			continue
		}
		if len(current) > 0 && (dir != currentDir || currentSize+in.Size > bundleMax) {
			flush()
		}
		currentDir = dir
		current = append(current, in)
		currentSize += in.Size
	}
	flush()
	return groups
}

// SafeName flattens a user-supplied filename into a single zip-safe path
// element.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// moveFile renames when possible and falls back to copy-and-remove when
// source and destination live on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

func spool(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

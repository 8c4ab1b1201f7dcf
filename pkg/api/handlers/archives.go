package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/api/middleware"
	"github.com/marmos91/stowfs/pkg/metrics"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/restore"
	"github.com/marmos91/stowfs/pkg/store"
	"github.com/marmos91/stowfs/pkg/vault"
)

// ArchiveHandler exposes the archive lifecycle over HTTP.
type ArchiveHandler struct {
	store   *store.GORMStore
	vault   *vault.Service
	engine  *restore.Engine
	tempDir string
}

// NewArchiveHandler creates an archive handler. tempDir holds incoming
// multipart spool files until the vault moves them into staging.
func NewArchiveHandler(st *store.GORMStore, v *vault.Service, engine *restore.Engine, tempDir string) *ArchiveHandler {
	return &ArchiveHandler{store: st, vault: v, engine: engine, tempDir: tempDir}
}

// Upload accepts a multipart batch of files and queues them as archives.
// Filenames carrying a relative path (directory uploads) have folders
// auto-created for them.
func (h *ArchiveHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	folderID := optionalParam(r, "folder")

	mr, err := r.MultipartReader()
	if err != nil {
		BadRequest(w, "Expected multipart/form-data body")
		return
	}

	spoolDir := filepath.Join(h.tempDir, "incoming", uuid.New().String())
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		InternalServerError(w, "Failed to create spool directory")
		return
	}
	defer os.RemoveAll(spoolDir)

	inputs, err := h.spoolParts(mr, spoolDir)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if len(inputs) == 0 {
		BadRequest(w, "No files in upload")
		return
	}

	ids, err := h.vault.CreateBatch(r.Context(), claims.UserID, folderID, inputs)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"archive_ids": ids})
}

// spoolParts writes each uploaded file to the spool directory and builds
// the vault inputs.
func (h *ArchiveHandler) spoolParts(mr *multipart.Reader, spoolDir string) ([]vault.Input, error) {
	var inputs []vault.Input
	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			return inputs, nil
		}
		if err != nil {
			return nil, errors.New("malformed multipart body")
		}
		if part.FormName() != "files" || part.FileName() == "" {
			part.Close()
			continue
		}
		name := part.FileName()
		spooled := filepath.Join(spoolDir, strconv.Itoa(i))
		size, err := spoolTo(spooled, part)
		part.Close()
		if err != nil {
			return nil, errors.New("failed to read upload")
		}
		in := vault.Input{
			Name: filepath.Base(strings.ReplaceAll(name, "\\", "/")),
			Path: spooled,
			Size: size,
		}
		// Directory uploads send the relative path as the filename.
		if strings.Contains(name, "/") {
			in.RelPath = name
		}
		inputs = append(inputs, in)
	}
}

func spoolTo(path string, r io.Reader) (int64, error) {
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

// UploadStream accepts a single file of unknown length as a raw body.
func (h *ArchiveHandler) UploadStream(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	name := r.URL.Query().Get("name")
	if name == "" {
		BadRequest(w, "Missing name query parameter")
		return
	}
	folderID := optionalParam(r, "folder")

	archive, err := h.vault.CreateStream(r.Context(), claims.UserID, folderID, name, r.Body)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, archive)
}

// List returns the user's archives, optionally scoped to a folder.
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	archives, err := h.vault.List(r.Context(), claims.UserID, optionalParam(r, "folder"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, archives)
}

// Get returns one archive's metadata.
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	archive, err := h.vault.Get(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, archive)
}

// Download streams the whole archive payload, honoring byte ranges on
// single-file archives.
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	archive, err := h.vault.Get(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	ServeArchive(h.engine, w, r, archive)
}

// DownloadEntry streams one file out of a bundle without materializing the
// rest.
func (h *ArchiveHandler) DownloadEntry(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	archive, err := h.vault.Get(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		WriteDomainError(w, models.ErrBadIndex)
		return
	}
	if err := h.engine.ServeBundleEntry(r.Context(), w, archive, idx); err != nil {
		WriteDomainError(w, err)
		return
	}
	metrics.Restores.WithLabelValues("entry").Inc()
	if file, ok := archive.FileByIndex(idx); ok {
		if err := h.store.IncDownloadCount(r.Context(), file.ID); err != nil {
			logger.Warn("bumping download count", logger.ArchiveID(archive.ID), logger.Err(err))
		}
	}
}

// ServeArchive streams archive content with byte-range support. Shared by
// the authenticated download and public share endpoints.
func ServeArchive(engine *restore.Engine, w http.ResponseWriter, r *http.Request, archive *models.Archive) {
	ctx := r.Context()

	if hdr := r.Header.Get("Range"); hdr != "" &&
		!archive.IsBundle &&
		archive.EncryptionVersion == models.EncryptionChunked &&
		archive.Status == models.StatusReady {
		rng, err := restore.ParseRange(hdr, archive.OriginalSize)
		if err != nil {
			restore.WriteUnsatisfiable(w, archive.OriginalSize)
			return
		}
		if rng != nil {
			if err := engine.ServeRange(ctx, w, archive, *rng); err != nil {
				WriteDomainError(w, err)
				return
			}
			metrics.Restores.WithLabelValues("range").Inc()
			return
		}
	}

	if err := engine.ServeWhole(ctx, w, archive); err != nil {
		WriteDomainError(w, err)
		return
	}
	metrics.Restores.WithLabelValues("whole").Inc()
}

// Trash soft-deletes an archive.
func (h *ArchiveHandler) Trash(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.vault.Trash)
}

// Restore brings an archive back from the trash.
func (h *ArchiveHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.vault.RestoreFromTrash)
}

// Purge requests hard deletion of an archive and its remote parts.
func (h *ArchiveHandler) Purge(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.vault.Purge)
}

func (h *ArchiveHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, ownerID, id string) error) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if err := op(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTrash returns the user's trashed archives.
func (h *ArchiveHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	archives, err := h.vault.ListTrash(r.Context(), claims.UserID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, archives)
}

type moveRequest struct {
	FolderID *string `json:"folder_id"`
}

// Move reassigns the archive's folder.
func (h *ArchiveHandler) Move(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	var req moveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.vault.Move(r.Context(), claims.UserID, chi.URLParam(r, "id"), req.FolderID); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename changes the archive's display and download names.
func (h *ArchiveHandler) Rename(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	var req renameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "Name must not be empty")
		return
	}
	if err := h.vault.Rename(r.Context(), claims.UserID, chi.URLParam(r, "id"), req.Name); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameFile renames one entry of a bundle.
func (h *ArchiveHandler) RenameFile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		WriteDomainError(w, models.ErrBadIndex)
		return
	}
	var req renameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "Name must not be empty")
		return
	}
	if err := h.vault.RenameFile(r.Context(), claims.UserID, chi.URLParam(r, "id"), idx, req.Name); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type priorityRequest struct {
	Priority int  `json:"priority"`
	Override bool `json:"override"`
}

// SetPriority pins the archive's upload priority.
func (h *ArchiveHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	var req priorityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Priority < models.PriorityMin || req.Priority > models.PriorityMax {
		BadRequest(w, "Priority out of range")
		return
	}
	if err := h.vault.SetPriority(r.Context(), claims.UserID, chi.URLParam(r, "id"), req.Priority, req.Override); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// optionalParam reads a query parameter, returning nil when absent.
func optionalParam(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}

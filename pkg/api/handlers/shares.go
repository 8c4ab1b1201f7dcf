package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/stowfs/pkg/api/middleware"
	"github.com/marmos91/stowfs/pkg/metrics"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/restore"
	"github.com/marmos91/stowfs/pkg/store"
)

// ShareHandler manages public download links.
type ShareHandler struct {
	store  *store.GORMStore
	engine *restore.Engine
}

// NewShareHandler creates a share handler.
func NewShareHandler(st *store.GORMStore, engine *restore.Engine) *ShareHandler {
	return &ShareHandler{store: st, engine: engine}
}

type createShareRequest struct {
	ArchiveID *string    `json:"archive_id"`
	FolderID  *string    `json:"folder_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Create mints a share token for an archive or a folder the caller owns.
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	var req createShareRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if (req.ArchiveID == nil) == (req.FolderID == nil) {
		BadRequest(w, "Exactly one of archive_id or folder_id is required")
		return
	}
	if req.ArchiveID != nil {
		if _, err := h.store.GetOwnedArchive(r.Context(), claims.UserID, *req.ArchiveID); err != nil {
			WriteDomainError(w, err)
			return
		}
	}
	if req.FolderID != nil {
		if _, err := h.store.GetFolder(r.Context(), claims.UserID, *req.FolderID); err != nil {
			WriteDomainError(w, err)
			return
		}
	}
	share := &models.Share{
		OwnerID:   claims.UserID,
		ArchiveID: req.ArchiveID,
		FolderID:  req.FolderID,
		ExpiresAt: req.ExpiresAt,
	}
	if _, err := h.store.CreateShare(r.Context(), share); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, share)
}

// List returns the caller's shares.
func (h *ShareHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	shares, err := h.store.ListShares(r.Context(), claims.UserID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, shares)
}

// Delete revokes a share.
func (h *ShareHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if err := h.store.DeleteShare(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve serves a shared archive to an unauthenticated caller. Folder
// shares return the folder's archive listing.
func (h *ShareHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	share, err := h.store.ResolveShare(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	if share.ArchiveID != nil {
		archive, err := h.store.GetOwnedArchive(r.Context(), share.OwnerID, *share.ArchiveID)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		ServeArchive(h.engine, w, r, archive)
		return
	}

	archives, err := h.store.ListArchives(r.Context(), share.OwnerID, share.FolderID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	metrics.Restores.WithLabelValues("share_listing").Inc()
	WriteJSON(w, http.StatusOK, archives)
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/stowfs/pkg/api/middleware"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/store"
)

// FolderHandler exposes folder management.
type FolderHandler struct {
	store *store.GORMStore
}

// NewFolderHandler creates a folder handler.
func NewFolderHandler(st *store.GORMStore) *FolderHandler {
	return &FolderHandler{store: st}
}

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

// Create makes a new folder under the optional parent.
func (h *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	var req createFolderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "Name must not be empty")
		return
	}
	folder := &models.Folder{
		OwnerID:  claims.UserID,
		ParentID: req.ParentID,
		Name:     req.Name,
		Priority: models.PriorityDefault,
	}
	id, err := h.store.CreateFolder(r.Context(), folder)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	folder.ID = id
	WriteJSON(w, http.StatusCreated, folder)
}

// List returns the user's folders under the optional parent.
func (h *FolderHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	folders, err := h.store.ListFolders(r.Context(), claims.UserID, optionalParam(r, "parent"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, folders)
}

// Get returns one folder.
func (h *FolderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	folder, err := h.store.GetFolder(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, folder)
}

// Rename changes the folder name.
func (h *FolderHandler) Rename(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	var req renameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "Name must not be empty")
		return
	}
	if err := h.store.RenameFolder(r.Context(), claims.UserID, chi.URLParam(r, "id"), req.Name); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes an empty folder.
func (h *FolderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if err := h.store.DeleteFolder(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPriority sets the folder priority and propagates it to contained
// archives without a priority override.
func (h *FolderHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	var req priorityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Priority < models.PriorityMin || req.Priority > models.PriorityMax {
		BadRequest(w, "Priority out of range")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.SetFolderPriority(r.Context(), claims.UserID, id, req.Priority); err != nil {
		WriteDomainError(w, err)
		return
	}
	if err := h.store.PropagateFolderPriority(r.Context(), claims.UserID, id, req.Priority); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/store"
)

// UserHandler manages user accounts. Admin only.
type UserHandler struct {
	store *store.GORMStore
}

// NewUserHandler creates a user handler.
func NewUserHandler(st *store.GORMStore) *UserHandler {
	return &UserHandler{store: st}
}

type createUserRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	QuotaBytes int64  `json:"quota_bytes"`
}

// Create adds a user account.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		BadRequest(w, "Username must not be empty")
		return
	}
	if len(req.Password) < 8 {
		BadRequest(w, "Password must be at least 8 characters")
		return
	}
	if req.Role == "" {
		req.Role = string(models.RoleUser)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}
	user := &models.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         req.Role,
		Enabled:      true,
		QuotaBytes:   req.QuotaBytes,
	}
	if _, err := h.store.CreateUser(r.Context(), user); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, user)
}

// List returns all users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, users)
}

// Get returns one user by username.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

type updateUserRequest struct {
	Role       *string `json:"role"`
	Enabled    *bool   `json:"enabled"`
	QuotaBytes *int64  `json:"quota_bytes"`
	Password   *string `json:"password"`
}

// Update patches role, enablement, quota, or password.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	var req updateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.Enabled != nil {
		user.Enabled = *req.Enabled
	}
	if req.QuotaBytes != nil {
		user.QuotaBytes = *req.QuotaBytes
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			BadRequest(w, "Password must be at least 8 characters")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			InternalServerError(w, "Failed to hash password")
			return
		}
		user.PasswordHash = string(hash)
	}
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

// Delete removes a user account.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteUser(r.Context(), chi.URLParam(r, "username")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

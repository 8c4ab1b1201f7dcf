package handlers

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/api/auth"
	"github.com/marmos91/stowfs/pkg/api/middleware"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/store"
)

// AuthHandler handles login and identity endpoints.
type AuthHandler struct {
	store *store.GORMStore
	jwt   *auth.Service
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(st *store.GORMStore, jwt *auth.Service) *AuthHandler {
	return &AuthHandler{store: st, jwt: jwt}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a user and issues a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.GetUser(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			Unauthorized(w, "Invalid credentials")
			return
		}
		InternalServerError(w, "Failed to look up user")
		return
	}
	if !user.Enabled {
		Forbidden(w, "Account disabled")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		logger.Warn("failed login attempt", "username", req.Username)
		Unauthorized(w, "Invalid credentials")
		return
	}

	token, err := h.jwt.GenerateToken(user)
	if err != nil {
		InternalServerError(w, "Failed to issue token")
		return
	}
	if err := h.store.TouchLastLogin(r.Context(), user.ID); err != nil {
		logger.Warn("updating last login", logger.UserID(user.ID), logger.Err(err))
	}
	WriteJSON(w, http.StatusOK, token)
}

// Me returns the authenticated user's account, including quota usage.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}
	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			Unauthorized(w, "User no longer exists")
			return
		}
		InternalServerError(w, "Failed to look up user")
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangeOwnPassword lets the authenticated user rotate their password.
func (h *AuthHandler) ChangeOwnPassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}
	var req changePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.NewPassword) < 8 {
		BadRequest(w, "Password must be at least 8 characters")
		return
	}
	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		InternalServerError(w, "Failed to look up user")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		Unauthorized(w, "Current password is incorrect")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}
	if err := h.store.SetPasswordHash(r.Context(), user.ID, string(hash)); err != nil {
		InternalServerError(w, "Failed to update password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

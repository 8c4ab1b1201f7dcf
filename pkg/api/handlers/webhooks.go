package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/store"
)

// WebhookHandler manages storage provider handles. Admin only.
type WebhookHandler struct {
	store *store.GORMStore
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(st *store.GORMStore) *WebhookHandler {
	return &WebhookHandler{store: st}
}

type createWebhookRequest struct {
	Kind   models.ProviderKind `json:"kind"`
	Name   string              `json:"name"`
	URL    string              `json:"url"`
	Token  string              `json:"token"`
	ChatID string              `json:"chat_id"`
}

// Create registers a provider handle.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	switch req.Kind {
	case models.ProviderWebhook:
		if req.URL == "" {
			BadRequest(w, "Webhook handles require a url")
			return
		}
	case models.ProviderBot:
		if req.Token == "" || req.ChatID == "" {
			BadRequest(w, "Bot handles require token and chat_id")
			return
		}
	default:
		BadRequest(w, "Unknown provider kind")
		return
	}
	handle := &models.Webhook{
		Kind:    req.Kind,
		Name:    req.Name,
		URL:     req.URL,
		Token:   req.Token,
		ChatID:  req.ChatID,
		Enabled: true,
	}
	if _, err := h.store.CreateWebhook(r.Context(), handle); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, handle)
}

// List returns all provider handles.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	handles, err := h.store.ListWebhooks(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, handles)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabled toggles a handle. Disabled handles take no new uploads but
// stay resolvable for reads of parts already placed on them.
func (h *WebhookHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req setEnabledRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.store.SetWebhookEnabled(r.Context(), chi.URLParam(r, "id"), req.Enabled); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a provider handle. Parts placed through it become
// unreadable unless mirrored, so this is admin-gated and explicit.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

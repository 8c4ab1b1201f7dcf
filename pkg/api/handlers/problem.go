// Package handlers provides HTTP handlers for the stowfs API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/restore"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	problem := &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized writes a 401 Unauthorized problem response.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden writes a 403 Forbidden problem response.
func Forbidden(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusForbidden, "Forbidden", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 Conflict problem response.
func Conflict(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusConflict, "Conflict", detail)
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteDomainError maps domain sentinel errors onto problem responses.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrArchiveNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrFolderNotFound),
		errors.Is(err, models.ErrShareNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrHandleNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, models.ErrQuotaExceeded):
		WriteProblem(w, http.StatusRequestEntityTooLarge, "Quota Exceeded", err.Error())
	case errors.Is(err, models.ErrDiskFull):
		WriteProblem(w, http.StatusInsufficientStorage, "Insufficient Storage", err.Error())
	case errors.Is(err, models.ErrNotReady):
		Conflict(w, "archive is still uploading")
	case errors.Is(err, models.ErrForbidden):
		Forbidden(w, err.Error())
	case errors.Is(err, models.ErrBadIndex):
		BadRequest(w, err.Error())
	case errors.Is(err, models.ErrDuplicateUser),
		errors.Is(err, models.ErrDuplicateFolder):
		Conflict(w, err.Error())
	case errors.Is(err, models.ErrNoProvider):
		InternalServerError(w, "no storage provider configured")
	case errors.Is(err, restore.ErrRestoreFailed):
		InternalServerError(w, "restore failed: "+err.Error())
	default:
		InternalServerError(w, err.Error())
	}
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

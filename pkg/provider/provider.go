// Package provider implements the remote part sinks. Two families exist:
// the webhook family posts parts as bulk attachments through an inbound
// webhook URL, the bot family posts them as documents through a messaging
// bot API. Both yield a direct download URL that can expire and be
// refreshed from the stored message reference.
package provider

import (
	"context"
	"fmt"

	"github.com/marmos91/stowfs/pkg/models"
)

// UploadResult is the remote location of a freshly uploaded part.
type UploadResult struct {
	URL       string
	MessageID string
	HandleID  string
	ChannelID string
	FileID    string
	ChatID    string
}

// Placement converts the result into a part placement record.
func (r *UploadResult) Placement(kind models.ProviderKind, mirror bool) models.Placement {
	return models.Placement{
		Provider:  kind,
		URL:       r.URL,
		MessageID: r.MessageID,
		WebhookID: r.HandleID,
		ChannelID: r.ChannelID,
		FileID:    r.FileID,
		ChatID:    r.ChatID,
		Mirror:    mirror,
	}
}

// Provider is one configured remote sink.
type Provider interface {
	// Kind reports the provider family.
	Kind() models.ProviderKind
	// HandleID is the database ID of the backing credential handle.
	HandleID() string
	// MaxPartSize is the largest attachment the remote accepts, in bytes.
	MaxPartSize() int64
	// Upload stores one ciphertext part as an attachment named name.
	Upload(ctx context.Context, name string, data []byte) (*UploadResult, error)
	// RefreshURL re-resolves a fresh download URL for an existing placement.
	RefreshURL(ctx context.Context, placement models.Placement) (string, error)
	// Delete removes the remote message holding the part. A placement that
	// is already gone is not an error.
	Delete(ctx context.Context, placement models.Placement) error
}

// StatusError is a non-2xx provider response after retries were exhausted.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.Code)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if ok := asStatusError(err, &se); ok {
		return se.Code
	}
	return 0
}

// IsStale reports whether err indicates an expired or revoked download URL,
// the condition the restore path heals by refreshing the placement.
func IsStale(err error) bool {
	switch StatusCode(err) {
	case 401, 403, 404:
		return true
	}
	return false
}

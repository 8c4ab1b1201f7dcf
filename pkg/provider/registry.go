package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/marmos91/stowfs/pkg/models"
)

// HandleSource supplies credential handles. Satisfied by store.GORMStore.
type HandleSource interface {
	ListEnabledWebhooks(ctx context.Context, kind models.ProviderKind) ([]*models.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
}

// Pool is the provider surface the workers depend on. Tests substitute a
// fake; production uses Registry.
type Pool interface {
	Primary(ctx context.Context, idx int) (Provider, error)
	Mirror(ctx context.Context, primary models.ProviderKind, idx int) (Provider, error)
	ByPlacement(ctx context.Context, placement models.Placement) (Provider, error)
	Kinds(ctx context.Context) ([]models.ProviderKind, error)
	Slots(ctx context.Context) (int, error)
	MaxPartSize(ctx context.Context) (int64, error)
	MirroredUpload(ctx context.Context, idx int, name string, data []byte) (*MirroredResult, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Registry resolves handles from the store on demand, so newly added or
// disabled handles take effect without a restart. Handle ordering is by
// creation time, which keeps the index-to-handle mapping stable.
type Registry struct {
	handles HandleSource
	client  *retryablehttp.Client
}

// NewRegistry builds a registry over the given handle source.
func NewRegistry(handles HandleSource, client *retryablehttp.Client) *Registry {
	return &Registry{handles: handles, client: client}
}

func (r *Registry) build(handle *models.Webhook) Provider {
	if handle.Kind == models.ProviderBot {
		return NewBot(handle, r.client)
	}
	return NewWebhook(handle, r.client)
}

// Primary selects the primary sink for part idx: webhook handle idx mod n
// when any webhook handle is enabled, otherwise a bot handle, otherwise
// ErrNoProvider.
func (r *Registry) Primary(ctx context.Context, idx int) (Provider, error) {
	for _, kind := range []models.ProviderKind{models.ProviderWebhook, models.ProviderBot} {
		handles, err := r.handles.ListEnabledWebhooks(ctx, kind)
		if err != nil {
			return nil, err
		}
		if len(handles) > 0 {
			return r.build(handles[idx%len(handles)]), nil
		}
	}
	return nil, models.ErrNoProvider
}

// Mirror selects a sink from the family opposite the primary's, or
// ErrNoProvider when that family has no enabled handle.
func (r *Registry) Mirror(ctx context.Context, primary models.ProviderKind, idx int) (Provider, error) {
	handles, err := r.handles.ListEnabledWebhooks(ctx, primary.Other())
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, models.ErrNoProvider
	}
	return r.build(handles[idx%len(handles)]), nil
}

// ByPlacement resolves the provider that owns an existing placement. The
// original handle is used even when disabled; a deleted handle falls back
// to any enabled handle of the same family.
func (r *Registry) ByPlacement(ctx context.Context, placement models.Placement) (Provider, error) {
	if placement.WebhookID != "" {
		handle, err := r.handles.GetWebhook(ctx, placement.WebhookID)
		if err == nil {
			return r.build(handle), nil
		}
		if !errors.Is(err, models.ErrHandleNotFound) {
			return nil, err
		}
	}
	handles, err := r.handles.ListEnabledWebhooks(ctx, placement.Provider)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, models.ErrNoProvider
	}
	return r.build(handles[0]), nil
}

// Kinds lists the families that currently have at least one enabled handle.
func (r *Registry) Kinds(ctx context.Context) ([]models.ProviderKind, error) {
	var kinds []models.ProviderKind
	for _, kind := range []models.ProviderKind{models.ProviderWebhook, models.ProviderBot} {
		handles, err := r.handles.ListEnabledWebhooks(ctx, kind)
		if err != nil {
			return nil, err
		}
		if len(handles) > 0 {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// Slots is the number of enabled handles across both families, bounding
// useful per-archive upload parallelism.
func (r *Registry) Slots(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range []models.ProviderKind{models.ProviderWebhook, models.ProviderBot} {
		handles, err := r.handles.ListEnabledWebhooks(ctx, kind)
		if err != nil {
			return 0, err
		}
		total += len(handles)
	}
	return total, nil
}

// MaxPartSize is the tightest attachment cap across the enabled families.
// Mirrored parts must fit both families.
func (r *Registry) MaxPartSize(ctx context.Context) (int64, error) {
	kinds, err := r.Kinds(ctx)
	if err != nil {
		return 0, err
	}
	if len(kinds) == 0 {
		return 0, models.ErrNoProvider
	}
	limit := int64(0)
	for _, kind := range kinds {
		familyCap := int64(botMaxAttachment)
		if kind == models.ProviderWebhook {
			familyCap = webhookMaxAttachment
		}
		if limit == 0 || familyCap < limit {
			limit = familyCap
		}
	}
	return limit, nil
}

// MirroredResult is the outcome of a two-family part upload.
type MirroredResult struct {
	Primary       models.Placement
	Mirror        *models.Placement
	MirrorPending bool
	MirrorError   string
}

// MirroredUpload stores one part on both families in parallel. The selected
// family's copy is the primary; when it fails but the other family
// succeeds, the surviving copy is promoted to primary and the failed family
// is left owing a mirror. The upload as a whole fails only when no copy
// landed anywhere.
func (r *Registry) MirroredUpload(ctx context.Context, idx int, name string, data []byte) (*MirroredResult, error) {
	selected, err := r.Primary(ctx, idx)
	if err != nil {
		return nil, err
	}
	other, err := r.Mirror(ctx, selected.Kind(), idx)
	if err != nil && !errors.Is(err, models.ErrNoProvider) {
		return nil, err
	}

	if other == nil {
		res, err := selected.Upload(ctx, name, data)
		if err != nil {
			return nil, fmt.Errorf("uploading to %s: %w", selected.Kind(), err)
		}
		return &MirroredResult{Primary: res.Placement(selected.Kind(), false)}, nil
	}

	var (
		wg               sync.WaitGroup
		selRes, otherRes *UploadResult
		selErr, otherErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		selRes, selErr = selected.Upload(ctx, name, data)
	}()
	go func() {
		defer wg.Done()
		otherRes, otherErr = other.Upload(ctx, name, data)
	}()
	wg.Wait()

	switch {
	case selErr == nil && otherErr == nil:
		mirror := otherRes.Placement(other.Kind(), true)
		return &MirroredResult{
			Primary: selRes.Placement(selected.Kind(), false),
			Mirror:  &mirror,
		}, nil
	case selErr == nil:
		return &MirroredResult{
			Primary:       selRes.Placement(selected.Kind(), false),
			MirrorPending: true,
			MirrorError:   otherErr.Error(),
		}, nil
	case otherErr == nil:
		// The surviving copy becomes the primary.
		return &MirroredResult{
			Primary:       otherRes.Placement(other.Kind(), false),
			MirrorPending: true,
			MirrorError:   selErr.Error(),
		}, nil
	default:
		return nil, fmt.Errorf("uploading to %s: %w", selected.Kind(), selErr)
	}
}

// Fetch downloads a part blob. Non-2xx responses surface as StatusError so
// callers can distinguish stale URLs from transient failures.
func (r *Registry) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: bodySnippet(resp.Body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading part body: %w", err)
	}
	return body, nil
}

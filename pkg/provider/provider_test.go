package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/stowfs/pkg/models"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1500 * time.Millisecond},
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
		{4, 15 * time.Second},
		{10, 15 * time.Second},
	}
	for _, tc := range cases {
		got := backoff(retryBase, retryCap, tc.attempt, nil)
		if got != tc.want {
			t.Errorf("backoff(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"4"}}}
	if got := backoff(retryBase, retryCap, 0, resp); got != 4*time.Second {
		t.Errorf("Retry-After hint ignored: got %v", got)
	}

	// A hint beyond the cap is clamped.
	resp.Header.Set("Retry-After", "120")
	if got := backoff(retryBase, retryCap, 0, resp); got != retryCap {
		t.Errorf("Retry-After above cap: got %v, want %v", got, retryCap)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttled", &StatusError{Code: 429}, true},
		{"server error", &StatusError{Code: 503}, true},
		{"bad request", &StatusError{Code: 400}, false},
		{"forbidden", &StatusError{Code: 403}, false},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"timed out", fmt.Errorf("dial: %w", syscall.ETIMEDOUT), true},
		{"dns", errors.New("lookup cdn.example: no such host"), true},
		{"resolver backoff", errors.New("getaddrinfo EAI_AGAIN"), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsStale(t *testing.T) {
	for _, code := range []int{401, 403, 404} {
		if !IsStale(&StatusError{Code: code}) {
			t.Errorf("status %d should read as stale", code)
		}
	}
	if IsStale(&StatusError{Code: 500}) || IsStale(errors.New("boom")) {
		t.Error("non-auth failures must not read as stale")
	}
}

func webhookServer(t *testing.T, blobHost string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hook", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "true" {
			t.Error("upload must ask for the message record")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "msg-1",
			"channel_id": "chan-1",
			"attachments": []map[string]any{
				{"url": blobHost + "/blob/msg-1"},
			},
		})
	})
	mux.HandleFunc("GET /hook/messages/msg-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "msg-1",
			"channel_id": "chan-1",
			"attachments": []map[string]any{
				{"url": blobHost + "/blob/msg-1?refreshed=1"},
			},
		})
	})
	mux.HandleFunc("DELETE /hook/messages/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebhookProvider_RoundTrip(t *testing.T) {
	srv := webhookServer(t, "https://cdn.example")
	handle := &models.Webhook{ID: "h1", Kind: models.ProviderWebhook, URL: srv.URL + "/hook"}
	p := NewWebhook(handle, NewHTTPClient(0))
	ctx := context.Background()

	res, err := p.Upload(ctx, "part_0.bin", []byte("ciphertext"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.MessageID != "msg-1" || res.ChannelID != "chan-1" || res.HandleID != "h1" {
		t.Errorf("unexpected upload result: %+v", res)
	}
	if res.URL != "https://cdn.example/blob/msg-1" {
		t.Errorf("unexpected blob URL: %s", res.URL)
	}

	fresh, err := p.RefreshURL(ctx, res.Placement(models.ProviderWebhook, false))
	if err != nil {
		t.Fatalf("RefreshURL failed: %v", err)
	}
	if fresh != "https://cdn.example/blob/msg-1?refreshed=1" {
		t.Errorf("unexpected refreshed URL: %s", fresh)
	}

	// Deleting an already-gone message is not an error.
	if err := p.Delete(ctx, res.Placement(models.ProviderWebhook, false)); err != nil {
		t.Errorf("Delete of missing message: %v", err)
	}
}

func botServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /botTOKEN/sendDocument", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			t.Errorf("bad multipart: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "chat-9" {
			t.Errorf("chat_id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 77,
				"document":   map[string]any{"file_id": "FILE9"},
			},
		})
	})
	mux.HandleFunc("GET /botTOKEN/getFile", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("file_id") != "FILE9" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "file not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"file_path": "documents/part.bin"},
		})
	})
	mux.HandleFunc("POST /botTOKEN/deleteMessage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "message to delete not found"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBotProvider_RoundTrip(t *testing.T) {
	srv := botServer(t)
	handle := &models.Webhook{ID: "h2", Kind: models.ProviderBot, URL: srv.URL, Token: "TOKEN", ChatID: "chat-9"}
	p := NewBot(handle, NewHTTPClient(0))
	ctx := context.Background()

	res, err := p.Upload(ctx, "part_0.bin", []byte("ciphertext"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.MessageID != "77" || res.FileID != "FILE9" || res.ChatID != "chat-9" {
		t.Errorf("unexpected upload result: %+v", res)
	}
	want := srv.URL + "/file/botTOKEN/documents/part.bin"
	if res.URL != want {
		t.Errorf("URL = %s, want %s", res.URL, want)
	}

	fresh, err := p.RefreshURL(ctx, res.Placement(models.ProviderBot, false))
	if err != nil {
		t.Fatalf("RefreshURL failed: %v", err)
	}
	if fresh != want {
		t.Errorf("refreshed URL = %s", fresh)
	}

	if err := p.Delete(ctx, res.Placement(models.ProviderBot, false)); err != nil {
		t.Errorf("Delete of missing message: %v", err)
	}
}

type fakeHandles struct {
	webhooks []*models.Webhook
	bots     []*models.Webhook
}

func (f *fakeHandles) ListEnabledWebhooks(_ context.Context, kind models.ProviderKind) ([]*models.Webhook, error) {
	if kind == models.ProviderBot {
		return f.bots, nil
	}
	return f.webhooks, nil
}

func (f *fakeHandles) GetWebhook(_ context.Context, id string) (*models.Webhook, error) {
	for _, h := range append(append([]*models.Webhook{}, f.webhooks...), f.bots...) {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, models.ErrHandleNotFound
}

func TestRegistryPrimarySelection(t *testing.T) {
	ctx := context.Background()
	handles := &fakeHandles{
		webhooks: []*models.Webhook{
			{ID: "w0", Kind: models.ProviderWebhook},
			{ID: "w1", Kind: models.ProviderWebhook},
		},
		bots: []*models.Webhook{{ID: "b0", Kind: models.ProviderBot, Token: "T"}},
	}
	r := NewRegistry(handles, NewHTTPClient(0))

	// Webhook handles take priority, rotated by part index.
	for idx, want := range []string{"w0", "w1", "w0", "w1"} {
		p, err := r.Primary(ctx, idx)
		if err != nil {
			t.Fatalf("Primary(%d): %v", idx, err)
		}
		if p.HandleID() != want {
			t.Errorf("Primary(%d) = %s, want %s", idx, p.HandleID(), want)
		}
	}

	// Without webhook handles the bot family serves primaries.
	handles.webhooks = nil
	p, err := r.Primary(ctx, 3)
	if err != nil {
		t.Fatalf("Primary: %v", err)
	}
	if p.Kind() != models.ProviderBot {
		t.Errorf("expected bot primary, got %s", p.Kind())
	}

	// No handles at all.
	handles.bots = nil
	if _, err := r.Primary(ctx, 0); !errors.Is(err, models.ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

func TestRegistryMirrorIsOtherFamily(t *testing.T) {
	ctx := context.Background()
	handles := &fakeHandles{
		webhooks: []*models.Webhook{{ID: "w0", Kind: models.ProviderWebhook}},
		bots:     []*models.Webhook{{ID: "b0", Kind: models.ProviderBot, Token: "T"}},
	}
	r := NewRegistry(handles, NewHTTPClient(0))

	m, err := r.Mirror(ctx, models.ProviderWebhook, 0)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if m.Kind() != models.ProviderBot {
		t.Errorf("mirror of webhook should be bot, got %s", m.Kind())
	}

	handles.bots = nil
	if _, err := r.Mirror(ctx, models.ProviderWebhook, 0); !errors.Is(err, models.ErrNoProvider) {
		t.Errorf("single family should yield ErrNoProvider, got %v", err)
	}
}

func TestMirroredUpload_PromotesSurvivor(t *testing.T) {
	ctx := context.Background()

	// The webhook sink fails terminally; the bot copy must become primary.
	var webhookHits atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookHits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer failing.Close()
	bot := botServer(t)

	handles := &fakeHandles{
		webhooks: []*models.Webhook{{ID: "w0", Kind: models.ProviderWebhook, URL: failing.URL}},
		bots:     []*models.Webhook{{ID: "b0", Kind: models.ProviderBot, URL: bot.URL, Token: "TOKEN", ChatID: "chat-9"}},
	}
	r := NewRegistry(handles, NewHTTPClient(0))

	res, err := r.MirroredUpload(ctx, 0, "part_0.bin", []byte("ciphertext"))
	if err != nil {
		t.Fatalf("MirroredUpload: %v", err)
	}
	if res.Primary.Provider != models.ProviderBot {
		t.Errorf("survivor not promoted: primary is %s", res.Primary.Provider)
	}
	if !res.MirrorPending || res.MirrorError == "" {
		t.Errorf("failed family should leave a pending mirror, got %+v", res)
	}
	if res.Mirror != nil {
		t.Error("no mirror placement should be recorded on failure")
	}
	if webhookHits.Load() == 0 {
		t.Error("webhook sink was never attempted")
	}
}

func TestMirroredUpload_BothFamilies(t *testing.T) {
	ctx := context.Background()
	bot := botServer(t)
	hook := webhookServer(t, "https://cdn.example")

	handles := &fakeHandles{
		webhooks: []*models.Webhook{{ID: "w0", Kind: models.ProviderWebhook, URL: hook.URL + "/hook"}},
		bots:     []*models.Webhook{{ID: "b0", Kind: models.ProviderBot, URL: bot.URL, Token: "TOKEN", ChatID: "chat-9"}},
	}
	r := NewRegistry(handles, NewHTTPClient(0))

	res, err := r.MirroredUpload(ctx, 0, "part_0.bin", []byte("ciphertext"))
	if err != nil {
		t.Fatalf("MirroredUpload: %v", err)
	}
	if res.Primary.Provider != models.ProviderWebhook {
		t.Errorf("primary should be the selected webhook family, got %s", res.Primary.Provider)
	}
	if res.Mirror == nil || res.Mirror.Provider != models.ProviderBot {
		t.Fatalf("mirror placement missing: %+v", res)
	}
	if !res.Mirror.Mirror {
		t.Error("mirror placement must be flagged as mirror")
	}
	if res.MirrorPending {
		t.Error("successful mirror must not be pending")
	}
}

func TestRegistryMaxPartSize(t *testing.T) {
	ctx := context.Background()
	handles := &fakeHandles{
		webhooks: []*models.Webhook{{ID: "w0", Kind: models.ProviderWebhook}},
		bots:     []*models.Webhook{{ID: "b0", Kind: models.ProviderBot, Token: "T"}},
	}
	r := NewRegistry(handles, NewHTTPClient(0))

	limit, err := r.MaxPartSize(ctx)
	if err != nil {
		t.Fatalf("MaxPartSize: %v", err)
	}
	if limit != webhookMaxAttachment {
		t.Errorf("mirrored parts must fit the tighter family: got %d", limit)
	}

	handles.webhooks = nil
	limit, err = r.MaxPartSize(ctx)
	if err != nil {
		t.Fatalf("MaxPartSize: %v", err)
	}
	if limit != botMaxAttachment {
		t.Errorf("bot-only limit: got %d", limit)
	}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/marmos91/stowfs/pkg/models"
)

// botMaxAttachment is the bot API per-document cap.
const botMaxAttachment = 50 << 20

// defaultBotAPIBase is used when the handle does not override the API host.
const defaultBotAPIBase = "https://api.telegram.org"

// BotProvider posts parts as documents through a messaging bot API. Download
// URLs come from a second call that resolves the stored file handle to a
// path on the API's file host; that path expires and is re-resolved on
// demand.
type BotProvider struct {
	handle  *models.Webhook
	client  *retryablehttp.Client
	apiBase string
}

// NewBot wraps one bot-family credential handle. The handle's URL field,
// when set, overrides the API base host.
func NewBot(handle *models.Webhook, client *retryablehttp.Client) *BotProvider {
	base := handle.URL
	if base == "" {
		base = defaultBotAPIBase
	}
	return &BotProvider{handle: handle, client: client, apiBase: base}
}

func (p *BotProvider) Kind() models.ProviderKind { return models.ProviderBot }
func (p *BotProvider) HandleID() string          { return p.handle.ID }
func (p *BotProvider) MaxPartSize() int64        { return botMaxAttachment }

func (p *BotProvider) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", p.apiBase, p.handle.Token, name)
}

type botResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type botMessage struct {
	MessageID int64 `json:"message_id"`
	Document  struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

type botFile struct {
	FilePath string `json:"file_path"`
}

// Upload sends data as a document and resolves its direct download URL.
func (p *BotProvider) Upload(ctx context.Context, name string, data []byte) (*UploadResult, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("chat_id", p.handle.ChatID); err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	fw, err := form.CreateFormFile("document", name)
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.method("sendDocument"), body.Bytes())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var msg botMessage
	if err := p.call(req, &msg); err != nil {
		return nil, err
	}
	if msg.Document.FileID == "" {
		return nil, fmt.Errorf("bot response for %q carries no document", name)
	}

	blobURL, err := p.resolveFileURL(ctx, msg.Document.FileID)
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		URL:       blobURL,
		MessageID: strconv.FormatInt(msg.MessageID, 10),
		HandleID:  p.handle.ID,
		FileID:    msg.Document.FileID,
		ChatID:    p.handle.ChatID,
	}, nil
}

// RefreshURL re-resolves the file handle into a fresh download URL.
func (p *BotProvider) RefreshURL(ctx context.Context, placement models.Placement) (string, error) {
	return p.resolveFileURL(ctx, placement.FileID)
}

// Delete removes the message carrying the document. Messages the remote no
// longer knows about count as deleted.
func (p *BotProvider) Delete(ctx context.Context, placement models.Placement) error {
	chatID := placement.ChatID
	if chatID == "" {
		chatID = p.handle.ChatID
	}
	form := url.Values{
		"chat_id":    {chatID},
		"message_id": {placement.MessageID},
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		p.method("deleteMessage"), []byte(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	err = p.call(req, nil)
	if IsStale(err) || StatusCode(err) == http.StatusBadRequest {
		return nil
	}
	return err
}

func (p *BotProvider) resolveFileURL(ctx context.Context, fileID string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		p.method("getFile")+"?file_id="+url.QueryEscape(fileID), nil)
	if err != nil {
		return "", err
	}
	var file botFile
	if err := p.call(req, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("bot did not resolve file %s", fileID)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", p.apiBase, p.handle.Token, file.FilePath), nil
}

// call executes the request and unwraps the bot API envelope. API-level
// failures (ok=false) surface as StatusError with the envelope's error code
// so the transient/stale classification applies uniformly.
func (p *BotProvider) call(req *retryablehttp.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope botResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Code: resp.StatusCode}
		}
		return fmt.Errorf("decoding bot response: %w", err)
	}
	if !envelope.OK {
		code := envelope.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &StatusError{Code: code, Body: envelope.Description}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decoding bot result: %w", err)
		}
	}
	return nil
}

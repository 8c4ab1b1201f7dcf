package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/marmos91/stowfs/pkg/models"
)

// webhookMaxAttachment is the bulk-webhook per-attachment cap.
const webhookMaxAttachment = 10 << 20

// WebhookProvider posts parts through an inbound webhook URL. The remote
// answers with a message record whose first attachment carries the blob URL.
type WebhookProvider struct {
	handle *models.Webhook
	client *retryablehttp.Client
}

// NewWebhook wraps one webhook-family credential handle.
func NewWebhook(handle *models.Webhook, client *retryablehttp.Client) *WebhookProvider {
	return &WebhookProvider{handle: handle, client: client}
}

func (p *WebhookProvider) Kind() models.ProviderKind { return models.ProviderWebhook }
func (p *WebhookProvider) HandleID() string          { return p.handle.ID }
func (p *WebhookProvider) MaxPartSize() int64        { return webhookMaxAttachment }

type webhookMessage struct {
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	Attachments []struct {
		URL string `json:"url"`
	} `json:"attachments"`
}

// Upload posts data as a single attachment and waits for the message record.
func (p *WebhookProvider) Upload(ctx context.Context, name string, data []byte) (*UploadResult, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fw, err := form.CreateFormFile("files[0]", name)
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.handle.URL+"?wait=true", body.Bytes())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var msg webhookMessage
	if err := p.doJSON(req, &msg); err != nil {
		return nil, err
	}
	if len(msg.Attachments) == 0 {
		return nil, fmt.Errorf("webhook response for %q carries no attachment", name)
	}
	return &UploadResult{
		URL:       msg.Attachments[0].URL,
		MessageID: msg.ID,
		HandleID:  p.handle.ID,
		ChannelID: msg.ChannelID,
	}, nil
}

// RefreshURL re-reads the message through the webhook and returns the
// attachment URL the remote currently signs.
func (p *WebhookProvider) RefreshURL(ctx context.Context, placement models.Placement) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		p.handle.URL+"/messages/"+placement.MessageID, nil)
	if err != nil {
		return "", err
	}
	var msg webhookMessage
	if err := p.doJSON(req, &msg); err != nil {
		return "", err
	}
	if len(msg.Attachments) == 0 {
		return "", fmt.Errorf("message %s carries no attachment", placement.MessageID)
	}
	return msg.Attachments[0].URL, nil
}

// Delete removes the message. A message already gone counts as deleted.
func (p *WebhookProvider) Delete(ctx context.Context, placement models.Placement) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete,
		p.handle.URL+"/messages/"+placement.MessageID, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: bodySnippet(resp.Body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *WebhookProvider) doJSON(req *retryablehttp.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: bodySnippet(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding webhook response: %w", err)
	}
	return nil
}

func bodySnippet(r io.Reader) string {
	snippet, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(bytes.TrimSpace(snippet))
}

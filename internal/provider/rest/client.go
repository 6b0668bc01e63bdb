package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/provider"
)

var _ provider.Transcriber = (*Client)(nil)

// Client talks to the transcription provider's REST API. Media is submitted
// by URL via a multipart POST; status is read back as JSON.
type Client struct {
	baseURL       string
	bearerToken   string
	webhookSecret string
	httpClient    *http.Client
}

// Config holds the provider client settings.
type Config struct {
	BaseURL       string
	BearerToken   string
	WebhookSecret string
	// HTTPClient is optional and defaults to a 30s-timeout client.
	HTTPClient *http.Client
}

// NewClient creates a transcription provider client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken:   cfg.BearerToken,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    cfg.HTTPClient,
	}
}

type mediaResponse struct {
	ProviderJobID string `json:"media_id"`
	Status        string `json:"status"`
	Transcript    string `json:"transcript,omitempty"`
	ErrorDetail   string `json:"error,omitempty"`
}

// Submit uploads the media URL for transcription and returns the provider's
// job ID.
func (c *Client) Submit(ctx context.Context, sourceRef string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("media", sourceRef); err != nil {
		return "", fmt.Errorf("provider: build submit body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("provider: build submit body: %w", err)
	}

	var resp mediaResponse
	if err := c.do(ctx, http.MethodPost, "/media", writer.FormDataContentType(), body, &resp); err != nil {
		return "", err
	}
	if resp.ProviderJobID == "" {
		return "", fmt.Errorf("%w: submit response missing media_id", domain.ErrProviderFailed)
	}
	return resp.ProviderJobID, nil
}

// Poll fetches the current provider-side state of a submitted job.
func (c *Client) Poll(ctx context.Context, providerJobID string) (*provider.PollResult, error) {
	var resp mediaResponse
	if err := c.do(ctx, http.MethodGet, "/media/"+providerJobID, "", nil, &resp); err != nil {
		return nil, err
	}
	return &provider.PollResult{
		Status:      resp.Status,
		Transcript:  resp.Transcript,
		ErrorDetail: resp.ErrorDetail,
	}, nil
}

// VerifyWebhookPayload checks the HMAC-SHA256 signature (hex, over the raw
// body) and required fields. An empty configured secret skips the signature
// check, for local development against unsigned callbacks.
func (c *Client) VerifyWebhookPayload(raw []byte, signature string) (*provider.WebhookPayload, error) {
	if c.webhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(c.webhookSecret))
		mac.Write(raw)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
			return nil, fmt.Errorf("%w: bad signature", domain.ErrInvalidPayload)
		}
	}

	var payload provider.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload.ProviderJobID == "" {
		return nil, fmt.Errorf("%w: missing media_id", domain.ErrInvalidPayload)
	}
	if payload.Status == "" {
		return nil, fmt.Errorf("%w: missing status", domain.ErrInvalidPayload)
	}
	return &payload, nil
}

// do executes one API request. Network errors and 5xx responses wrap
// domain.ErrProviderTransient so callers can retry; 4xx responses wrap
// domain.ErrProviderFailed.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("provider: new request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderTransient, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrProviderTransient, err)
	}

	switch {
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", domain.ErrProviderTransient, method, path, res.StatusCode)
	case res.StatusCode >= 400:
		return fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrProviderFailed, method, path, res.StatusCode, resBody)
	}

	if v != nil {
		if err := json.Unmarshal(resBody, v); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailed, err)
		}
	}
	return nil
}

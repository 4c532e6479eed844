package pipeline

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agenticklabs/agentick/pkg/message"
)

// webhookPayload is the JSON body posted for one delivery batch.
type webhookPayload struct {
	SessionKey string            `json:"sessionKey"`
	Messages   []message.Message `json:"messages"`
	Complete   bool              `json:"complete"`
}

// WebhookConfig configures an outbound webhook listener.
type WebhookConfig struct {
	// URL receives POSTed delivery batches.
	URL string

	// SessionKey identifies the originating session in the payload.
	SessionKey string

	// Secret, when set, signs each body with HMAC-SHA256 in the
	// X-Signature-256 header ("sha256=<hex>").
	Secret string

	// Client overrides the HTTP client. Default: 10 s timeout.
	Client *http.Client
}

// NewWebhookListener returns a Listener that posts each batch as JSON.
// Non-2xx responses are errors, so Delivery retries them.
func NewWebhookListener(cfg WebhookConfig) Listener {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return func(ctx context.Context, out Output) error {
		body, err := json.Marshal(webhookPayload{
			SessionKey: cfg.SessionKey,
			Messages:   out.Messages,
			Complete:   out.IsComplete,
		})
		if err != nil {
			return fmt.Errorf("pipeline: encoding webhook payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("pipeline: building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.Secret != "" {
			req.Header.Set("X-Signature-256", sign(cfg.Secret, body))
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("pipeline: webhook post: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("pipeline: webhook returned %d", resp.StatusCode)
		}
		return nil
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

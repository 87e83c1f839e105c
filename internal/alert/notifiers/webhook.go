package notifiers

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

	"github.com/i474232898/cold-storage-monitor/internal/alert"
)

// Compile-time interface guard.
var _ alert.Notifier = (*Webhook)(nil)

const userAgent = "ColdStorageMonitor/1.0"

// WebhookConfig holds configuration for webhook delivery.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"` //nolint:gosec // G101: config field name, not a credential
	Headers map[string]string `mapstructure:"headers"`
}

type webhookPayload struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Webhook POSTs alerts as JSON. When a secret is set the body is signed with
// HMAC-SHA256 in the X-Signature header.
type Webhook struct {
	client *http.Client
	cfg    WebhookConfig
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		cfg:    cfg,
	}
}

func (w *Webhook) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{
		Source:    "cold-storage-monitor",
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if w.cfg.Secret != "" {
		req.Header.Set("X-Signature", Sign(w.cfg.Secret, body))
	}
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST %s: %w", w.cfg.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST %s: status %d", w.cfg.URL, resp.StatusCode)
	}
	return nil
}

func (w *Webhook) Type() string {
	return "webhook"
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

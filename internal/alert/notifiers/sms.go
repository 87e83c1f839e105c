package notifiers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/i474232898/cold-storage-monitor/internal/alert"
)

var _ alert.Notifier = (*SMS)(nil)

// SMSConfig points at an HTTP SMS gateway that accepts {to, message} with a
// bearer token.
type SMSConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"` //nolint:gosec // G101: config field name, not a credential
	To    string `mapstructure:"to"`
}

type SMS struct {
	client *http.Client
	cfg    SMSConfig
}

func NewSMS(cfg SMSConfig) *SMS {
	return &SMS{
		client: &http.Client{Timeout: 10 * time.Second},
		cfg:    cfg,
	}
}

func (s *SMS) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{
		"to":      s.cfg.To,
		"message": "Cold room alert: " + message,
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms POST: status %d", resp.StatusCode)
	}
	return nil
}

func (s *SMS) Type() string {
	return "sms"
}

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kjstillabower/meteo-pwa/internal/models"
)

// Webhook displays notifications by POSTing them as JSON to an external endpoint.
type Webhook struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.httpClient = client
	}
}

// NewWebhook creates a webhook display. apiKey is sent as x-api-key when non-empty.
func NewWebhook(url, apiKey string, timeout time.Duration, opts ...WebhookOption) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &Webhook{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Show(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("x-api-key", w.apiKey)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Fanout shows a notification on every display. It fails only when no display
// succeeded, returning their joined errors.
type Fanout []Display

func (f Fanout) Show(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, d := range f {
		if err := d.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f) {
		return errors.Join(errs...)
	}
	return nil
}

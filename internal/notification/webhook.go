package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"silvermon/internal/feed/poll"
)

const defaultNotifyTimeout = 10 * time.Second

// WebhookConfig configures a generic HTTP webhook backend.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration // default 10s

	HTTPClient *http.Client
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url  string
	http *http.Client
}

// NewWebhookNotifier creates a webhook backend.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNotifyTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookNotifier{url: cfg.URL, http: hc}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(struct {
		Level   string `json:"level"`
		Title   string `json:"title"`
		Message string `json:"message"`
		TS      string `json:"ts"`
	}{
		Level:   string(alert.Level),
		Title:   alert.Title,
		Message: alert.Message,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("notification: marshal webhook payload: %w", err)
	}

	if err := postJSON(ctx, w.http, w.url, body); err != nil {
		return fmt.Errorf("notification: webhook: %w", err)
	}
	log.Printf("[notify] webhook alert delivered: %s", alert.Title)
	return nil
}

// postJSON delivers one JSON payload, retrying once when the failure is
// transient (transport error, 429 or 5xx) in the same classification the
// feed clients use. Responses bodies are drained and discarded.
func postJSON(ctx context.Context, hc *http.Client, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		err := postOnce(ctx, hc, url, body)
		if err == nil {
			return nil
		}
		if !errors.Is(err, poll.ErrTransient) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func postOnce(ctx context.Context, hc *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", poll.ErrTransient, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", poll.ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", poll.ErrPermanent, resp.StatusCode)
	}
}

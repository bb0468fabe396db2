package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oerhub/editproc/process"
)

// WebhookEvent is the JSON body posted to the webhook for each event.
type WebhookEvent struct {
	Topic      string      `json:"topic"`
	CreatedAt  time.Time   `json:"created_at"`
	Recipients []int64     `json:"recipients"`
	Event      interface{} `json:"event"`
}

// WebhookEventSink delivers process events to an HTTP webhook.
type WebhookEventSink struct {
	cfg *config
	url string
}

// NewWebhookEventSink creates an event sink posting to url.
func NewWebhookEventSink(url string, opts ...Option) *WebhookEventSink {
	return &WebhookEventSink{cfg: newConfig(opts...), url: url}
}

// Emit posts ev for recipients as a single webhook call.
func (s *WebhookEventSink) Emit(ctx context.Context, ev process.Event, recipients []int64) error {
	body, err := json.Marshal(&WebhookEvent{
		Topic:      "editproc." + ev.Kind.String(),
		CreatedAt:  time.Now().UTC(),
		Recipients: recipients,
		Event:      ev.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.cfg.do(req)
	if err != nil {
		return fmt.Errorf("posting webhook event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("posting webhook event: unexpected status: %s", resp.Status)
	}
	return nil
}

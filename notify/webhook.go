package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Webhook POSTs events as JSON to a fixed URL. Payloads are signed with
// HMAC-SHA256 in the X-Signature-256 header when a secret is configured.
// Delivery is best-effort: failures are logged, never retried, never
// surfaced to the caller.
type Webhook struct {
	url    string
	secret string
	http   *http.Client
	logger *slog.Logger
}

// WebhookOption configures a Webhook notifier.
type WebhookOption func(*Webhook)

// WithWebhookSecret enables HMAC signing of outbound payloads.
func WithWebhookSecret(secret string) WebhookOption {
	return func(w *Webhook) { w.secret = secret }
}

// WithWebhookLogger overrides the default logger.
func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = logger }
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:    url,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type webhookEnvelope struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func (w *Webhook) Publish(ctx context.Context, topic string, payload any) {
	body, err := json.Marshal(webhookEnvelope{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		w.logger.Warn("notify: webhook marshal failed", "topic", topic, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("notify: webhook build request failed", "topic", topic, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.http.Do(req)
	if err != nil {
		w.logger.Warn("notify: webhook POST failed", "topic", topic, "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		w.logger.Warn("notify: webhook rejected", "topic", topic, "status", resp.StatusCode)
	}
}

// Package notify delivers checkout lifecycle events to a merchant webhook.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/reevit-checkout/internal/events"
	"github.com/noah-isme/reevit-checkout/internal/obs"
	"github.com/noah-isme/reevit-checkout/internal/resilience"
)

const maxResponseBody = 4 << 10

// Webhook posts signed events to a single endpoint. The event id doubles as
// the idempotency key, so the resilience client may retry deliveries.
type Webhook struct {
	URL    string
	Secret string
	HTTP   resilience.HTTPClient
	Now    func() time.Time
}

type webhookPayload struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	SessionID  string          `json:"sessionId"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Notify implements events.Notifier.
func (w Webhook) Notify(ctx context.Context, ev events.Event) error {
	if w.URL == "" {
		return nil
	}
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "Webhook.Notify")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.topic", ev.Topic),
	)

	body, err := json.Marshal(webhookPayload{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		SessionID:  ev.SessionID,
		Data:       ev.Payload,
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "reevit-checkout-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set(resilience.IdempotencyHeader, ev.ID)
	req.Header.Set("X-Signature", ComputeSignature(w.Secret, ts, ev.ID, body))

	hc := w.HTTP
	if hc.Client == nil {
		hc.Client = NewHTTPClient(5 * time.Second)
	}
	start := time.Now()
	resp, err := hc.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		observe("failed", start)
		return fmt.Errorf("deliver %s: %w", ev.ID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observe("rejected", start)
		return fmt.Errorf("deliver %s: status=%d body=%q", ev.ID, resp.StatusCode, respBody)
	}
	observe("delivered", start)
	return nil
}

func observe(result string, start time.Time) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}

// ValidateURL accepts https endpoints, and plain http only for loopback hosts.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewHTTPClient returns a client for webhook delivery with client spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Package gateway is the HTTP client for the Reevit payment-intent service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/common"
	"github.com/noah-isme/reevit-checkout/internal/obs"
	"github.com/noah-isme/reevit-checkout/internal/psp"
	"github.com/noah-isme/reevit-checkout/internal/resilience"
)

// DefaultBaseURL is the public intent service endpoint.
const DefaultBaseURL = "https://api.reevit.io"

// PublicKeyHeader carries the merchant public key on direct-path calls.
const PublicKeyHeader = "X-Reevit-Key"

const (
	pathPaymentLink = "payment_link"
	pathDirect      = "direct"
)

var validate = validator.New()

// Options configures a Client.
type Options struct {
	BaseURL   string
	PublicKey string
	// HTTP performs the calls. A zero value gets an otelhttp-instrumented
	// client with a single attempt and no breaker.
	HTTP   resilience.HTTPClient
	Logger zerolog.Logger
}

// Client talks to the intent service. It satisfies checkout.Gateway.
type Client struct {
	baseURL   string
	publicKey string
	http      resilience.HTTPClient
	logger    zerolog.Logger
}

var _ checkout.Gateway = (*Client)(nil)

// New constructs a Client.
func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTP
	if hc.Client == nil {
		hc.Client = NewHTTPClient(0)
	}
	return &Client{baseURL: base, publicKey: opts.PublicKey, http: hc, logger: opts.Logger}
}

// NewHTTPClient returns an http.Client whose transport emits client spans.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type paymentLinkRequest struct {
	Amount       int64          `json:"amount"`
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Phone        string         `json:"phone"`
	Method       psp.Method     `json:"method,omitempty"`
	Country      string         `json:"country"`
	Provider     string         `json:"provider,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

type createIntentRequest struct {
	Amount             int64          `json:"amount"`
	Currency           string         `json:"currency"`
	Method             psp.Method     `json:"method,omitempty"`
	Country            string         `json:"country"`
	Reference          string         `json:"reference,omitempty"`
	CustomerEmail      string         `json:"customer_email,omitempty"`
	CustomerName       string         `json:"customer_name,omitempty"`
	CustomerPhone      string         `json:"customer_phone,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	PreferredProviders []string       `json:"preferred_providers,omitempty"`
	AllowedProviders   []string       `json:"allowed_providers,omitempty"`
}

type confirmIntentRequest struct {
	ClientSecret string `json:"client_secret"`
}

// CreatePaymentIntent creates an intent through the payment-link endpoint when
// cfg carries a link code, otherwise through the direct intent API. A 2xx with
// an empty body returns (nil, nil).
func (c *Client) CreatePaymentIntent(ctx context.Context, cfg checkout.Config, method psp.Method, country string, hints checkout.RoutingHints) (*checkout.IntentResponse, error) {
	var (
		resp *checkout.IntentResponse
		err  error
		path string
	)
	if cfg.PaymentLinkCode != "" {
		path = pathPaymentLink
		resp, err = c.createViaPaymentLink(ctx, cfg, method, country, hints)
	} else {
		path = pathDirect
		resp, err = c.createDirect(ctx, cfg, method, country, hints)
	}
	if obs.PaymentIntentTotal != nil {
		provider, result := "unknown", "ok"
		if resp != nil && resp.Provider != "" {
			provider = string(psp.ResolveProvider(resp.Provider))
		}
		if err != nil {
			result = "error"
		}
		obs.PaymentIntentTotal.WithLabelValues(provider, path, result).Inc()
	}
	return resp, err
}

func (c *Client) createViaPaymentLink(ctx context.Context, cfg checkout.Config, method psp.Method, country string, hints checkout.RoutingHints) (*checkout.IntentResponse, error) {
	body := paymentLinkRequest{
		Amount:       cfg.Amount,
		Email:        cfg.Email,
		Name:         cfg.CustomerName,
		Phone:        cfg.Phone,
		Method:       method,
		Country:      country,
		Provider:     providerHint(hints),
		CustomFields: cfg.CustomFields,
	}
	endpoint := fmt.Sprintf("%s/v1/pay/%s/pay", c.baseURL, url.PathEscape(cfg.PaymentLinkCode))
	headers := http.Header{}
	headers.Set(resilience.IdempotencyHeader, common.NewIdempotencyKey())

	status, raw, err := c.post(ctx, "create_payment_link_intent", endpoint, headers, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, decodeServiceError(status, raw, CodePaymentLinkError, "Payment link request failed")
	}
	return decodeIntent(raw)
}

func (c *Client) createDirect(ctx context.Context, cfg checkout.Config, method psp.Method, country string, hints checkout.RoutingHints) (*checkout.IntentResponse, error) {
	body := createIntentRequest{
		Amount:             cfg.Amount,
		Currency:           cfg.Currency,
		Method:             method,
		Country:            country,
		Reference:          cfg.Reference,
		CustomerEmail:      cfg.Email,
		CustomerName:       cfg.CustomerName,
		CustomerPhone:      cfg.Phone,
		Metadata:           cfg.Metadata,
		PreferredProviders: hints.PreferredProviders,
		AllowedProviders:   hints.AllowedProviders,
	}
	headers := c.keyHeaders(cfg.PublicKey)
	idem := cfg.Reference
	if idem == "" {
		idem = common.NewIdempotencyKey()
	}
	headers.Set(resilience.IdempotencyHeader, idem)

	status, raw, err := c.post(ctx, "create_intent", c.baseURL+"/v1/payments/intents", headers, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, decodeServiceError(status, raw, CodeAPIError, fmt.Sprintf("Request failed with status %d", status))
	}
	return decodeIntent(raw)
}

// ConfirmPaymentIntent confirms an intent using its client secret.
func (c *Client) ConfirmPaymentIntent(ctx context.Context, intentID, clientSecret string) (*checkout.ConfirmResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s/confirm-intent", c.baseURL, url.PathEscape(intentID))
	return c.confirm(ctx, "confirm_intent", endpoint, intentID, confirmIntentRequest{ClientSecret: clientSecret})
}

// ConfirmPayment confirms an intent with the merchant public key.
func (c *Client) ConfirmPayment(ctx context.Context, intentID string) (*checkout.ConfirmResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s/confirm", c.baseURL, url.PathEscape(intentID))
	return c.confirm(ctx, "confirm_payment", endpoint, intentID, nil)
}

// CancelPaymentIntent asks the service to cancel an intent.
func (c *Client) CancelPaymentIntent(ctx context.Context, intentID string) error {
	endpoint := fmt.Sprintf("%s/v1/payments/%s/cancel", c.baseURL, url.PathEscape(intentID))
	status, raw, err := c.post(ctx, "cancel_intent", endpoint, c.keyHeaders(""), nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return decodeServiceError(status, raw, CodeAPIError, fmt.Sprintf("Request failed with status %d", status))
	}
	return nil
}

func (c *Client) confirm(ctx context.Context, op, endpoint, intentID string, body any) (*checkout.ConfirmResponse, error) {
	status, raw, err := c.post(ctx, op, endpoint, c.keyHeaders(""), body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, decodeServiceError(status, raw, CodeAPIError, fmt.Sprintf("Request failed with status %d", status))
	}
	out := checkout.ConfirmResponse{ID: intentID}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, checkout.NewPaymentError(checkout.CodeInvalidResponse, "Invalid confirmation response", err)
	}
	if out.ID == "" {
		out.ID = intentID
	}
	return &out, nil
}

func (c *Client) keyHeaders(publicKey string) http.Header {
	if publicKey == "" {
		publicKey = c.publicKey
	}
	h := http.Header{}
	if publicKey != "" {
		h.Set(PublicKeyHeader, publicKey)
	}
	return h
}

// post sends a JSON POST and returns the status and body. Transport failures
// come back as NETWORK_ERROR.
func (c *Client) post(ctx context.Context, op, endpoint string, headers http.Header, body any) (int, []byte, error) {
	ctx, span := otel.Tracer("gateway.Client").Start(ctx, "gateway."+op)
	defer span.End()
	span.SetAttributes(attribute.String("gateway.operation", op))

	start := time.Now()
	status, raw, err := c.send(ctx, endpoint, headers, body)
	result := "ok"
	switch {
	case err != nil:
		result = "network_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	case status >= 400:
		result = "http_" + fmt.Sprint(status/100) + "xx"
	}
	if obs.GatewayRequestDuration != nil {
		obs.GatewayRequestDuration.WithLabelValues(op, result).Observe(obs.DurationMillis(time.Since(start)))
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	evt := c.logger.Debug()
	if err != nil || status >= 400 {
		evt = c.logger.Warn().Err(err)
	}
	evt.Str("operation", op).Int("status", status).Dur("duration", time.Since(start)).Msg("gateway_request")
	return status, raw, err
}

func (c *Client) send(ctx context.Context, endpoint string, headers http.Header, body any) (int, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, checkout.NewPaymentError(checkout.CodeNetworkError, "Failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return 0, nil, checkout.NewPaymentError(checkout.CodeNetworkError, "Failed to build request", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return 0, nil, networkError(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, networkError(err)
	}
	return resp.StatusCode, raw, nil
}

func providerHint(h checkout.RoutingHints) string {
	if len(h.PreferredProviders) > 0 && h.PreferredProviders[0] != "" {
		return h.PreferredProviders[0]
	}
	if len(h.AllowedProviders) > 0 {
		return h.AllowedProviders[0]
	}
	return ""
}

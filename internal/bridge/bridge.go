// Package bridge adapts each PSP's client-side flow to the checkout callback
// contract: launch parameters going out, normalised success and error
// payloads coming back.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// ErrUnsupported is returned by Lookup for a provider without a bridge.
var ErrUnsupported = errors.New("bridge: unsupported provider")

// ErrMalformed wraps payloads that cannot be decoded at all.
var ErrMalformed = errors.New("bridge: malformed payload")

// Launch modes tell the UI how to open the PSP.
const (
	ModePopup   = "popup"
	ModeSDK     = "sdk"
	ModeSTKPush = "stk_push"
)

// Launch is what the UI needs to open a PSP flow for an intent.
type Launch struct {
	Provider psp.Provider   `json:"provider"`
	Mode     string         `json:"mode"`
	Params   map[string]any `json:"params"`
}

// Bridge is implemented once per PSP.
type Bridge interface {
	Provider() psp.Provider
	// Launch builds launch parameters. A missing credential or customer field
	// yields a *checkout.PaymentError.
	Launch(intent checkout.PaymentIntent, cfg checkout.Config, method psp.Method) (Launch, error)
	// NormalizeSuccess maps the PSP's success callback. When the payload
	// itself reports a failed payment the error is a *checkout.PaymentError;
	// undecodable payloads wrap ErrMalformed.
	NormalizeSuccess(raw []byte) (checkout.PSPData, error)
	// NormalizeError maps the PSP's failure callback. It never returns nil.
	NormalizeError(raw []byte) *checkout.PaymentError
}

var registry = map[psp.Provider]Bridge{
	psp.Paystack:    Paystack{},
	psp.Hubtel:      Hubtel{},
	psp.Flutterwave: Flutterwave{},
	psp.Stripe:      Stripe{},
	psp.Monnify:     Monnify{},
	psp.MPesa:       MPesa{},
}

// Lookup returns the bridge for p.
func Lookup(p psp.Provider) (Bridge, error) {
	b, ok := registry[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, p)
	}
	return b, nil
}

// ForIntent returns the bridge for the intent's recommended PSP.
func ForIntent(intent checkout.PaymentIntent) (Bridge, error) {
	return Lookup(intent.RecommendedPSP)
}

func malformed(p psp.Provider, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, p, err)
}

func missing(p psp.Provider, field string) *checkout.PaymentError {
	pe := checkout.NewPaymentError(strings.ToUpper(string(p))+"_CONFIG_ERROR", fmt.Sprintf("%s launch requires %s", p, field), nil)
	pe.Recoverable = false
	pe.Details = map[string]any{"field": field}
	return pe
}

func declined(p psp.Provider, message string, details map[string]any) *checkout.PaymentError {
	pe := checkout.NewPaymentError(errorCode(p), message, nil)
	pe.Details = details
	return pe
}

func errorCode(p psp.Provider) string {
	return strings.ToUpper(string(p)) + "_ERROR"
}

// genericError reads the common {code,message,recoverable,details} shape that
// every bridge's UI side reports on failure. PSP-specific keys are folded in
// by the caller.
func genericError(p psp.Provider, raw []byte, fallback string) *checkout.PaymentError {
	pe := checkout.NewPaymentError(errorCode(p), fallback, nil)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		if s := strings.TrimSpace(string(raw)); s != "" && err != nil {
			pe.Details = map[string]any{"raw": s}
		}
		return pe
	}
	if code := stringField(body, "code"); code != "" {
		pe.Code = code
	}
	if msg := firstString(body, "message", "error", "error_description"); msg != "" {
		pe.Message = msg
	}
	if rec, ok := body["recoverable"].(bool); ok {
		pe.Recoverable = rec
	}
	if d, ok := body["details"].(map[string]any); ok {
		pe.Details = d
	}
	return pe
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func decodeObject(p psp.Provider, raw []byte) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, malformed(p, err)
	}
	if body == nil {
		return nil, malformed(p, errors.New("empty payload"))
	}
	return body, nil
}

func customer(cfg checkout.Config) map[string]any {
	out := map[string]any{}
	if cfg.Email != "" {
		out["email"] = cfg.Email
	}
	if cfg.CustomerName != "" {
		out["name"] = cfg.CustomerName
	}
	if cfg.Phone != "" {
		out["phone"] = cfg.Phone
	}
	return out
}

func credential(intent checkout.PaymentIntent, key string) string {
	if intent.PSPCredentials == nil {
		return ""
	}
	if s, ok := intent.PSPCredentials[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func reference(intent checkout.PaymentIntent, cfg checkout.Config) string {
	if intent.Reference != "" {
		return intent.Reference
	}
	return cfg.Reference
}

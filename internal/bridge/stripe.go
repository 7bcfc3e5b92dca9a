package bridge

import (
	"encoding/json"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// Stripe mounts Stripe.js elements with the intent's client secret.
type Stripe struct{}

func (Stripe) Provider() psp.Provider { return psp.Stripe }

func (Stripe) Launch(intent checkout.PaymentIntent, cfg checkout.Config, _ psp.Method) (Launch, error) {
	if intent.PSPPublicKey == "" {
		return Launch{}, missing(psp.Stripe, "publishable key")
	}
	secret := credential(intent, "client_secret")
	if secret == "" {
		secret = intent.ClientSecret
	}
	if secret == "" {
		return Launch{}, missing(psp.Stripe, "client secret")
	}
	params := map[string]any{
		"publishableKey": intent.PSPPublicKey,
		"clientSecret":   secret,
	}
	if cfg.Email != "" {
		params["receiptEmail"] = cfg.Email
	}
	return Launch{Provider: psp.Stripe, Mode: ModeSDK, Params: params}, nil
}

// NormalizeSuccess accepts a PaymentIntent object or a redirect query
// ({payment_intent, redirect_status}).
func (Stripe) NormalizeSuccess(raw []byte) (checkout.PSPData, error) {
	body, err := decodeObject(psp.Stripe, raw)
	if err != nil {
		return checkout.PSPData{}, err
	}
	id := firstString(body, "payment_intent", "id")
	status := firstString(body, "redirect_status", "status")
	if status != "succeeded" && status != "processing" {
		return checkout.PSPData{}, declined(psp.Stripe, "Stripe payment "+orUnknown(status), body)
	}
	return checkout.PSPData{
		Reference:    stringField(body, "reference"),
		PSPReference: id,
		Metadata:     body,
	}, nil
}

// NormalizeError also understands Stripe's {error:{type,code,message}} shape.
// Card errors stay recoverable; invalid_request errors do not.
func (Stripe) NormalizeError(raw []byte) *checkout.PaymentError {
	pe := genericError(psp.Stripe, raw, "Stripe payment failed")
	var wrapped struct {
		Error *struct {
			Type        string `json:"type"`
			Code        string `json:"code"`
			DeclineCode string `json:"decline_code"`
			Message     string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Error == nil {
		return pe
	}
	e := wrapped.Error
	if e.Code != "" {
		pe.Code = e.Code
	}
	if e.Message != "" {
		pe.Message = e.Message
	}
	pe.Recoverable = e.Type != "invalid_request_error"
	pe.Details = map[string]any{"type": e.Type}
	if e.DeclineCode != "" {
		pe.Details["decline_code"] = e.DeclineCode
	}
	return pe
}

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/resilience"
)

// Default codes for service failures that carry no code of their own.
const (
	CodePaymentLinkError = "payment_link_error"
	CodeAPIError         = "api_error"
)

type serviceError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// decodeServiceError maps a non-2xx response to a PaymentError. The body may
// be {code,message,details} or wrap it in an "error" object; anything else
// falls back to the given defaults. details always carries httpStatus.
func decodeServiceError(status int, raw []byte, fallbackCode, fallbackMessage string) *checkout.PaymentError {
	var body serviceError
	var wrapped struct {
		Error *serviceError `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error != nil {
		body = *wrapped.Error
	} else {
		_ = json.Unmarshal(raw, &body)
	}

	pe := &checkout.PaymentError{
		Code:        body.Code,
		Message:     body.Message,
		Recoverable: true,
		Details:     map[string]any{"httpStatus": status},
	}
	if pe.Code == "" {
		pe.Code = fallbackCode
	}
	if pe.Message == "" {
		pe.Message = fallbackMessage
	}
	for k, v := range body.Details {
		pe.Details[k] = v
	}
	return pe
}

func networkError(err error) *checkout.PaymentError {
	msg := "Network request failed"
	if errors.Is(err, resilience.ErrOpenCircuit) {
		msg = "Payment service temporarily unavailable"
	}
	return checkout.NewPaymentError(checkout.CodeNetworkError, msg, err)
}

// decodeIntent parses and validates an intent body. An empty body yields
// (nil, nil) so the caller can apply its own no-data handling.
func decodeIntent(raw []byte) (*checkout.IntentResponse, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var out checkout.IntentResponse
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, checkout.NewPaymentError(checkout.CodeInvalidResponse, "Invalid payment intent response", err)
	}
	if err := validate.Struct(out); err != nil {
		pe := checkout.NewPaymentError(checkout.CodeInvalidResponse, "Invalid payment intent response", err)
		pe.Details = map[string]any{"validation": err.Error()}
		return nil, pe
	}
	return &out, nil
}

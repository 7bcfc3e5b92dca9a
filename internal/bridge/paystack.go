package bridge

import (
	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// Paystack drives the inline popup.
type Paystack struct{}

func (Paystack) Provider() psp.Provider { return psp.Paystack }

func (Paystack) Launch(intent checkout.PaymentIntent, cfg checkout.Config, method psp.Method) (Launch, error) {
	if intent.PSPPublicKey == "" {
		return Launch{}, missing(psp.Paystack, "psp public key")
	}
	if cfg.Email == "" {
		return Launch{}, missing(psp.Paystack, "customer email")
	}
	params := map[string]any{
		"key":      intent.PSPPublicKey,
		"email":    cfg.Email,
		"amount":   intent.Amount,
		"currency": intent.Currency,
		"ref":      reference(intent, cfg),
	}
	if method != "" {
		params["channels"] = []string{string(method)}
	}
	if code := credential(intent, "access_code"); code != "" {
		params["access_code"] = code
	}
	if len(intent.Metadata) > 0 {
		params["metadata"] = intent.Metadata
	}
	return Launch{Provider: psp.Paystack, Mode: ModePopup, Params: params}, nil
}

// NormalizeSuccess accepts the popup callback {reference, trans|transaction, status}.
func (Paystack) NormalizeSuccess(raw []byte) (checkout.PSPData, error) {
	body, err := decodeObject(psp.Paystack, raw)
	if err != nil {
		return checkout.PSPData{}, err
	}
	if status := stringField(body, "status"); status != "" && status != "success" {
		return checkout.PSPData{}, declined(psp.Paystack, "Paystack payment "+status, body)
	}
	return checkout.PSPData{
		Reference:    stringField(body, "reference"),
		PSPReference: firstString(body, "trans", "transaction"),
		Metadata:     body,
	}, nil
}

func (Paystack) NormalizeError(raw []byte) *checkout.PaymentError {
	return genericError(psp.Paystack, raw, "Paystack payment failed")
}

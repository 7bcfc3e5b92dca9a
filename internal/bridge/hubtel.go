package bridge

import (
	"strings"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/money"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// Hubtel drives the hosted checkout popup. Hubtel expects amounts in major units.
type Hubtel struct{}

func (Hubtel) Provider() psp.Provider { return psp.Hubtel }

func (Hubtel) Launch(intent checkout.PaymentIntent, cfg checkout.Config, method psp.Method) (Launch, error) {
	merchant := credential(intent, "merchantAccount")
	if merchant == "" {
		return Launch{}, missing(psp.Hubtel, "merchant account")
	}
	params := map[string]any{
		"merchantAccount": merchant,
		"clientReference": reference(intent, cfg),
		"amount":          money.Major(intent.Amount, intent.Currency).StringFixed(money.Exponent(intent.Currency)),
		"description":     "Payment " + reference(intent, cfg),
	}
	if cfg.Phone != "" {
		params["customerPhoneNumber"] = cfg.Phone
	}
	if method != "" {
		params["preferredMethod"] = string(method)
	}
	if token := credential(intent, "basicAuth"); token != "" {
		params["basicAuth"] = token
	}
	return Launch{Provider: psp.Hubtel, Mode: ModePopup, Params: params}, nil
}

// NormalizeSuccess accepts {clientReference, transactionId, status}.
func (Hubtel) NormalizeSuccess(raw []byte) (checkout.PSPData, error) {
	body, err := decodeObject(psp.Hubtel, raw)
	if err != nil {
		return checkout.PSPData{}, err
	}
	if data, ok := body["data"].(map[string]any); ok {
		body = data
	}
	if status := strings.ToLower(stringField(body, "status")); status != "" && status != "success" && status != "paid" {
		return checkout.PSPData{}, declined(psp.Hubtel, "Hubtel payment "+status, body)
	}
	return checkout.PSPData{
		Reference:    firstString(body, "clientReference", "reference"),
		PSPReference: firstString(body, "transactionId", "checkoutId"),
		Metadata:     body,
	}, nil
}

func (Hubtel) NormalizeError(raw []byte) *checkout.PaymentError {
	return genericError(psp.Hubtel, raw, "Hubtel payment failed")
}

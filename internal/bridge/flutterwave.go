package bridge

import (
	"strings"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/money"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// Flutterwave drives the inline checkout modal.
type Flutterwave struct{}

var flutterwaveOptions = map[psp.Method]string{
	psp.Card:         "card",
	psp.MobileMoney:  "mobilemoney",
	psp.BankTransfer: "banktransfer",
}

func (Flutterwave) Provider() psp.Provider { return psp.Flutterwave }

func (Flutterwave) Launch(intent checkout.PaymentIntent, cfg checkout.Config, method psp.Method) (Launch, error) {
	if intent.PSPPublicKey == "" {
		return Launch{}, missing(psp.Flutterwave, "psp public key")
	}
	params := map[string]any{
		"public_key": intent.PSPPublicKey,
		"tx_ref":     reference(intent, cfg),
		"amount":     money.Major(intent.Amount, intent.Currency).InexactFloat64(),
		"currency":   intent.Currency,
		"customer":   customer(cfg),
	}
	if opt, ok := flutterwaveOptions[method]; ok {
		params["payment_options"] = opt
	}
	if len(intent.Metadata) > 0 {
		params["meta"] = intent.Metadata
	}
	return Launch{Provider: psp.Flutterwave, Mode: ModePopup, Params: params}, nil
}

// NormalizeSuccess accepts {tx_ref, flw_ref|transaction_id, status}; status
// must be successful or completed.
func (Flutterwave) NormalizeSuccess(raw []byte) (checkout.PSPData, error) {
	body, err := decodeObject(psp.Flutterwave, raw)
	if err != nil {
		return checkout.PSPData{}, err
	}
	switch status := strings.ToLower(stringField(body, "status")); status {
	case "successful", "completed":
	default:
		return checkout.PSPData{}, declined(psp.Flutterwave, "Flutterwave payment "+orUnknown(status), body)
	}
	return checkout.PSPData{
		Reference:    stringField(body, "tx_ref"),
		PSPReference: firstString(body, "flw_ref", "transaction_id"),
		Metadata:     body,
	}, nil
}

func (Flutterwave) NormalizeError(raw []byte) *checkout.PaymentError {
	return genericError(psp.Flutterwave, raw, "Flutterwave payment failed")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

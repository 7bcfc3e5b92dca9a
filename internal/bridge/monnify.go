package bridge

import (
	"strings"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/money"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// Monnify drives the Monnify SDK checkout.
type Monnify struct{}

var monnifyMethods = map[psp.Method]string{
	psp.Card:         "CARD",
	psp.BankTransfer: "ACCOUNT_TRANSFER",
}

func (Monnify) Provider() psp.Provider { return psp.Monnify }

func (Monnify) Launch(intent checkout.PaymentIntent, cfg checkout.Config, method psp.Method) (Launch, error) {
	if intent.PSPPublicKey == "" {
		return Launch{}, missing(psp.Monnify, "api key")
	}
	contract := credential(intent, "contractCode")
	if contract == "" {
		return Launch{}, missing(psp.Monnify, "contract code")
	}
	params := map[string]any{
		"apiKey":        intent.PSPPublicKey,
		"contractCode":  contract,
		"amount":        money.Major(intent.Amount, intent.Currency).InexactFloat64(),
		"currency":      intent.Currency,
		"reference":     reference(intent, cfg),
		"customerName":  cfg.CustomerName,
		"customerEmail": cfg.Email,
	}
	if m, ok := monnifyMethods[method]; ok {
		params["paymentMethods"] = []string{m}
	}
	return Launch{Provider: psp.Monnify, Mode: ModeSDK, Params: params}, nil
}

// NormalizeSuccess accepts {paymentReference, transactionReference,
// paymentStatus}; paymentStatus must be PAID.
func (Monnify) NormalizeSuccess(raw []byte) (checkout.PSPData, error) {
	body, err := decodeObject(psp.Monnify, raw)
	if err != nil {
		return checkout.PSPData{}, err
	}
	status := strings.ToUpper(firstString(body, "paymentStatus", "status"))
	if status != "PAID" {
		return checkout.PSPData{}, declined(psp.Monnify, "Monnify payment "+orUnknown(strings.ToLower(status)), body)
	}
	return checkout.PSPData{
		Reference:    stringField(body, "paymentReference"),
		PSPReference: stringField(body, "transactionReference"),
		Metadata:     body,
	}, nil
}

func (Monnify) NormalizeError(raw []byte) *checkout.PaymentError {
	return genericError(psp.Monnify, raw, "Monnify payment failed")
}

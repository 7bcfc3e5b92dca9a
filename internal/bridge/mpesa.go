package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/money"
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// MPesa triggers an STK push on the customer's phone. The callback is Daraja's
// Body.stkCallback envelope.
type MPesa struct{}

type stkCallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []stkCallbackItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

type stkEnvelope struct {
	Body struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// user-cancelled and timed-out pushes can be retried
var mpesaRecoverable = map[int]bool{1: true, 1032: true, 1037: true, 2001: true}

func (MPesa) Provider() psp.Provider { return psp.MPesa }

func (MPesa) Launch(intent checkout.PaymentIntent, cfg checkout.Config, _ psp.Method) (Launch, error) {
	if cfg.Phone == "" {
		return Launch{}, missing(psp.MPesa, "customer phone")
	}
	ref := reference(intent, cfg)
	// Daraja caps AccountReference at 12 characters
	account := ref
	if len(account) > 12 {
		account = account[len(account)-12:]
	}
	return Launch{Provider: psp.MPesa, Mode: ModeSTKPush, Params: map[string]any{
		"phoneNumber":      cfg.Phone,
		"amount":           money.Major(intent.Amount, intent.Currency).Ceil().IntPart(),
		"accountReference": account,
		"transactionDesc":  "Checkout",
		"intentId":         intent.ID,
	}}, nil
}

// NormalizeSuccess requires ResultCode 0 and a MpesaReceiptNumber item.
func (MPesa) NormalizeSuccess(raw []byte) (checkout.PSPData, error) {
	cb, err := decodeSTK(raw)
	if err != nil {
		return checkout.PSPData{}, err
	}
	if cb.ResultCode != 0 {
		return checkout.PSPData{}, stkError(cb)
	}
	meta := map[string]any{
		"merchantRequestId": cb.MerchantRequestID,
		"checkoutRequestId": cb.CheckoutRequestID,
	}
	var receipt string
	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			meta[item.Name] = item.Value
			if item.Name == "MpesaReceiptNumber" {
				receipt = fmt.Sprint(item.Value)
			}
		}
	}
	if receipt == "" {
		return checkout.PSPData{}, malformed(psp.MPesa, fmt.Errorf("missing MpesaReceiptNumber"))
	}
	// STK callbacks carry no merchant reference; the intent's reference stands.
	return checkout.PSPData{
		PSPReference: receipt,
		Metadata:     meta,
	}, nil
}

func (MPesa) NormalizeError(raw []byte) *checkout.PaymentError {
	if cb, err := decodeSTK(raw); err == nil {
		return stkError(cb)
	}
	return genericError(psp.MPesa, raw, "M-Pesa payment failed")
}

func decodeSTK(raw []byte) (*stkCallback, error) {
	var env stkEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(psp.MPesa, err)
	}
	if env.Body.STKCallback == nil {
		return nil, malformed(psp.MPesa, fmt.Errorf("missing Body.stkCallback"))
	}
	return env.Body.STKCallback, nil
}

func stkError(cb *stkCallback) *checkout.PaymentError {
	msg := cb.ResultDesc
	if msg == "" {
		msg = "M-Pesa payment failed"
	}
	pe := checkout.NewPaymentError(fmt.Sprintf("MPESA_%d", cb.ResultCode), msg, nil)
	pe.Recoverable = mpesaRecoverable[cb.ResultCode]
	pe.Details = map[string]any{
		"resultCode":        cb.ResultCode,
		"checkoutRequestId": cb.CheckoutRequestID,
	}
	return pe
}

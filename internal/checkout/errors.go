package checkout

import (
	"errors"
	"fmt"
)

// Error codes produced by the orchestrator itself.
const (
	CodeInitFailed      = "INIT_FAILED"
	CodePaymentFailed   = "PAYMENT_FAILED"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeInvalidResponse = "INVALID_RESPONSE"
)

// PaymentError describes a failure surfaced to the UI. Recoverable errors are
// offered a retry affordance.
type PaymentError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	Details     map[string]any `json:"details,omitempty"`
	Err         error          `json:"-"`
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Unwrap exposes the original failure to errors.Is/As.
func (e *PaymentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPaymentError constructs a recoverable PaymentError wrapping err.
func NewPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Recoverable: true, Err: err}
}

// AsPaymentError returns err as a PaymentError. Errors of any other type are
// wrapped under the fallback code with their message preserved.
func AsPaymentError(err error, fallbackCode, fallbackMessage string) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) && pe != nil {
		return pe
	}
	msg := err.Error()
	if msg == "" {
		msg = fallbackMessage
	}
	return NewPaymentError(fallbackCode, msg, err)
}

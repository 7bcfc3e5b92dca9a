package checkout

import (
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// MapToPaymentIntent converts an intent service response into a PaymentIntent.
// It is a pure function of its two inputs.
func MapToPaymentIntent(resp IntentResponse, cfg Config) PaymentIntent {
	methods := cfg.PaymentMethods
	if len(methods) == 0 {
		methods = psp.DefaultMethods()
	}
	reference := cfg.Reference
	if resp.Reference != nil && *resp.Reference != "" {
		reference = *resp.Reference
	}
	return PaymentIntent{
		ID:                 resp.ID,
		ClientSecret:       resp.ClientSecret,
		PSPPublicKey:       resp.PSPPublicKey,
		PSPCredentials:     resp.PSPCredentials,
		Amount:             resp.Amount,
		Currency:           resp.Currency,
		Status:             resp.Status,
		RecommendedPSP:     psp.ResolveProvider(resp.Provider),
		AvailableMethods:   append([]psp.Method(nil), methods...),
		Reference:          reference,
		ConnectionID:       resp.ConnectionID,
		Provider:           resp.Provider,
		FeeAmount:          resp.FeeAmount,
		FeeCurrency:        resp.FeeCurrency,
		NetAmount:          resp.NetAmount,
		Metadata:           cfg.Metadata,
		AvailableProviders: psp.MapAvailableProviders(resp.AvailablePSPs),
		Branding:           resp.Branding,
	}
}

// GenerateReference returns a fresh, sortable checkout reference.
func GenerateReference() string {
	return "reevit_" + strings.ToLower(ulid.Make().String())
}

package checkout

import (
	"github.com/noah-isme/reevit-checkout/internal/psp"
)

// Status is the lifecycle status of a checkout session.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusLoading        Status = "loading"
	StatusReady          Status = "ready"
	StatusMethodSelected Status = "method_selected"
	StatusProcessing     Status = "processing"
	StatusSuccess        Status = "success"
	StatusError          Status = "error"
)

// Config is supplied by the embedding application and stays fixed for the
// lifetime of a Store.
type Config struct {
	PublicKey            string         `json:"publicKey" validate:"required"`
	Amount               int64          `json:"amount" validate:"gt=0"`
	Currency             string         `json:"currency" validate:"required,len=3"`
	Reference            string         `json:"reference,omitempty"`
	Email                string         `json:"email,omitempty" validate:"omitempty,email"`
	CustomerName         string         `json:"customerName,omitempty"`
	Phone                string         `json:"phone,omitempty"`
	PaymentMethods       []psp.Method   `json:"paymentMethods,omitempty" validate:"omitempty,dive,oneof=card mobile_money bank_transfer"`
	PaymentLinkCode      string         `json:"paymentLinkCode,omitempty"`
	CustomFields         map[string]any `json:"customFields,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	InitialPaymentIntent *PaymentIntent `json:"initialPaymentIntent,omitempty"`
}

// RoutingHints steer the intent service towards particular providers.
type RoutingHints struct {
	PreferredProviders []string `json:"preferredProviders,omitempty"`
	AllowedProviders   []string `json:"allowedProviders,omitempty"`
}

// InitOptions are the optional provider preferences accepted by Initialize.
type InitOptions struct {
	PreferredProvider string
	AllowedProviders  []string
}

// PaymentIntent is the client-side view of a server-tracked payment attempt.
// It is never modified after creation; a retry replaces it.
type PaymentIntent struct {
	ID                 string         `json:"id"`
	ClientSecret       string         `json:"clientSecret,omitempty"`
	PSPPublicKey       string         `json:"pspPublicKey,omitempty"`
	PSPCredentials     map[string]any `json:"pspCredentials,omitempty"`
	Amount             int64          `json:"amount"`
	Currency           string         `json:"currency"`
	Status             string         `json:"status"`
	RecommendedPSP     psp.Provider   `json:"recommendedPsp"`
	AvailableMethods   []psp.Method   `json:"availableMethods"`
	Reference          string         `json:"reference,omitempty"`
	ConnectionID       string         `json:"connectionId,omitempty"`
	Provider           string         `json:"provider"`
	FeeAmount          *int64         `json:"feeAmount,omitempty"`
	FeeCurrency        string         `json:"feeCurrency,omitempty"`
	NetAmount          *int64         `json:"netAmount,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	AvailableProviders []psp.Option   `json:"availableProviders,omitempty"`
	Branding           map[string]any `json:"branding,omitempty"`
}

// PaymentResult is produced only when a payment completes successfully.
type PaymentResult struct {
	PaymentID     string         `json:"paymentId"`
	Reference     string         `json:"reference"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	PaymentMethod psp.Method     `json:"paymentMethod"`
	PSP           psp.Provider   `json:"psp"`
	PSPReference  string         `json:"pspReference"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PSPData is the normalised success payload a PSP bridge hands to the Store.
type PSPData struct {
	Reference    string
	PSPReference string
	Metadata     map[string]any
}

// Fields returns the payload as a flat map, echoed into PaymentResult.Metadata.
func (d PSPData) Fields() map[string]any {
	out := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		out[k] = v
	}
	if d.Reference != "" {
		out["reference"] = d.Reference
	}
	if d.PSPReference != "" {
		out["pspReference"] = d.PSPReference
	}
	return out
}

// State is the single source of truth a UI renders from. A Store replaces its
// State value on every dispatch and never mutates one in place.
type State struct {
	Status         Status         `json:"status"`
	PaymentIntent  *PaymentIntent `json:"paymentIntent"`
	SelectedMethod psp.Method     `json:"selectedMethod,omitempty"`
	Error          *PaymentError  `json:"error"`
	Result         *PaymentResult `json:"result"`
}

// InitialState returns the idle state.
func InitialState() State {
	return State{Status: StatusIdle}
}

// IntentResponse is the intent service's wire representation of an intent.
type IntentResponse struct {
	ID             string          `json:"id" validate:"required"`
	ClientSecret   string          `json:"client_secret,omitempty"`
	PSPPublicKey   string          `json:"psp_public_key,omitempty"`
	PSPCredentials map[string]any  `json:"psp_credentials,omitempty"`
	Amount         int64           `json:"amount" validate:"gte=0"`
	Currency       string          `json:"currency" validate:"required"`
	Status         string          `json:"status"`
	Provider       string          `json:"provider"`
	Reference      *string         `json:"reference"`
	ConnectionID   string          `json:"connection_id,omitempty"`
	FeeAmount      *int64          `json:"fee_amount,omitempty"`
	FeeCurrency    string          `json:"fee_currency,omitempty"`
	NetAmount      *int64          `json:"net_amount,omitempty"`
	AvailablePSPs  []psp.RawOption `json:"available_psps,omitempty" validate:"omitempty,dive"`
	Branding       map[string]any  `json:"branding,omitempty"`
}

// ConfirmResponse is the intent service's answer to a confirmation call.
type ConfirmResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	ProviderRefID string `json:"provider_ref_id,omitempty"`
}

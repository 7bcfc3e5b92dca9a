// Package psp holds the canonical payment service provider and payment method
// identifiers together with the normalisation rules that map raw backend
// strings onto them.
package psp

import "strings"

// Provider identifies a payment service provider integration.
type Provider string

const (
	Paystack    Provider = "paystack"
	Hubtel      Provider = "hubtel"
	Flutterwave Provider = "flutterwave"
	Stripe      Provider = "stripe"
	Monnify     Provider = "monnify"
	MPesa       Provider = "mpesa"
)

// Method identifies a payment method offered to the customer.
type Method string

const (
	Card         Method = "card"
	MobileMoney  Method = "mobile_money"
	BankTransfer Method = "bank_transfer"
)

// DefaultMethods is used when neither the caller nor the server restricts methods.
func DefaultMethods() []Method {
	return []Method{Card, MobileMoney}
}

// providerKeywords is matched in order; the first hit wins.
var providerKeywords = []struct {
	provider Provider
	keywords []string
}{
	{Paystack, []string{"paystack"}},
	{Hubtel, []string{"hubtel"}},
	{Flutterwave, []string{"flutterwave"}},
	{Stripe, []string{"stripe"}},
	{Monnify, []string{"monnify"}},
	{MPesa, []string{"mpesa", "m-pesa"}},
}

// ResolveProvider maps a raw provider name (e.g. "Hubtel-GH") to a canonical
// provider using a case-insensitive substring match. Unknown names resolve to
// Paystack so an intent is always routable.
func ResolveProvider(raw string) Provider {
	lower := strings.ToLower(raw)
	for _, entry := range providerKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.provider
			}
		}
	}
	return Paystack
}

// ResolveMethod maps a raw method name or alias to a canonical method. The
// second return value is false for unrecognised input; there is no fallback.
func ResolveMethod(raw string) (Method, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "card":
		return Card, true
	case "mobile_money", "momo", "mobilemoney":
		return MobileMoney, true
	case "bank", "bank_transfer", "transfer":
		return BankTransfer, true
	default:
		return "", false
	}
}

// Valid reports whether m is one of the canonical methods.
func (m Method) Valid() bool {
	switch m {
	case Card, MobileMoney, BankTransfer:
		return true
	default:
		return false
	}
}

func (p Provider) String() string { return string(p) }

func (m Method) String() string { return string(m) }

// RawOption is an alternative provider entry as sent by the intent service.
type RawOption struct {
	Provider  string   `json:"provider"`
	Name      string   `json:"name"`
	Methods   []string `json:"methods"`
	Countries []string `json:"countries,omitempty"`
}

// Option is an alternative provider the customer may be routed to.
type Option struct {
	Provider  string   `json:"provider"`
	Name      string   `json:"name"`
	Methods   []Method `json:"methods"`
	Countries []string `json:"countries,omitempty"`
}

// MapAvailableProviders resolves the methods of each raw option and drops
// options left without any usable method. A nil result means the server sent
// no options at all; an empty non-nil slice means it sent options but none
// were usable.
func MapAvailableProviders(raw []RawOption) []Option {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Option, 0, len(raw))
	for _, entry := range raw {
		methods := make([]Method, 0, len(entry.Methods))
		for _, m := range entry.Methods {
			if resolved, ok := ResolveMethod(m); ok {
				methods = append(methods, resolved)
			}
		}
		if len(methods) == 0 {
			continue
		}
		out = append(out, Option{
			Provider:  entry.Provider,
			Name:      entry.Name,
			Methods:   methods,
			Countries: entry.Countries,
		})
	}
	return out
}

package psp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reevit-checkout/internal/psp"
)

func TestResolveProvider(t *testing.T) {
	cases := map[string]psp.Provider{
		"XYZ-unknown":      psp.Paystack,
		"":                 psp.Paystack,
		"Flutterwave-GH":   psp.Flutterwave,
		"HUBTEL":           psp.Hubtel,
		"stripe_connect":   psp.Stripe,
		"monnify-ng":       psp.Monnify,
		"Safaricom M-Pesa": psp.MPesa,
		"mpesa":            psp.MPesa,
		"paystack-hubtel":  psp.Paystack,
	}
	for raw, want := range cases {
		require.Equal(t, want, psp.ResolveProvider(raw), "raw=%q", raw)
	}
}

func TestResolveMethod(t *testing.T) {
	got, ok := psp.ResolveMethod("MoMo")
	require.True(t, ok)
	require.Equal(t, psp.MobileMoney, got)

	got, ok = psp.ResolveMethod("  Transfer ")
	require.True(t, ok)
	require.Equal(t, psp.BankTransfer, got)

	_, ok = psp.ResolveMethod("crypto")
	require.False(t, ok)
}

func TestMapAvailableProviders(t *testing.T) {
	require.Nil(t, psp.MapAvailableProviders(nil))
	require.Nil(t, psp.MapAvailableProviders([]psp.RawOption{}))

	out := psp.MapAvailableProviders([]psp.RawOption{
		{Provider: "hubtel", Name: "Hubtel", Methods: []string{"momo", "crypto"}, Countries: []string{"GH"}},
		{Provider: "coinbase", Name: "Coinbase", Methods: []string{"crypto"}},
		{Provider: "paystack", Name: "Paystack", Methods: []string{"CARD", "bank"}},
	})
	require.Len(t, out, 2)
	require.Equal(t, "hubtel", out[0].Provider)
	require.Equal(t, []psp.Method{psp.MobileMoney}, out[0].Methods)
	require.Equal(t, []string{"GH"}, out[0].Countries)
	require.Equal(t, []psp.Method{psp.Card, psp.BankTransfer}, out[1].Methods)

	none := psp.MapAvailableProviders([]psp.RawOption{{Provider: "x", Methods: []string{"crypto"}}})
	require.NotNil(t, none)
	require.Empty(t, none)
}

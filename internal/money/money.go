// Package money formats checkout amounts and derives billing countries from
// currencies.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"XOF": true,
	"XAF": true,
	"RWF": true,
	"UGX": true,
	"JPY": true,
}

var currencyCountry = map[string]string{
	"GHS": "GH",
	"NGN": "NG",
	"KES": "KE",
	"UGX": "UG",
	"TZS": "TZ",
	"RWF": "RW",
	"ZAR": "ZA",
	"XOF": "CI",
	"USD": "US",
}

// DefaultCountry is used for currencies without a known home market.
const DefaultCountry = "GH"

// Exponent returns the number of minor-unit digits for the currency.
func Exponent(currency string) int32 {
	if zeroDecimal[normalise(currency)] {
		return 0
	}
	return 2
}

// Major converts an amount in minor units into its decimal major-unit value.
func Major(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders an amount in minor units as "<CUR> <major>", e.g. "GHS 5.00".
func Format(minor int64, currency string) string {
	cur := normalise(currency)
	value := Major(minor, cur).StringFixed(Exponent(cur))
	if cur == "" {
		return value
	}
	return cur + " " + value
}

// CountryForCurrency returns the ISO 3166 alpha-2 billing country implied by a
// currency code.
func CountryForCurrency(currency string) string {
	if country, ok := currencyCountry[normalise(currency)]; ok {
		return country
	}
	return DefaultCountry
}

func normalise(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

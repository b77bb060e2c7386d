package payments

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinimumUnitAmount is the smallest unit amount accepted for a hosted checkout line.
const MinimumUnitAmount int64 = 50

// Currencies Stripe charges without a minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

func currencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}

// ToMinorUnits converts a major-unit amount into the gateway's integer representation,
// rounding half away from zero.
func ToMinorUnits(amount float64, currency string) int64 {
	return decimal.NewFromFloat(amount).Shift(currencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits converts a gateway amount back into major units.
func FromMinorUnits(amount int64, currency string) float64 {
	return decimal.New(amount, -currencyExponent(currency)).InexactFloat64()
}

// ChargeableUnitAmount converts amount to minor units and lifts it to MinimumUnitAmount.
func ChargeableUnitAmount(amount float64, currency string) int64 {
	return max(ToMinorUnits(amount, currency), MinimumUnitAmount)
}

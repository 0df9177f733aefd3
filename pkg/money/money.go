// Package money holds currency-aware helpers on top of shopspring/decimal.
//
// Amounts are persisted as integer minor units and converted to decimals only
// for arithmetic. Every rounding step uses banker's rounding so repeated
// calculations do not drift in one direction.
package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrAmountOutOfRange = errors.New("amount_out_of_range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// NormalizeCurrency upper-cases and validates a three letter currency code.
func NormalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return currency, nil
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if _, ok := zeroDecimal[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}

// Round applies round-half-even at the currency's minor-unit precision.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundBank(Exponent(currency))
}

// ToMinor converts a decimal amount into integer minor units, rounding
// half-even first. Amounts that do not fit in an int64 return
// ErrAmountOutOfRange.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	exp := Exponent(currency)
	shifted := amount.RoundBank(exp).Shift(exp)
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return 0, ErrAmountOutOfRange
	}
	return shifted.IntPart(), nil
}

// FromMinor converts integer minor units back into a decimal amount.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders minor units as a fixed-point string, e.g. 5374 USD -> "53.74".
func Format(minor int64, currency string) string {
	return FromMinor(minor, currency).StringFixed(Exponent(currency))
}

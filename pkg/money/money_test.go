package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfEven(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     string
	}{
		{"3.37425", "USD", "3.37"},
		{"3.745", "USD", "3.74"},
		{"3.755", "USD", "3.76"},
		{"4.999", "USD", "5"},
		{"1234.5", "JPY", "1234"},
		{"1235.5", "JPY", "1236"},
	}

	for _, tt := range tests {
		t.Run(tt.in+"_"+tt.currency, func(t *testing.T) {
			got := Round(decimal.RequireFromString(tt.in), tt.currency)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func mustMinor(t *testing.T, amount string, currency string) int64 {
	t.Helper()
	minor, err := ToMinor(decimal.RequireFromString(amount), currency)
	require.NoError(t, err)
	return minor
}

func TestMinorUnitConversion(t *testing.T) {
	assert.Equal(t, int64(4999), mustMinor(t, "49.99", "usd"))
	assert.Equal(t, int64(500), mustMinor(t, "4.999", "USD"))
	assert.Equal(t, int64(1500), mustMinor(t, "1500", "JPY"))
	assert.Equal(t, "53.74", Format(5374, "USD"))
	assert.Equal(t, "1500", Format(1500, "JPY"))
	assert.True(t, FromMinor(337, "USD").Equal(decimal.RequireFromString("3.37")))
}

func TestToMinorRejectsOverflow(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), mustMinor(t, "92233720368547758.07", "USD"))
	assert.Equal(t, int64(math.MaxInt64), mustMinor(t, "9223372036854775807", "JPY"))

	for _, tc := range []struct {
		amount   string
		currency string
	}{
		{"92233720368547758.08", "USD"},
		{"184467440737095515.16", "USD"},
		{"100000000000000000000", "USD"},
		{"9223372036854775808", "JPY"},
		{"-92233720368547758.09", "USD"},
	} {
		_, err := ToMinor(decimal.RequireFromString(tc.amount), tc.currency)
		assert.ErrorIs(t, err, ErrAmountOutOfRange, tc.amount)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", got)

	for _, bad := range []string{"", "US", "US1", "dollars"} {
		_, err := NormalizeCurrency(bad)
		assert.ErrorIs(t, err, ErrInvalidCurrency, bad)
	}
}

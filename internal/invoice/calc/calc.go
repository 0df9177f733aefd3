// Package calc computes invoice totals.
//
// The order is fixed: subtotal, discount, taxable amount, tax, total. Each
// step is rounded half-even to the currency's minor unit before the next
// step reads it.
package calc

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/internal/discount"
	"github.com/smallbiznis/hostbill/pkg/money"
)

var (
	ErrNoLineItems     = errors.New("no_line_items")
	ErrNegativeTaxRate = errors.New("negative_tax_rate")
	ErrNegativeTotal   = errors.New("negative_total")
)

var hundred = decimal.NewFromInt(100)

type Line struct {
	Quantity  int64
	UnitPrice decimal.Decimal
}

type Totals struct {
	LineAmounts []decimal.Decimal
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Taxable     decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// Calculate applies rule (may be nil) and taxRate (a percentage) to lines.
// Lines must already be validated.
func Calculate(lines []Line, rule *discount.Rule, taxRate decimal.Decimal, currency string) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, ErrNoLineItems
	}
	if taxRate.IsNegative() {
		return Totals{}, ErrNegativeTaxRate
	}

	out := Totals{LineAmounts: make([]decimal.Decimal, 0, len(lines))}
	exact := decimal.Zero
	for _, line := range lines {
		amount := line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity))
		exact = exact.Add(amount)
		out.LineAmounts = append(out.LineAmounts, money.Round(amount, currency))
	}
	out.Subtotal = money.Round(exact, currency)

	out.Discount = decimal.Zero
	if rule != nil {
		d, err := rule.Amount(out.Subtotal, currency)
		if err != nil {
			return Totals{}, err
		}
		out.Discount = d
	}

	out.Taxable = money.Round(out.Subtotal.Sub(out.Discount), currency)
	out.Tax = money.Round(out.Taxable.Mul(taxRate).Div(hundred), currency)
	out.Total = money.Round(out.Subtotal.Sub(out.Discount).Add(out.Tax), currency)

	if out.Subtotal.IsNegative() || out.Discount.IsNegative() || out.Tax.IsNegative() || out.Total.IsNegative() {
		return Totals{}, ErrNegativeTotal
	}
	return out, nil
}

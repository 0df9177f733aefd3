// Package discount resolves discount codes to pricing rules.
//
// Resolution is pluggable: a Resolver returns (nil, nil) for codes it does
// not know, so resolvers compose into a Chain where the first hit wins.
package discount

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/pkg/money"
)

type RuleType string

const (
	RuleTypePercent RuleType = "percent"
	RuleTypeFixed   RuleType = "fixed"
)

var ErrInvalidRule = errors.New("invalid_discount_rule")

// Rule is a resolved discount. Value is a percentage for percent rules and a
// major-unit amount for fixed rules.
type Rule struct {
	Code     string
	Type     RuleType
	Value    decimal.Decimal
	Currency string
}

type Resolver interface {
	Resolve(ctx context.Context, code string) (*Rule, error)
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AppliesTo reports whether the rule can discount an invoice in currency.
func (r Rule) AppliesTo(currency string) bool {
	if r.Type == RuleTypeFixed && r.Currency != "" {
		return strings.EqualFold(r.Currency, currency)
	}
	return true
}

// Amount returns the discount for subtotal, rounded to the currency and never
// larger than subtotal.
func (r Rule) Amount(subtotal decimal.Decimal, currency string) (decimal.Decimal, error) {
	if r.Value.IsNegative() {
		return decimal.Zero, ErrInvalidRule
	}

	var amount decimal.Decimal
	switch r.Type {
	case RuleTypePercent:
		if r.Value.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, ErrInvalidRule
		}
		amount = subtotal.Mul(r.Value).Div(decimal.NewFromInt(100))
	case RuleTypeFixed:
		amount = r.Value
	default:
		return decimal.Zero, ErrInvalidRule
	}

	amount = money.Round(amount, currency)
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount, nil
}

// Chain consults resolvers in order.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, code string) (*Rule, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		rule, err := r.Resolve(ctx, code)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}
	return nil, nil
}

func isExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.After(now)
}

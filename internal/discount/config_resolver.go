package discount

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/internal/config"
)

// ConfigResolver looks codes up in the hot-reloaded billing config.
type ConfigResolver struct {
	holder *config.BillingConfigHolder
}

func NewConfigResolver(holder *config.BillingConfigHolder) *ConfigResolver {
	return &ConfigResolver{holder: holder}
}

func (r *ConfigResolver) Resolve(ctx context.Context, code string) (*Rule, error) {
	code = NormalizeCode(code)
	if code == "" || r.holder == nil {
		return nil, nil
	}

	for _, entry := range r.holder.Get().DiscountCodes {
		if entry.Disabled || NormalizeCode(entry.Code) != code {
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(entry.Value))
		if err != nil {
			return nil, ErrInvalidRule
		}
		return &Rule{
			Code:     code,
			Type:     RuleType(strings.ToLower(strings.TrimSpace(entry.Type))),
			Value:    value,
			Currency: strings.ToUpper(strings.TrimSpace(entry.Currency)),
		}, nil
	}
	return nil, nil
}

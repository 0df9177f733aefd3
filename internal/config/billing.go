package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DiscountTypePercent = "percent"
	DiscountTypeFixed   = "fixed"
)

// BillingConfig holds tunables that operators change without a redeploy.
type BillingConfig struct {
	DefaultCurrency        string         `mapstructure:"defaultCurrency"`
	DefaultTaxRate         string         `mapstructure:"defaultTaxRate"`
	InvoiceDueDays         int            `mapstructure:"invoiceDueDays"`
	SubscriptionPeriodDays int            `mapstructure:"subscriptionPeriodDays"`
	CommissionRate         string         `mapstructure:"commissionRate"`
	DiscountCodes          []DiscountCode `mapstructure:"discountCodes"`
}

// DiscountCode is one row of the discount lookup table. Value is a
// percentage for percent codes and a major-unit amount for fixed codes.
type DiscountCode struct {
	Code     string `mapstructure:"code"`
	Type     string `mapstructure:"type"`
	Value    string `mapstructure:"value"`
	Currency string `mapstructure:"currency"`
	Disabled bool   `mapstructure:"disabled"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultCurrency:        "USD",
		DefaultTaxRate:         "0",
		InvoiceDueDays:         30,
		SubscriptionPeriodDays: 30,
		CommissionRate:         "0.20",
		DiscountCodes: []DiscountCode{
			{Code: "SAVE10", Type: DiscountTypePercent, Value: "10"},
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(appCfg Config, log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("billing.config")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	if appCfg.BillingConfigPath != "" {
		v.AddConfigPath(appCfg.BillingConfigPath)
	}
	v.AddConfigPath("/etc/hostbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HOSTBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("billing.defaultTaxRate", defaults.DefaultTaxRate)
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)
	v.SetDefault("billing.subscriptionPeriodDays", defaults.SubscriptionPeriodDays)
	v.SetDefault("billing.commissionRate", defaults.CommissionRate)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		v.SetDefault("billing.discountCodes", defaults.DiscountCodes)
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	applyBillingDefaults(&cfg)
	if err := ValidateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileFound {
		log.Info("billing config file not found, using defaults")
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		applyBillingDefaults(&updated)
		if err := ValidateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// applyBillingDefaults fills keys a partial billing.yml leaves out.
func applyBillingDefaults(cfg *BillingConfig) {
	defaults := DefaultBillingConfig()
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		cfg.DefaultCurrency = defaults.DefaultCurrency
	}
	if strings.TrimSpace(cfg.DefaultTaxRate) == "" {
		cfg.DefaultTaxRate = defaults.DefaultTaxRate
	}
	if cfg.InvoiceDueDays == 0 {
		cfg.InvoiceDueDays = defaults.InvoiceDueDays
	}
	if cfg.SubscriptionPeriodDays == 0 {
		cfg.SubscriptionPeriodDays = defaults.SubscriptionPeriodDays
	}
	if strings.TrimSpace(cfg.CommissionRate) == "" {
		cfg.CommissionRate = defaults.CommissionRate
	}
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		return errors.New("billing.defaultCurrency cannot be empty")
	}
	if cfg.InvoiceDueDays <= 0 {
		return errors.New("billing.invoiceDueDays must be positive")
	}
	if cfg.SubscriptionPeriodDays <= 0 {
		return errors.New("billing.subscriptionPeriodDays must be positive")
	}
	if rate, err := decimal.NewFromString(strings.TrimSpace(cfg.DefaultTaxRate)); err != nil || rate.IsNegative() {
		return errors.New("billing.defaultTaxRate must be a non-negative number")
	}
	if rate, err := decimal.NewFromString(strings.TrimSpace(cfg.CommissionRate)); err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("billing.commissionRate must be between 0 and 1")
	}

	seen := map[string]struct{}{}
	for _, code := range cfg.DiscountCodes {
		key := strings.ToUpper(strings.TrimSpace(code.Code))
		if key == "" {
			return errors.New("billing.discountCodes: code cannot be empty")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("billing.discountCodes: duplicate code %s", key)
		}
		seen[key] = struct{}{}

		value, err := decimal.NewFromString(strings.TrimSpace(code.Value))
		if err != nil || value.IsNegative() {
			return fmt.Errorf("billing.discountCodes: invalid value for %s", key)
		}
		switch strings.ToLower(strings.TrimSpace(code.Type)) {
		case DiscountTypePercent:
			if value.GreaterThan(decimal.NewFromInt(100)) {
				return fmt.Errorf("billing.discountCodes: percent above 100 for %s", key)
			}
		case DiscountTypeFixed:
		default:
			return fmt.Errorf("billing.discountCodes: unknown type %q for %s", code.Type, key)
		}
	}
	return nil
}

package discount

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/internal/clock"
	"gorm.io/gorm"
)

// Code is a row of the discount_codes table.
type Code struct {
	Code      string          `gorm:"primaryKey;type:text"`
	Type      string          `gorm:"type:text;not null"`
	Value     decimal.Decimal `gorm:"type:numeric;not null"`
	Currency  *string         `gorm:"type:text"`
	Active    bool            `gorm:"not null"`
	ExpiresAt *time.Time
}

func (Code) TableName() string { return "discount_codes" }

// DBResolver looks codes up in the discount_codes table. Inactive and
// expired codes resolve as unknown.
type DBResolver struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDBResolver(db *gorm.DB, clk clock.Clock) *DBResolver {
	return &DBResolver{db: db, clock: clk}
}

func (r *DBResolver) Resolve(ctx context.Context, code string) (*Rule, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil
	}

	var row Code
	err := r.db.WithContext(ctx).Raw(
		`SELECT code, type, value, currency, active, expires_at
		 FROM discount_codes
		 WHERE code = ?
		 LIMIT 1`,
		code,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Code == "" || !row.Active || isExpired(row.ExpiresAt, r.clock.Now()) {
		return nil, nil
	}

	rule := &Rule{
		Code:  code,
		Type:  RuleType(strings.ToLower(strings.TrimSpace(row.Type))),
		Value: row.Value,
	}
	if row.Currency != nil {
		rule.Currency = strings.ToUpper(strings.TrimSpace(*row.Currency))
	}
	return rule, nil
}

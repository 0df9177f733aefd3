package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/pkg/money"
	"gorm.io/gorm"
)

type CommissionStatus string

const (
	StatusPending CommissionStatus = "pending"
	StatusPaid    CommissionStatus = "paid"
)

// Commission is a reseller's share of a settled charge. PayoutID is set once,
// by the payout that pays it, and never changes afterwards.
type Commission struct {
	ID                  snowflake.ID     `json:"id" gorm:"primaryKey"`
	ResellerID          snowflake.ID     `json:"reseller_id" gorm:"not null;index"`
	Amount              int64            `json:"amount" gorm:"not null"`
	Currency            string           `json:"currency" gorm:"type:text;not null"`
	Status              CommissionStatus `json:"status" gorm:"type:text;not null"`
	PayoutID            *snowflake.ID    `json:"payout_id,omitempty" gorm:"index"`
	SourceTransactionID *snowflake.ID    `json:"source_transaction_id,omitempty" gorm:"uniqueIndex"`
	CreatedAt           time.Time        `json:"created_at" gorm:"not null"`
	PaidAt              *time.Time       `json:"paid_at,omitempty"`
}

func (Commission) TableName() string { return "commissions" }

// ComputeAmount applies rate to a charge in minor units, rounding half-even.
func ComputeAmount(chargeMinor int64, rate decimal.Decimal, currency string) (int64, error) {
	charge := money.FromMinor(chargeMinor, currency)
	return money.ToMinor(charge.Mul(rate), currency)
}

type Repository interface {
	// Accrue inserts a pending commission; false means the source transaction
	// already produced one.
	Accrue(ctx context.Context, db *gorm.DB, c *Commission) (bool, error)
	SumPending(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string) (int64, error)
	MarkPaidForPayout(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string, payoutID snowflake.ID, paidAt time.Time) (int64, error)
	ListByPayout(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]Commission, error)
}

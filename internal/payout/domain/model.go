package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PayoutStatus string

const (
	StatusPending   PayoutStatus = "pending"
	StatusApproved  PayoutStatus = "approved"
	StatusCompleted PayoutStatus = "completed"
	StatusRejected  PayoutStatus = "rejected"
)

// CanTransition encodes pending -> approved -> completed, with rejected
// reachable from pending or approved.
func CanTransition(from, to PayoutStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusCompleted || to == StatusRejected
	default:
		return false
	}
}

// Payout is a reseller's request to be paid out accrued commissions.
type Payout struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	ResellerID        snowflake.ID      `json:"reseller_id" gorm:"not null;index"`
	Amount            int64             `json:"amount" gorm:"not null"`
	Currency          string            `json:"currency" gorm:"type:text;not null"`
	Status            PayoutStatus      `json:"status" gorm:"type:text;not null"`
	Method            string            `json:"payout_method" gorm:"type:text;not null"`
	Details           datatypes.JSONMap `json:"payout_details,omitempty" gorm:"type:jsonb"`
	PeriodStart       *time.Time        `json:"period_start,omitempty"`
	PeriodEnd         time.Time         `json:"period_end" gorm:"not null"`
	ApprovedBy        *snowflake.ID     `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
	ProcessedBy       *snowflake.ID     `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`
	RejectedAt        *time.Time        `json:"rejected_at,omitempty"`
	RejectionReason   *string           `json:"rejection_reason,omitempty" gorm:"type:text"`
	TransferReference *string           `json:"transfer_reference,omitempty" gorm:"type:text"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null"`
}

func (Payout) TableName() string { return "payouts" }

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Canonical event types every provider adapter maps onto.
const (
	EventChargeSucceeded       = "charge.succeeded"
	EventChargeFailed          = "charge.failed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventTransferCompleted     = "transfer.completed"
)

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionPending   TransactionStatus = "pending"
)

type TransactionType string

const (
	TransactionPayment TransactionType = "payment"
	TransactionRefund  TransactionType = "refund"
)

// Transaction records one provider charge. (provider, provider_transaction_id)
// is unique and acts as the idempotency key for webhook redelivery. A failed
// row is settled in place when a retry under the same reference succeeds.
type Transaction struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	OwnerID               snowflake.ID      `json:"owner_id" gorm:"not null;index"`
	Amount                int64             `json:"amount" gorm:"not null"`
	Currency              string            `json:"currency" gorm:"type:text;not null"`
	Status                TransactionStatus `json:"status" gorm:"type:text;not null"`
	Provider              string            `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_transactions_provider_ref,priority:1"`
	ProviderTransactionID string            `json:"provider_transaction_id" gorm:"type:text;not null;uniqueIndex:ux_transactions_provider_ref,priority:2"`
	Type                  TransactionType   `json:"type" gorm:"type:text;not null"`
	Description           string            `json:"description" gorm:"type:text"`
	SubscriptionID        *snowflake.ID     `json:"subscription_id,omitempty"`
	InvoiceID             *snowflake.ID     `json:"invoice_id,omitempty"`
	Payload               datatypes.JSON    `json:"-" gorm:"type:jsonb"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "transactions" }

// PaymentEvent is the provider-neutral event produced by adapters.
type PaymentEvent struct {
	Provider string
	Type     string
	// ExternalID is the provider's id for the charge, subscription or
	// transfer the event is about.
	ExternalID      string
	ProviderEventID string

	OwnerID         snowflake.ID
	Amount          int64
	Currency        string
	Description     string
	SubscriptionID  *snowflake.ID
	SubscriptionRef string
	InvoiceID       *snowflake.ID
	ResellerID      *snowflake.ID
	PayoutID        *snowflake.ID
	OccurredAt      time.Time
	Payload         []byte
}

type ReconcileResult struct {
	Duplicate     bool          `json:"duplicate"`
	Ignored       bool          `json:"ignored"`
	TransactionID *snowflake.ID `json:"transaction_id,omitempty"`
}

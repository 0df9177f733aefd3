package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// Notification types emitted by billing flows.
const (
	TypeInvoiceCreated   = "invoice.created"
	TypeInvoicePaid      = "invoice.paid"
	TypePaymentFailed    = "payment.failed"
	TypePayoutRequested  = "payout.requested"
	TypePayoutApproved   = "payout.approved"
	TypePayoutRejected   = "payout.rejected"
	TypePayoutCompleted  = "payout.completed"
	TypeSubscriptionLost = "subscription.cancelled"
)

// Message is what callers hand to a Sink.
type Message struct {
	UserID   snowflake.ID
	Type     string
	Title    string
	Message  string
	Priority Priority
}

type Notification struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;index"`
	Type      string       `json:"type" gorm:"type:text;not null"`
	Title     string       `json:"title" gorm:"type:text;not null"`
	Message   string       `json:"message" gorm:"type:text;not null"`
	Priority  Priority     `json:"priority" gorm:"type:text;not null"`
	ReadAt    *time.Time   `json:"read_at,omitempty"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Notification) TableName() string { return "notifications" }

var (
	ErrInvalidRecipient = errors.New("notification_invalid_recipient")
	ErrInvalidMessage   = errors.New("notification_invalid_message")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *Notification) error
	FindUserEmail(ctx context.Context, db *gorm.DB, userID snowflake.ID) (string, error)
}

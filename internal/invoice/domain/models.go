// Package domain contains persistence models for invoicing.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// CanTransition reports whether an invoice may move from one status to another.
// Paid and void invoices are immutable.
func CanTransition(from, to InvoiceStatus) bool {
	switch from {
	case InvoiceStatusDraft:
		return to == InvoiceStatusPending || to == InvoiceStatusVoid
	case InvoiceStatusPending:
		return to == InvoiceStatusPaid || to == InvoiceStatusVoid
	default:
		return false
	}
}

// Invoice represents a calculated invoice. Money columns hold minor units.
type Invoice struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	Number         string          `json:"number" gorm:"type:text;not null;uniqueIndex"`
	OwnerID        snowflake.ID    `json:"owner_id" gorm:"not null;index"`
	SubscriptionID *snowflake.ID   `json:"subscription_id,omitempty" gorm:"index"`
	Status         InvoiceStatus   `json:"status" gorm:"type:text;not null"`
	Currency       string          `json:"currency" gorm:"type:text;not null"`
	DiscountCode   *string         `json:"discount_code,omitempty" gorm:"type:text"`
	Subtotal       int64           `json:"subtotal" gorm:"not null"`
	DiscountAmount int64           `json:"discount_amount" gorm:"not null"`
	TaxableAmount  int64           `json:"taxable_amount" gorm:"not null"`
	TaxRate        decimal.Decimal `json:"tax_rate" gorm:"type:numeric;not null"`
	TaxAmount      int64           `json:"tax_amount" gorm:"not null"`
	Total          int64           `json:"total" gorm:"not null"`
	DueDate        time.Time       `json:"due_date" gorm:"not null"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`

	Items []InvoiceItem `json:"line_items" gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Payment is a completed charge offered against an invoice.
type Payment struct {
	OwnerID  snowflake.ID
	Amount   int64
	Currency string
}

// SettledBy reports whether p pays the invoice in full. Only pending
// invoices of the same owner and currency can be settled.
func (inv Invoice) SettledBy(p Payment) bool {
	return CanTransition(inv.Status, InvoiceStatusPaid) &&
		inv.OwnerID == p.OwnerID &&
		strings.EqualFold(inv.Currency, p.Currency) &&
		p.Amount >= inv.Total
}

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Position    int             `json:"position" gorm:"not null"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    int64           `json:"quantity" gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric;not null"`
	Amount      int64           `json:"amount" gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LineItem is caller input for one invoice line.
type LineItem struct {
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
}

type CalculateRequest struct {
	OwnerID        snowflake.ID
	SubscriptionID *snowflake.ID
	LineItems      []LineItem
	DiscountCode   string
	// TaxRate is a percentage; nil falls back to the configured default.
	TaxRate  *decimal.Decimal
	Currency string
}

type CalculateResult struct {
	Invoice         *Invoice
	DiscountApplied bool
}

type Service interface {
	CalculateInvoice(ctx context.Context, req CalculateRequest) (*CalculateResult, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	RenderPDF(ctx context.Context, id snowflake.ID) (*Invoice, []byte, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, inv *Invoice) error
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to InvoiceStatus, now time.Time) (bool, error)
	// MarkPaid moves a pending invoice to paid when payment covers its total
	// in the invoice currency for the invoice owner.
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, payment Payment, paidAt time.Time) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
}

var (
	ErrInvalidInvoiceInput = errors.New("invalid_invoice_input")
	ErrNotFound            = errors.New("invoice_not_found")
	ErrInvalidTransition   = errors.New("invoice_invalid_transition")
	ErrDuplicateInvoice    = errors.New("invoice_duplicate")
)

// InputError names the request field that failed validation.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInvoiceInput.Error(), e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInvoiceInput }

// Invalid builds an InputError for field.
func Invalid(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}

// ValidateLineItems checks quantities and prices of caller supplied lines.
func ValidateLineItems(items []LineItem) error {
	for i, item := range items {
		if item.Quantity <= 0 {
			return Invalid(fmt.Sprintf("line_items[%d].quantity", i), "must be greater than zero")
		}
		if item.UnitPrice.IsNegative() {
			return Invalid(fmt.Sprintf("line_items[%d].unit_price", i), "must not be negative")
		}
	}
	return nil
}

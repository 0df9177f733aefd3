package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/smallbiznis/hostbill/internal/clock"
	"gorm.io/gorm"
)

type AdapterConfig struct {
	Provider  string
	Secret    string
	Tolerance time.Duration
	Clock     clock.Clock
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// PaymentAdapter verifies and normalizes one provider's webhooks.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, event *PaymentEvent) (*ReconcileResult, error)
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*ReconcileResult, error)
}

type Repository interface {
	// InsertTransaction returns false when the provider reference already exists.
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) (bool, error)
	// SettleFailedTransaction turns a failed row for the same provider
	// reference into txn's completed charge and copies the stored id onto
	// txn. It returns false when no failed row exists.
	SettleFailedTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) (bool, error)
	FindTransaction(ctx context.Context, db *gorm.DB, provider string, providerTransactionID string) (*Transaction, error)
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidOwner     = errors.New("invalid_owner")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrEventIgnored     = errors.New("event_ignored")
)

// IsUnprocessable reports errors for authentic, well-formed events that
// billing cannot apply. They are acknowledged so providers stop redelivering.
func IsUnprocessable(err error) bool {
	return errors.Is(err, ErrInvalidOwner) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCurrency)
}

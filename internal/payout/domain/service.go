package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/pkg/db/pagination"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of a payout operation.
type Actor struct {
	ID   snowflake.ID
	Role string
}

type RequestPayout struct {
	Amount   decimal.Decimal
	Currency string
	Method   string
	Details  map[string]any
}

type ListRequest struct {
	pagination.Pagination
	ResellerID *snowflake.ID
	Status     string
}

type ListResponse struct {
	pagination.PageInfo
	Payouts []Payout `json:"payouts"`
}

// Transfer is a provider confirmation that the money for a payout moved.
type Transfer struct {
	PayoutID  snowflake.ID
	Provider  string
	Reference string
}

type Service interface {
	Request(ctx context.Context, actor Actor, req RequestPayout) (*Payout, error)
	Approve(ctx context.Context, actor Actor, payoutID snowflake.ID) (*Payout, error)
	Process(ctx context.Context, actor Actor, payoutID snowflake.ID) (*Payout, error)
	Reject(ctx context.Context, actor Actor, payoutID snowflake.ID, reason string) (*Payout, error)
	// CompleteTransfer applies a provider transfer confirmation. It is safe to
	// call more than once for the same payout.
	CompleteTransfer(ctx context.Context, transfer Transfer) (*Payout, error)
	List(ctx context.Context, actor Actor, req ListRequest) (ListResponse, error)
}

type ListFilter struct {
	ResellerID *snowflake.ID
	Status     PayoutStatus
	Cursor     *Cursor
	Limit      int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payout *Payout) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	// Approve, Complete and Reject are compare-and-swap updates keyed on the
	// expected current status. false means another caller moved it first.
	Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, approvedBy snowflake.ID, now time.Time) (bool, error)
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, processedBy *snowflake.ID, reference *string, now time.Time) (bool, error)
	Reject(ctx context.Context, db *gorm.DB, id snowflake.ID, from PayoutStatus, reason string, now time.Time) (bool, error)
	SumOutstandingApproved(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string) (int64, error)
	LastCompletedAt(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string) (*time.Time, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payout, error)
}

var (
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidMethod       = errors.New("invalid_payout_method")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrNotFound            = errors.New("payout_not_found")
	ErrInvalidTransition   = errors.New("payout_invalid_transition")
	ErrForbidden           = errors.New("forbidden")
	ErrRateLimited         = errors.New("payout_rate_limited")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidStatus       = errors.New("invalid_payout_status")
)

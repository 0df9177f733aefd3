// Package domain contains the subscription model and its status rules.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a paying account's recurring plan with a provider.
type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey"`
	OwnerID                snowflake.ID       `json:"owner_id" gorm:"not null;index"`
	Provider               string             `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_ref,priority:1"`
	ProviderSubscriptionID string             `json:"provider_subscription_id" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_ref,priority:2"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	Amount                 int64              `json:"amount" gorm:"not null"`
	Currency               string             `json:"currency" gorm:"type:text;not null"`
	PlanName               string             `json:"plan_name" gorm:"type:text;not null"`
	CurrentPeriodStart     time.Time          `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end" gorm:"not null"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// CanTransition reports whether a status change is allowed.
// active and past_due may cycle; cancelled is terminal.
func CanTransition(from, to SubscriptionStatus) bool {
	if from == StatusCancelled {
		return false
	}
	switch to {
	case StatusActive, StatusPastDue, StatusCancelled:
		return true
	default:
		return false
	}
}

// NextPeriod extends a billing period by days. A lapsed period restarts at now.
func NextPeriod(sub Subscription, now time.Time, days int) (time.Time, time.Time) {
	length := time.Duration(days) * 24 * time.Hour
	if sub.CurrentPeriodEnd.After(now) {
		return sub.CurrentPeriodStart, sub.CurrentPeriodEnd.Add(length)
	}
	return now, now.Add(length)
}

var (
	ErrNotFound          = errors.New("subscription_not_found")
	ErrInvalidTransition = errors.New("subscription_invalid_transition")
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*Subscription, error)
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd, now time.Time) (bool, error)
	MarkPastDue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelledAt time.Time) (bool, error)
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_id, provider, provider_subscription_id, status, amount, currency,
			plan_name, current_period_start, current_period_end, cancelled_at, created_at, updated_at
		 FROM subscriptions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_id, provider, provider_subscription_id, status, amount, currency,
			plan_name, current_period_start, current_period_end, cancelled_at, created_at, updated_at
		 FROM subscriptions
		 WHERE provider = ? AND provider_subscription_id = ?
		 LIMIT 1`,
		provider,
		providerSubscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, current_period_start = ?, current_period_end = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.StatusActive,
		periodStart,
		periodEnd,
		now,
		id,
		domain.StatusCancelled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPastDue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusPastDue,
		now,
		id,
		domain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelledAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.StatusCancelled,
		cancelledAt,
		cancelledAt,
		id,
		domain.StatusCancelled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/commission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Accrue(ctx context.Context, db *gorm.DB, c *domain.Commission) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO commissions (id, reseller_id, amount, currency, status, source_transaction_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_transaction_id) DO NOTHING`,
		c.ID,
		c.ResellerID,
		c.Amount,
		c.Currency,
		domain.StatusPending,
		c.SourceTransactionID,
		c.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SumPending(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM commissions
		 WHERE reseller_id = ? AND currency = ? AND status = ? AND payout_id IS NULL`,
		resellerID,
		currency,
		domain.StatusPending,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// MarkPaidForPayout attaches every unpaid commission of the reseller to payoutID.
// The payout_id IS NULL guard keeps an already attached commission immutable.
func (r *repo) MarkPaidForPayout(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string, payoutID snowflake.ID, paidAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET status = ?, payout_id = ?, paid_at = ?
		 WHERE reseller_id = ? AND currency = ? AND status = ? AND payout_id IS NULL`,
		domain.StatusPaid,
		payoutID,
		paidAt,
		resellerID,
		currency,
		domain.StatusPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListByPayout(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]domain.Commission, error) {
	var items []domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT id, reseller_id, amount, currency, status, payout_id, source_transaction_id, created_at, paid_at
		 FROM commissions
		 WHERE payout_id = ?
		 ORDER BY created_at ASC, id ASC`,
		payoutID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

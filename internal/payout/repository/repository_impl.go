package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/payout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payout *domain.Payout) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, reseller_id, amount, currency, status, method, details,
			period_start, period_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payout.ID,
		payout.ResellerID,
		payout.Amount,
		payout.Currency,
		payout.Status,
		payout.Method,
		payout.Details,
		payout.PeriodStart,
		payout.PeriodEnd,
		payout.CreatedAt,
		payout.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payout, error) {
	var payout domain.Payout
	err := db.WithContext(ctx).Raw(
		`SELECT id, reseller_id, amount, currency, status, method, details,
			period_start, period_end, approved_by, approved_at, processed_by, processed_at,
			rejected_at, rejection_reason, transfer_reference, created_at, updated_at
		 FROM payouts
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&payout).Error
	if err != nil {
		return nil, err
	}
	if payout.ID == 0 {
		return nil, nil
	}
	return &payout, nil
}

func (r *repo) Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, approvedBy snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusApproved,
		approvedBy,
		now,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Complete flips an approved payout to completed. Only one concurrent caller
// can observe approved here.
func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, processedBy *snowflake.ID, reference *string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, processed_by = ?, processed_at = ?, transfer_reference = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		processedBy,
		now,
		reference,
		now,
		id,
		domain.StatusApproved,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Reject(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.PayoutStatus, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, rejected_at = ?, rejection_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusRejected,
		now,
		reason,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SumOutstandingApproved(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM payouts
		 WHERE reseller_id = ? AND currency = ? AND status = ?`,
		resellerID,
		currency,
		domain.StatusApproved,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) LastCompletedAt(ctx context.Context, db *gorm.DB, resellerID snowflake.ID, currency string) (*time.Time, error) {
	var rows []struct {
		ProcessedAt *time.Time
	}
	err := db.WithContext(ctx).Raw(
		`SELECT processed_at
		 FROM payouts
		 WHERE reseller_id = ? AND currency = ? AND status = ? AND processed_at IS NOT NULL
		 ORDER BY processed_at DESC
		 LIMIT 1`,
		resellerID,
		currency,
		domain.StatusCompleted,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ProcessedAt, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Payout, error) {
	var items []domain.Payout
	stmt := db.WithContext(ctx).Model(&domain.Payout{})

	if filter.ResellerID != nil {
		stmt = stmt.Where("reseller_id = ?", *filter.ResellerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

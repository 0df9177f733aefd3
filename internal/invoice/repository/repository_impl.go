package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/invoice/domain"
	"github.com/smallbiznis/hostbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert stores the invoice header and its lines on db, which callers
// normally pass as an open transaction.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	if err := repository.ProvideStore[domain.Invoice](db).Create(ctx, inv); err != nil {
		return err
	}

	items := make([]*domain.InvoiceItem, 0, len(inv.Items))
	for i := range inv.Items {
		items = append(items, &inv.Items[i])
	}
	return repository.ProvideStore[domain.InvoiceItem](db).BatchCreate(ctx, items)
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.InvoiceStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkPaid only moves pending invoices; paid invoices are never rewritten.
func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, payment domain.Payment, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND owner_id = ? AND currency = ? AND total <= ?`,
		domain.InvoiceStatusPaid,
		paidAt,
		paidAt,
		id,
		domain.InvoiceStatusPending,
		payment.OwnerID,
		strings.ToUpper(strings.TrimSpace(payment.Currency)),
		payment.Amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	inv, err := repository.ProvideStore[domain.Invoice](db).FindOne(ctx, &domain.Invoice{ID: id})
	if err != nil || inv == nil {
		return nil, err
	}

	items, err := repository.ProvideStore[domain.InvoiceItem](db).Find(ctx,
		&domain.InvoiceItem{InvoiceID: id},
		repository.OrderBy("position asc"),
	)
	if err != nil {
		return nil, err
	}
	inv.Items = make([]domain.InvoiceItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			inv.Items = append(inv.Items, *item)
		}
	}
	return inv, nil
}

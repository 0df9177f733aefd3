package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, owner_id, amount, currency, status, provider, provider_transaction_id,
			type, description, subscription_id, invoice_id, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_transaction_id) DO NOTHING`,
		txn.ID,
		txn.OwnerID,
		txn.Amount,
		txn.Currency,
		txn.Status,
		txn.Provider,
		txn.ProviderTransactionID,
		txn.Type,
		txn.Description,
		txn.SubscriptionID,
		txn.InvoiceID,
		txn.Payload,
		txn.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SettleFailedTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, owner_id = ?, amount = ?, currency = ?, description = ?,
			subscription_id = COALESCE(?, subscription_id), invoice_id = COALESCE(?, invoice_id),
			payload = ?, created_at = ?
		 WHERE provider = ? AND provider_transaction_id = ? AND status = ?`,
		domain.TransactionCompleted,
		txn.OwnerID,
		txn.Amount,
		txn.Currency,
		txn.Description,
		txn.SubscriptionID,
		txn.InvoiceID,
		txn.Payload,
		txn.CreatedAt,
		txn.Provider,
		txn.ProviderTransactionID,
		domain.TransactionFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	var row struct{ ID snowflake.ID }
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM transactions WHERE provider = ? AND provider_transaction_id = ?`,
		txn.Provider,
		txn.ProviderTransactionID,
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	txn.ID = row.ID
	txn.Status = domain.TransactionCompleted
	return true, nil
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, provider string, providerTransactionID string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_id, amount, currency, status, provider, provider_transaction_id,
			type, description, subscription_id, invoice_id, payload, created_at
		 FROM transactions
		 WHERE provider = ? AND provider_transaction_id = ?
		 LIMIT 1`,
		provider,
		providerTransactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

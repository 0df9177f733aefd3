package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO notifications (id, user_id, type, title, message, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.Priority,
		n.CreatedAt,
	).Error
}

func (r *repo) FindUserEmail(ctx context.Context, db *gorm.DB, userID snowflake.ID) (string, error) {
	var email string
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(email, '') FROM users WHERE id = ? LIMIT 1`,
		userID,
	).Scan(&email).Error
	if err != nil {
		return "", err
	}
	return email, nil
}

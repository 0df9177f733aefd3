package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/hostbill/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) InsertToken(ctx context.Context, db *gorm.DB, token *apikeydomain.APIToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_tokens (id, user_id, token_hash, created_at)
		 VALUES (?, ?, ?, ?)`,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.CreatedAt,
	).Error
}

func (r *repo) FindIdentityByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.Identity, error) {
	var row struct {
		UserID snowflake.ID `gorm:"column:user_id"`
		Role   string       `gorm:"column:role"`
		Email  *string      `gorm:"column:email"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT u.id AS user_id, u.role AS role, u.email AS email
		 FROM api_tokens t
		 JOIN users u ON u.id = t.user_id
		 WHERE t.token_hash = ? AND t.revoked_at IS NULL
		 LIMIT 1`,
		hash,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserID == 0 {
		return nil, nil
	}

	identity := &apikeydomain.Identity{
		UserID: row.UserID,
		Role:   strings.ToLower(strings.TrimSpace(row.Role)),
	}
	if row.Email != nil {
		identity.Email = strings.TrimSpace(*row.Email)
	}
	return identity, nil
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*apikeydomain.User, error) {
	var user apikeydomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, role, created_at FROM users WHERE id = ? LIMIT 1`,
		userID,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) Revoke(ctx context.Context, db *gorm.DB, tokenID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE api_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		at,
		tokenID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, hash string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_tokens SET last_used_at = ? WHERE token_hash = ?`,
		at,
		hash,
	).Error
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Authenticate(ctx context.Context, rawToken string) (*Identity, error)
	Issue(ctx context.Context, userID snowflake.ID) (*SecretResponse, error)
	Revoke(ctx context.Context, tokenID snowflake.ID) error
}

type Repository interface {
	InsertToken(ctx context.Context, db *gorm.DB, token *APIToken) error
	FindIdentityByHash(ctx context.Context, db *gorm.DB, hash string) (*Identity, error)
	FindUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*User, error)
	Revoke(ctx context.Context, db *gorm.DB, tokenID snowflake.ID, at time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, hash string, at time.Time) error
}

type SecretResponse struct {
	TokenID snowflake.ID `json:"token_id"`
	Token   string       `json:"token"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
)

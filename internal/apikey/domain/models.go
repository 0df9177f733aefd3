package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is an account that can call the API. Role is one of customer,
// reseller or admin.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Email     *string      `gorm:"type:text"`
	Role      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// APIToken stores a hashed bearer token issued to a user.
type APIToken struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"column:user_id;not null;index"`
	TokenHash  string       `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	RevokedAt  *time.Time   `gorm:"column:revoked_at"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	CreatedAt  time.Time    `gorm:"not null"`
}

func (APIToken) TableName() string { return "api_tokens" }

// Identity is the authenticated caller behind a bearer token.
type Identity struct {
	UserID snowflake.ID
	Role   string
	Email  string
}

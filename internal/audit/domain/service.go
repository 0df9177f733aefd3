package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// AuditLog is an append-only record of a privileged state change.
type AuditLog struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType    string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID      *string           `json:"actor_id,omitempty" gorm:"type:text"`
	Action       string            `json:"action" gorm:"type:text;not null"`
	ResourceType string            `json:"resource_type" gorm:"type:text;not null"`
	ResourceID   *string           `json:"resource_id,omitempty" gorm:"type:text"`
	Details      datatypes.JSONMap `json:"details,omitempty" gorm:"type:jsonb"`
	IPAddress    *string           `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent    *string           `json:"user_agent,omitempty" gorm:"type:text"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListAuditLogRequest struct {
	pagination.Pagination
	Action       string
	ResourceType string
	ResourceID   string
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type ListFilter struct {
	Action       string
	ResourceType string
	ResourceID   string
	Cursor       *AuditCursor
	Limit        int
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type Service interface {
	AuditLog(ctx context.Context, actorID *string, action string, resourceType string, resourceID *string, details map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidAction    = errors.New("invalid_action")
)

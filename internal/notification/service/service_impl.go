package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/notification/domain"
	"github.com/smallbiznis/hostbill/internal/observability/metrics"
	"github.com/smallbiznis/hostbill/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const emailTemplate = "notification"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Email      email.Provider
	ObsMetrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	email   email.Provider
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Sink {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("notification.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		email:   p.Email,
		metrics: p.ObsMetrics,
	}
}

// Notify stores the notification and mirrors it by email when the user has one.
// Email failures are logged only; the stored row is the record of delivery.
func (s *Service) Notify(ctx context.Context, msg domain.Message) error {
	if msg.UserID == 0 {
		return domain.ErrInvalidRecipient
	}
	msg.Title = strings.TrimSpace(msg.Title)
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Title == "" || msg.Type == "" {
		return domain.ErrInvalidMessage
	}
	if msg.Priority == "" {
		msg.Priority = domain.PriorityNormal
	}

	n := domain.Notification{
		ID:        s.genID.Generate(),
		UserID:    msg.UserID,
		Type:      msg.Type,
		Title:     msg.Title,
		Message:   msg.Message,
		Priority:  msg.Priority,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &n); err != nil {
		s.metrics.RecordNotificationFailed(ctx, msg.Type)
		return err
	}

	address, err := s.repo.FindUserEmail(ctx, s.db, msg.UserID)
	if err != nil {
		s.log.Warn("failed to resolve notification email", zap.String("user_id", msg.UserID.String()), zap.Error(err))
		return nil
	}
	if address == "" {
		return nil
	}

	if err := s.email.SendTemplate(ctx, []string{address}, emailTemplate, map[string]any{
		"subject":  msg.Title,
		"title":    msg.Title,
		"message":  msg.Message,
		"priority": string(msg.Priority),
	}); err != nil {
		s.metrics.RecordNotificationFailed(ctx, msg.Type)
		s.log.Warn("failed to send notification email",
			zap.String("user_id", msg.UserID.String()),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
	return nil
}

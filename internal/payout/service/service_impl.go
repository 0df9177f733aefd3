package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/hostbill/internal/audit/domain"
	"github.com/smallbiznis/hostbill/internal/authorization"
	"github.com/smallbiznis/hostbill/internal/clock"
	commissiondomain "github.com/smallbiznis/hostbill/internal/commission/domain"
	"github.com/smallbiznis/hostbill/internal/config"
	notificationdomain "github.com/smallbiznis/hostbill/internal/notification/domain"
	"github.com/smallbiznis/hostbill/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/hostbill/internal/payout/domain"
	"github.com/smallbiznis/hostbill/internal/ratelimit"
	"github.com/smallbiznis/hostbill/pkg/db/pagination"
	"github.com/smallbiznis/hostbill/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const systemActor = "system"

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Billing        *config.BillingConfigHolder
	Repo           payoutdomain.Repository
	CommissionRepo commissiondomain.Repository
	Authz          authorization.Service
	Notifier       notificationdomain.Sink
	AuditSvc       auditdomain.Service
	Limiter        *ratelimit.PayoutLimiter `optional:"true"`
	ObsMetrics     *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID          *snowflake.Node
	clock          clock.Clock
	billing        *config.BillingConfigHolder
	repo           payoutdomain.Repository
	commissionRepo commissiondomain.Repository
	authz          authorization.Service
	notifier       notificationdomain.Sink
	auditSvc       auditdomain.Service
	limiter        *ratelimit.PayoutLimiter
	metrics        *metrics.Metrics
}

func NewService(p Params) payoutdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payout.service"),

		genID:          p.GenID,
		clock:          p.Clock,
		billing:        p.Billing,
		repo:           p.Repo,
		commissionRepo: p.CommissionRepo,
		authz:          p.Authz,
		notifier:       p.Notifier,
		auditSvc:       p.AuditSvc,
		limiter:        p.Limiter,
		metrics:        p.ObsMetrics,
	}
}

func (s *Service) Request(ctx context.Context, actor payoutdomain.Actor, req payoutdomain.RequestPayout) (*payoutdomain.Payout, error) {
	if err := s.authorize(ctx, actor, authorization.ActionPayoutRequest); err != nil {
		return nil, err
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = s.billing.Get().DefaultCurrency
	}
	currency, err := money.NormalizeCurrency(currency)
	if err != nil {
		return nil, payoutdomain.ErrInvalidCurrency
	}
	if !req.Amount.IsPositive() || !money.Round(req.Amount, currency).Equal(req.Amount) {
		return nil, payoutdomain.ErrInvalidAmount
	}
	amount, err := money.ToMinor(req.Amount, currency)
	if err != nil || amount <= 0 {
		return nil, payoutdomain.ErrInvalidAmount
	}
	method := slug.Make(req.Method)
	if method == "" {
		return nil, payoutdomain.ErrInvalidMethod
	}

	allowed, retryAfter, err := s.limiter.AllowRequest(ctx, actor.ID.String())
	if err != nil {
		s.log.Warn("payout rate limiter unavailable", zap.Error(err))
	} else if !allowed {
		s.log.Info("payout request rate limited",
			zap.String("reseller_id", actor.ID.String()),
			zap.Duration("retry_after", retryAfter),
		)
		return nil, payoutdomain.ErrRateLimited
	}

	now := s.clock.Now()
	payout := &payoutdomain.Payout{
		ID:         s.genID.Generate(),
		ResellerID: actor.ID,
		Amount:     amount,
		Currency:   currency,
		Status:     payoutdomain.StatusPending,
		Method:     method,
		Details:    datatypes.JSONMap(req.Details),
		PeriodEnd:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		available, err := s.commissionRepo.SumPending(ctx, tx, actor.ID, currency)
		if err != nil {
			return err
		}
		if amount > available {
			return payoutdomain.ErrInsufficientBalance
		}
		periodStart, err := s.repo.LastCompletedAt(ctx, tx, actor.ID, currency)
		if err != nil {
			return err
		}
		payout.PeriodStart = periodStart
		return s.repo.Insert(ctx, tx, payout)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payout requested",
		zap.String("payout_id", payout.ID.String()),
		zap.String("reseller_id", actor.ID.String()),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
	)
	s.metrics.RecordPayoutTransition(ctx, string(payoutdomain.StatusPending))
	s.notify(ctx, payout, notificationdomain.TypePayoutRequested, "Payout requested",
		fmt.Sprintf("Your payout request for %s has been received.", money.Format(amount, currency)),
		notificationdomain.PriorityNormal)
	s.audit(ctx, actorString(actor), "payout.requested", payout, map[string]any{
		"amount":         amount,
		"currency":       currency,
		"payout_method":  method,
		"payout_details": req.Details,
	})
	return payout, nil
}

func (s *Service) Approve(ctx context.Context, actor payoutdomain.Actor, payoutID snowflake.ID) (*payoutdomain.Payout, error) {
	if err := s.authorize(ctx, actor, authorization.ActionPayoutApprove); err != nil {
		return nil, err
	}

	payout, err := s.load(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != payoutdomain.StatusPending {
		return nil, payoutdomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		available, err := s.commissionRepo.SumPending(ctx, tx, payout.ResellerID, payout.Currency)
		if err != nil {
			return err
		}
		outstanding, err := s.repo.SumOutstandingApproved(ctx, tx, payout.ResellerID, payout.Currency)
		if err != nil {
			return err
		}
		if outstanding+payout.Amount > available {
			return payoutdomain.ErrInsufficientBalance
		}
		swapped, err := s.repo.Approve(ctx, tx, payout.ID, actor.ID, now)
		if err != nil {
			return err
		}
		if !swapped {
			return payoutdomain.ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	approvedBy := actor.ID
	payout.Status = payoutdomain.StatusApproved
	payout.ApprovedBy = &approvedBy
	payout.ApprovedAt = &now
	payout.UpdatedAt = now

	s.metrics.RecordPayoutTransition(ctx, string(payoutdomain.StatusApproved))
	s.notify(ctx, payout, notificationdomain.TypePayoutApproved, "Payout approved",
		fmt.Sprintf("Your payout of %s has been approved.", money.Format(payout.Amount, payout.Currency)),
		notificationdomain.PriorityNormal)
	s.audit(ctx, actorString(actor), "payout.approved", payout, map[string]any{
		"amount":   payout.Amount,
		"currency": payout.Currency,
	})
	return payout, nil
}

func (s *Service) Process(ctx context.Context, actor payoutdomain.Actor, payoutID snowflake.ID) (*payoutdomain.Payout, error) {
	if err := s.authorize(ctx, actor, authorization.ActionPayoutProcess); err != nil {
		return nil, err
	}

	payout, err := s.load(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != payoutdomain.StatusApproved {
		return nil, payoutdomain.ErrInvalidTransition
	}

	processedBy := actor.ID
	return s.complete(ctx, payout, &processedBy, nil, actorString(actor))
}

func (s *Service) CompleteTransfer(ctx context.Context, transfer payoutdomain.Transfer) (*payoutdomain.Payout, error) {
	payout, err := s.load(ctx, transfer.PayoutID)
	if err != nil {
		return nil, err
	}
	switch payout.Status {
	case payoutdomain.StatusCompleted:
		s.log.Info("transfer confirmation for completed payout ignored",
			zap.String("payout_id", payout.ID.String()),
			zap.String("provider", transfer.Provider),
		)
		return payout, nil
	case payoutdomain.StatusApproved:
	default:
		return nil, payoutdomain.ErrInvalidTransition
	}

	var reference *string
	if ref := strings.TrimSpace(transfer.Reference); ref != "" {
		reference = &ref
	}
	return s.complete(ctx, payout, nil, reference, systemActor)
}

// complete moves an approved payout to completed and attaches the reseller's
// pending commissions to it in one transaction.
func (s *Service) complete(ctx context.Context, payout *payoutdomain.Payout, processedBy *snowflake.ID, reference *string, auditActor string) (*payoutdomain.Payout, error) {
	token, locked, err := s.limiter.LockProcess(ctx, payout.ID.String())
	if err != nil {
		s.log.Warn("payout process lock unavailable", zap.Error(err))
		locked = true
	}
	if !locked {
		return nil, payoutdomain.ErrInvalidTransition
	}
	if token != "" {
		defer func() {
			if err := s.limiter.ReleaseProcess(context.WithoutCancel(ctx), payout.ID.String(), token); err != nil {
				s.log.Warn("failed to release payout process lock", zap.Error(err))
			}
		}()
	}

	now := s.clock.Now()
	var paidCount int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		swapped, err := s.repo.Complete(ctx, tx, payout.ID, processedBy, reference, now)
		if err != nil {
			return err
		}
		if !swapped {
			return payoutdomain.ErrInvalidTransition
		}
		paidCount, err = s.commissionRepo.MarkPaidForPayout(ctx, tx, payout.ResellerID, payout.Currency, payout.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	payout.Status = payoutdomain.StatusCompleted
	payout.ProcessedBy = processedBy
	payout.ProcessedAt = &now
	payout.TransferReference = reference
	payout.UpdatedAt = now

	s.log.Info("payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("reseller_id", payout.ResellerID.String()),
		zap.Int64("commissions_paid", paidCount),
	)
	s.metrics.RecordPayoutTransition(ctx, string(payoutdomain.StatusCompleted))
	s.notify(ctx, payout, notificationdomain.TypePayoutCompleted, "Payout completed",
		fmt.Sprintf("Your payout of %s has been sent.", money.Format(payout.Amount, payout.Currency)),
		notificationdomain.PriorityNormal)

	details := map[string]any{
		"amount":           payout.Amount,
		"currency":         payout.Currency,
		"commissions_paid": paidCount,
	}
	if reference != nil {
		details["transfer_reference"] = *reference
	}
	s.audit(ctx, auditActor, "payout.completed", payout, details)
	return payout, nil
}

func (s *Service) Reject(ctx context.Context, actor payoutdomain.Actor, payoutID snowflake.ID, reason string) (*payoutdomain.Payout, error) {
	if err := s.authorize(ctx, actor, authorization.ActionPayoutReject); err != nil {
		return nil, err
	}

	payout, err := s.load(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if !payoutdomain.CanTransition(payout.Status, payoutdomain.StatusRejected) {
		return nil, payoutdomain.ErrInvalidTransition
	}

	reason = strings.TrimSpace(reason)
	now := s.clock.Now()
	swapped, err := s.repo.Reject(ctx, s.db, payout.ID, payout.Status, reason, now)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, payoutdomain.ErrInvalidTransition
	}

	payout.Status = payoutdomain.StatusRejected
	payout.RejectedAt = &now
	if reason != "" {
		payout.RejectionReason = &reason
	}
	payout.UpdatedAt = now

	s.metrics.RecordPayoutTransition(ctx, string(payoutdomain.StatusRejected))
	message := fmt.Sprintf("Your payout of %s was rejected.", money.Format(payout.Amount, payout.Currency))
	if reason != "" {
		message = fmt.Sprintf("%s Reason: %s", message, reason)
	}
	s.notify(ctx, payout, notificationdomain.TypePayoutRejected, "Payout rejected", message, notificationdomain.PriorityNormal)
	s.audit(ctx, actorString(actor), "payout.rejected", payout, map[string]any{"reason": reason})
	return payout, nil
}

func (s *Service) List(ctx context.Context, actor payoutdomain.Actor, req payoutdomain.ListRequest) (payoutdomain.ListResponse, error) {
	if err := s.authorize(ctx, actor, authorization.ActionPayoutList); err != nil {
		return payoutdomain.ListResponse{}, err
	}

	filter := payoutdomain.ListFilter{ResellerID: req.ResellerID}
	if strings.EqualFold(actor.Role, authorization.RoleReseller) {
		resellerID := actor.ID
		filter.ResellerID = &resellerID
	}

	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		switch payoutdomain.PayoutStatus(status) {
		case payoutdomain.StatusPending, payoutdomain.StatusApproved, payoutdomain.StatusCompleted, payoutdomain.StatusRejected:
			filter.Status = payoutdomain.PayoutStatus(status)
		default:
			return payoutdomain.ListResponse{}, payoutdomain.ErrInvalidStatus
		}
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return payoutdomain.ListResponse{}, payoutdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return payoutdomain.ListResponse{}, payoutdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return payoutdomain.ListResponse{}, payoutdomain.ErrInvalidPageToken
		}
		filter.Cursor = &payoutdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	filter.Limit = limit
	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return payoutdomain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.Page(items, limit, func(item payoutdomain.Payout) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return payoutdomain.ListResponse{}, err
	}
	return payoutdomain.ListResponse{PageInfo: pageInfo, Payouts: items}, nil
}

func (s *Service) authorize(ctx context.Context, actor payoutdomain.Actor, action string) error {
	if actor.ID == 0 {
		return payoutdomain.ErrForbidden
	}
	err := s.authz.Authorize(ctx, actor.ID.String(), actor.Role, authorization.ObjectPayout, action)
	if err == nil {
		return nil
	}
	if errors.Is(err, authorization.ErrForbidden) || errors.Is(err, authorization.ErrInvalidActor) {
		return payoutdomain.ErrForbidden
	}
	return err
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*payoutdomain.Payout, error) {
	if id == 0 {
		return nil, payoutdomain.ErrNotFound
	}
	payout, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, payoutdomain.ErrNotFound
	}
	return payout, nil
}

func (s *Service) notify(ctx context.Context, payout *payoutdomain.Payout, kind, title, message string, priority notificationdomain.Priority) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, notificationdomain.Message{
		UserID:   payout.ResellerID,
		Type:     kind,
		Title:    title,
		Message:  message,
		Priority: priority,
	})
	if err != nil {
		s.log.Warn("payout notification failed",
			zap.String("payout_id", payout.ID.String()),
			zap.String("type", kind),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, actorID string, action string, payout *payoutdomain.Payout, details map[string]any) {
	if s.auditSvc == nil {
		return
	}
	resourceID := payout.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &actorID, action, "payout", &resourceID, details); err != nil {
		s.log.Warn("payout audit failed", zap.String("action", action), zap.Error(err))
	}
}

func actorString(actor payoutdomain.Actor) string {
	return actor.ID.String()
}

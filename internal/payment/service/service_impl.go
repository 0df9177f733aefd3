package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/hostbill/internal/audit/domain"
	"github.com/smallbiznis/hostbill/internal/clock"
	commissiondomain "github.com/smallbiznis/hostbill/internal/commission/domain"
	"github.com/smallbiznis/hostbill/internal/config"
	invoicedomain "github.com/smallbiznis/hostbill/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/hostbill/internal/notification/domain"
	"github.com/smallbiznis/hostbill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/hostbill/internal/payout/domain"
	subscriptiondomain "github.com/smallbiznis/hostbill/internal/subscription/domain"
	"github.com/smallbiznis/hostbill/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Billing          *config.BillingConfigHolder
	Repo             paymentdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	InvoiceRepo      invoicedomain.Repository
	CommissionRepo   commissiondomain.Repository
	PayoutSvc        payoutdomain.Service
	Notifier         notificationdomain.Sink
	AuditSvc         auditdomain.Service
	ObsMetrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID          *snowflake.Node
	clock          clock.Clock
	billing        *config.BillingConfigHolder
	repo           paymentdomain.Repository
	subRepo        subscriptiondomain.Repository
	invoiceRepo    invoicedomain.Repository
	commissionRepo commissiondomain.Repository
	payoutSvc      payoutdomain.Service
	notifier       notificationdomain.Sink
	auditSvc       auditdomain.Service
	metrics        *metrics.Metrics
}

func NewService(p Params) paymentdomain.Reconciler {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.service"),

		genID:          p.GenID,
		clock:          p.Clock,
		billing:        p.Billing,
		repo:           p.Repo,
		subRepo:        p.SubscriptionRepo,
		invoiceRepo:    p.InvoiceRepo,
		commissionRepo: p.CommissionRepo,
		payoutSvc:      p.PayoutSvc,
		notifier:       p.Notifier,
		auditSvc:       p.AuditSvc,
		metrics:        p.ObsMetrics,
	}
}

// Reconcile applies a normalized provider event. Redelivered events are
// reported as Duplicate and leave state untouched.
func (s *Service) Reconcile(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.ReconcileResult, error) {
	if event == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	event.Type = strings.TrimSpace(event.Type)
	event.ExternalID = strings.TrimSpace(event.ExternalID)

	var (
		result *paymentdomain.ReconcileResult
		err    error
	)
	switch event.Type {
	case paymentdomain.EventChargeSucceeded:
		result, err = s.chargeSucceeded(ctx, event)
	case paymentdomain.EventChargeFailed:
		result, err = s.chargeFailed(ctx, event)
	case paymentdomain.EventSubscriptionCancelled:
		result, err = s.subscriptionCancelled(ctx, event)
	case paymentdomain.EventTransferCompleted:
		result, err = s.transferCompleted(ctx, event)
	default:
		s.log.Info("payment event ignored",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
		)
		result = &paymentdomain.ReconcileResult{Ignored: true}
	}

	if paymentdomain.IsUnprocessable(err) {
		s.log.Warn("payment event acknowledged without changes",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
			zap.String("external_id", event.ExternalID),
			zap.Error(err),
		)
		result, err = &paymentdomain.ReconcileResult{Ignored: true}, nil
	}

	s.recordOutcome(ctx, event, result, err)
	if err != nil {
		s.log.Error("payment event reconcile failed",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
			zap.String("external_id", event.ExternalID),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

func (s *Service) chargeSucceeded(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.ReconcileResult, error) {
	if err := validateCharge(event); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	billingCfg := s.billing.Get()
	txn := s.newTransaction(event, paymentdomain.TransactionCompleted, now)

	var (
		duplicate   bool
		invoicePaid bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.findSubscription(ctx, tx, event)
		if err != nil {
			return err
		}
		if err := resolveOwner(txn, sub); err != nil {
			return err
		}
		if sub != nil {
			subID := sub.ID
			txn.SubscriptionID = &subID
		}

		inserted, err := s.repo.InsertTransaction(ctx, tx, txn)
		if err != nil {
			return err
		}
		if !inserted {
			// a retried charge may succeed under the reference of its failed attempt
			settled, err := s.repo.SettleFailedTransaction(ctx, tx, txn)
			if err != nil {
				return err
			}
			if !settled {
				duplicate = true
				return nil
			}
		}

		if sub != nil {
			if !subscriptiondomain.CanTransition(sub.Status, subscriptiondomain.StatusActive) {
				s.log.Warn("charge received for cancelled subscription",
					zap.String("subscription_id", sub.ID.String()),
					zap.String("external_id", event.ExternalID),
				)
			} else {
				start, end := subscriptiondomain.NextPeriod(*sub, now, billingCfg.SubscriptionPeriodDays)
				if _, err := s.subRepo.Activate(ctx, tx, sub.ID, start, end, now); err != nil {
					return err
				}
			}
		}

		if event.InvoiceID != nil {
			invoicePaid, err = s.settleInvoice(ctx, tx, *event.InvoiceID, txn, now)
			if err != nil {
				return err
			}
		}

		if event.ResellerID != nil {
			return s.accrueCommission(ctx, tx, *event.ResellerID, txn, billingCfg.CommissionRate, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		return s.duplicateResult(ctx, event)
	}

	if invoicePaid {
		s.notify(ctx, notificationdomain.Message{
			UserID:   txn.OwnerID,
			Type:     notificationdomain.TypeInvoicePaid,
			Title:    "Payment received",
			Message:  fmt.Sprintf("We received your payment of %s. Thank you.", money.Format(txn.Amount, txn.Currency)),
			Priority: notificationdomain.PriorityNormal,
		})
	}

	s.log.Info("charge reconciled",
		zap.String("provider", event.Provider),
		zap.String("external_id", event.ExternalID),
		zap.String("transaction_id", txn.ID.String()),
		zap.Bool("invoice_paid", invoicePaid),
	)
	id := txn.ID
	return &paymentdomain.ReconcileResult{TransactionID: &id}, nil
}

func (s *Service) chargeFailed(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.ReconcileResult, error) {
	if event.ExternalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	currency, err := money.NormalizeCurrency(event.Currency)
	if err != nil {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	event.Currency = currency
	if event.Amount < 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	txn := s.newTransaction(event, paymentdomain.TransactionFailed, now)

	var (
		duplicate bool
		pastDue   bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.findSubscription(ctx, tx, event)
		if err != nil {
			return err
		}
		if err := resolveOwner(txn, sub); err != nil {
			return err
		}
		if sub != nil {
			subID := sub.ID
			txn.SubscriptionID = &subID
		}

		inserted, err := s.repo.InsertTransaction(ctx, tx, txn)
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}

		if sub != nil && subscriptiondomain.CanTransition(sub.Status, subscriptiondomain.StatusPastDue) {
			pastDue, err = s.subRepo.MarkPastDue(ctx, tx, sub.ID, now)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		return s.duplicateResult(ctx, event)
	}

	message := fmt.Sprintf("Your payment of %s could not be processed.", money.Format(txn.Amount, txn.Currency))
	if pastDue {
		message += " Your subscription is now past due; please update your payment method."
	}
	s.notify(ctx, notificationdomain.Message{
		UserID:   txn.OwnerID,
		Type:     notificationdomain.TypePaymentFailed,
		Title:    "Payment failed",
		Message:  message,
		Priority: notificationdomain.PriorityUrgent,
	})

	id := txn.ID
	return &paymentdomain.ReconcileResult{TransactionID: &id}, nil
}

func (s *Service) subscriptionCancelled(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.ReconcileResult, error) {
	sub, err := s.findSubscription(ctx, s.db, event)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		s.log.Warn("cancellation for unknown subscription acknowledged",
			zap.String("provider", event.Provider),
			zap.String("subscription_ref", event.SubscriptionRef),
		)
		return &paymentdomain.ReconcileResult{Ignored: true}, nil
	}

	if !subscriptiondomain.CanTransition(sub.Status, subscriptiondomain.StatusCancelled) {
		return &paymentdomain.ReconcileResult{Duplicate: true}, nil
	}

	cancelledAt := s.clock.Now()
	cancelled, err := s.subRepo.Cancel(ctx, s.db, sub.ID, cancelledAt)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return &paymentdomain.ReconcileResult{Duplicate: true}, nil
	}

	s.audit(ctx, "subscription.cancelled", "subscription", sub.ID.String(), map[string]any{
		"provider":                 event.Provider,
		"provider_subscription_id": sub.ProviderSubscriptionID,
		"previous_status":          string(sub.Status),
		"cancelled_at":             cancelledAt.Format(time.RFC3339),
	})
	s.notify(ctx, notificationdomain.Message{
		UserID:   sub.OwnerID,
		Type:     notificationdomain.TypeSubscriptionLost,
		Title:    "Subscription cancelled",
		Message:  fmt.Sprintf("Your %s subscription has been cancelled.", sub.PlanName),
		Priority: notificationdomain.PriorityNormal,
	})
	return &paymentdomain.ReconcileResult{}, nil
}

func (s *Service) transferCompleted(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.ReconcileResult, error) {
	if event.PayoutID == nil {
		s.log.Warn("transfer without payout reference acknowledged",
			zap.String("provider", event.Provider),
			zap.String("external_id", event.ExternalID),
		)
		return &paymentdomain.ReconcileResult{Ignored: true}, nil
	}

	_, err := s.payoutSvc.CompleteTransfer(ctx, payoutdomain.Transfer{
		PayoutID:  *event.PayoutID,
		Provider:  event.Provider,
		Reference: event.ExternalID,
	})
	switch {
	case err == nil:
		return &paymentdomain.ReconcileResult{}, nil
	case errors.Is(err, payoutdomain.ErrNotFound), errors.Is(err, payoutdomain.ErrInvalidTransition):
		s.log.Warn("transfer confirmation not applied",
			zap.String("provider", event.Provider),
			zap.String("payout_id", event.PayoutID.String()),
			zap.Error(err),
		)
		return &paymentdomain.ReconcileResult{Ignored: true}, nil
	default:
		return nil, err
	}
}

// settleInvoice marks the referenced invoice paid when the charge covers it.
// A charge that does not match is still recorded; the invoice stays open.
func (s *Service) settleInvoice(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, txn *paymentdomain.Transaction, now time.Time) (bool, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, tx, invoiceID)
	if err != nil {
		return false, err
	}
	if inv == nil {
		s.log.Warn("charge references unknown invoice",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("transaction_id", txn.ID.String()),
		)
		return false, nil
	}

	payment := invoicedomain.Payment{OwnerID: txn.OwnerID, Amount: txn.Amount, Currency: txn.Currency}
	if !inv.SettledBy(payment) {
		s.log.Warn("charge does not settle invoice",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("invoice_status", string(inv.Status)),
			zap.Int64("invoice_total", inv.Total),
			zap.String("invoice_currency", inv.Currency),
			zap.Int64("amount", txn.Amount),
			zap.String("currency", txn.Currency),
		)
		return false, nil
	}
	return s.invoiceRepo.MarkPaid(ctx, tx, invoiceID, payment, now)
}

func (s *Service) accrueCommission(ctx context.Context, tx *gorm.DB, resellerID snowflake.ID, txn *paymentdomain.Transaction, rateValue string, now time.Time) error {
	rate, err := decimal.NewFromString(strings.TrimSpace(rateValue))
	if err != nil || !rate.IsPositive() {
		return nil
	}
	amount, err := commissiondomain.ComputeAmount(txn.Amount, rate, txn.Currency)
	if err != nil {
		return fmt.Errorf("compute commission: %w", err)
	}
	if amount <= 0 {
		return nil
	}
	sourceID := txn.ID
	_, err = s.commissionRepo.Accrue(ctx, tx, &commissiondomain.Commission{
		ID:                  s.genID.Generate(),
		ResellerID:          resellerID,
		Amount:              amount,
		Currency:            txn.Currency,
		SourceTransactionID: &sourceID,
		CreatedAt:           now,
	})
	return err
}

func (s *Service) findSubscription(ctx context.Context, db *gorm.DB, event *paymentdomain.PaymentEvent) (*subscriptiondomain.Subscription, error) {
	if event.SubscriptionID != nil && *event.SubscriptionID != 0 {
		sub, err := s.subRepo.FindByID(ctx, db, *event.SubscriptionID)
		if err != nil || sub != nil {
			return sub, err
		}
	}
	if ref := strings.TrimSpace(event.SubscriptionRef); ref != "" {
		return s.subRepo.FindByProviderRef(ctx, db, event.Provider, ref)
	}
	return nil, nil
}

func (s *Service) newTransaction(event *paymentdomain.PaymentEvent, status paymentdomain.TransactionStatus, now time.Time) *paymentdomain.Transaction {
	description := strings.TrimSpace(event.Description)
	if description == "" {
		description = fmt.Sprintf("%s %s", event.Provider, event.Type)
	}
	txn := &paymentdomain.Transaction{
		ID:                    s.genID.Generate(),
		OwnerID:               event.OwnerID,
		Amount:                event.Amount,
		Currency:              event.Currency,
		Status:                status,
		Provider:              event.Provider,
		ProviderTransactionID: event.ExternalID,
		Type:                  paymentdomain.TransactionPayment,
		Description:           description,
		InvoiceID:             event.InvoiceID,
		CreatedAt:             now,
	}
	if len(event.Payload) > 0 {
		txn.Payload = datatypes.JSON(event.Payload)
	}
	return txn
}

func (s *Service) duplicateResult(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.ReconcileResult, error) {
	s.log.Info("duplicate payment event acknowledged",
		zap.String("provider", event.Provider),
		zap.String("external_id", event.ExternalID),
	)
	existing, err := s.repo.FindTransaction(ctx, s.db, event.Provider, event.ExternalID)
	if err != nil {
		return nil, err
	}
	result := &paymentdomain.ReconcileResult{Duplicate: true}
	if existing != nil {
		id := existing.ID
		result.TransactionID = &id
	}
	return result, nil
}

func (s *Service) recordOutcome(ctx context.Context, event *paymentdomain.PaymentEvent, result *paymentdomain.ReconcileResult, err error) {
	outcome := outcomeProcessed
	switch {
	case err != nil:
		outcome = outcomeFailed
	case result != nil && result.Duplicate:
		outcome = outcomeDuplicate
	case result != nil && result.Ignored:
		outcome = outcomeIgnored
	}
	s.metrics.RecordPaymentEvent(ctx, event.Provider, event.Type, outcome)
}

func (s *Service) notify(ctx context.Context, msg notificationdomain.Message) {
	if s.notifier == nil || msg.UserID == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.Warn("payment notification failed",
			zap.String("type", msg.Type),
			zap.String("user_id", msg.UserID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, action, resourceType, resourceID string, details map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actor := "system"
	if err := s.auditSvc.AuditLog(ctx, &actor, action, resourceType, &resourceID, details); err != nil {
		s.log.Warn("payment audit failed", zap.String("action", action), zap.Error(err))
	}
}

func validateCharge(event *paymentdomain.PaymentEvent) error {
	if event.ExternalID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	currency, err := money.NormalizeCurrency(event.Currency)
	if err != nil {
		return paymentdomain.ErrInvalidCurrency
	}
	event.Currency = currency
	if event.Amount <= 0 {
		return paymentdomain.ErrInvalidAmount
	}
	return nil
}

// resolveOwner falls back to the subscription owner when the provider
// metadata did not name one.
func resolveOwner(txn *paymentdomain.Transaction, sub *subscriptiondomain.Subscription) error {
	if txn.OwnerID == 0 && sub != nil {
		txn.OwnerID = sub.OwnerID
	}
	if txn.OwnerID == 0 {
		return paymentdomain.ErrInvalidOwner
	}
	return nil
}

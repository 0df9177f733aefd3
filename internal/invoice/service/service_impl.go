package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/config"
	"github.com/smallbiznis/hostbill/internal/discount"
	"github.com/smallbiznis/hostbill/internal/invoice/calc"
	invoicedomain "github.com/smallbiznis/hostbill/internal/invoice/domain"
	"github.com/smallbiznis/hostbill/internal/invoice/format"
	notificationdomain "github.com/smallbiznis/hostbill/internal/notification/domain"
	"github.com/smallbiznis/hostbill/internal/observability/metrics"
	"github.com/smallbiznis/hostbill/internal/providers/pdf"
	subscriptiondomain "github.com/smallbiznis/hostbill/internal/subscription/domain"
	"github.com/smallbiznis/hostbill/pkg/db"
	"github.com/smallbiznis/hostbill/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Billing          *config.BillingConfigHolder
	Repo             invoicedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Discounts        discount.Resolver
	Notifier         notificationdomain.Sink
	PDF              pdf.Provider     `optional:"true"`
	ObsMetrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	billing   *config.BillingConfigHolder
	repo      invoicedomain.Repository
	subRepo   subscriptiondomain.Repository
	discounts discount.Resolver
	notifier  notificationdomain.Sink
	pdf       pdf.Provider
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		billing:   p.Billing,
		repo:      p.Repo,
		subRepo:   p.SubscriptionRepo,
		discounts: p.Discounts,
		notifier:  p.Notifier,
		pdf:       p.PDF,
		metrics:   p.ObsMetrics,
	}
}

func (s *Service) CalculateInvoice(ctx context.Context, req invoicedomain.CalculateRequest) (*invoicedomain.CalculateResult, error) {
	if req.OwnerID == 0 {
		return nil, invoicedomain.Invalid("owner", "is required")
	}
	billingCfg := s.billing.Get()

	taxRate, err := s.resolveTaxRate(req.TaxRate, billingCfg)
	if err != nil {
		return nil, err
	}
	if err := invoicedomain.ValidateLineItems(req.LineItems); err != nil {
		return nil, err
	}

	items := append([]invoicedomain.LineItem(nil), req.LineItems...)
	currency := strings.TrimSpace(req.Currency)

	var sub *subscriptiondomain.Subscription
	if req.SubscriptionID != nil && *req.SubscriptionID != 0 {
		sub, err = s.subRepo.FindByID(ctx, s.db, *req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub == nil || sub.OwnerID != req.OwnerID {
			return nil, invoicedomain.Invalid("subscription_id", "not found")
		}
		if currency == "" {
			currency = sub.Currency
		}
	}
	if currency == "" {
		currency = billingCfg.DefaultCurrency
	}
	currency, err = money.NormalizeCurrency(currency)
	if err != nil {
		return nil, invoicedomain.Invalid("currency", "must be a three letter ISO code")
	}

	if len(items) == 0 {
		if sub == nil {
			return nil, invoicedomain.Invalid("line_items", "at least one line item or an active subscription is required")
		}
		if sub.Status != subscriptiondomain.StatusActive {
			return nil, invoicedomain.Invalid("subscription_id", "subscription is not active")
		}
		if !strings.EqualFold(sub.Currency, currency) {
			return nil, invoicedomain.Invalid("currency", "does not match subscription currency")
		}
		items = append(items, invoicedomain.LineItem{
			Description: sub.PlanName,
			Quantity:    1,
			UnitPrice:   money.FromMinor(sub.Amount, sub.Currency),
		})
	}

	rule, code, err := s.resolveDiscount(ctx, req.DiscountCode, currency)
	if err != nil {
		return nil, err
	}

	lines := make([]calc.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, calc.Line{Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	totals, err := calc.Calculate(lines, rule, taxRate, currency)
	if err != nil {
		if errors.Is(err, calc.ErrNegativeTotal) || errors.Is(err, discount.ErrInvalidRule) {
			return nil, fmt.Errorf("calculate invoice: %w", err)
		}
		return nil, invoicedomain.Invalid("line_items", err.Error())
	}

	now := s.clock.Now()
	number, err := format.NewInvoiceNumber(format.DefaultInvoiceNumberTemplate, now)
	if err != nil {
		return nil, err
	}

	var overflow error
	toMinor := func(amount decimal.Decimal) int64 {
		minor, err := money.ToMinor(amount, currency)
		if err != nil && overflow == nil {
			overflow = err
		}
		return minor
	}

	inv := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		Number:         number,
		OwnerID:        req.OwnerID,
		Status:         invoicedomain.InvoiceStatusDraft,
		Currency:       currency,
		Subtotal:       toMinor(totals.Subtotal),
		DiscountAmount: toMinor(totals.Discount),
		TaxableAmount:  toMinor(totals.Taxable),
		TaxRate:        taxRate,
		TaxAmount:      toMinor(totals.Tax),
		Total:          toMinor(totals.Total),
		DueDate:        now.AddDate(0, 0, billingCfg.InvoiceDueDays),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sub != nil {
		subID := sub.ID
		inv.SubscriptionID = &subID
	}
	if rule != nil {
		inv.DiscountCode = &code
	}
	for i, item := range items {
		inv.Items = append(inv.Items, invoicedomain.InvoiceItem{
			ID:          s.genID.Generate(),
			InvoiceID:   inv.ID,
			Position:    i,
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      toMinor(totals.LineAmounts[i]),
		})
	}

	if overflow != nil {
		return nil, invoicedomain.Invalid("line_items", "amount exceeds the supported range")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, inv); err != nil {
			return err
		}
		moved, err := s.repo.Transition(ctx, tx, inv.ID, invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusPending, now)
		if err != nil {
			return err
		}
		if !moved {
			return invoicedomain.ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, invoicedomain.ErrDuplicateInvoice
		}
		s.log.Error("failed to persist invoice", zap.String("owner_id", req.OwnerID.String()), zap.Error(err))
		return nil, err
	}
	inv.Status = invoicedomain.InvoiceStatusPending

	s.metrics.RecordInvoiceCalculated(ctx, currency, rule != nil)
	s.log.Info("invoice calculated",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("number", inv.Number),
		zap.String("currency", currency),
		zap.Int64("total", inv.Total),
		zap.Bool("discount_applied", rule != nil),
	)

	s.notifyOwner(ctx, inv)

	return &invoicedomain.CalculateResult{Invoice: inv, DiscountApplied: rule != nil}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if id == 0 {
		return nil, invoicedomain.ErrNotFound
	}
	inv, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return inv, nil
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, []byte, error) {
	if s.pdf == nil {
		return nil, nil, errors.New("pdf provider not configured")
	}
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	doc := pdf.InvoiceDocument{
		InvoiceNumber: inv.Number,
		Status:        strings.ToUpper(string(inv.Status)),
		IssueDate:     inv.CreatedAt.Format("2006-01-02"),
		DueDate:       inv.DueDate.Format("2006-01-02"),
		BillTo:        "Account " + inv.OwnerID.String(),
		Currency:      inv.Currency,
		Subtotal:      money.Format(inv.Subtotal, inv.Currency),
		Discount:      money.Format(inv.DiscountAmount, inv.Currency),
		TaxRate:       inv.TaxRate.String(),
		Tax:           money.Format(inv.TaxAmount, inv.Currency),
		Total:         money.Format(inv.Total, inv.Currency),
	}
	if inv.DiscountCode != nil {
		doc.DiscountCode = *inv.DiscountCode
	}
	for _, item := range inv.Items {
		doc.Items = append(doc.Items, pdf.InvoiceLine{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			Amount:      money.Format(item.Amount, inv.Currency),
		})
	}

	out, err := s.pdf.GenerateInvoice(ctx, doc)
	if err != nil {
		return nil, nil, fmt.Errorf("render invoice pdf: %w", err)
	}
	return inv, out, nil
}

func (s *Service) resolveTaxRate(rate *decimal.Decimal, cfg config.BillingConfig) (decimal.Decimal, error) {
	if rate != nil {
		if rate.IsNegative() {
			return decimal.Zero, invoicedomain.Invalid("tax_rate", "must not be negative")
		}
		return *rate, nil
	}
	fallback, err := decimal.NewFromString(strings.TrimSpace(cfg.DefaultTaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("billing default tax rate: %w", err)
	}
	return fallback, nil
}

// resolveDiscount returns a nil rule for unknown or inapplicable codes.
func (s *Service) resolveDiscount(ctx context.Context, raw, currency string) (*discount.Rule, string, error) {
	code := discount.NormalizeCode(raw)
	if code == "" {
		return nil, "", nil
	}

	rule, err := s.discounts.Resolve(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("resolve discount: %w", err)
	}
	if rule == nil {
		s.log.Info("discount code not recognised", zap.String("discount_code", code))
		return nil, code, nil
	}
	if !rule.AppliesTo(currency) {
		s.log.Info("discount code not valid for currency",
			zap.String("discount_code", code),
			zap.String("currency", currency),
		)
		return nil, code, nil
	}
	return rule, code, nil
}

func (s *Service) notifyOwner(ctx context.Context, inv *invoicedomain.Invoice) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, notificationdomain.Message{
		UserID:   inv.OwnerID,
		Type:     notificationdomain.TypeInvoiceCreated,
		Title:    "New invoice " + inv.Number,
		Message:  fmt.Sprintf("Invoice %s for %s %s is due on %s.", inv.Number, money.Format(inv.Total, inv.Currency), inv.Currency, inv.DueDate.Format("2006-01-02")),
		Priority: notificationdomain.PriorityNormal,
	})
	if err != nil {
		s.log.Warn("failed to notify invoice owner",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("owner_id", inv.OwnerID.String()),
			zap.Error(err),
		)
	}
}

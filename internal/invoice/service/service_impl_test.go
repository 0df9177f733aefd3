package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/config"
	"github.com/smallbiznis/hostbill/internal/discount"
	invoicedomain "github.com/smallbiznis/hostbill/internal/invoice/domain"
	"github.com/smallbiznis/hostbill/internal/invoice/repository"
	notificationdomain "github.com/smallbiznis/hostbill/internal/notification/domain"
	"github.com/smallbiznis/hostbill/internal/notification/mocks"
	"github.com/smallbiznis/hostbill/internal/providers/pdf"
	subscriptionrepo "github.com/smallbiznis/hostbill/internal/subscription/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:invoice_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE subscriptions (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			provider_subscription_id TEXT NOT NULL,
			status TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			plan_name TEXT NOT NULL,
			current_period_start DATETIME NOT NULL,
			current_period_end DATETIME NOT NULL,
			cancelled_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_subscriptions_provider_ref ON subscriptions(provider, provider_subscription_id)`,
		`CREATE TABLE invoices (
			id INTEGER PRIMARY KEY,
			number TEXT NOT NULL,
			owner_id INTEGER NOT NULL,
			subscription_id INTEGER,
			status TEXT NOT NULL,
			currency TEXT NOT NULL,
			discount_code TEXT,
			subtotal INTEGER NOT NULL,
			discount_amount INTEGER NOT NULL,
			taxable_amount INTEGER NOT NULL,
			tax_rate NUMERIC NOT NULL,
			tax_amount INTEGER NOT NULL,
			total INTEGER NOT NULL,
			due_date DATETIME NOT NULL,
			paid_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_invoices_number ON invoices(number)`,
		`CREATE TABLE invoice_items (
			id INTEGER PRIMARY KEY,
			invoice_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			description TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price NUMERIC NOT NULL,
			amount INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, sink notificationdomain.Sink) *Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	return NewService(ServiceParam{
		DB:               db,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clock.NewFakeClock(testNow),
		Billing:          holder,
		Repo:             repository.Provide(),
		SubscriptionRepo: subscriptionrepo.Provide(),
		Discounts:        discount.NewConfigResolver(holder),
		Notifier:         sink,
		PDF:              pdf.New(),
	}).(*Service)
}

func expectNotify(t *testing.T) *mocks.MockSink {
	t.Helper()
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	return sink
}

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func rate(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func seedSubscription(t *testing.T, db *gorm.DB, id, owner int64, status string, amount int64, currency string) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO subscriptions (id, owner_id, provider, provider_subscription_id, status, amount, currency, plan_name,
			current_period_start, current_period_end, created_at, updated_at)
		 VALUES (?, ?, 'stripe', ?, ?, ?, ?, 'Business Hosting', ?, ?, ?, ?)`,
		id, owner, fmt.Sprintf("sub_%d", id), status, amount, currency,
		testNow.AddDate(0, 0, -10), testNow.AddDate(0, 0, 20), testNow, testNow,
	).Error
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func assertCount(t *testing.T, db *gorm.DB, table string, expected int64) {
	t.Helper()
	var count int64
	if err := db.Table(table).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if count != expected {
		t.Fatalf("expected %d rows in %s, got %d", expected, table, count)
	}
}

func TestCalculateInvoiceWithoutDiscount(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, expectNotify(t))

	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:   100,
		LineItems: []invoicedomain.LineItem{{Description: "Pro Plan", Quantity: 1, UnitPrice: price("49.99")}},
		TaxRate:   rate("7.5"),
		Currency:  "usd",
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	inv := res.Invoice
	if res.DiscountApplied {
		t.Fatalf("expected no discount")
	}
	if inv.Subtotal != 4999 || inv.DiscountAmount != 0 || inv.TaxAmount != 375 || inv.Total != 5374 {
		t.Fatalf("unexpected totals: subtotal=%d discount=%d tax=%d total=%d", inv.Subtotal, inv.DiscountAmount, inv.TaxAmount, inv.Total)
	}
	if inv.Currency != "USD" {
		t.Fatalf("expected USD, got %s", inv.Currency)
	}
	if inv.Status != invoicedomain.InvoiceStatusPending {
		t.Fatalf("expected pending, got %s", inv.Status)
	}
	if !inv.DueDate.Equal(testNow.AddDate(0, 0, 30)) {
		t.Fatalf("expected due date 30 days out, got %s", inv.DueDate)
	}
	if !strings.HasPrefix(inv.Number, "INV-") {
		t.Fatalf("unexpected invoice number %q", inv.Number)
	}

	stored, err := svc.Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != invoicedomain.InvoiceStatusPending || stored.Total != 5374 {
		t.Fatalf("unexpected stored invoice: %+v", stored)
	}
	if len(stored.Items) != 1 || stored.Items[0].Amount != 4999 || stored.Items[0].Description != "Pro Plan" {
		t.Fatalf("unexpected stored items: %+v", stored.Items)
	}
	if !stored.TaxRate.Equal(price("7.5")) {
		t.Fatalf("expected tax rate 7.5, got %s", stored.TaxRate)
	}
}

func TestCalculateInvoiceWithSave10(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, expectNotify(t))

	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:      100,
		LineItems:    []invoicedomain.LineItem{{Description: "Pro Plan", Quantity: 1, UnitPrice: price("49.99")}},
		DiscountCode: "save10",
		TaxRate:      rate("7.5"),
		Currency:     "USD",
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	inv := res.Invoice
	if !res.DiscountApplied {
		t.Fatalf("expected discount applied")
	}
	if inv.DiscountAmount != 500 || inv.TaxableAmount != 4499 || inv.TaxAmount != 337 || inv.Total != 4836 {
		t.Fatalf("unexpected totals: discount=%d taxable=%d tax=%d total=%d", inv.DiscountAmount, inv.TaxableAmount, inv.TaxAmount, inv.Total)
	}
	if inv.DiscountCode == nil || *inv.DiscountCode != "SAVE10" {
		t.Fatalf("expected SAVE10 recorded, got %v", inv.DiscountCode)
	}
}

func TestCalculateInvoiceUnknownDiscountIsNotAnError(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, expectNotify(t))

	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:      100,
		LineItems:    []invoicedomain.LineItem{{Description: "Pro Plan", Quantity: 1, UnitPrice: price("49.99")}},
		DiscountCode: "EXPIRED2019",
		TaxRate:      rate("7.5"),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if res.DiscountApplied || res.Invoice.DiscountAmount != 0 || res.Invoice.Total != 5374 {
		t.Fatalf("expected undiscounted invoice, got %+v", res.Invoice)
	}
	if res.Invoice.DiscountCode != nil {
		t.Fatalf("expected no discount code stored")
	}
}

func TestCalculateInvoiceValidation(t *testing.T) {
	db := setupTestDB(t)
	seedSubscription(t, db, 7, 100, "past_due", 1999, "USD")
	svc := newTestService(t, db, expectNotify(t))

	pastDue := snowflake.ID(7)
	missing := snowflake.ID(404)

	tests := []struct {
		name  string
		req   invoicedomain.CalculateRequest
		field string
	}{
		{
			name:  "no items and no subscription",
			req:   invoicedomain.CalculateRequest{OwnerID: 100},
			field: "line_items",
		},
		{
			name: "zero quantity",
			req: invoicedomain.CalculateRequest{OwnerID: 100, LineItems: []invoicedomain.LineItem{
				{Description: "x", Quantity: 0, UnitPrice: price("1")},
			}},
			field: "line_items[0].quantity",
		},
		{
			name: "negative price",
			req: invoicedomain.CalculateRequest{OwnerID: 100, LineItems: []invoicedomain.LineItem{
				{Description: "x", Quantity: 1, UnitPrice: price("1")},
				{Description: "y", Quantity: 1, UnitPrice: price("-0.01")},
			}},
			field: "line_items[1].unit_price",
		},
		{
			name: "negative tax rate",
			req: invoicedomain.CalculateRequest{OwnerID: 100, TaxRate: rate("-1"), LineItems: []invoicedomain.LineItem{
				{Description: "x", Quantity: 1, UnitPrice: price("1")},
			}},
			field: "tax_rate",
		},
		{
			name:  "inactive subscription without items",
			req:   invoicedomain.CalculateRequest{OwnerID: 100, SubscriptionID: &pastDue},
			field: "subscription_id",
		},
		{
			name:  "unknown subscription",
			req:   invoicedomain.CalculateRequest{OwnerID: 100, SubscriptionID: &missing},
			field: "subscription_id",
		},
		{
			name:  "subscription of another owner",
			req:   invoicedomain.CalculateRequest{OwnerID: 555, SubscriptionID: &pastDue},
			field: "subscription_id",
		},
		{
			name: "bad currency",
			req: invoicedomain.CalculateRequest{OwnerID: 100, Currency: "dollars", LineItems: []invoicedomain.LineItem{
				{Description: "x", Quantity: 1, UnitPrice: price("1")},
			}},
			field: "currency",
		},
		{
			name: "total beyond minor unit range",
			req: invoicedomain.CalculateRequest{OwnerID: 100, TaxRate: rate("0"), LineItems: []invoicedomain.LineItem{
				{Description: "x", Quantity: 1, UnitPrice: price("100000000000000000000")},
			}},
			field: "line_items",
		},
		{
			name: "quantity overflows minor units",
			req: invoicedomain.CalculateRequest{OwnerID: 100, TaxRate: rate("0"), LineItems: []invoicedomain.LineItem{
				{Description: "x", Quantity: 2, UnitPrice: price("92233720368547758.07")},
			}},
			field: "line_items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CalculateInvoice(context.Background(), tt.req)
			if !errors.Is(err, invoicedomain.ErrInvalidInvoiceInput) {
				t.Fatalf("expected ErrInvalidInvoiceInput, got %v", err)
			}
			var inputErr *invoicedomain.InputError
			if !errors.As(err, &inputErr) || inputErr.Field != tt.field {
				t.Fatalf("expected field %q, got %v", tt.field, err)
			}
		})
	}
	assertCount(t, db, "invoices", 0)
}

func TestCalculateInvoiceFromActiveSubscription(t *testing.T) {
	db := setupTestDB(t)
	seedSubscription(t, db, 8, 100, "active", 1999, "USD")
	svc := newTestService(t, db, expectNotify(t))

	subID := snowflake.ID(8)
	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:        100,
		SubscriptionID: &subID,
		TaxRate:        rate("0"),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	inv := res.Invoice
	if inv.Total != 1999 || inv.Currency != "USD" {
		t.Fatalf("unexpected totals: %d %s", inv.Total, inv.Currency)
	}
	if inv.SubscriptionID == nil || *inv.SubscriptionID != subID {
		t.Fatalf("expected subscription link")
	}
	if len(inv.Items) != 1 || inv.Items[0].Description != "Business Hosting" || inv.Items[0].Quantity != 1 {
		t.Fatalf("expected synthetic plan line, got %+v", inv.Items)
	}
}

func TestCalculateInvoiceUsesDefaultTaxRate(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, expectNotify(t))
	cfg := config.DefaultBillingConfig()
	cfg.DefaultTaxRate = "10"
	svc.billing = config.NewStaticBillingConfigHolder(cfg)

	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:   100,
		LineItems: []invoicedomain.LineItem{{Description: "Domain", Quantity: 2, UnitPrice: price("12.50")}},
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if res.Invoice.TaxAmount != 250 || res.Invoice.Total != 2750 {
		t.Fatalf("unexpected totals: tax=%d total=%d", res.Invoice.TaxAmount, res.Invoice.Total)
	}
}

func TestCalculateInvoiceNotificationFailureIsNonFatal(t *testing.T) {
	db := setupTestDB(t)
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)

	var got notificationdomain.Message
	sink.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg notificationdomain.Message) error {
			got = msg
			return errors.New("smtp unavailable")
		}).
		Times(1)

	svc := newTestService(t, db, sink)
	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:   100,
		LineItems: []invoicedomain.LineItem{{Description: "Pro Plan", Quantity: 1, UnitPrice: price("49.99")}},
		TaxRate:   rate("7.5"),
	})
	if err != nil {
		t.Fatalf("expected success despite notification failure, got %v", err)
	}
	if got.UserID != 100 || got.Type != notificationdomain.TypeInvoiceCreated {
		t.Fatalf("unexpected notification: %+v", got)
	}

	stored, err := svc.Get(context.Background(), res.Invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != invoicedomain.InvoiceStatusPending {
		t.Fatalf("expected committed pending invoice, got %s", stored.Status)
	}
}

func TestMarkPaidNeverRewritesPaidInvoice(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, expectNotify(t))

	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:   100,
		LineItems: []invoicedomain.LineItem{{Description: "VPS", Quantity: 1, UnitPrice: price("20")}},
		TaxRate:   rate("0"),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	repo := repository.Provide()
	payment := invoicedomain.Payment{OwnerID: 100, Amount: 2000, Currency: "usd"}
	moved, err := repo.MarkPaid(context.Background(), db, res.Invoice.ID, payment, testNow.Add(time.Hour))
	if err != nil || !moved {
		t.Fatalf("expected first mark paid to move, got %v %v", moved, err)
	}
	moved, err = repo.MarkPaid(context.Background(), db, res.Invoice.ID, payment, testNow.Add(2*time.Hour))
	if err != nil || moved {
		t.Fatalf("expected second mark paid to be a no-op, got %v %v", moved, err)
	}

	stored, err := svc.Get(context.Background(), res.Invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.PaidAt == nil || !stored.PaidAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("paid_at changed: %v", stored.PaidAt)
	}
}

func TestMarkPaidRequiresMatchingPayment(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, expectNotify(t))

	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:   100,
		LineItems: []invoicedomain.LineItem{{Description: "VPS", Quantity: 1, UnitPrice: price("20")}},
		TaxRate:   rate("0"),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	repo := repository.Provide()
	mismatched := map[string]invoicedomain.Payment{
		"underpaid":      {OwnerID: 100, Amount: 1999, Currency: "USD"},
		"other owner":    {OwnerID: 101, Amount: 2000, Currency: "USD"},
		"other currency": {OwnerID: 100, Amount: 2000, Currency: "EUR"},
	}
	for name, payment := range mismatched {
		if res.Invoice.SettledBy(payment) {
			t.Fatalf("%s: expected invoice not to be settled", name)
		}
		moved, err := repo.MarkPaid(context.Background(), db, res.Invoice.ID, payment, testNow)
		if err != nil || moved {
			t.Fatalf("%s: expected no-op, got %v %v", name, moved, err)
		}
	}

	stored, err := svc.Get(context.Background(), res.Invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != invoicedomain.InvoiceStatusPending || stored.PaidAt != nil {
		t.Fatalf("expected pending unpaid invoice, got %s %v", stored.Status, stored.PaidAt)
	}

	overpaid := invoicedomain.Payment{OwnerID: 100, Amount: 2500, Currency: "USD"}
	if !stored.SettledBy(overpaid) {
		t.Fatal("expected overpayment to settle the invoice")
	}
	moved, err := repo.MarkPaid(context.Background(), db, res.Invoice.ID, overpaid, testNow)
	if err != nil || !moved {
		t.Fatalf("expected overpayment to mark paid, got %v %v", moved, err)
	}
}

func TestGetAndRenderPDF(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, expectNotify(t))

	if _, err := svc.Get(context.Background(), 12345); !errors.Is(err, invoicedomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	res, err := svc.CalculateInvoice(context.Background(), invoicedomain.CalculateRequest{
		OwnerID:      100,
		LineItems:    []invoicedomain.LineItem{{Description: "Pro Plan", Quantity: 1, UnitPrice: price("49.99")}},
		DiscountCode: "SAVE10",
		TaxRate:      rate("7.5"),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	inv, out, err := svc.RenderPDF(context.Background(), res.Invoice.ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if inv.ID != res.Invoice.ID || !strings.HasPrefix(string(out), "%PDF") {
		t.Fatalf("unexpected pdf output")
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/hostbill/internal/audit/domain"
	"github.com/smallbiznis/hostbill/internal/authorization"
	"github.com/smallbiznis/hostbill/internal/clock"
	commissionrepo "github.com/smallbiznis/hostbill/internal/commission/repository"
	"github.com/smallbiznis/hostbill/internal/config"
	"github.com/smallbiznis/hostbill/internal/notification/mocks"
	payoutdomain "github.com/smallbiznis/hostbill/internal/payout/domain"
	payoutrepo "github.com/smallbiznis/hostbill/internal/payout/repository"
	"github.com/smallbiznis/hostbill/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	resellerID = snowflake.ID(100)
	adminID    = snowflake.ID(1)
)

var (
	reseller = payoutdomain.Actor{ID: resellerID, Role: authorization.RoleReseller}
	admin    = payoutdomain.Actor{ID: adminID, Role: authorization.RoleAdmin}
)

// roleAuthorizer mirrors the seeded payout policies without a casbin store.
type roleAuthorizer struct{}

func (roleAuthorizer) Authorize(ctx context.Context, actorID string, role string, object string, action string) error {
	allowed := map[string][]string{
		authorization.ActionPayoutRequest: {authorization.RoleReseller},
		authorization.ActionPayoutApprove: {authorization.RoleAdmin},
		authorization.ActionPayoutProcess: {authorization.RoleAdmin},
		authorization.ActionPayoutReject:  {authorization.RoleAdmin},
		authorization.ActionPayoutList:    {authorization.RoleReseller, authorization.RoleAdmin},
	}
	for _, r := range allowed[action] {
		if r == role {
			return nil
		}
	}
	return authorization.ErrForbidden
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
	details []map[string]any
}

func (r *recordingAudit) AuditLog(ctx context.Context, actorID *string, action string, resourceType string, resourceID *string, details map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	r.details = append(r.details, details)
	return nil
}

func (r *recordingAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	db      *gorm.DB
	svc     payoutdomain.Service
	audit   *recordingAudit
	clock   *clock.FakeClock
	nextCID int64
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payout_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE payouts (
			id INTEGER PRIMARY KEY,
			reseller_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			method TEXT NOT NULL,
			details TEXT,
			period_start DATETIME,
			period_end DATETIME NOT NULL,
			approved_by INTEGER,
			approved_at DATETIME,
			processed_by INTEGER,
			processed_at DATETIME,
			rejected_at DATETIME,
			rejection_reason TEXT,
			transfer_reference TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE commissions (
			id INTEGER PRIMARY KEY,
			reseller_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			payout_id INTEGER,
			source_transaction_id INTEGER UNIQUE,
			created_at DATETIME NOT NULL,
			paid_at DATETIME
		)`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newFixture(t *testing.T, limiter *ratelimit.PayoutLimiter) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockSink(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	f := &fixture{
		db:    setupTestDB(t),
		audit: &recordingAudit{},
		clock: clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.svc = NewService(Params{
		DB:             f.db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          f.clock,
		Billing:        config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Repo:           payoutrepo.Provide(),
		CommissionRepo: commissionrepo.Provide(),
		Authz:          roleAuthorizer{},
		Notifier:       notifier,
		AuditSvc:       f.audit,
		Limiter:        limiter,
	})
	return f
}

func (f *fixture) seedCommission(t *testing.T, amount int64) {
	t.Helper()
	f.nextCID++
	require.NoError(t, f.db.Exec(
		`INSERT INTO commissions (id, reseller_id, amount, currency, status, source_transaction_id, created_at)
		 VALUES (?, ?, ?, 'USD', 'pending', ?, ?)`,
		f.nextCID, resellerID, amount, 9000+f.nextCID, f.clock.Now(),
	).Error)
}

func (f *fixture) statusOf(t *testing.T, id snowflake.ID) payoutdomain.PayoutStatus {
	t.Helper()
	var status string
	require.NoError(t, f.db.Raw(`SELECT status FROM payouts WHERE id = ?`, id).Scan(&status).Error)
	return payoutdomain.PayoutStatus(status)
}

func usd(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requestPayout(amount string) payoutdomain.RequestPayout {
	return payoutdomain.RequestPayout{
		Amount:   usd(amount),
		Currency: "usd",
		Method:   "Bank Transfer",
		Details:  map[string]any{"account_number": "0123456789", "bank": "First Bank"},
	}
}

func TestPayoutLifecycleScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 20000)
	f.seedCommission(t, 20000)
	f.seedCommission(t, 10000)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("500.00"))
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusPending, payout.Status)
	assert.Equal(t, int64(50000), payout.Amount)
	assert.Equal(t, "USD", payout.Currency)
	assert.Equal(t, "bank-transfer", payout.Method)

	approved, err := f.svc.Approve(ctx, admin, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusApproved, approved.Status)
	assert.Equal(t, payoutdomain.StatusApproved, f.statusOf(t, payout.ID))

	f.clock.Advance(time.Hour)
	processed, err := f.svc.Process(ctx, admin, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusCompleted, processed.Status)
	require.NotNil(t, processed.ProcessedAt)

	var paid int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM commissions WHERE status = 'paid' AND payout_id = ?`, payout.ID,
	).Scan(&paid).Error)
	assert.Equal(t, int64(3), paid)

	_, err = f.svc.Process(ctx, admin, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)

	assert.Equal(t, []string{"payout.requested", "payout.approved", "payout.completed"}, f.audit.actions)
	assert.Contains(t, f.audit.details[0], "payout_details")
	assert.Equal(t, int64(3), f.audit.details[2]["commissions_paid"])
}

func TestRequestAmountBoundaries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	for _, amount := range []string{"0", "-10.00", "10.001", "92233720368547758.08", "184467440737095515.16"} {
		_, err := f.svc.Request(ctx, reseller, requestPayout(amount))
		assert.ErrorIs(t, err, payoutdomain.ErrInvalidAmount, amount)
	}

	_, err := f.svc.Request(ctx, reseller, requestPayout("500.01"))
	assert.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("500.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), payout.Amount)

	var negative int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payouts WHERE amount <= 0`).Scan(&negative).Error)
	assert.Zero(t, negative)
}

func TestRequestValidatesMethodAndCurrency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	req := requestPayout("10.00")
	req.Method = "  "
	_, err := f.svc.Request(ctx, reseller, req)
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidMethod)

	req = requestPayout("10.00")
	req.Currency = "dollars"
	_, err = f.svc.Request(ctx, reseller, req)
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidCurrency)

	req = requestPayout("10.00")
	req.Currency = "EUR"
	_, err = f.svc.Request(ctx, reseller, req)
	assert.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)
}

func TestRoleChecks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	_, err := f.svc.Request(ctx, admin, requestPayout("10.00"))
	assert.ErrorIs(t, err, payoutdomain.ErrForbidden)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("10.00"))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, reseller, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrForbidden)
	_, err = f.svc.Process(ctx, reseller, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrForbidden)
	_, err = f.svc.Request(ctx, payoutdomain.Actor{Role: authorization.RoleReseller}, requestPayout("10.00"))
	assert.ErrorIs(t, err, payoutdomain.ErrForbidden)

	assert.Equal(t, payoutdomain.StatusPending, f.statusOf(t, payout.ID))
}

func TestApproveAndProcessPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	_, err := f.svc.Approve(ctx, admin, 424242)
	assert.ErrorIs(t, err, payoutdomain.ErrNotFound)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("100.00"))
	require.NoError(t, err)

	_, err = f.svc.Process(ctx, admin, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)

	_, err = f.svc.Approve(ctx, admin, payout.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, admin, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)
}

func TestApproveRevalidatesOutstandingBalance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	first, err := f.svc.Request(ctx, reseller, requestPayout("300.00"))
	require.NoError(t, err)
	second, err := f.svc.Request(ctx, reseller, requestPayout("300.00"))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, admin, first.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, admin, second.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)
	assert.Equal(t, payoutdomain.StatusPending, f.statusOf(t, second.ID))
}

func TestRejectLeavesCommissionsPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("200.00"))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, admin, payout.ID)
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, admin, payout.ID, "bank details mismatch")
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusRejected, rejected.Status)

	_, err = f.svc.Reject(ctx, admin, payout.ID, "")
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)
	_, err = f.svc.Process(ctx, admin, payout.ID)
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)

	var pending int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM commissions WHERE status = 'pending' AND payout_id IS NULL`).Scan(&pending).Error)
	assert.Equal(t, int64(1), pending)
}

func TestProcessRollsBackWhenCommissionSettlementFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 30000)
	f.seedCommission(t, 20000)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("500.00"))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, admin, payout.ID)
	require.NoError(t, err)

	require.NoError(t, f.db.Exec(`ALTER TABLE commissions RENAME TO commissions_offline`).Error)
	_, err = f.svc.Process(ctx, admin, payout.ID)
	require.Error(t, err)
	assert.Equal(t, payoutdomain.StatusApproved, f.statusOf(t, payout.ID))

	var row struct{ ProcessedAt *time.Time }
	require.NoError(t, f.db.Raw(`SELECT processed_at FROM payouts WHERE id = ?`, payout.ID).Scan(&row).Error)
	assert.Nil(t, row.ProcessedAt)

	require.NoError(t, f.db.Exec(`ALTER TABLE commissions_offline RENAME TO commissions`).Error)
	var pending int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM commissions WHERE status = 'pending' AND payout_id IS NULL`).Scan(&pending).Error)
	assert.Equal(t, int64(2), pending)

	processed, err := f.svc.Process(ctx, admin, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusCompleted, processed.Status)
}

func TestConcurrentProcessCompletesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	f.seedCommission(t, 25000)
	f.seedCommission(t, 25000)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("500.00"))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, admin, payout.ID)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Process(ctx, admin, payout.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, payoutdomain.ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected process error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, payoutdomain.StatusCompleted, f.statusOf(t, payout.ID))

	var paid int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM commissions WHERE status = 'paid' AND payout_id = ?`, payout.ID).Scan(&paid).Error)
	assert.Equal(t, int64(2), paid)

	completed := 0
	for _, action := range f.audit.actions {
		if action == "payout.completed" {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestCompleteTransferIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("500.00"))
	require.NoError(t, err)

	_, err = f.svc.CompleteTransfer(ctx, payoutdomain.Transfer{PayoutID: payout.ID, Provider: "paystack", Reference: "TRF_1"})
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)

	_, err = f.svc.Approve(ctx, admin, payout.ID)
	require.NoError(t, err)

	completed, err := f.svc.CompleteTransfer(ctx, payoutdomain.Transfer{PayoutID: payout.ID, Provider: "paystack", Reference: "TRF_1"})
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.TransferReference)
	assert.Equal(t, "TRF_1", *completed.TransferReference)

	again, err := f.svc.CompleteTransfer(ctx, payoutdomain.Transfer{PayoutID: payout.ID, Provider: "paystack", Reference: "TRF_1"})
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusCompleted, again.Status)

	var paid int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM commissions WHERE payout_id = ?`, payout.ID).Scan(&paid).Error)
	assert.Equal(t, int64(1), paid)

	_, err = f.svc.CompleteTransfer(ctx, payoutdomain.Transfer{PayoutID: 777})
	assert.ErrorIs(t, err, payoutdomain.ErrNotFound)
}

func TestListScopesResellerToOwnPayouts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedCommission(t, 50000)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Request(ctx, reseller, requestPayout("10.00"))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	require.NoError(t, f.db.Exec(
		`INSERT INTO payouts (id, reseller_id, amount, currency, status, method, period_end, created_at, updated_at)
		 VALUES (1, 555, 100, 'USD', 'pending', 'bank-transfer', ?, ?, ?)`,
		f.clock.Now(), f.clock.Now(), f.clock.Now(),
	).Error)

	other := snowflake.ID(555)
	resp, err := f.svc.List(ctx, reseller, payoutdomain.ListRequest{ResellerID: &other})
	require.NoError(t, err)
	assert.Len(t, resp.Payouts, 3)
	for _, p := range resp.Payouts {
		assert.Equal(t, resellerID, p.ResellerID)
	}

	all, err := f.svc.List(ctx, admin, payoutdomain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Payouts, 4)

	_, err = f.svc.List(ctx, admin, payoutdomain.ListRequest{Status: "bogus"})
	assert.ErrorIs(t, err, payoutdomain.ErrInvalidStatus)
}

func TestProcessHonoursHeldLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{Payout: config.PayoutConfig{RequestRate: 0.01, RequestBurst: 1, ProcessLockTTLMs: 5000}}
	f := newFixture(t, ratelimit.NewPayoutLimiter(client, cfg))
	ctx := context.Background()
	f.seedCommission(t, 50000)

	payout, err := f.svc.Request(ctx, reseller, requestPayout("100.00"))
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, reseller, requestPayout("100.00"))
	assert.ErrorIs(t, err, payoutdomain.ErrRateLimited)

	_, err = f.svc.Approve(ctx, admin, payout.ID)
	require.NoError(t, err)

	lockKey := fmt.Sprintf("payout:process:lock:%s", payout.ID.String())
	require.NoError(t, mr.Set(lockKey, "other-instance"))
	_, err = f.svc.Process(ctx, admin, payout.ID)
	assert.True(t, errors.Is(err, payoutdomain.ErrInvalidTransition))
	assert.Equal(t, payoutdomain.StatusApproved, f.statusOf(t, payout.ID))

	mr.Del(lockKey)
	_, err = f.svc.Process(ctx, admin, payout.ID)
	require.NoError(t, err)
	assert.False(t, mr.Exists(lockKey))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/notification/domain"
	"github.com/smallbiznis/hostbill/internal/notification/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingEmail struct {
	to   []string
	data map[string]any
	err  error
}

func (r *recordingEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (r *recordingEmail) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	r.to = to
	r.data = data
	return r.err
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:notification_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, role TEXT NOT NULL, created_at DATETIME)`,
		`CREATE TABLE notifications (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			priority TEXT NOT NULL,
			read_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, mail *recordingEmail) domain.Sink {
	t.Helper()
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Email: mail,
	})
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

func TestNotifyPersistsAndEmails(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Exec(`INSERT INTO users (id, email, role) VALUES (10, 'owner@example.com', 'customer')`).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	mail := &recordingEmail{}
	sink := newTestService(t, db, mail)

	err := sink.Notify(context.Background(), domain.Message{
		UserID:   10,
		Type:     domain.TypePaymentFailed,
		Title:    "Payment failed",
		Message:  "Your card was declined.",
		Priority: domain.PriorityUrgent,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	assertCount(t, db, "notifications", 1)
	if len(mail.to) != 1 || mail.to[0] != "owner@example.com" {
		t.Fatalf("expected email to owner, got %v", mail.to)
	}
	if mail.data["priority"] != "urgent" {
		t.Fatalf("expected urgent priority, got %v", mail.data["priority"])
	}
}

func TestNotifyEmailFailureIsNotReturned(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Exec(`INSERT INTO users (id, email, role) VALUES (11, 'reseller@example.com', 'reseller')`).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	sink := newTestService(t, db, &recordingEmail{err: errors.New("smtp down")})

	err := sink.Notify(context.Background(), domain.Message{
		UserID: 11,
		Type:   domain.TypePayoutApproved,
		Title:  "Payout approved",
	})
	if err != nil {
		t.Fatalf("expected email failure to be swallowed, got %v", err)
	}
	assertCount(t, db, "notifications", 1)
}

func TestNotifyWithoutEmailOnFile(t *testing.T) {
	db := setupTestDB(t)
	mail := &recordingEmail{}
	sink := newTestService(t, db, mail)

	if err := sink.Notify(context.Background(), domain.Message{UserID: 99, Type: domain.TypeInvoiceCreated, Title: "Invoice"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if mail.to != nil {
		t.Fatalf("expected no email, got %v", mail.to)
	}
	assertCount(t, db, "notifications", 1)
}

func TestNotifyValidation(t *testing.T) {
	db := setupTestDB(t)
	sink := newTestService(t, db, &recordingEmail{})

	if err := sink.Notify(context.Background(), domain.Message{Type: "x", Title: "y"}); !errors.Is(err, domain.ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
	if err := sink.Notify(context.Background(), domain.Message{UserID: 1, Type: "x"}); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	assertCount(t, db, "notifications", 0)
}

package migration

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("missing down migration for %s", version)
		}
	}
}

func TestInitMigrationCreatesSettlementTables(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := string(raw)
	for _, table := range []string{"users", "api_tokens", "subscriptions", "invoices", "invoice_items", "transactions", "payouts", "commissions", "notifications", "audit_logs", "discount_codes"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("missing table %s", table)
		}
	}
	if !strings.Contains(sql, "ux_transactions_provider_ref ON transactions (provider, provider_transaction_id)") {
		t.Fatal("transactions must be unique per provider reference")
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	if _, err := RunMigrations(nil, nil); err == nil {
		t.Fatal("expected error for nil handle")
	}
}

func TestEmbeddedSourceStartsAtInit(t *testing.T) {
	source, err := newSource()
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	first, err := source.First()
	if err != nil {
		t.Fatalf("first version: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}
}

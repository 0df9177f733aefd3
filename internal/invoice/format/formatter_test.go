package format

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issued := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	id := ulid.MustParse("01J0000000000000000000000Z")

	tests := []struct {
		template string
		want     string
		wantErr  bool
	}{
		{template: DefaultInvoiceNumberTemplate, want: "INV-01J0000000000000000000000Z"},
		{template: "INV-{YYYY}{MM}{DD}-{ULID}", want: "INV-20260203-01J0000000000000000000000Z"},
		{template: "{YY}/{ULID}", want: "26/01J0000000000000000000000Z"},
		{template: "", wantErr: true},
		{template: "INV-{YYYY}", wantErr: true},
		{template: "INV-{SEQ}-{ULID}", wantErr: true},
	}
	for _, tt := range tests {
		got, err := FormatInvoiceNumber(tt.template, issued, id)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error, got %q", tt.template, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.template, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.template, tt.want, got)
		}
	}
}

func TestNewInvoiceNumberIsUnique(t *testing.T) {
	issued := time.Now()
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		n, err := NewInvoiceNumber(DefaultInvoiceNumberTemplate, issued)
		if err != nil {
			t.Fatalf("new number: %v", err)
		}
		if !strings.HasPrefix(n, "INV-") {
			t.Fatalf("unexpected number %q", n)
		}
		if _, dup := seen[n]; dup {
			t.Fatalf("duplicate number %q", n)
		}
		seen[n] = struct{}{}
	}
}

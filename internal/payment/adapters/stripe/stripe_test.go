package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hostbill/internal/clock"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
)

func newTestAdapter(t *testing.T, now time.Time) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Secret: "whsec_test",
		Clock:  clock.NewFakeClock(now),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter.(*Adapter)
}

func TestVerifySignature(t *testing.T) {
	now := time.Now()
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"charge.succeeded","data":{"object":{}}}`)
	adapter := newTestAdapter(t, now)

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, now.Unix()))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, now.Unix()))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	stale := now.Add(-6 * time.Minute).Unix()
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, stale))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale signature to be rejected, got %v", err)
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing header to be rejected, got %v", err)
	}
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{}); !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	ownerID := node.Generate()
	invoiceID := node.Generate()
	payoutID := node.Generate()
	created := time.Now().UTC().Unix()

	tests := []struct {
		name       string
		event      any
		wantType   string
		externalID string
		amount     int64
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "pi_123",
					"object":          "payment_intent",
					"latest_charge":   "ch_123",
					"amount":          2500,
					"amount_received": 2500,
					"currency":        "usd",
					"created":         created,
					"metadata": map[string]any{
						"owner_id":   ownerID.String(),
						"invoice_id": invoiceID.String(),
					},
				},
			},
		},
		wantType:   paymentdomain.EventChargeSucceeded,
		externalID: "ch_123",
		amount:     2500,
	}, {
		name: "charge.succeeded",
		event: map[string]any{
			"id":      "evt_ch",
			"type":    "charge.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":             "ch_123",
					"object":         "charge",
					"payment_intent": "pi_123",
					"amount":         2500,
					"currency":       "usd",
					"metadata":       map[string]any{"owner_id": ownerID.String()},
				},
			},
		},
		wantType:   paymentdomain.EventChargeSucceeded,
		externalID: "ch_123",
		amount:     2500,
	}, {
		name: "payment_intent.payment_failed expanded charge",
		event: map[string]any{
			"id":      "evt_pi_failed",
			"type":    "payment_intent.payment_failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":            "pi_124",
					"object":        "payment_intent",
					"latest_charge": map[string]any{"id": "ch_124", "object": "charge"},
					"amount":        900,
					"currency":      "usd",
					"metadata":      map[string]any{"owner_id": ownerID.String()},
				},
			},
		},
		wantType:   paymentdomain.EventChargeFailed,
		externalID: "ch_124",
		amount:     900,
	}, {
		name: "payment_intent without charge",
		event: map[string]any{
			"id":      "evt_pi_bare",
			"type":    "payment_intent.payment_failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":            "pi_125",
					"object":        "payment_intent",
					"latest_charge": nil,
					"amount":        900,
					"currency":      "usd",
					"metadata":      map[string]any{"owner_id": ownerID.String()},
				},
			},
		},
		wantType:   paymentdomain.EventChargeFailed,
		externalID: "pi_125",
		amount:     900,
	}, {
		name: "charge.failed",
		event: map[string]any{
			"id":      "evt_charge",
			"type":    "charge.failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":           "ch_1",
					"amount":       5000,
					"currency":     "usd",
					"subscription": "sub_9",
					"metadata": map[string]any{
						"user_id": ownerID.String(),
					},
				},
			},
		},
		wantType:   paymentdomain.EventChargeFailed,
		externalID: "ch_1",
		amount:     5000,
	}, {
		name: "customer.subscription.deleted",
		event: map[string]any{
			"id":      "evt_sub",
			"type":    "customer.subscription.deleted",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":          "sub_9",
					"canceled_at": created,
					"metadata":    map[string]any{"owner_id": ownerID.String()},
				},
			},
		},
		wantType:   paymentdomain.EventSubscriptionCancelled,
		externalID: "sub_9",
	}, {
		name: "transfer.paid",
		event: map[string]any{
			"id":      "evt_tr",
			"type":    "transfer.paid",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":       "tr_1",
					"amount":   50000,
					"currency": "usd",
					"metadata": map[string]any{"payout_id": payoutID.String()},
				},
			},
		},
		wantType:   paymentdomain.EventTransferCompleted,
		externalID: "tr_1",
		amount:     50000,
	}}

	adapter := newTestAdapter(t, time.Now())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.ExternalID != tt.externalID {
				t.Fatalf("expected external id %s, got %s", tt.externalID, event.ExternalID)
			}
			if event.Amount != tt.amount {
				t.Fatalf("expected amount %d, got %d", tt.amount, event.Amount)
			}
			switch tt.wantType {
			case paymentdomain.EventTransferCompleted:
				if event.PayoutID == nil || *event.PayoutID != payoutID {
					t.Fatalf("expected payout ref %s, got %v", payoutID, event.PayoutID)
				}
			default:
				if event.OwnerID != ownerID {
					t.Fatalf("expected owner %s, got %s", ownerID, event.OwnerID)
				}
			}
		})
	}
}

func TestParseSubscriptionRefAndIgnoredEvents(t *testing.T) {
	adapter := newTestAdapter(t, time.Now())

	event, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_1","type":"charge.failed","data":{"object":{"id":"ch_2","amount":100,"currency":"eur","subscription":"sub_42","metadata":{}}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.SubscriptionRef != "sub_42" || event.Currency != "EUR" {
		t.Fatalf("unexpected event: %+v", event)
	}

	for _, eventType := range []string{"charge.dispute.created", "payout.paid"} {
		raw := fmt.Sprintf(`{"id":"evt_2","type":%q,"data":{"object":{"id":"po_1","amount":100,"currency":"usd","metadata":{}}}}`, eventType)
		if _, err := adapter.Parse(context.Background(), []byte(raw)); !errors.Is(err, paymentdomain.ErrEventIgnored) {
			t.Fatalf("%s: expected ErrEventIgnored, got %v", eventType, err)
		}
	}
	if _, err := adapter.Parse(context.Background(), []byte(`not json`)); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_3","type":"charge.succeeded","data":{"object":{"id":"ch_3","metadata":{"owner_id":"not-an-id"}}}}`)); !errors.Is(err, paymentdomain.ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

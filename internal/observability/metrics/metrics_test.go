package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("customer_id", "456"),
		attribute.String("event_type", "charge.succeeded"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "customer_id" {
			t.Fatalf("expected customer_id to be dropped")
		}
	}
}

func TestRecordersAreNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordInvoiceCalculated(ctx, "usd", true)
	m.RecordPaymentEvent(ctx, "stripe", "charge.succeeded", "processed")
	m.RecordPayoutTransition(ctx, "approved")
	m.RecordNotificationFailed(ctx, "billing")

	built, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	built.RecordPaymentEvent(ctx, "stripe", "charge.succeeded", "duplicate")
}

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/config"
	"github.com/smallbiznis/hostbill/internal/payment/adapters"
	"github.com/smallbiznis/hostbill/internal/payment/adapters/flutterwave"
	"github.com/smallbiznis/hostbill/internal/payment/adapters/paystack"
	"github.com/smallbiznis/hostbill/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const paystackSecret = "sk_test_webhook"

type recordingReconciler struct {
	events []*paymentdomain.PaymentEvent
}

func (r *recordingReconciler) Reconcile(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.ReconcileResult, error) {
	r.events = append(r.events, event)
	return &paymentdomain.ReconcileResult{}, nil
}

func newTestService(webhooks config.WebhookConfig) (paymentdomain.Service, *recordingReconciler) {
	reconciler := &recordingReconciler{}
	svc := NewService(Params{
		Log:   zap.NewNop(),
		Cfg:   config.Config{Webhooks: webhooks},
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Adapters: adapters.NewRegistry(
			stripe.NewFactory(),
			paystack.NewFactory(),
			flutterwave.NewFactory(),
		),
		Reconciler: reconciler,
	})
	return svc, reconciler
}

func paystackHeaders(payload []byte) http.Header {
	mac := hmac.New(sha512.New, []byte(paystackSecret))
	_, _ = mac.Write(payload)
	headers := http.Header{}
	headers.Set("X-Paystack-Signature", hex.EncodeToString(mac.Sum(nil)))
	return headers
}

func TestIngestWebhook_VerifiedEventIsReconciled(t *testing.T) {
	svc, reconciler := newTestService(config.WebhookConfig{PaystackSecret: paystackSecret})
	payload := []byte(`{"event":"charge.success","data":{"id":302961,"reference":"ref_abc","amount":50000,"currency":"NGN","metadata":{"owner_id":"42"}}}`)

	result, err := svc.IngestWebhook(context.Background(), " Paystack ", payload, paystackHeaders(payload))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, reconciler.events, 1)

	event := reconciler.events[0]
	assert.Equal(t, "paystack", event.Provider)
	assert.Equal(t, paymentdomain.EventChargeSucceeded, event.Type)
	assert.Equal(t, "ref_abc", event.ExternalID)
	assert.Equal(t, int64(50000), event.Amount)
	assert.Equal(t, "42", event.OwnerID.String())
}

func TestIngestWebhook_RejectsBadSignature(t *testing.T) {
	svc, reconciler := newTestService(config.WebhookConfig{PaystackSecret: paystackSecret})
	payload := []byte(`{"event":"charge.success","data":{"reference":"ref_abc","amount":50000,"currency":"NGN"}}`)
	headers := http.Header{}
	headers.Set("X-Paystack-Signature", "deadbeef")

	_, err := svc.IngestWebhook(context.Background(), "paystack", payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Empty(t, reconciler.events)
}

func TestIngestWebhook_UnsupportedEventAcknowledged(t *testing.T) {
	svc, reconciler := newTestService(config.WebhookConfig{PaystackSecret: paystackSecret})
	payload := []byte(`{"event":"customeridentification.success","data":{}}`)

	result, err := svc.IngestWebhook(context.Background(), "paystack", payload, paystackHeaders(payload))
	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Empty(t, reconciler.events)
}

func TestIngestWebhook_UnusableReferencesAcknowledged(t *testing.T) {
	svc, reconciler := newTestService(config.WebhookConfig{PaystackSecret: paystackSecret})
	payload := []byte(`{"event":"charge.success","data":{"id":302962,"reference":"ref_bad_owner","amount":50000,"currency":"NGN","metadata":{"owner_id":"acct-42"}}}`)

	result, err := svc.IngestWebhook(context.Background(), "paystack", payload, paystackHeaders(payload))
	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Empty(t, reconciler.events)
}

func TestIngestWebhook_InputErrors(t *testing.T) {
	svc, _ := newTestService(config.WebhookConfig{PaystackSecret: paystackSecret})
	ctx := context.Background()

	_, err := svc.IngestWebhook(ctx, "", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidProvider)

	_, err = svc.IngestWebhook(ctx, "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	_, err = svc.IngestWebhook(ctx, "paystack", []byte(`not-json`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = svc.IngestWebhook(ctx, "stripe", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

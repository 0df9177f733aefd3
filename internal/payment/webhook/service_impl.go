package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/hostbill/internal/clock"
	"github.com/smallbiznis/hostbill/internal/config"
	"github.com/smallbiznis/hostbill/internal/observability/metrics"
	"github.com/smallbiznis/hostbill/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Adapters   *adapters.Registry
	Reconciler paymentdomain.Reconciler
	ObsMetrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	adapters   *adapters.Registry
	reconciler paymentdomain.Reconciler
	secrets    map[string]paymentdomain.AdapterConfig
	metrics    *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	webhooks := p.Cfg.Webhooks
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		clock:      p.Clock,
		adapters:   p.Adapters,
		reconciler: p.Reconciler,
		secrets: map[string]paymentdomain.AdapterConfig{
			"stripe": {
				Secret:    webhooks.StripeSecret,
				Tolerance: time.Duration(webhooks.StripeToleranceSecond) * time.Second,
			},
			"paystack":    {Secret: webhooks.PaystackSecret},
			"flutterwave": {Secret: webhooks.FlutterwaveSecretHash},
		},
		metrics: p.ObsMetrics,
	}
}

// IngestWebhook authenticates a raw provider delivery and reconciles it.
// Events the provider sends but billing does not act on are acknowledged
// as ignored rather than rejected, so the provider stops retrying them.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.ReconcileResult, error) {
	provider = adapters.NormalizeProvider(provider)
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	cfg := s.secrets[provider]
	cfg.Provider = provider
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.Clock = s.clock
	adapter, err := s.adapters.NewAdapter(provider, cfg)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidConfig) {
			s.log.Error("payment provider webhook secret not configured", zap.String("provider", provider))
		}
		return nil, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("payment webhook signature rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		s.metrics.RecordPaymentEvent(ctx, provider, "unverified", "rejected")
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.RecordPaymentEvent(ctx, provider, "unsupported", "ignored")
			return &paymentdomain.ReconcileResult{Ignored: true}, nil
		}
		if paymentdomain.IsUnprocessable(err) {
			s.log.Warn("payment webhook acknowledged without changes",
				zap.String("provider", provider),
				zap.Error(err),
			)
			s.metrics.RecordPaymentEvent(ctx, provider, "unprocessable", "ignored")
			return &paymentdomain.ReconcileResult{Ignored: true}, nil
		}
		s.log.Warn("payment webhook payload rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, err
	}
	if event.Payload == nil {
		event.Payload = payload
	}

	return s.reconciler.Reconcile(ctx, event)
}

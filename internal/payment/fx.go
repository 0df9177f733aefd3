package payment

import (
	"github.com/smallbiznis/hostbill/internal/payment/adapters"
	"github.com/smallbiznis/hostbill/internal/payment/adapters/flutterwave"
	"github.com/smallbiznis/hostbill/internal/payment/adapters/paystack"
	"github.com/smallbiznis/hostbill/internal/payment/adapters/stripe"
	"github.com/smallbiznis/hostbill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/hostbill/internal/payment/service"
	"github.com/smallbiznis/hostbill/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			paystack.NewFactory(),
			flutterwave.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/hostbill/internal/apikey"
	apikeydomain "github.com/smallbiznis/hostbill/internal/apikey/domain"
	"github.com/smallbiznis/hostbill/internal/audit"
	auditdomain "github.com/smallbiznis/hostbill/internal/audit/domain"
	"github.com/smallbiznis/hostbill/internal/authorization"
	"github.com/smallbiznis/hostbill/internal/commission"
	"github.com/smallbiznis/hostbill/internal/config"
	"github.com/smallbiznis/hostbill/internal/discount"
	"github.com/smallbiznis/hostbill/internal/invoice"
	invoicedomain "github.com/smallbiznis/hostbill/internal/invoice/domain"
	"github.com/smallbiznis/hostbill/internal/notification"
	"github.com/smallbiznis/hostbill/internal/observability"
	obsmiddleware "github.com/smallbiznis/hostbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/hostbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/hostbill/internal/observability/tracing"
	"github.com/smallbiznis/hostbill/internal/payment"
	paymentdomain "github.com/smallbiznis/hostbill/internal/payment/domain"
	"github.com/smallbiznis/hostbill/internal/payout"
	payoutdomain "github.com/smallbiznis/hostbill/internal/payout/domain"
	"github.com/smallbiznis/hostbill/internal/providers"
	"github.com/smallbiznis/hostbill/internal/ratelimit"
	"github.com/smallbiznis/hostbill/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/hostbill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	apikey.Module,
	providers.Module,
	notification.Module,
	discount.Module,
	subscription.Module,
	commission.Module,
	invoice.Module,
	ratelimit.Module,
	payout.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	apiKeySvc  apikeydomain.Service
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	invoiceSvc invoicedomain.Service
	paymentSvc paymentdomain.Service
	payoutSvc  payoutdomain.Service

	subscriptionSvc subscriptiondomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	APIKeySvc  apikeydomain.Service
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	InvoiceSvc invoicedomain.Service
	PaymentSvc paymentdomain.Service
	PayoutSvc  payoutdomain.Service

	SubscriptionSvc subscriptiondomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		apiKeySvc:  p.APIKeySvc,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		invoiceSvc: p.InvoiceSvc,
		paymentSvc: p.PaymentSvc,
		payoutSvc:  p.PayoutSvc,

		subscriptionSvc: p.SubscriptionSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Providers authenticate by signature, not bearer token.
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("", s.BearerAuthRequired())

	// -------- Invoices --------
	api.POST("/invoices/calculate", s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceCalculate), s.CalculateInvoice)
	api.GET("/invoices/:id", s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
	api.GET("/invoices/:id/pdf", s.authorizeAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.RenderInvoicePDF)

	// -------- Subscriptions --------
	api.GET("/subscriptions/:id", s.authorizeAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetSubscriptionByID)

	// -------- Payouts --------
	// Role checks happen in the payout service per action.
	api.POST("/payouts", s.HandlePayoutAction)
	api.GET("/payouts", s.ListPayouts)

	// -------- Admin --------
	api.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	api.POST("/users/:id/api-tokens", s.authorizeAction(authorization.ObjectAPIToken, authorization.ActionAPITokenIssue), s.IssueAPIToken)
	api.DELETE("/api-tokens/:id", s.authorizeAction(authorization.ObjectAPIToken, authorization.ActionAPITokenRevoke), s.RevokeAPIToken)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/hostbill/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleCustomer = "customer"
	RoleReseller = "reseller"
	RoleAdmin    = "admin"
)

const (
	ObjectInvoice      = "invoice"
	ObjectSubscription = "subscription"
	ObjectPayout       = "payout"
	ObjectAuditLog     = "audit_log"
	ObjectAPIToken     = "api_token"
)

const (
	ActionInvoiceCalculate = "invoice.calculate"
	ActionInvoiceView      = "invoice.view"

	ActionSubscriptionView = "subscription.view"

	ActionPayoutRequest = "payout.request"
	ActionPayoutApprove = "payout.approve"
	ActionPayoutProcess = "payout.process"
	ActionPayoutReject  = "payout.reject"
	ActionPayoutList    = "payout.list"

	ActionAuditLogView = "audit_log.view"

	ActionAPITokenIssue  = "api_token.issue"
	ActionAPITokenRevoke = "api_token.revoke"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorID string, role string, object string, action string) error {
	actorID = strings.TrimSpace(actorID)
	role = strings.ToLower(strings.TrimSpace(role))
	if actorID == "" || role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actorID)
	if err := s.ensureGrouping(subject, fmt.Sprintf("role:%s", role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor_id", actorID),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject, following the role
// carried by the caller's identity.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID, role, object, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.AuditLog(ctx, &actorID, "authorization.denied", "authorization", &object, map[string]any{
		"action": action,
		"role":   role,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:customer", ObjectInvoice, ActionInvoiceCalculate},
		{"role:customer", ObjectInvoice, ActionInvoiceView},
		{"role:customer", ObjectSubscription, ActionSubscriptionView},

		{"role:reseller", ObjectInvoice, ActionInvoiceCalculate},
		{"role:reseller", ObjectInvoice, ActionInvoiceView},
		{"role:reseller", ObjectSubscription, ActionSubscriptionView},
		{"role:reseller", ObjectPayout, ActionPayoutRequest},
		{"role:reseller", ObjectPayout, ActionPayoutList},

		{"role:admin", ObjectInvoice, ActionInvoiceCalculate},
		{"role:admin", ObjectInvoice, ActionInvoiceView},
		{"role:admin", ObjectSubscription, ActionSubscriptionView},
		{"role:admin", ObjectPayout, ActionPayoutApprove},
		{"role:admin", ObjectPayout, ActionPayoutProcess},
		{"role:admin", ObjectPayout, ActionPayoutReject},
		{"role:admin", ObjectPayout, ActionPayoutList},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectAPIToken, ActionAPITokenIssue},
		{"role:admin", ObjectAPIToken, ActionAPITokenRevoke},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

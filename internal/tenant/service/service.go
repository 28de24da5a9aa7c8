// Package service manages the tenant lifecycle: provisioning a school from
// a completed registration session and the active/inactive transitions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	regmodels "examtrack/internal/registration/models"
	"examtrack/internal/tenant/models"
	"examtrack/internal/tenant/store"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	emailutil "examtrack/pkg/email"
	"examtrack/pkg/platform/audit"
	"examtrack/pkg/platform/sentinel"
	"examtrack/pkg/platform/tx"
	"examtrack/pkg/requestcontext"
)

// AuditPublisher receives tenant lifecycle events for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates tenant provisioning and lifecycle management.
type Service struct {
	tenants        store.Store
	runner         tx.Runner
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithTxRunner sets the transaction boundary for provisioning. Defaults to
// tx.Noop, which memory stores need.
func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

// New constructs a Service.
func New(tenants store.Store, opts ...Option) *Service {
	s := &Service{
		tenants: tenants,
		runner:  tx.Noop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision turns a completed registration session into a live tenant. The
// subdomain claim is the last uniqueness check in the funnel; losing the
// race here surfaces as a conflict for out-of-band retry.
func (s *Service) Provision(ctx context.Context, session *regmodels.Session) (id.TenantID, error) {
	var none id.TenantID
	if session == nil || session.School == nil || session.Promoter == nil {
		return none, dErrors.New(dErrors.CodeInvalidInput, "session is missing school or promoter data")
	}

	tenant, err := models.NewTenant(id.NewTenantID(), session.School.Name, session.School.Subdomain, requestcontext.Now(ctx))
	if err != nil {
		return none, err
	}
	tenant.ContactName = strings.TrimSpace(session.Promoter.FirstName + " " + session.Promoter.LastName)
	tenant.ContactEmail = emailutil.Normalize(session.Promoter.Email)
	tenant.SessionID = session.ID
	if session.Plan != nil {
		tenant.PlanID = session.Plan.ID
		tenant.PlanName = session.Plan.Name
	}

	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.tenants.CreateIfSubdomainAvailable(txCtx, tenant); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "subdomain was claimed by another school")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision tenant")
		}
		s.emit(txCtx, tenant)
		return nil
	})
	if err != nil {
		return none, err
	}

	s.logger.InfoContext(ctx, "tenant provisioned",
		"tenant_id", tenant.ID.String(),
		"subdomain", tenant.Subdomain,
	)
	return tenant.ID, nil
}

// Get retrieves a tenant by ID.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return tenant, nil
}

// GetBySubdomain retrieves a tenant by its subdomain (case-insensitive).
func (s *Service) GetBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subdomain is required")
	}
	tenant, err := s.tenants.FindBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return tenant, nil
}

// Deactivate transitions a tenant to inactive. The subdomain stays claimed,
// so reactivation never races a new registration.
func (s *Service) Deactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	now := requestcontext.Now(ctx)
	tenant, err := s.tenants.Execute(ctx, tenantID,
		func(t *models.Tenant) error {
			if err := t.CanDeactivate(); err != nil {
				return dErrors.New(dErrors.CodeConflict, "tenant is already inactive")
			}
			return nil
		},
		func(t *models.Tenant) {
			t.ApplyDeactivation(now)
		},
	)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return tenant, nil
}

// Reactivate transitions a tenant back to active.
func (s *Service) Reactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	now := requestcontext.Now(ctx)
	tenant, err := s.tenants.Execute(ctx, tenantID,
		func(t *models.Tenant) error {
			if err := t.CanReactivate(); err != nil {
				return dErrors.New(dErrors.CodeConflict, "tenant is already active")
			}
			return nil
		},
		func(t *models.Tenant) {
			t.ApplyReactivation(now)
		},
	)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return tenant, nil
}

func (s *Service) emit(ctx context.Context, tenant *models.Tenant) {
	event := audit.Event{
		Timestamp: requestcontext.Now(ctx),
		SessionID: tenant.SessionID.String(),
		TenantID:  tenant.ID.String(),
		Action:    string(audit.EventTenantProvisioned),
		Email:     emailutil.Mask(tenant.ContactEmail),
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		Device:    requestcontext.Device(ctx),
	}
	s.logger.InfoContext(ctx, string(audit.EventTenantProvisioned),
		"event", string(audit.EventTenantProvisioned),
		"log_type", "audit",
		"tenant_id", event.TenantID,
		"session_id", event.SessionID,
	)
	if s.auditPublisher != nil {
		_ = s.auditPublisher.Emit(ctx, event)
	}
}

func wrapTenantErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "tenant not found")
	}
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "tenant lookup failed")
}

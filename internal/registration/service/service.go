// Package service orchestrates the registration funnel: session lifecycle,
// step transitions, email verification, plan selection, and the hand-off to
// tenant provisioning. Handlers stay thin; every rule lives here or in the
// models and steps packages.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"examtrack/internal/catalog"
	"examtrack/internal/registration/autosave"
	"examtrack/internal/registration/availability"
	"examtrack/internal/registration/metrics"
	"examtrack/internal/registration/models"
	"examtrack/internal/registration/store"
	"examtrack/internal/registration/verification"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	emailutil "examtrack/pkg/email"
	"examtrack/pkg/platform/audit"
	"examtrack/pkg/platform/sentinel"
	"examtrack/pkg/requestcontext"
)

// AuditPublisher receives funnel events for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Provisioner turns a completed session into a live school tenant.
type Provisioner interface {
	Provision(ctx context.Context, session *models.Session) (id.TenantID, error)
}

// TenantDirectory answers whether provisioned schools already hold an
// identifier. Inactive tenants keep their claims.
type TenantDirectory interface {
	SubdomainTaken(ctx context.Context, subdomain string) (bool, error)
	EmailTaken(ctx context.Context, address string) (bool, error)
}

// TokenIssuer mints the signed onboarding token returned on completion.
type TokenIssuer interface {
	GenerateOnboardingToken(tenantID id.TenantID, sessionID id.SessionID, email string, now time.Time) (string, error)
}

// View is what handlers render for a session: the persisted state, the step
// the wizard should show, and whether an autosave is still in flight.
// OnboardingToken is set only on the response that completes the funnel.
type View struct {
	Session         *models.Session
	ResumeStep      models.Step
	PendingSave     bool
	OnboardingToken string
}

// Service orchestrates registration sessions.
type Service struct {
	sessions       store.SessionStore
	plans          catalog.Store
	verifier       *verification.Service
	checker        *availability.Checker
	saver          *autosave.Saver
	provisioner    Provisioner
	tenants        TenantDirectory
	tokens         TokenIssuer
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithProvisioner(p Provisioner) Option {
	return func(s *Service) {
		s.provisioner = p
	}
}

func WithTenantDirectory(d TenantDirectory) Option {
	return func(s *Service) {
		s.tenants = d
	}
}

func WithTokenIssuer(issuer TokenIssuer) Option {
	return func(s *Service) {
		s.tokens = issuer
	}
}

// New constructs a Service.
func New(sessions store.SessionStore, plans catalog.Store, verifier *verification.Service,
	checker *availability.Checker, saver *autosave.Saver, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		plans:    plans,
		verifier: verifier,
		checker:  checker,
		saver:    saver,
		logger:   slog.Default(),
		tracer:   otel.Tracer("examtrack/registration"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckSubdomain answers a live availability probe from the wizard.
func (s *Service) CheckSubdomain(ctx context.Context, value string, exclude id.SessionID) (availability.Result, error) {
	return s.checker.Subdomain(ctx, value, exclude)
}

// CheckEmail answers a live availability probe from the wizard.
func (s *Service) CheckEmail(ctx context.Context, value string, exclude id.SessionID) (availability.Result, error) {
	return s.checker.Email(ctx, value, exclude)
}

// ListPlans returns the active plan catalog.
func (s *Service) ListPlans(ctx context.Context) ([]catalog.Plan, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load plan catalog")
	}
	return plans, nil
}

// load flushes any pending autosave so the store holds the latest snapshot,
// then reads the session.
func (s *Service) load(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	if err := s.saver.Flush(ctx, sessionID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist pending changes")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registration session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration session")
	}
	return session, nil
}

// persist routes through the saver so the write is ordered against any
// autosave flush still in flight for the same session.
func (s *Service) persist(ctx context.Context, session *models.Session) error {
	if err := s.saver.Write(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "registration session not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist registration session")
	}
	return nil
}

func (s *Service) view(session *models.Session) *View {
	return &View{
		Session:     session,
		ResumeStep:  session.Status.ResumeStep(session.CurrentStep),
		PendingSave: s.saver.Pending(session.ID),
	}
}

// emit writes the event to the structured log and hands it to the audit
// pipeline. Audit failures never fail the operation.
func (s *Service) emit(ctx context.Context, action audit.AuditEvent, session *models.Session, reason string) {
	event := audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		Device:    requestcontext.Device(ctx),
	}
	if session != nil {
		event.SessionID = session.ID.String()
		event.Step = string(session.CurrentStep)
		if session.Promoter != nil && session.Promoter.Email != "" {
			event.Email = emailutil.Mask(session.Promoter.Email)
		}
	}

	s.logger.InfoContext(ctx, string(action),
		"event", string(action),
		"log_type", "audit",
		"session_id", event.SessionID,
		"step", event.Step,
		"request_id", event.RequestID,
	)
	if s.auditPublisher != nil {
		_ = s.auditPublisher.Emit(ctx, event)
	}
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"examtrack/internal/registration/availability"
	"examtrack/internal/registration/models"
	"examtrack/internal/registration/steps"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	emailutil "examtrack/pkg/email"
	"examtrack/pkg/platform/audit"
	"examtrack/pkg/platform/sentinel"
	"examtrack/pkg/requestcontext"
)

// StartOrResume returns a live session for the wizard. When previous points
// at a resumable session it is picked up where it left off; a missing,
// corrupt, or terminal previous session falls open to a fresh one rather
// than blocking the promoter.
func (s *Service) StartOrResume(ctx context.Context, previous *id.SessionID) (*View, error) {
	if previous != nil && !previous.IsNil() {
		session, err := s.sessions.FindByID(ctx, *previous)
		switch {
		case err == nil && !session.Status.IsTerminal():
			s.emit(ctx, audit.EventSessionResumed, session, "")
			return s.view(session), nil
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			s.logger.WarnContext(ctx, "resume lookup failed, starting fresh",
				"session_id", previous.String(),
				"error", err,
			)
		}
	}
	return s.start(ctx)
}

func (s *Service) start(ctx context.Context) (*View, error) {
	session, err := models.NewSession(id.NewSessionID(), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create registration session")
	}

	s.emit(ctx, audit.EventSessionStarted, session, "")
	if s.metrics != nil {
		s.metrics.IncrementStarted()
	}
	return s.view(session), nil
}

// Get reads the persisted session without forcing a pending autosave to
// flush; PendingSave on the view tells the caller a newer snapshot exists.
func (s *Service) Get(ctx context.Context, sessionID id.SessionID) (*View, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registration session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration session")
	}
	return s.view(session), nil
}

// Save merges a partial update into the session and schedules a debounced
// write. Saves never validate: incomplete data is the normal case while the
// promoter is still typing.
func (s *Service) Save(ctx context.Context, sessionID id.SessionID, patch models.SessionPatch) (*View, error) {
	session := s.saver.Peek(sessionID)
	if session == nil {
		var err error
		session, err = s.sessions.FindByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "registration session not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration session")
		}
	}
	if err := session.CanMutate(); err != nil {
		return nil, err
	}

	if !patch.IsEmpty() {
		session.Apply(patch, requestcontext.Now(ctx))
		s.saver.Schedule(session)
		s.emit(ctx, audit.EventSessionSaved, session, "")
	}

	return &View{
		Session:     session,
		ResumeStep:  session.Status.ResumeStep(session.CurrentStep),
		PendingSave: s.saver.Pending(session.ID),
	}, nil
}

// Advance validates the current step and, when clean, moves the session
// forward. Validation failures come back as field errors with the session
// untouched; only infrastructure problems surface as errors.
func (s *Service) Advance(ctx context.Context, sessionID id.SessionID, in steps.Input) (*View, steps.FieldErrors, error) {
	ctx, span := s.tracer.Start(ctx, "registration.advance",
		trace.WithAttributes(attribute.String("session_id", sessionID.String())))
	defer span.End()
	start := time.Now()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("step", string(session.CurrentStep)))
	if err := session.CanMutate(); err != nil {
		return nil, nil, err
	}

	step := session.CurrentStep
	if fieldErrors := steps.Validate(step, session, in); !fieldErrors.IsClean() {
		s.observeAdvance(step, "validation_failed", start)
		return s.view(session), fieldErrors, nil
	}

	switch step {
	case models.StepPreRegistration:
		if fieldErrors, err := s.claimIdentifiers(ctx, session); err != nil {
			return nil, nil, err
		} else if !fieldErrors.IsClean() {
			s.observeAdvance(step, "conflict", start)
			return s.view(session), fieldErrors, nil
		}
	case models.StepProfile:
		if in.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
			}
			session.Promoter.PasswordHash = string(hash)
		}
	}

	prevStatus := session.Status
	session.ApplyAdvance(requestcontext.Now(ctx))
	if err := s.persist(ctx, session); err != nil {
		return nil, nil, err
	}

	s.emit(ctx, audit.EventStepAdvanced, session, string(step))

	if session.CurrentStep == models.StepEmailVerification {
		// Entering the verification step triggers the first code send.
		// Failures are logged, not returned: the promoter can always hit
		// resend from the step itself.
		if err := s.sendCode(ctx, session); err != nil {
			s.logger.WarnContext(ctx, "initial verification code send failed",
				"session_id", session.ID.String(),
				"error", err,
			)
		}
	}

	view := s.view(session)
	if prevStatus != models.StatusCompleted && session.Status == models.StatusCompleted {
		view.OnboardingToken = s.complete(ctx, session)
	}

	s.observeAdvance(step, "ok", start)
	return view, nil, nil
}

// claimIdentifiers re-checks email and subdomain against the store right
// before they are claimed. The typing-time availability probe is advisory;
// this check is what actually gates the step.
func (s *Service) claimIdentifiers(ctx context.Context, session *models.Session) (steps.FieldErrors, error) {
	session.Promoter.Email = emailutil.Normalize(session.Promoter.Email)
	session.School.Subdomain = strings.ToLower(strings.TrimSpace(session.School.Subdomain))

	fieldErrors := steps.FieldErrors{}

	emailTaken, err := s.sessions.EmailInUse(ctx, session.Promoter.Email, session.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "availability check failed")
	}
	if emailTaken {
		fieldErrors["email"] = "this email already has a registration in progress"
	}

	if availability.IsReserved(session.School.Subdomain) {
		fieldErrors["subdomain"] = "this subdomain is reserved"
		return fieldErrors, nil
	}
	subdomainTaken, err := s.sessions.SubdomainInUse(ctx, session.School.Subdomain, session.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "availability check failed")
	}
	if subdomainTaken {
		fieldErrors["subdomain"] = "this subdomain is already taken"
	}

	if s.tenants != nil {
		taken, err := s.tenants.EmailTaken(ctx, session.Promoter.Email)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "availability check failed")
		}
		if taken {
			fieldErrors["email"] = "this email belongs to an existing school account"
		}
		if fieldErrors["subdomain"] == "" {
			taken, err = s.tenants.SubdomainTaken(ctx, session.School.Subdomain)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "availability check failed")
			}
			if taken {
				fieldErrors["subdomain"] = "this subdomain belongs to an existing school"
			}
		}
	}

	return fieldErrors, nil
}

// Back moves the session one step backward without validating. Rewinding
// never loses entered data and never regresses the status.
func (s *Service) Back(ctx context.Context, sessionID id.SessionID) (*View, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CanMutate(); err != nil {
		return nil, err
	}
	if session.CurrentStep.Index() == 0 {
		return s.view(session), nil
	}

	from := session.CurrentStep
	session.ApplyBack(requestcontext.Now(ctx))
	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.EventStepRewound, session, string(from))
	return s.view(session), nil
}

// Cancel abandons the funnel, releasing the session's subdomain and email
// claims for future registrations.
func (s *Service) Cancel(ctx context.Context, sessionID id.SessionID, reason string) (*View, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CanCancel(); err != nil {
		return nil, err
	}

	session.ApplyCancel(requestcontext.Now(ctx))
	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}
	s.saver.Cancel(session.ID)

	s.emit(ctx, audit.EventSessionCancelled, session, reason)
	if s.metrics != nil {
		s.metrics.IncrementCancelled()
	}
	return s.view(session), nil
}

// complete runs the post-completion hand-off: provision the tenant and mint
// the onboarding token. Both are best-effort; completion stands either way.
func (s *Service) complete(ctx context.Context, session *models.Session) string {
	s.emit(ctx, audit.EventSessionCompleted, session, "")
	if s.metrics != nil {
		s.metrics.ObserveCompletion(session.CreatedAt, session.UpdatedAt)
	}

	if s.provisioner == nil {
		return ""
	}
	tenantID, err := s.provisioner.Provision(ctx, session)
	if err != nil {
		// Completion stands; provisioning is retried out of band.
		s.logger.ErrorContext(ctx, "tenant provisioning failed",
			"session_id", session.ID.String(),
			"error", err,
		)
		return ""
	}
	s.logger.InfoContext(ctx, "tenant provisioned",
		"session_id", session.ID.String(),
		"tenant_id", tenantID.String(),
	)

	if s.tokens == nil {
		return ""
	}
	token, err := s.tokens.GenerateOnboardingToken(tenantID, session.ID, session.Promoter.Email, requestcontext.Now(ctx))
	if err != nil {
		s.logger.ErrorContext(ctx, "onboarding token issuance failed",
			"session_id", session.ID.String(),
			"error", err,
		)
		return ""
	}
	return token
}

func (s *Service) observeAdvance(step models.Step, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveAdvance(string(step), outcome, start)
	}
}

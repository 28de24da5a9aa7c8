package service

import (
	"context"

	"examtrack/internal/registration/models"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
	emailutil "examtrack/pkg/email"
	"examtrack/pkg/platform/audit"
	"examtrack/pkg/requestcontext"
)

// SendVerificationCode issues (or re-issues) the email verification code.
// Resends inside the cooldown window come back as a too-many-requests error.
func (s *Service) SendVerificationCode(ctx context.Context, sessionID id.SessionID) error {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := session.CanMutate(); err != nil {
		return err
	}
	if session.Promoter == nil || session.Promoter.Email == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "complete pre-registration before requesting a code")
	}
	if session.Promoter.EmailVerified {
		return dErrors.New(dErrors.CodeConflict, "email is already verified")
	}
	return s.sendCode(ctx, session)
}

func (s *Service) sendCode(ctx context.Context, session *models.Session) error {
	err := s.verifier.SendCode(ctx, session.ID, session.Promoter.Email, session.Promoter.FirstName)
	switch {
	case err == nil:
		s.emit(ctx, audit.EventCodeSent, session, "")
		s.observeVerificationSend("ok")
		return nil
	case dErrors.HasCode(err, dErrors.CodeTooManyRequests):
		s.emit(ctx, audit.EventCodeThrottled, session, "resend cooldown")
		s.observeVerificationSend("throttled")
		return err
	default:
		s.observeVerificationSend("error")
		return err
	}
}

// VerifyCode checks the submitted code and, on success, marks the email
// verified and pre-fills the profile names from the address. Verifying an
// already-verified session is a no-op.
func (s *Service) VerifyCode(ctx context.Context, sessionID id.SessionID, code string) (*View, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.CanMutate(); err != nil {
		return nil, err
	}
	if session.Promoter == nil || session.Promoter.Email == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "complete pre-registration before verifying")
	}
	if session.Promoter.EmailVerified {
		return s.view(session), nil
	}

	if err := s.verifier.Verify(ctx, session.ID, code); err != nil {
		outcome := "rejected"
		if dErrors.HasCode(err, dErrors.CodeTooManyRequests) {
			outcome = "locked_out"
		}
		s.emit(ctx, audit.EventVerifyFailed, session, outcome)
		s.observeVerificationCheck(outcome)
		return nil, err
	}

	session.ApplyEmailVerified(requestcontext.Now(ctx))
	if session.Promoter.FirstName == "" && session.Promoter.LastName == "" {
		first, last := emailutil.DeriveNameFromEmail(session.Promoter.Email)
		session.Promoter.FirstName = first
		session.Promoter.LastName = last
	}
	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.EventEmailVerified, session, "")
	s.observeVerificationCheck("ok")
	return s.view(session), nil
}

func (s *Service) observeVerificationSend(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveVerificationSend(outcome)
	}
}

func (s *Service) observeVerificationCheck(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveVerificationCheck(outcome)
	}
}

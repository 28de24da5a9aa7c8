package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examtrack/pkg/domain"
	"examtrack/pkg/testutil"
)

func newTestSession(t *testing.T, now time.Time) *Session {
	t.Helper()
	s, err := NewSession(id.NewSessionID(), now)
	require.NoError(t, err)
	return s
}

func TestNewSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("starts pending at the first step", func(t *testing.T) {
		s := newTestSession(t, now)
		assert.Equal(t, StatusPending, s.Status)
		assert.Equal(t, StepPreRegistration, s.CurrentStep)
		assert.Equal(t, now, s.CreatedAt)
		assert.Equal(t, now, s.UpdatedAt)
	})

	t.Run("rejects nil session id", func(t *testing.T) {
		_, err := NewSession(id.SessionID{}, now)
		require.Error(t, err)
	})
}

func TestTouch(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSession(t, now)

	t.Run("updated at never drops below created at", func(t *testing.T) {
		s.Touch(now.Add(-time.Hour))
		assert.Equal(t, s.CreatedAt, s.UpdatedAt)
	})

	t.Run("mutation moves updated at forward", func(t *testing.T) {
		later := now.Add(5 * time.Minute)
		s.Touch(later)
		assert.Equal(t, later, s.UpdatedAt)
		assert.True(t, !s.UpdatedAt.Before(s.CreatedAt))
	})
}

func TestStatusTransitions(t *testing.T) {
	t.Run("forward transitions allowed", func(t *testing.T) {
		assert.True(t, StatusPending.CanTransitionTo(StatusEmailVerified))
		assert.True(t, StatusPending.CanTransitionTo(StatusCompleted))
		assert.True(t, StatusEmailVerified.CanTransitionTo(StatusCompleted))
	})

	t.Run("no automatic regression", func(t *testing.T) {
		assert.False(t, StatusEmailVerified.CanTransitionTo(StatusPending))
		assert.False(t, StatusCompleted.CanTransitionTo(StatusEmailVerified))
	})

	t.Run("cancellation from any non-terminal status", func(t *testing.T) {
		assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
		assert.True(t, StatusEmailVerified.CanTransitionTo(StatusCancelled))
		assert.False(t, StatusCompleted.CanTransitionTo(StatusCancelled))
		assert.False(t, StatusCancelled.CanTransitionTo(StatusPending))
	})
}

func TestResumeStep(t *testing.T) {
	t.Run("email verified resumes at profile", func(t *testing.T) {
		assert.Equal(t, StepProfile, StatusEmailVerified.ResumeStep(StepEmailVerification))
	})

	t.Run("email verified keeps later progress", func(t *testing.T) {
		assert.Equal(t, StepPlanSelection, StatusEmailVerified.ResumeStep(StepPlanSelection))
	})

	t.Run("completed resumes at activation", func(t *testing.T) {
		assert.Equal(t, StepActivation, StatusCompleted.ResumeStep(StepPreRegistration))
	})

	t.Run("pending falls back to the stored step", func(t *testing.T) {
		assert.Equal(t, StepPreRegistration, StatusPending.ResumeStep(StepPreRegistration))
		assert.Equal(t, StepPreRegistration, StatusPending.ResumeStep(Step("bogus")))
	})
}

func TestApplyAdvance(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("promotes status past email verification", func(t *testing.T) {
		s := newTestSession(t, now)
		s.CurrentStep = StepEmailVerification
		s.ApplyAdvance(now.Add(time.Minute))
		assert.Equal(t, StepProfile, s.CurrentStep)
		assert.Equal(t, StatusEmailVerified, s.Status)
	})

	t.Run("completes on reaching activation", func(t *testing.T) {
		s := newTestSession(t, now)
		s.Status = StatusEmailVerified
		s.CurrentStep = StepKYC
		s.ApplyAdvance(now.Add(time.Minute))
		assert.Equal(t, StepActivation, s.CurrentStep)
		assert.Equal(t, StatusCompleted, s.Status)
	})

	t.Run("caps at the last step", func(t *testing.T) {
		s := newTestSession(t, now)
		s.CurrentStep = StepActivation
		s.ApplyAdvance(now.Add(time.Minute))
		assert.Equal(t, StepActivation, s.CurrentStep)
	})
}

func TestApplyBack(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("decrements exactly one step", func(t *testing.T) {
		s := newTestSession(t, now)
		s.CurrentStep = StepProfile
		s.ApplyBack(now.Add(time.Minute))
		assert.Equal(t, StepEmailVerification, s.CurrentStep)
	})

	t.Run("floors at the first step", func(t *testing.T) {
		s := newTestSession(t, now)
		s.ApplyBack(now.Add(time.Minute))
		assert.Equal(t, StepPreRegistration, s.CurrentStep)
	})

	t.Run("does not regress status", func(t *testing.T) {
		s := newTestSession(t, now)
		s.Status = StatusEmailVerified
		s.CurrentStep = StepProfile
		s.ApplyBack(now.Add(time.Minute))
		assert.Equal(t, StatusEmailVerified, s.Status)
	})
}

func TestApplyPatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	str := func(s string) *string { return &s }

	t.Run("shallow merge leaves unsent fields alone", func(t *testing.T) {
		s := newTestSession(t, now)
		s.Apply(SessionPatch{
			Promoter: &PromoterPatch{Email: str("p@school.edu"), FirstName: str("Pat")},
		}, now.Add(time.Minute))
		s.Apply(SessionPatch{
			Promoter: &PromoterPatch{Phone: str("+224622000000")},
		}, now.Add(2*time.Minute))

		assert.Equal(t, "p@school.edu", s.Promoter.Email)
		assert.Equal(t, "Pat", s.Promoter.FirstName)
		assert.Equal(t, "+224622000000", s.Promoter.Phone)
		assert.Equal(t, now.Add(2*time.Minute), s.UpdatedAt)
	})

	t.Run("changing the email resets verification", func(t *testing.T) {
		s := newTestSession(t, now)
		s.Apply(SessionPatch{Promoter: &PromoterPatch{Email: str("a@school.edu")}}, now)
		s.ApplyEmailVerified(now)
		require.True(t, s.Promoter.EmailVerified)

		s.Apply(SessionPatch{Promoter: &PromoterPatch{Email: str("b@school.edu")}}, now.Add(time.Minute))
		assert.False(t, s.Promoter.EmailVerified)
	})

	t.Run("re-sending the same email keeps verification", func(t *testing.T) {
		s := newTestSession(t, now)
		s.Apply(SessionPatch{Promoter: &PromoterPatch{Email: str("a@school.edu")}}, now)
		s.ApplyEmailVerified(now)

		s.Apply(SessionPatch{Promoter: &PromoterPatch{Email: str("a@school.edu")}}, now.Add(time.Minute))
		assert.True(t, s.Promoter.EmailVerified)
	})
}

func TestClone(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSession(t, now)
	s.Promoter = &Promoter{Email: "p@school.edu"}
	s.School = &School{Name: "Lycée Central"}

	clone := s.Clone()
	clone.Promoter.Email = "other@school.edu"
	clone.School.Name = "Other"

	assert.Equal(t, "p@school.edu", s.Promoter.Email)
	assert.Equal(t, "Lycée Central", s.School.Name)
}

func TestCancellationScenario(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSession(t, now)

	testutil.Given(t, "a session midway through the wizard", func(t *testing.T) {
		s.CurrentStep = StepProfile
		s.Status = StatusEmailVerified
		require.NoError(t, s.CanMutate())
	})

	testutil.When(t, "the promoter cancels", func(t *testing.T) {
		require.NoError(t, s.CanCancel())
		s.ApplyCancel(now.Add(time.Minute))
	})

	testutil.Then(t, "the session is terminal and rejects further changes", func(t *testing.T) {
		assert.Equal(t, StatusCancelled, s.Status)
		assert.Error(t, s.CanMutate())
		assert.Error(t, s.CanCancel())
	})
}

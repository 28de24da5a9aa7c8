package models

import (
	"time"

	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
)

// Status is the lifecycle state of a registration session.
//
// Invariants:
//   - transitions are monotonic in step order: pending → email_verified →
//     completed; a session never regresses automatically
//   - cancelled is reachable from any non-terminal status, only through an
//     explicit cancellation
//   - completed and cancelled are terminal
type Status string

const (
	StatusPending       Status = "pending"
	StatusEmailVerified Status = "email_verified"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusPending:       0,
	StatusEmailVerified: 1,
	StatusCompleted:     2,
}

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusEmailVerified || s == StatusCompleted || s == StatusCancelled
}

// IsTerminal reports whether the session can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo enforces monotonic, forward-only status movement.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// ResumeStep maps a status to the step the wizard resumes at, falling back
// to the step stored on the session for anything in between.
func (s Status) ResumeStep(fallback Step) Step {
	switch s {
	case StatusEmailVerified:
		// Never resume behind the profile step once the email is verified.
		if fallback.After(StepProfile) {
			return fallback
		}
		return StepProfile
	case StatusCompleted:
		return StepActivation
	default:
		if fallback.IsValid() {
			return fallback
		}
		return StepPreRegistration
	}
}

// Promoter is the individual registering a school.
type Promoter struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	// PasswordHash is a bcrypt hash; the raw password never leaves the
	// profile step handler.
	PasswordHash string `json:"-"`
}

// School is the institution being registered.
type School struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	Address   string `json:"address,omitempty"`
	Subdomain string `json:"subdomain"`
}

// Plan is a snapshot of the chosen subscription plan. Snapshotting price
// and cycle at selection time keeps the session self-contained if the
// catalog changes mid-funnel.
type Plan struct {
	ID           id.PlanID `json:"id"`
	Name         string    `json:"name"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `json:"currency"`
	BillingCycle string    `json:"billing_cycle"`
}

// Payment captures the payment gateway's result for the session.
type Payment struct {
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}

// Session is the aggregate tracking one registration funnel end-to-end.
//
// Invariants:
//   - ID is immutable for the whole lifetime
//   - UpdatedAt is rewritten on every mutation and is always ≥ CreatedAt
//   - Promoter.Email is well-formed before the verification step is entered
//     (enforced by the pre_registration validator, not here)
//   - Status only moves per Status.CanTransitionTo
type Session struct {
	ID          id.SessionID `json:"id"`
	Promoter    *Promoter    `json:"promoter,omitempty"`
	School      *School      `json:"school,omitempty"`
	Plan        *Plan        `json:"plan,omitempty"`
	Payment     *Payment     `json:"payment,omitempty"`
	Status      Status       `json:"status"`
	CurrentStep Step         `json:"current_step"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewSession allocates a pending session at the first step.
func NewSession(sessionID id.SessionID, now time.Time) (*Session, error) {
	if sessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "session id cannot be nil")
	}
	return &Session{
		ID:          sessionID,
		Status:      StatusPending,
		CurrentStep: StepPreRegistration,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Touch rewrites UpdatedAt, clamping so it never drops below CreatedAt even
// if a caller passes a skewed clock.
func (s *Session) Touch(now time.Time) {
	if now.Before(s.CreatedAt) {
		now = s.CreatedAt
	}
	s.UpdatedAt = now
}

// CanMutate rejects writes to terminal sessions.
func (s *Session) CanMutate() error {
	if s.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "session is "+string(s.Status))
	}
	return nil
}

// ApplyAdvance moves the session one step forward (capped at the last step)
// and applies the heuristic status updates: moving past email_verification
// promotes a pending session to email_verified, and landing on activation
// completes it.
func (s *Session) ApplyAdvance(now time.Time) {
	s.CurrentStep = s.CurrentStep.Next()

	if s.CurrentStep.After(StepEmailVerification) && s.Status == StatusPending {
		s.Status = StatusEmailVerified
	}
	if s.CurrentStep.IsLast() && s.Status.CanTransitionTo(StatusCompleted) {
		s.Status = StatusCompleted
	}
	s.Touch(now)
}

// ApplyBack moves the session one step backward (floored at the first
// step). Backward movement never validates and never regresses the status.
func (s *Session) ApplyBack(now time.Time) {
	s.CurrentStep = s.CurrentStep.Prev()
	s.Touch(now)
}

// CanCancel checks that the session is still cancellable.
func (s *Session) CanCancel() error {
	if !s.Status.CanTransitionTo(StatusCancelled) {
		return dErrors.New(dErrors.CodeInvariantViolation, "session is already "+string(s.Status))
	}
	return nil
}

// ApplyCancel transitions the session to cancelled. Must only be called
// after CanCancel returns nil.
func (s *Session) ApplyCancel(now time.Time) {
	s.Status = StatusCancelled
	s.Touch(now)
}

// ApplyEmailVerified marks the promoter's email as verified and promotes
// the status. Only the verification service calls this.
func (s *Session) ApplyEmailVerified(now time.Time) {
	if s.Promoter == nil {
		s.Promoter = &Promoter{}
	}
	s.Promoter.EmailVerified = true
	if s.Status.CanTransitionTo(StatusEmailVerified) {
		s.Status = StatusEmailVerified
	}
	s.Touch(now)
}

// Clone returns a deep copy so stores and the autosaver can hold snapshots
// without aliasing the caller's sub-records.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Promoter != nil {
		p := *s.Promoter
		out.Promoter = &p
	}
	if s.School != nil {
		sc := *s.School
		out.School = &sc
	}
	if s.Plan != nil {
		pl := *s.Plan
		out.Plan = &pl
	}
	if s.Payment != nil {
		pay := *s.Payment
		out.Payment = &pay
	}
	return &out
}

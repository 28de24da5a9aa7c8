package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"examtrack/internal/catalog"
	"examtrack/internal/email"
	jwttoken "examtrack/internal/jwt_token"
	"examtrack/internal/registration/autosave"
	"examtrack/internal/registration/availability"
	"examtrack/internal/registration/models"
	"examtrack/internal/registration/steps"
	"examtrack/internal/registration/store"
	"examtrack/internal/registration/verification"
	tenantmodels "examtrack/internal/tenant/models"
	tenantstore "examtrack/internal/tenant/store"
	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
)

const testCode = "482916"

type fakeProvisioner struct {
	provisioned []id.SessionID
	tenantID    id.TenantID
}

func (f *fakeProvisioner) Provision(_ context.Context, session *models.Session) (id.TenantID, error) {
	f.provisioned = append(f.provisioned, session.ID)
	return f.tenantID, nil
}

type FlowServiceSuite struct {
	suite.Suite
	ctx         context.Context
	sessions    *store.InMemory
	plans       *catalog.InMemory
	planID      id.PlanID
	sender      *email.ConsoleSender
	saver       *autosave.Saver
	provisioner *fakeProvisioner
	tenants     *tenantstore.Memory
	tokens      *jwttoken.Service
	svc         *Service
}

func (s *FlowServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.sessions = store.NewInMemory()

	plan := catalog.Plan{
		ID: id.NewPlanID(), Name: "Standard", PriceCents: 450_000,
		Currency: "GNF", BillingCycle: "monthly", Active: true,
	}
	s.planID = plan.ID
	s.plans = catalog.NewInMemory(plan)

	s.sender = email.NewConsoleSender(nil)
	verifier := verification.NewService(verification.NewMemoryCodeStore(), s.sender,
		verification.WithCodeGenerator(func() (string, error) { return testCode, nil }),
		verification.WithPolicy(verification.Policy{ResendCooldown: time.Nanosecond}),
	)
	s.tenants = tenantstore.NewMemory()
	existing, err := tenantmodels.NewTenant(id.NewTenantID(), "GS Existing", "existing-school", time.Now().UTC())
	s.Require().NoError(err)
	existing.ContactEmail = "owner@existing.gn"
	s.Require().NoError(s.tenants.CreateIfSubdomainAvailable(s.ctx, existing))

	checker := availability.NewChecker(s.sessions,
		availability.WithCacheTTL(time.Nanosecond),
		availability.WithDirectory(s.tenants),
	)
	s.saver = autosave.New(s.sessions, autosave.WithDelay(time.Hour))
	s.provisioner = &fakeProvisioner{tenantID: id.NewTenantID()}
	s.tokens = jwttoken.NewService("flow-suite-signing-key-32-bytes!", "examtrack", "examtrack-onboarding", time.Hour)

	s.svc = New(s.sessions, s.plans, verifier, checker, s.saver,
		WithProvisioner(s.provisioner),
		WithTenantDirectory(s.tenants),
		WithTokenIssuer(s.tokens),
	)
}

func (s *FlowServiceSuite) TearDownTest() {
	_ = s.saver.Close(context.Background())
}

func TestFlowServiceSuite(t *testing.T) {
	suite.Run(t, new(FlowServiceSuite))
}

func strPtr(v string) *string { return &v }

// startSession creates a fresh session and returns its ID.
func (s *FlowServiceSuite) startSession() id.SessionID {
	view, err := s.svc.StartOrResume(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Equal(models.StepPreRegistration, view.Session.CurrentStep)
	return view.Session.ID
}

// fillPreRegistration patches in a valid email and subdomain.
func (s *FlowServiceSuite) fillPreRegistration(sessionID id.SessionID, address, subdomain string) {
	_, err := s.svc.Save(s.ctx, sessionID, models.SessionPatch{
		Promoter: &models.PromoterPatch{Email: strPtr(address)},
		School:   &models.SchoolPatch{Subdomain: strPtr(subdomain)},
	})
	s.Require().NoError(err)
}

func (s *FlowServiceSuite) fillProfile(sessionID id.SessionID) {
	_, err := s.svc.Save(s.ctx, sessionID, models.SessionPatch{
		Promoter: &models.PromoterPatch{
			FirstName: strPtr("Aissata"),
			LastName:  strPtr("Diallo"),
			Phone:     strPtr("+224622001122"),
		},
		School: &models.SchoolPatch{
			Name:    strPtr("Lycee Central"),
			Type:    strPtr("secondary"),
			Country: strPtr("GN"),
			City:    strPtr("Conakry"),
			Address: strPtr("Quartier Almamya"),
		},
	})
	s.Require().NoError(err)
}

func (s *FlowServiceSuite) advance(sessionID id.SessionID, in steps.Input) *View {
	view, fieldErrors, err := s.svc.Advance(s.ctx, sessionID, in)
	s.Require().NoError(err)
	s.Require().Empty(fieldErrors)
	return view
}

// driveToProfile walks a fresh session through pre-registration and email
// verification.
func (s *FlowServiceSuite) driveToProfile(sessionID id.SessionID, address, subdomain string) {
	s.fillPreRegistration(sessionID, address, subdomain)
	s.advance(sessionID, steps.Input{})
	_, err := s.svc.VerifyCode(s.ctx, sessionID, testCode)
	s.Require().NoError(err)
	s.advance(sessionID, steps.Input{})
}

func (s *FlowServiceSuite) TestStartOrResume() {
	s.Run("starts a fresh pending session", func() {
		view, err := s.svc.StartOrResume(s.ctx, nil)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, view.Session.Status)
		s.Equal(models.StepPreRegistration, view.ResumeStep)
		s.False(view.PendingSave)
	})

	s.Run("resumes an existing session at the stored step", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "resume@school.edu", "resume-school")
		s.advance(sessionID, steps.Input{})

		view, err := s.svc.StartOrResume(s.ctx, &sessionID)
		s.Require().NoError(err)
		s.Equal(sessionID, view.Session.ID)
		s.Equal(models.StepEmailVerification, view.Session.CurrentStep)
	})

	s.Run("falls open to a fresh session when the previous one is unknown", func() {
		ghost := id.NewSessionID()
		view, err := s.svc.StartOrResume(s.ctx, &ghost)
		s.Require().NoError(err)
		s.NotEqual(ghost, view.Session.ID)
		s.Equal(models.StatusPending, view.Session.Status)
	})

	s.Run("falls open when the previous session is terminal", func() {
		sessionID := s.startSession()
		_, err := s.svc.Cancel(s.ctx, sessionID, "changed my mind")
		s.Require().NoError(err)

		view, err := s.svc.StartOrResume(s.ctx, &sessionID)
		s.Require().NoError(err)
		s.NotEqual(sessionID, view.Session.ID)
	})

	s.Run("verified sessions resume at the profile step or later", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "verified@school.edu", "verified-school")
		s.advance(sessionID, steps.Input{})
		_, err := s.svc.VerifyCode(s.ctx, sessionID, testCode)
		s.Require().NoError(err)

		view, err := s.svc.StartOrResume(s.ctx, &sessionID)
		s.Require().NoError(err)
		s.Equal(models.StepProfile, view.ResumeStep)
	})
}

func (s *FlowServiceSuite) TestSave() {
	s.Run("merges patches and schedules a debounced write", func() {
		sessionID := s.startSession()

		view, err := s.svc.Save(s.ctx, sessionID, models.SessionPatch{
			Promoter: &models.PromoterPatch{Email: strPtr("typing@school.edu")},
		})
		s.Require().NoError(err)
		s.True(view.PendingSave)
		s.Equal("typing@school.edu", view.Session.Promoter.Email)

		// The store still holds the old row until the saver flushes.
		stored, err := s.sessions.FindByID(s.ctx, sessionID)
		s.Require().NoError(err)
		s.Nil(stored.Promoter)

		s.Require().NoError(s.saver.Flush(s.ctx, sessionID))
		stored, err = s.sessions.FindByID(s.ctx, sessionID)
		s.Require().NoError(err)
		s.Equal("typing@school.edu", stored.Promoter.Email)
	})

	s.Run("later patches stack on the pending snapshot", func() {
		sessionID := s.startSession()

		_, err := s.svc.Save(s.ctx, sessionID, models.SessionPatch{
			Promoter: &models.PromoterPatch{Email: strPtr("first@school.edu")},
		})
		s.Require().NoError(err)
		view, err := s.svc.Save(s.ctx, sessionID, models.SessionPatch{
			School: &models.SchoolPatch{Subdomain: strPtr("stacked")},
		})
		s.Require().NoError(err)

		s.Equal("first@school.edu", view.Session.Promoter.Email)
		s.Equal("stacked", view.Session.School.Subdomain)
	})

	s.Run("an empty patch changes nothing", func() {
		sessionID := s.startSession()
		view, err := s.svc.Save(s.ctx, sessionID, models.SessionPatch{})
		s.Require().NoError(err)
		s.False(view.PendingSave)
	})

	s.Run("rejects saves on a cancelled session", func() {
		sessionID := s.startSession()
		_, err := s.svc.Cancel(s.ctx, sessionID, "")
		s.Require().NoError(err)

		_, err = s.svc.Save(s.ctx, sessionID, models.SessionPatch{
			Promoter: &models.PromoterPatch{Email: strPtr("late@school.edu")},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("returns not found for an unknown session", func() {
		_, err := s.svc.Save(s.ctx, id.NewSessionID(), models.SessionPatch{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *FlowServiceSuite) TestAdvancePreRegistration() {
	s.Run("validation failure leaves the session on the same step", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "not-an-email", "ab")

		view, fieldErrors, err := s.svc.Advance(s.ctx, sessionID, steps.Input{})
		s.Require().NoError(err)
		s.Contains(fieldErrors, "email")
		s.Contains(fieldErrors, "subdomain")
		s.Equal(models.StepPreRegistration, view.Session.CurrentStep)
	})

	s.Run("rejects a subdomain another live session already claims", func() {
		first := s.startSession()
		s.fillPreRegistration(first, "first@school.edu", "taken-school")
		s.advance(first, steps.Input{})

		second := s.startSession()
		s.fillPreRegistration(second, "second@school.edu", "taken-school")

		view, fieldErrors, err := s.svc.Advance(s.ctx, second, steps.Input{})
		s.Require().NoError(err)
		s.Contains(fieldErrors["subdomain"], "taken")
		s.Equal(models.StepPreRegistration, view.Session.CurrentStep)
	})

	s.Run("rejects a reserved subdomain", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "reserved@school.edu", "www")

		_, fieldErrors, err := s.svc.Advance(s.ctx, sessionID, steps.Input{})
		s.Require().NoError(err)
		s.Contains(fieldErrors["subdomain"], "reserved")
	})

	s.Run("rejects identifiers a provisioned school owns", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "owner@existing.gn", "existing-school")

		_, fieldErrors, err := s.svc.Advance(s.ctx, sessionID, steps.Input{})
		s.Require().NoError(err)
		s.Contains(fieldErrors["subdomain"], "existing school")
		s.Contains(fieldErrors["email"], "existing school")
	})

	s.Run("probes see tenant-owned values as taken", func() {
		result, err := s.svc.CheckSubdomain(s.ctx, "existing-school", id.SessionID{})
		s.Require().NoError(err)
		s.False(result.Available)
		s.Equal("taken", result.Reason)
	})

	s.Run("a session never collides with its own data", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "self@school.edu", "self-school")
		s.advance(sessionID, steps.Input{})

		// Rewind and advance again over the same values.
		_, err := s.svc.Back(s.ctx, sessionID)
		s.Require().NoError(err)
		view := s.advance(sessionID, steps.Input{})
		s.Equal(models.StepEmailVerification, view.Session.CurrentStep)
	})

	s.Run("normalizes the claimed identifiers", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, " Mixed@School.EDU ", "mixed-school")

		view := s.advance(sessionID, steps.Input{})
		s.Equal("mixed@school.edu", view.Session.Promoter.Email)
	})
}

func (s *FlowServiceSuite) TestVerification() {
	s.Run("a wrong code is rejected and the step does not move", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "wrong@school.edu", "wrong-school")
		s.advance(sessionID, steps.Input{})

		_, err := s.svc.VerifyCode(s.ctx, sessionID, "000000")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		view, err := s.svc.Get(s.ctx, sessionID)
		s.Require().NoError(err)
		s.Equal(models.StepEmailVerification, view.Session.CurrentStep)
		s.False(view.Session.Promoter.EmailVerified)
	})

	s.Run("advancing the verification step requires a verified email", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "gate@school.edu", "gate-school")
		s.advance(sessionID, steps.Input{})

		_, fieldErrors, err := s.svc.Advance(s.ctx, sessionID, steps.Input{})
		s.Require().NoError(err)
		s.Contains(fieldErrors, "code")
	})

	s.Run("a correct code verifies, promotes the status, and pre-fills names", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "mamadou.bah@school.edu", "bah-school")
		s.advance(sessionID, steps.Input{})

		view, err := s.svc.VerifyCode(s.ctx, sessionID, testCode)
		s.Require().NoError(err)
		s.True(view.Session.Promoter.EmailVerified)
		s.Equal(models.StatusEmailVerified, view.Session.Status)
		s.Equal("Mamadou", view.Session.Promoter.FirstName)
		s.Equal("Bah", view.Session.Promoter.LastName)
	})

	s.Run("verifying twice is a no-op", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "twice@school.edu", "twice-school")
		s.advance(sessionID, steps.Input{})

		_, err := s.svc.VerifyCode(s.ctx, sessionID, testCode)
		s.Require().NoError(err)
		view, err := s.svc.VerifyCode(s.ctx, sessionID, "garbage")
		s.Require().NoError(err)
		s.True(view.Session.Promoter.EmailVerified)
	})

	s.Run("resend before pre-registration is rejected", func() {
		sessionID := s.startSession()
		err := s.svc.SendVerificationCode(s.ctx, sessionID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *FlowServiceSuite) TestAdvanceProfile() {
	s.Run("hashes the supplied password", func() {
		sessionID := s.startSession()
		s.driveToProfile(sessionID, "hash@school.edu", "hash-school")
		s.fillProfile(sessionID)

		view := s.advance(sessionID, steps.Input{Password: "s3cret-pass", PasswordConfirm: "s3cret-pass"})
		s.Equal(models.StepPlanSelection, view.Session.CurrentStep)

		stored, err := s.sessions.FindByID(s.ctx, sessionID)
		s.Require().NoError(err)
		s.NotEmpty(stored.Promoter.PasswordHash)
		s.NoError(bcrypt.CompareHashAndPassword([]byte(stored.Promoter.PasswordHash), []byte("s3cret-pass")))
	})

	s.Run("a short password fails validation without moving the step", func() {
		sessionID := s.startSession()
		s.driveToProfile(sessionID, "short@school.edu", "short-school")
		s.fillProfile(sessionID)

		view, fieldErrors, err := s.svc.Advance(s.ctx, sessionID, steps.Input{Password: "abc123", PasswordConfirm: "abc123"})
		s.Require().NoError(err)
		s.Contains(fieldErrors, "password")
		s.Equal(models.StepProfile, view.Session.CurrentStep)
	})
}

func (s *FlowServiceSuite) TestPlanAndPayment() {
	s.Run("selecting a plan snapshots its price", func() {
		sessionID := s.startSession()
		view, err := s.svc.SelectPlan(s.ctx, sessionID, s.planID)
		s.Require().NoError(err)
		s.Require().NotNil(view.Session.Plan)
		s.Equal(int64(450_000), view.Session.Plan.PriceCents)
		s.Equal("GNF", view.Session.Plan.Currency)
	})

	s.Run("selecting an unknown plan is not found", func() {
		sessionID := s.startSession()
		_, err := s.svc.SelectPlan(s.ctx, sessionID, id.NewPlanID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("payment requires a selected plan", func() {
		sessionID := s.startSession()
		_, err := s.svc.RecordPayment(s.ctx, sessionID, models.Payment{TransactionID: "tx-1"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("payment defaults amount and currency from the plan", func() {
		sessionID := s.startSession()
		_, err := s.svc.SelectPlan(s.ctx, sessionID, s.planID)
		s.Require().NoError(err)

		view, err := s.svc.RecordPayment(s.ctx, sessionID, models.Payment{TransactionID: "tx-2", Status: "settled"})
		s.Require().NoError(err)
		s.Equal(int64(450_000), view.Session.Payment.AmountCents)
		s.Equal("GNF", view.Session.Payment.Currency)
	})
}

func (s *FlowServiceSuite) TestBack() {
	s.Run("rewinds one step without validating", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "back@school.edu", "back-school")
		s.advance(sessionID, steps.Input{})

		view, err := s.svc.Back(s.ctx, sessionID)
		s.Require().NoError(err)
		s.Equal(models.StepPreRegistration, view.Session.CurrentStep)
		// Entered data survives the rewind.
		s.Equal("back@school.edu", view.Session.Promoter.Email)
	})

	s.Run("is a no-op on the first step", func() {
		sessionID := s.startSession()
		view, err := s.svc.Back(s.ctx, sessionID)
		s.Require().NoError(err)
		s.Equal(models.StepPreRegistration, view.Session.CurrentStep)
	})
}

func (s *FlowServiceSuite) TestCancel() {
	s.Run("releases the session's claims", func() {
		sessionID := s.startSession()
		s.fillPreRegistration(sessionID, "freed@school.edu", "freed-school")
		s.advance(sessionID, steps.Input{})

		_, err := s.svc.Cancel(s.ctx, sessionID, "pricing")
		s.Require().NoError(err)

		replacement := s.startSession()
		s.fillPreRegistration(replacement, "freed@school.edu", "freed-school")
		view := s.advance(replacement, steps.Input{})
		s.Equal(models.StepEmailVerification, view.Session.CurrentStep)
	})

	s.Run("cancelling twice fails", func() {
		sessionID := s.startSession()
		_, err := s.svc.Cancel(s.ctx, sessionID, "")
		s.Require().NoError(err)
		_, err = s.svc.Cancel(s.ctx, sessionID, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *FlowServiceSuite) TestFullFunnel() {
	sessionID := s.startSession()

	s.fillPreRegistration(sessionID, "director@lycee.gn", "lycee-central")
	s.advance(sessionID, steps.Input{})

	_, err := s.svc.VerifyCode(s.ctx, sessionID, testCode)
	s.Require().NoError(err)
	s.advance(sessionID, steps.Input{})

	s.fillProfile(sessionID)
	s.advance(sessionID, steps.Input{Password: "s3cret-pass", PasswordConfirm: "s3cret-pass"})

	_, err = s.svc.SelectPlan(s.ctx, sessionID, s.planID)
	s.Require().NoError(err)
	s.advance(sessionID, steps.Input{})

	_, err = s.svc.RecordPayment(s.ctx, sessionID, models.Payment{TransactionID: "tx-funnel", Status: "settled"})
	s.Require().NoError(err)
	s.advance(sessionID, steps.Input{}) // payment -> kyc

	view := s.advance(sessionID, steps.Input{}) // kyc -> activation
	s.Equal(models.StepActivation, view.Session.CurrentStep)
	s.Equal(models.StatusCompleted, view.Session.Status)
	s.Equal(models.StepActivation, view.ResumeStep)

	// Completion hands the session to tenant provisioning exactly once.
	s.Require().Len(s.provisioner.provisioned, 1)
	s.Equal(sessionID, s.provisioner.provisioned[0])

	// The completing response carries a valid onboarding token.
	s.Require().NotEmpty(view.OnboardingToken)
	claims, err := s.tokens.ValidateToken(view.OnboardingToken)
	s.Require().NoError(err)
	s.Equal(s.provisioner.tenantID.String(), claims.TenantID)
	s.Equal(sessionID.String(), claims.SessionID)

	// Terminal sessions reject further movement.
	_, _, err = s.svc.Advance(s.ctx, sessionID, steps.Input{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"examtrack/internal/registration/models"
	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

type SessionStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *SessionStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) newSession() *models.Session {
	session, err := models.NewSession(id.NewSessionID(), time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return session
}

func (s *SessionStoreSuite) TestCreateAndFind() {
	s.Run("round-trips promoter, school, plan, and status", func() {
		session := s.newSession()
		session.Promoter = &models.Promoter{Email: "p@school.edu", FirstName: "Pat"}
		session.School = &models.School{Name: "GS Central", Subdomain: "gs-central"}
		session.Plan = &models.Plan{ID: id.NewPlanID(), Name: "Standard", PriceCents: 35000, Currency: "GNF", BillingCycle: "monthly"}
		session.Status = models.StatusEmailVerified

		s.Require().NoError(s.store.Create(s.ctx, session))

		found, err := s.store.FindByID(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(session.Promoter, found.Promoter)
		s.Equal(session.School, found.School)
		s.Equal(session.Plan, found.Plan)
		s.Equal(session.Status, found.Status)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.store.FindByID(s.ctx, id.NewSessionID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate create", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Create(s.ctx, session))
		s.Require().ErrorIs(s.store.Create(s.ctx, session), sentinel.ErrConflict)
	})

	s.Run("reads are isolated from caller mutation", func() {
		session := s.newSession()
		session.Promoter = &models.Promoter{Email: "p@school.edu"}
		s.Require().NoError(s.store.Create(s.ctx, session))

		found, err := s.store.FindByID(s.ctx, session.ID)
		s.Require().NoError(err)
		found.Promoter.Email = "tampered@school.edu"

		again, err := s.store.FindByID(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal("p@school.edu", again.Promoter.Email)
	})
}

func (s *SessionStoreSuite) TestUpdate() {
	s.Run("persists the full snapshot", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Create(s.ctx, session))

		session.School = &models.School{Name: "GS Central", Subdomain: "gs-central"}
		session.Touch(session.CreatedAt.Add(time.Minute))
		s.Require().NoError(s.store.Update(s.ctx, session))

		found, err := s.store.FindByID(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal("gs-central", found.School.Subdomain)
		s.Equal(session.UpdatedAt, found.UpdatedAt)
	})

	s.Run("returns ErrNotFound for unknown session", func() {
		s.Require().ErrorIs(s.store.Update(s.ctx, s.newSession()), sentinel.ErrNotFound)
	})
}

func (s *SessionStoreSuite) TestAvailabilityLookups() {
	session := s.newSession()
	session.Promoter = &models.Promoter{Email: "Taken@school.edu"}
	session.School = &models.School{Subdomain: "gs-central"}
	s.Require().NoError(s.store.Create(s.ctx, session))

	var none id.SessionID

	s.Run("case-insensitive subdomain match", func() {
		inUse, err := s.store.SubdomainInUse(s.ctx, "GS-Central", none)
		s.Require().NoError(err)
		s.True(inUse)
	})

	s.Run("case-insensitive email match", func() {
		inUse, err := s.store.EmailInUse(s.ctx, "taken@school.edu", none)
		s.Require().NoError(err)
		s.True(inUse)
	})

	s.Run("free values report available", func() {
		inUse, err := s.store.SubdomainInUse(s.ctx, "other", none)
		s.Require().NoError(err)
		s.False(inUse)
	})

	s.Run("a session does not collide with itself", func() {
		inUse, err := s.store.SubdomainInUse(s.ctx, "gs-central", session.ID)
		s.Require().NoError(err)
		s.False(inUse)

		inUse, err = s.store.EmailInUse(s.ctx, "taken@school.edu", session.ID)
		s.Require().NoError(err)
		s.False(inUse)
	})

	s.Run("cancelled sessions release their claims", func() {
		session.Status = models.StatusCancelled
		s.Require().NoError(s.store.Update(s.ctx, session))

		inUse, err := s.store.SubdomainInUse(s.ctx, "gs-central", none)
		s.Require().NoError(err)
		s.False(inUse)
	})
}

package store

import (
	"context"
	"strings"
	"sync"

	"examtrack/internal/registration/models"
	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

// InMemory is the map-backed session store used in dev mode and tests.
// Sessions are cloned on the way in and out so callers never share state
// with the store.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
}

func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[id.SessionID]*models.Session)}
}

func (s *InMemory) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemory) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemory) SubdomainInUse(_ context.Context, subdomain string, exclude id.SessionID) (bool, error) {
	subdomain = strings.ToLower(subdomain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.ID == exclude || session.Status == models.StatusCancelled || session.School == nil {
			continue
		}
		if strings.ToLower(session.School.Subdomain) == subdomain {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemory) EmailInUse(_ context.Context, address string, exclude id.SessionID) (bool, error) {
	address = strings.ToLower(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.ID == exclude || session.Status == models.StatusCancelled || session.Promoter == nil {
			continue
		}
		if strings.ToLower(session.Promoter.Email) == address {
			return true, nil
		}
	}
	return false, nil
}

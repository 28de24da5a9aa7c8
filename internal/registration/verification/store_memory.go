package verification

import (
	"context"
	"sync"
	"time"

	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

type codeRecord struct {
	hash          string
	expiresAt     time.Time
	cooldownUntil time.Time
	attempts      int
}

// MemoryCodeStore keeps codes in process memory. Used in tests and when no
// Redis URL is configured.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[id.SessionID]*codeRecord
	now   func() time.Time
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{
		codes: make(map[id.SessionID]*codeRecord),
		now:   time.Now,
	}
}

// WithClock overrides the store's clock. Test hook.
func (s *MemoryCodeStore) WithClock(now func() time.Time) *MemoryCodeStore {
	s.now = now
	return s
}

func (s *MemoryCodeStore) Save(_ context.Context, sessionID id.SessionID, codeHash string, ttl, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.codes[sessionID] = &codeRecord{
		hash:          codeHash,
		expiresAt:     now.Add(ttl),
		cooldownUntil: now.Add(cooldown),
	}
	return nil
}

func (s *MemoryCodeStore) Lookup(_ context.Context, sessionID id.SessionID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[sessionID]
	if !ok || s.now().After(rec.expiresAt) {
		delete(s.codes, sessionID)
		return "", sentinel.ErrNotFound
	}
	return rec.hash, nil
}

func (s *MemoryCodeStore) InCooldown(_ context.Context, sessionID id.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[sessionID]
	if !ok {
		return false, nil
	}
	return s.now().Before(rec.cooldownUntil), nil
}

func (s *MemoryCodeStore) RecordAttempt(_ context.Context, sessionID id.SessionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[sessionID]
	if !ok || s.now().After(rec.expiresAt) {
		return 0, sentinel.ErrNotFound
	}
	rec.attempts++
	return rec.attempts, nil
}

func (s *MemoryCodeStore) Clear(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, sessionID)
	return nil
}

package store

import (
	"context"
	"strings"
	"sync"

	"examtrack/internal/tenant/models"
	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

// Memory is the map-backed tenant store. Tenants are cloned on the way in
// and out so callers never share state with the store.
type Memory struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]*models.Tenant
	// bySubdomain indexes lowercase subdomain to owner.
	bySubdomain map[string]id.TenantID
}

func NewMemory() *Memory {
	return &Memory{
		tenants:     make(map[id.TenantID]*models.Tenant),
		bySubdomain: make(map[string]id.TenantID),
	}
}

func (s *Memory) CreateIfSubdomainAvailable(_ context.Context, tenant *models.Tenant) error {
	key := strings.ToLower(tenant.Subdomain)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.bySubdomain[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.tenants[tenant.ID]; exists {
		return sentinel.ErrConflict
	}
	s.tenants[tenant.ID] = tenant.Clone()
	s.bySubdomain[key] = tenant.ID
	return nil
}

func (s *Memory) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return tenant.Clone(), nil
}

func (s *Memory) FindBySubdomain(_ context.Context, subdomain string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, ok := s.bySubdomain[strings.ToLower(subdomain)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.tenants[tenantID].Clone(), nil
}

func (s *Memory) Execute(_ context.Context, tenantID id.TenantID,
	check func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	updated := tenant.Clone()
	if err := check(updated); err != nil {
		return nil, err
	}
	mutate(updated)
	s.tenants[tenantID] = updated
	return updated.Clone(), nil
}

func (s *Memory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants), nil
}

func (s *Memory) SubdomainTaken(_ context.Context, subdomain string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, taken := s.bySubdomain[strings.ToLower(subdomain)]
	return taken, nil
}

func (s *Memory) EmailTaken(_ context.Context, address string) (bool, error) {
	address = strings.ToLower(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tenant := range s.tenants {
		if strings.ToLower(tenant.ContactEmail) == address {
			return true, nil
		}
	}
	return false, nil
}

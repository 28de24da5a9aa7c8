package models

import (
	"strings"
	"time"

	id "examtrack/pkg/domain"
	dErrors "examtrack/pkg/domain-errors"
)

// TenantStatus is the lifecycle state of a provisioned school.
type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusInactive TenantStatus = "inactive"
)

func (s TenantStatus) IsValid() bool {
	return s == TenantStatusActive || s == TenantStatusInactive
}

// CanTransitionTo permits active ↔ inactive only; a transition to the
// current status is rejected so callers surface "already X" conflicts.
func (s TenantStatus) CanTransitionTo(next TenantStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return s != next
}

// Tenant is the aggregate for a provisioned school. It is born from a
// completed registration session and carries a snapshot of the plan and
// promoter contact at provisioning time.
//
// Invariants:
//   - Name is non-empty and at most 128 characters
//   - Subdomain is non-empty, lowercase, and unique across tenants
//   - Status transitions: active ↔ inactive only
//   - CreatedAt is immutable after construction
//
// Deactivation is an immediate boundary: availability checks keep treating
// an inactive tenant's subdomain as taken, so reactivation never races a new
// registration for the same name.
type Tenant struct {
	ID           id.TenantID  `json:"id"`
	Name         string       `json:"name"`
	Subdomain    string       `json:"subdomain"`
	ContactName  string       `json:"contact_name,omitempty"`
	ContactEmail string       `json:"contact_email,omitempty"`
	PlanID       id.PlanID    `json:"plan_id,omitempty"`
	PlanName     string       `json:"plan_name,omitempty"`
	SessionID    id.SessionID `json:"session_id,omitempty"`
	Status       TenantStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Clone returns a copy safe to hand across store boundaries.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// CanDeactivate checks the transition to inactive. Use with ApplyDeactivation
// inside store Execute callbacks.
func (t *Tenant) CanDeactivate() error {
	if !t.Status.CanTransitionTo(TenantStatusInactive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already inactive")
	}
	return nil
}

func (t *Tenant) ApplyDeactivation(now time.Time) {
	t.Status = TenantStatusInactive
	t.UpdatedAt = now
}

// CanReactivate checks the transition back to active.
func (t *Tenant) CanReactivate() error {
	if !t.Status.CanTransitionTo(TenantStatusActive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already active")
	}
	return nil
}

func (t *Tenant) ApplyReactivation(now time.Time) {
	t.Status = TenantStatusActive
	t.UpdatedAt = now
}

func NewTenant(tenantID id.TenantID, name, subdomain string, now time.Time) (*Tenant, error) {
	name = strings.TrimSpace(name)
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant id cannot be nil")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name must be 128 characters or less")
	}
	if subdomain == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant subdomain cannot be empty")
	}
	return &Tenant{
		ID:        tenantID,
		Name:      name,
		Subdomain: subdomain,
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

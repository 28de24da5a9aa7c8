// Package domain holds the typed identifiers shared across modules.
//
// IDs are distinct types over uuid.UUID so a SessionID can never be passed
// where a TenantID is expected. Parse helpers enforce the invariant that an
// ID is a valid, non-nil UUID at trust boundaries (HTTP, storage).
package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "examtrack/pkg/domain-errors"
)

type (
	// SessionID identifies a registration session for its whole lifetime.
	SessionID uuid.UUID

	// TenantID identifies a provisioned school tenant.
	TenantID uuid.UUID

	// PlanID identifies a subscription plan in the catalog.
	PlanID uuid.UUID
)

// NewSessionID allocates a fresh session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewTenantID allocates a fresh tenant ID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewPlanID allocates a fresh plan ID.
func NewPlanID() PlanID { return PlanID(uuid.New()) }

func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id TenantID) String() string  { return uuid.UUID(id).String() }
func (id PlanID) String() string    { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PlanID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps the canonical UUID string form in JSON and storage.

func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id TenantID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id PlanID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *SessionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *TenantID) UnmarshalText(b []byte) error {
	parsed, err := ParseTenantID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *PlanID) UnmarshalText(b []byte) error {
	parsed, err := ParsePlanID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseSessionID parses and validates a session ID from its string form.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session")
	return SessionID(u), err
}

// ParseTenantID parses and validates a tenant ID from its string form.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant")
	return TenantID(u), err
}

// ParsePlanID parses and validates a plan ID from its string form.
func ParsePlanID(s string) (PlanID, error) {
	u, err := parseUUID(s, "plan")
	return PlanID(u), err
}

func parseUUID(s string, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s id is required", kind))
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s id is not a valid UUID", kind))
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s id cannot be the nil UUID", kind))
	}
	return u, nil
}

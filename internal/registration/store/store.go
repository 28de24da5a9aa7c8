// Package store persists registration sessions. Implementations return
// sentinel errors for infrastructure facts; the flow service translates
// them into coded domain errors.
package store

import (
	"context"

	"examtrack/internal/registration/models"
	id "examtrack/pkg/domain"
)

// SessionStore is the persistence boundary for registration sessions.
//
// Update is a genuine write of the full session snapshot, keyed by the
// immutable session ID. Writers follow last-write-wins semantics: there is
// no conflict resolution for concurrent editors of one session.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error

	// SubdomainInUse and EmailInUse report whether a non-cancelled
	// session other than exclude already claims the value, so a session
	// never sees its own autosaved data as a collision. Pass the nil
	// SessionID to check against all sessions.
	SubdomainInUse(ctx context.Context, subdomain string, exclude id.SessionID) (bool, error)
	EmailInUse(ctx context.Context, address string, exclude id.SessionID) (bool, error)
}

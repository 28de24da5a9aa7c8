// Package store persists provisioned tenants. Two implementations share the
// Store interface: a map-backed one for dev and tests, and a Postgres one
// whose unique subdomain index is the final arbiter of subdomain ownership.
package store

import (
	"context"

	"examtrack/internal/tenant/models"
	id "examtrack/pkg/domain"
)

// Store is the persistence surface for tenants.
//
// CreateIfSubdomainAvailable returns sentinel.ErrAlreadyUsed when another
// tenant holds the subdomain (case-insensitive). FindByID and FindBySubdomain
// return sentinel.ErrNotFound for unknown tenants.
//
// Execute loads the tenant, runs check, and applies mutate under the store's
// lock (mutex or SELECT FOR UPDATE) so validate-then-mutate is atomic.
type Store interface {
	CreateIfSubdomainAvailable(ctx context.Context, tenant *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	FindBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error)
	Execute(ctx context.Context, tenantID id.TenantID,
		check func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error)
	Count(ctx context.Context) (int, error)

	// SubdomainTaken and EmailTaken feed availability checks; inactive
	// tenants still hold their claims.
	SubdomainTaken(ctx context.Context, subdomain string) (bool, error)
	EmailTaken(ctx context.Context, address string) (bool, error)
}

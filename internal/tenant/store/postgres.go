package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"examtrack/internal/tenant/models"
	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
	"examtrack/pkg/platform/tx"
)

// Postgres persists tenants with a unique case-insensitive subdomain index.
// Queries join any transaction riding the context, so provisioning can make
// the subdomain claim and its audit write atomic.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id            UUID PRIMARY KEY,
    name          TEXT NOT NULL,
    subdomain     TEXT NOT NULL,
    contact_name  TEXT NOT NULL DEFAULT '',
    contact_email TEXT NOT NULL DEFAULT '',
    plan_id       TEXT NOT NULL DEFAULT '',
    plan_name     TEXT NOT NULL DEFAULT '',
    session_id    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS tenants_subdomain_idx
    ON tenants ((lower(subdomain)));
CREATE INDEX IF NOT EXISTS tenants_contact_email_idx
    ON tenants ((lower(contact_email)));
`

// EnsureSchema creates the tenants table and supporting indexes.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure tenant schema: %w", err)
	}
	return nil
}

const tenantColumns = `id, name, subdomain, contact_name, contact_email,
    plan_id, plan_name, session_id, status, created_at, updated_at`

func (s *Postgres) CreateIfSubdomainAvailable(ctx context.Context, tenant *models.Tenant) error {
	planID := ""
	if !tenant.PlanID.IsNil() {
		planID = tenant.PlanID.String()
	}
	sessionID := ""
	if !tenant.SessionID.IsNil() {
		sessionID = tenant.SessionID.String()
	}
	_, err := tx.QuerierFrom(ctx, s.pool).Exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tenant.ID.String(), tenant.Name, tenant.Subdomain,
		tenant.ContactName, tenant.ContactEmail,
		planID, tenant.PlanName, sessionID,
		string(tenant.Status), tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "tenants_subdomain_idx" {
				return sentinel.ErrAlreadyUsed
			}
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.findBy(ctx, "id = $1", tenantID.String())
}

func (s *Postgres) FindBySubdomain(ctx context.Context, subdomain string) (*models.Tenant, error) {
	return s.findBy(ctx, "lower(subdomain) = $1", strings.ToLower(subdomain))
}

func (s *Postgres) findBy(ctx context.Context, where, arg string) (*models.Tenant, error) {
	row := tx.QuerierFrom(ctx, s.pool).QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE "+where, arg)
	tenant, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	return tenant, nil
}

// Execute runs check and mutate with the row locked, inside the ambient
// transaction when one is present or a dedicated one otherwise.
func (s *Postgres) Execute(ctx context.Context, tenantID id.TenantID,
	check func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error) {
	var updated *models.Tenant
	run := func(q tx.Querier) error {
		row := q.QueryRow(ctx,
			"SELECT "+tenantColumns+" FROM tenants WHERE id = $1 FOR UPDATE", tenantID.String())
		tenant, err := scanTenant(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock tenant: %w", err)
		}
		if err := check(tenant); err != nil {
			return err
		}
		mutate(tenant)
		if _, err := q.Exec(ctx, `
			UPDATE tenants
			SET name = $2, status = $3, updated_at = $4
			WHERE id = $1`,
			tenant.ID.String(), tenant.Name, string(tenant.Status), tenant.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update tenant: %w", err)
		}
		updated = tenant
		return nil
	}

	if ambient, ok := tx.From(ctx); ok {
		if err := run(ambient); err != nil {
			return nil, err
		}
		return updated, nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(t pgx.Tx) error { return run(t) })
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	err := tx.QuerierFrom(ctx, s.pool).QueryRow(ctx, "SELECT count(*) FROM tenants").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tenants: %w", err)
	}
	return count, nil
}

func (s *Postgres) SubdomainTaken(ctx context.Context, subdomain string) (bool, error) {
	return s.exists(ctx, "lower(subdomain) = $1", strings.ToLower(subdomain))
}

func (s *Postgres) EmailTaken(ctx context.Context, address string) (bool, error) {
	return s.exists(ctx, "lower(contact_email) = $1 AND contact_email <> ''", strings.ToLower(address))
}

func (s *Postgres) exists(ctx context.Context, where, arg string) (bool, error) {
	var found bool
	err := tx.QuerierFrom(ctx, s.pool).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM tenants WHERE "+where+")", arg).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("tenant lookup: %w", err)
	}
	return found, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		tenant    models.Tenant
		rawID     string
		planID    string
		sessionID string
		status    string
	)
	err := row.Scan(&rawID, &tenant.Name, &tenant.Subdomain,
		&tenant.ContactName, &tenant.ContactEmail,
		&planID, &tenant.PlanName, &sessionID,
		&status, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tenant.ID, err = id.ParseTenantID(rawID)
	if err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", rawID, err)
	}
	if planID != "" {
		if tenant.PlanID, err = id.ParsePlanID(planID); err != nil {
			return nil, fmt.Errorf("corrupt plan id %q: %w", planID, err)
		}
	}
	if sessionID != "" {
		if tenant.SessionID, err = id.ParseSessionID(sessionID); err != nil {
			return nil, fmt.Errorf("corrupt session id %q: %w", sessionID, err)
		}
	}
	tenant.Status = models.TenantStatus(status)
	return &tenant, nil
}

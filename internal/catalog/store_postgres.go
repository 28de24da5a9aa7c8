package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

// Postgres reads plans from the plans table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS plans (
    id            UUID PRIMARY KEY,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    price_cents   BIGINT NOT NULL,
    currency      TEXT NOT NULL,
    billing_cycle TEXT NOT NULL,
    max_students  INT NOT NULL DEFAULT 0,
    features      TEXT[] NOT NULL DEFAULT '{}',
    active        BOOLEAN NOT NULL DEFAULT TRUE
);
`

// EnsureSchema creates the plans table.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure catalog schema: %w", err)
	}
	return nil
}

// Seed inserts the given plans if the catalog is empty.
func (s *Postgres) Seed(ctx context.Context, plans []Plan) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM plans`).Scan(&count); err != nil {
		return fmt.Errorf("count plans: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, plan := range plans {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO plans (id, name, description, price_cents, currency, billing_cycle, max_students, features, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			plan.ID.String(), plan.Name, plan.Description, plan.PriceCents,
			plan.Currency, plan.BillingCycle, plan.MaxStudents, plan.Features, plan.Active,
		)
		if err != nil {
			return fmt.Errorf("seed plan %q: %w", plan.Name, err)
		}
	}
	return nil
}

func (s *Postgres) List(ctx context.Context) ([]Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, price_cents, currency, billing_cycle, max_students, features, active
		FROM plans
		WHERE active
		ORDER BY price_cents`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (s *Postgres) FindByID(ctx context.Context, planID id.PlanID) (Plan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, price_cents, currency, billing_cycle, max_students, features, active
		FROM plans
		WHERE id = $1`, planID.String())
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, sentinel.ErrNotFound
		}
		return Plan{}, err
	}
	return plan, nil
}

func scanPlan(row pgx.Row) (Plan, error) {
	var (
		plan  Plan
		rawID string
	)
	err := row.Scan(&rawID, &plan.Name, &plan.Description, &plan.PriceCents,
		&plan.Currency, &plan.BillingCycle, &plan.MaxStudents, &plan.Features, &plan.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, err
		}
		return Plan{}, fmt.Errorf("scan plan: %w", err)
	}
	plan.ID, err = id.ParsePlanID(rawID)
	if err != nil {
		return Plan{}, fmt.Errorf("corrupt plan id %q: %w", rawID, err)
	}
	return plan, nil
}

// Package tx carries a pgx transaction through context so stores can join a
// caller-scoped transaction without changing their signatures, and gives
// services a Runner to demarcate the transaction boundary.
package tx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ctxKey struct{}

var txKey = ctxKey{}

// Querier is the query surface shared by *pgxpool.Pool and pgx.Tx. Stores
// written against it work the same inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// With stores a transaction in context for downstream store usage.
func With(ctx context.Context, t pgx.Tx) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, t)
}

// From extracts the transaction from context if present.
func From(ctx context.Context) (pgx.Tx, bool) {
	t, ok := ctx.Value(txKey).(pgx.Tx)
	return t, ok
}

// QuerierFrom returns the ambient transaction, or the pool when none.
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if t, ok := From(ctx); ok {
		return t
	}
	return pool
}

// Runner runs a function inside a transaction boundary.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pgx is a Runner over a pgx pool. The open transaction rides the context,
// so stores using QuerierFrom participate automatically.
type Pgx struct {
	pool *pgxpool.Pool
}

func NewPgx(pool *pgxpool.Pool) *Pgx {
	return &Pgx{pool: pool}
}

func (r *Pgx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(t pgx.Tx) error {
		return fn(With(ctx, t))
	})
}

// Noop runs the callback directly. Memory stores are atomic per call, so
// they need no transaction boundary.
type Noop struct{}

func (Noop) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

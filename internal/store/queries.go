package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting every query
// method run unmodified whether it is called against the pool directly or
// against the single outer transaction a pipeline holds for its lifetime
// (§5, §11).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries groups every hand-written SQL operation named in spec.md §3-4.
// A fresh Queries is cheap to construct; callers wrap either the pool (for
// reads outside a pipeline) or a transaction (for the pipeline's writes).
type Queries struct {
	db DBTX
}

// New wraps db (a *pgxpool.Pool or a pgx.Tx) in a Queries.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Begin starts the single outer transaction a pipeline execution holds for
// its whole lifetime, committed only on success (§5, §8 I2).
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.Begin(ctx)
}

// Package postgres implements the "postgres" export backend on pgx v5. Rows
// are loaded with COPY FROM STDIN.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository is a Postgres-backed storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository opens a pool for dsn and pings it.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// CopyFrom COPYs rows into table ("schema.table" or "table").
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		row := make([]any, len(rows[i]))
		for j, v := range rows[i] {
			cv, err := toCopyVal(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i, columns[j], err)
			}
			row[j] = cv
		}
		return row, nil
	})
	n, err := r.pool.CopyFrom(ctx, splitFQN(table), columns, src)
	if err != nil {
		return n, fmt.Errorf("postgres copy %s: %w", table, err)
	}
	return n, nil
}

// Exec runs one statement.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("postgres exec: %w", err)
	}
	return nil
}

// Close closes the pool.
func (r *Repository) Close() { r.pool.Close() }

// toCopyVal converts decimals to pgtype.Numeric so they encode in binary
// COPY without a float round trip. Everything else passes through.
func toCopyVal(v any) (any, error) {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return v, nil
	}
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return nil, err
	}
	return n, nil
}

// pgIdent quotes one identifier segment.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// splitFQN converts "schema.table" into a pgx.Identifier.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

package sqlite

import (
	"context"

	"xer/internal/ddl"
	"xer/internal/storage"
	"xer/internal/value"
)

// newRepository is replaced in tests.
var newRepository = NewRepository

var _ storage.Repository = (*Repository)(nil)

var dialect = ddl.Dialect{
	Name:    "sqlite",
	Quote:   quoteIdent,
	MapType: MapType,
}

// MapType maps a semantic type to a SQLite type affinity. Timestamps are
// stored as text.
func MapType(t value.Type) string {
	switch t {
	case value.Integer, value.Boolean:
		return "INTEGER"
	case value.Decimal:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, err := newRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	storage.RegisterDialect("sqlite", dialect)
}

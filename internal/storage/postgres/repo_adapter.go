package postgres

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
	Name:    "postgres",
	Quote:   pgIdent,
	MapType: MapType,
}

// MapType maps a semantic type to a Postgres column type.
func MapType(t value.Type) string {
	switch t {
	case value.Integer:
		return "BIGINT"
	case value.Decimal:
		return "NUMERIC"
	case value.Timestamp:
		return "TIMESTAMP"
	case value.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, err := newRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	storage.RegisterDialect("postgres", dialect)
}

package mysql

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
	Name:    "mysql",
	Quote:   quoteIdent,
	MapType: MapType,
}

// MapType maps a semantic type to a MySQL column type.
func MapType(t value.Type) string {
	switch t {
	case value.Integer:
		return "BIGINT"
	case value.Decimal:
		return "DECIMAL(38, 8)"
	case value.Timestamp:
		return "DATETIME"
	case value.Boolean:
		return "BOOLEAN"
	default:
		return "LONGTEXT"
	}
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, err := newRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	storage.RegisterDialect("mysql", dialect)
}

package mssql

import (
	"context"
	"fmt"

	"xer/internal/ddl"
	"xer/internal/storage"
	"xer/internal/value"
)

// newRepository is replaced in tests.
var newRepository = NewRepository

var _ storage.Repository = (*Repository)(nil)

// T-SQL has no CREATE TABLE IF NOT EXISTS.
var dialect = ddl.Dialect{
	Name:    "mssql",
	Quote:   msIdent,
	MapType: MapType,
	Guard: func(fqn, create string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n%s\nEND;", fqn, create)
	},
}

// MapType maps a semantic type to a SQL Server column type.
func MapType(t value.Type) string {
	switch t {
	case value.Integer:
		return "BIGINT"
	case value.Decimal:
		return "DECIMAL(38, 8)"
	case value.Timestamp:
		return "DATETIME2"
	case value.Boolean:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, err := newRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	storage.RegisterDialect("mssql", dialect)
}

// Package storage holds the backend-agnostic export contract: a Repository
// that bulk-loads rows, a registry of backends by kind, and Export, which
// copies a loaded model into a database.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"xer/internal/config"
	"xer/internal/ddl"
)

// Repository is one open database connection.
type Repository interface {
	// CopyFrom bulk-inserts rows aligned to columns into table and returns
	// the number of rows the backend reports as inserted.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	// Exec runs one statement, typically DDL.
	Exec(ctx context.Context, sql string) error
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind    string
	DSN     string
	Options config.Options
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
	dialects  = map[string]ddl.Dialect{}
)

// Register makes a backend available under kind, replacing any previous
// registration. Backends call it from init.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// RegisterDialect records how kind renders CREATE TABLE.
func RegisterDialect(kind string, d ddl.Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[kind] = d
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind string) (ddl.Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[kind]
	return d, ok
}

// New opens a Repository with the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

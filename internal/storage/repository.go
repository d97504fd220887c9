// Package storage is the optional relational sink for lake metadata: catalog
// partitions and column profiles. Backends live in subpackages and register
// themselves by kind; import internal/storage/all to link every backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned by Open for a kind nobody registered.
var ErrUnknownKind = errors.New("storage: unknown kind")

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic keyed upsert sink. Each backend implements
// the upsert in its own idiomatic way (SQLite OR REPLACE, Postgres ON
// CONFLICT DO UPDATE, SQL Server MERGE).
type Repository interface {
	// Close releases backend resources. Treat it as "call once".
	Close()

	// EnsureTables creates missing tables. Existing tables are left alone.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Upsert writes rows (ordered as table.Columns) keyed by table.Key. A row
	// whose key already exists replaces the stored values. It returns the
	// number of rows written after key de-duplication.
	Upsert(ctx context.Context, table TableSpec, rows [][]any) (int64, error)
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind (e.g. "postgres", "sqlite").
// Call it from an init function in the backend package.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs a Repository using the registered backend factory.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownKind, cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

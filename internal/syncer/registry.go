package syncer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTable indicates two stores registered under one table name.
	ErrDuplicateTable = errors.New("syncer: duplicate table registration")
	// ErrNoTables indicates a registry constructed without any stores.
	ErrNoTables = errors.New("syncer: at least one table store required")
)

// TableStore is the capability a synced local table exposes to the engine. Each
// record kind registers one implementation, keeping table dispatch statically
// checkable instead of switching on names at runtime.
type TableStore interface {
	// Table returns the wire name of the table.
	Table() string
	// PendingChanges returns one envelope per record whose status is not
	// synced, carrying the full current snapshot of the record.
	PendingChanges(ctx context.Context) ([]Envelope, error)
	// ApplyRemote merges one server-side envelope into the local table under
	// the last-write-wins policy.
	ApplyRemote(ctx context.Context, envelope Envelope) error
	// AcknowledgePush finalizes a pushed envelope after a successful round:
	// pending rows become synced and deleted rows are physically removed.
	AcknowledgePush(ctx context.Context, envelope Envelope) error
}

// Registry maps table names to their stores in registration order.
type Registry struct {
	order  []string
	tables map[string]TableStore
}

// NewRegistry builds a registry from the provided stores.
func NewRegistry(stores ...TableStore) (*Registry, error) {
	if len(stores) == 0 {
		return nil, ErrNoTables
	}
	registry := &Registry{tables: make(map[string]TableStore, len(stores))}
	for _, store := range stores {
		name := store.Table()
		if _, exists := registry.tables[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTable, name)
		}
		registry.tables[name] = store
		registry.order = append(registry.order, name)
	}
	return registry, nil
}

// Lookup returns the store registered for the table name.
func (r *Registry) Lookup(table string) (TableStore, bool) {
	store, ok := r.tables[table]
	return store, ok
}

// All returns the registered stores in registration order.
func (r *Registry) All() []TableStore {
	stores := make([]TableStore, 0, len(r.order))
	for _, name := range r.order {
		stores = append(stores, r.tables[name])
	}
	return stores
}

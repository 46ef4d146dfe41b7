// Package catalog is the durable store of script definitions. It is the
// only component that persists restorable state; runtime state (run state,
// attempt counters, log history) never touches it.
package catalog

import (
	"context"
	"errors"

	"github.com/loykin/scriptr/internal/script"
)

// ErrNotFound is returned when an id has no definition.
var ErrNotFound = errors.New("script not found")

// ErrIO marks a durable-store failure. The in-memory catalog, if any,
// remains authoritative when it is returned.
var ErrIO = errors.New("catalog store error")

// Store is the catalog contract. Every mutation is durably persisted
// before it returns; a crash between persistence and the in-memory apply
// must not be observable.
type Store interface {
	// Load reads all definitions at startup. Unreadable individual
	// records are skipped so partial corruption does not take the whole
	// supervisor down.
	Load(ctx context.Context) ([]script.Definition, error)
	// Add validates and persists a definition.
	Add(ctx context.Context, def script.Definition) error
	// Remove deletes a definition; ErrNotFound if absent.
	Remove(ctx context.Context, id string) error
	// List returns the current definitions.
	List(ctx context.Context) ([]script.Definition, error)
	Close() error
}

// Package factory selects a catalog backend from a DSN.
package factory

import (
	"errors"
	"strings"

	"github.com/loykin/scriptr/internal/catalog"
	"github.com/loykin/scriptr/internal/catalog/sqlite"
)

// New creates a catalog store based on DSN format.
// Supported formats:
//   - "sqlite:///path/to/file.db" or "sqlite://:memory:"
//   - "file:///path/to/catalog.json"
//   - "/path/to/catalog.json" (json extension selects the file backend)
//   - "/path/to/file.db" (anything else defaults to SQLite)
func New(dsn string) (catalog.Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty catalog DSN")
	}
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "sqlite://"):
		return sqlite.New(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(lower, "file://"):
		return catalog.NewFileStore(strings.TrimPrefix(dsn, "file://"))
	case strings.HasSuffix(lower, ".json"):
		return catalog.NewFileStore(dsn)
	default:
		return sqlite.New(dsn)
	}
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"

	stateFile = "sync-state.json"
	stateDB   = "sync-state.db"
)

// Store persists the mapping from shift key to remote event id.
// Writers are expected to be serialized by the caller.
type Store interface {
	Get(ctx context.Context, key string) (eventID string, ok bool, err error)
	Set(ctx context.Context, key, eventID string) error
	Remove(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

// Open returns the store for backend rooted at dataDir.
func Open(backend, dataDir string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewFileStore(filepath.Join(dataDir, stateFile)), nil
	case BackendSQLite:
		return OpenSQLStore(filepath.Join(dataDir, stateDB))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

package storage

import "fmt"

// NewStore builds a sample store. The sqlite backend needs the sqlite build
// tag; without it newSQLiteStore returns an error.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (valid: memory, sqlite)", kind)
	}
}

// CloseIfSupported closes backends that hold resources; the memory store has
// none and is left alone.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

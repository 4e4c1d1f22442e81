// Package store persists a client session's short-term memory under
// tab-scoped keys.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrSessionRequired is returned when a call omits the session ID.
var ErrSessionRequired = errors.New("session id is required")

// Store is a string key/value store partitioned by session ID. Values
// written under one session are never visible to another.
type Store interface {
	// Load returns the value under key, and false when it was never saved.
	Load(ctx context.Context, sessionID, key string) (string, bool, error)
	// Save overwrites the value under key.
	Save(ctx context.Context, sessionID, key, value string) error
	Close() error
}

// Open selects a store from dsn: "" or "memory" keep values in memory,
// anything else is a SQLite database path.
func Open(dsn string) (Store, error) {
	switch strings.TrimSpace(dsn) {
	case "", "memory":
		return NewMemoryStore(), nil
	default:
		return NewSQLiteStore(dsn)
	}
}

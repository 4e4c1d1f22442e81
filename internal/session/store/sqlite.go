package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore keeps values in a SQLite database so a session survives
// process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and creates the kv table when missing.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	// One writer at a time; sqlite3 serializes anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  session_id TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  updated_at_ms INTEGER NOT NULL,
  PRIMARY KEY (session_id, key)
);
`)
	return errors.Wrap(err, "sqlite store: migrate")
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID, key string) (string, bool, error) {
	if sessionID == "" {
		return "", false, ErrSessionRequired
	}

	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE session_id = ? AND key = ?`, sessionID, key)
	var value string
	switch err := row.Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, errors.Wrapf(err, "sqlite store: load %q", key)
	}
}

func (s *SQLiteStore) Save(ctx context.Context, sessionID, key, value string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (session_id, key, value, updated_at_ms) VALUES (?, ?, ?, ?)
ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms
`, sessionID, key, value, time.Now().UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "sqlite store: save %q", key)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return errors.Wrap(s.db.Close(), "sqlite store: close")
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	markdown   TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);`

// SQLiteStore persists cache entries in a local SQLite database so cached
// markdown survives restarts. Expiry is enforced lazily on read.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Get returns the cached markdown if present and unexpired. Expired rows are
// deleted on the way out.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		markdown  string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT markdown, expires_at FROM entries WHERE key = ?", key,
	).Scan(&markdown, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	if expiresAt > 0 && s.now().Unix() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
			return "", false, fmt.Errorf("cache evict: %w", err)
		}
		return "", false, nil
	}
	return markdown, true, nil
}

// Put upserts markdown under key. ttl <= 0 stores without expiration.
func (s *SQLiteStore) Put(ctx context.Context, key, markdown string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, markdown, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET markdown = excluded.markdown, expires_at = excluded.expires_at`,
		key, markdown, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close cache db: %w", err)
	}
	return nil
}

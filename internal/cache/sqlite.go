package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// SQLite is a persistent implementation of Cache and Registry backed by an
// embedded sqlite database. It serves single-node deployments that want cache
// entries to survive process restarts without running a separate cache
// service. Expiry is lazy on read plus a periodic sweep.
type SQLite struct {
	db *sql.DB

	stopOnce sync.Once
	done     chan struct{}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_scopes (
	scope TEXT NOT NULL,
	key   TEXT NOT NULL,
	PRIMARY KEY (scope, key)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries (expires_at);
`

// OpenSQLite opens (creating if needed) a sqlite-backed cache at path.
// Use ":memory:" for an ephemeral database. Call Close when done.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY churn under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: create sqlite schema: %w", err)
	}

	s := &SQLite{db: db, done: make(chan struct{})}
	go s.sweepLoop()
	return s, nil
}

// Get returns the live value for key, or ok=false on miss or expiry.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: sqlite get: %w", err)
	}
	if time.Now().UnixMilli() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key with the given TTL, replacing any entry.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, time.Now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite set: %w", err)
	}
	return nil
}

// Add stores value only if no live entry exists for key.
func (s *SQLite) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	// An expired row counts as absent: take it over in place.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		 WHERE cache_entries.expires_at <= ?`,
		key, value, time.Now().Add(ttl).UnixMilli(), now,
	)
	if err != nil {
		return false, fmt.Errorf("cache: sqlite add: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache: sqlite add rows: %w", err)
	}
	return n > 0, nil
}

// Delete removes the given keys.
func (s *SQLite) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, k); err != nil {
			return fmt.Errorf("cache: sqlite delete: %w", err)
		}
	}
	return nil
}

// Register records key under scope.
func (s *SQLite) Register(ctx context.Context, scope, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_scopes (scope, key) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		scope, key,
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite register: %w", err)
	}
	return nil
}

// Keys returns every key registered under scope.
func (s *SQLite) Keys(ctx context.Context, scope string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_scopes WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("cache: sqlite scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Clear forgets all keys registered under scope.
func (s *SQLite) Clear(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_scopes WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("cache: sqlite clear: %w", err)
	}
	return nil
}

// Close stops the sweep goroutine and closes the database.
func (s *SQLite) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.db.Close()
}

func (s *SQLite) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.db.Exec(`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixMilli())
		}
	}
}

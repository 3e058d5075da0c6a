// Package sqlite persists conversion cache entries so they survive restarts.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a persistent cache tier backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS conversion_cache (
	fingerprint TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversion_cache_expires ON conversion_cache(expires_at);
`

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now when purging expired rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (or creates) the store at dbPath.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// SQLite allows one writer; concurrent batch items share this connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load returns the stored payload and its expiry. ok is false when the
// fingerprint is unknown.
func (s *Store) Load(fingerprint string) ([]byte, time.Time, bool, error) {
	var payload []byte
	var expiresAt int64

	err := s.db.QueryRow(
		`SELECT payload, expires_at FROM conversion_cache WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache load: %w", err)
	}
	return payload, time.Unix(0, expiresAt), true, nil
}

// Save stores payload, replacing any previous entry.
func (s *Store) Save(fingerprint string, payload []byte, createdAt, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO conversion_cache (fingerprint, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		fingerprint, payload, createdAt.UnixNano(), expiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	return nil
}

// Delete removes a single entry.
func (s *Store) Delete(fingerprint string) error {
	if _, err := s.db.Exec(`DELETE FROM conversion_cache WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Purge removes entries. If expiredOnly is true, only expired entries are removed.
func (s *Store) Purge(expiredOnly bool) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if expiredOnly {
		res, err = s.db.Exec(`DELETE FROM conversion_cache WHERE expires_at <= ?`, s.now().UnixNano())
	} else {
		res, err = s.db.Exec(`DELETE FROM conversion_cache`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored rows, expired or not.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversion_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// CountExpired returns the number of rows past their expiry.
func (s *Store) CountExpired() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversion_cache WHERE expires_at <= ?`, s.now().UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cache count expired: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

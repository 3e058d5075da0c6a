// Package history persists conversion outcomes to SQLite for later review.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/polyglot/pkg/models"
)

// Recorder stores conversion outcomes.
type Recorder interface {
	// Record stores one outcome. ID is assigned by the store.
	Record(ctx context.Context, rec models.ConversionRecord) error
}

// Store implements Recorder with a SQLite database.
type Store struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS conversions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_language TEXT NOT NULL,
	target_language TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	succeeded INTEGER NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	confidence INTEGER NOT NULL DEFAULT 0,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	source_bytes INTEGER NOT NULL DEFAULT 0,
	output_bytes INTEGER NOT NULL DEFAULT 0,
	duration_ns INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversions_time ON conversions(created_at);
CREATE INDEX IF NOT EXISTS idx_conversions_pair ON conversions(source_language, target_language);
`

// New opens the database at dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite allows one writer; concurrent batch items share this connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history db: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores a conversion outcome.
func (s *Store) Record(ctx context.Context, rec models.ConversionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions (source_language, target_language, provider, succeeded, error_kind,
			confidence, cache_hit, attempts, source_bytes, output_bytes, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceLanguage, rec.TargetLanguage, rec.Provider, rec.Succeeded, rec.ErrorKind,
		rec.Confidence, rec.CacheHit, rec.Attempts, rec.SourceBytes, rec.OutputBytes,
		int64(rec.Duration), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record conversion: %w", err)
	}
	return nil
}

// Recent returns the newest records first. A non-positive limit returns all.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.ConversionRecord, error) {
	query := `SELECT id, source_language, target_language, provider, succeeded, error_kind,
			confidence, cache_hit, attempts, source_bytes, output_bytes, duration_ns, created_at
		 FROM conversions ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []models.ConversionRecord
	for rows.Next() {
		var (
			r       models.ConversionRecord
			dur     int64
			created int64
		)
		if err := rows.Scan(&r.ID, &r.SourceLanguage, &r.TargetLanguage, &r.Provider, &r.Succeeded, &r.ErrorKind,
			&r.Confidence, &r.CacheHit, &r.Attempts, &r.SourceBytes, &r.OutputBytes, &dur, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.Duration = time.Duration(dur)
		r.CreatedAt = time.Unix(0, created)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates records created at or after since, grouped by language
// pair and provider. A zero since covers everything.
func (s *Store) Summary(ctx context.Context, since time.Time) ([]models.HistorySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_language, target_language, provider,
			COUNT(*), SUM(succeeded), SUM(cache_hit),
			COALESCE(AVG(CASE WHEN succeeded = 1 THEN confidence END), 0),
			CAST(AVG(duration_ns) AS INTEGER)
		 FROM conversions WHERE created_at >= ?
		 GROUP BY source_language, target_language, provider
		 ORDER BY COUNT(*) DESC, source_language, target_language, provider`,
		unixNano(since),
	)
	if err != nil {
		return nil, fmt.Errorf("history summary: %w", err)
	}
	defer rows.Close()

	var out []models.HistorySummary
	for rows.Next() {
		var (
			h   models.HistorySummary
			dur int64
		)
		if err := rows.Scan(&h.SourceLanguage, &h.TargetLanguage, &h.Provider,
			&h.Conversions, &h.Succeeded, &h.CacheHits, &h.AvgConfidence, &dur); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		h.AvgDuration = time.Duration(dur)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Totals returns the number of recorded and successful conversions.
func (s *Store) Totals(ctx context.Context) (total, succeeded int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(succeeded), 0) FROM conversions`,
	).Scan(&total, &succeeded)
	if err != nil {
		return 0, 0, fmt.Errorf("history totals: %w", err)
	}
	return total, succeeded, nil
}

// Prune deletes records older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

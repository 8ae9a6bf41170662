// Package memory is the tiered store behind the agent: an ephemeral
// short-term map, a 7-day working-memory tier in SQLite, and a permanent
// performance table whose aggregates stand in for long-term memory.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "rf-v1-2026-06-02-tiered-memory"

	// Entries below this importance stay short-term only.
	workingMemoryThreshold = 0.6
	workingMemoryTTL       = 7 * 24 * time.Hour
)

// ShortTermEntry lives only for the process lifetime.
type ShortTermEntry struct {
	Content    string
	Topic      string
	Importance float64
	CreatedAt  time.Time
}

// PerformanceRecord is one published-content outcome. Engagement is
// computed at write time; comments and shares weigh four times likes.
type PerformanceRecord struct {
	ContentType string
	Topic       string
	Title       string
	Likes       int
	Comments    int
	Favorites   int
	Shares      int
	Engagement  int
	PublishedAt time.Time
}

// StyleStat aggregates average engagement per content type.
type StyleStat struct {
	ContentType   string
	AvgEngagement float64
	Samples       int
}

type Store struct {
	db *sql.DB

	mu        sync.Mutex
	shortTerm map[string]ShortTermEntry

	now func() time.Time
}

// Open creates the database file and schema if needed. The database is
// owned exclusively by this process; WAL keeps read-only inspection
// from outside safe while the agent runs.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:        db,
		shortTerm: make(map[string]ShortTermEntry),
		now:       time.Now,
	}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if maxVersion == schemaVersion {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existing); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if existing != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existing, schemaChecksum)
		}
		return tx.Commit()
	}

	statements := []string{
		// Unix-epoch timestamps keep expiry comparisons exact under an
		// injected clock.
		`CREATE TABLE IF NOT EXISTS working_memory (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			topic TEXT NOT NULL,
			importance REAL NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS performance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_type TEXT NOT NULL,
			topic TEXT NOT NULL,
			title TEXT NOT NULL,
			likes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			favorites INTEGER NOT NULL DEFAULT 0,
			shares INTEGER NOT NULL DEFAULT 0,
			engagement_score INTEGER NOT NULL DEFAULT 0,
			published_at INTEGER NOT NULL,
			collected_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_working_memory_created ON working_memory(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_working_memory_expires ON working_memory(expires_at);`,
		`CREATE INDEX IF NOT EXISTS idx_performance_type ON performance(content_type);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum) VALUES (?, ?);
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("insert schema migration ledger: %w", err)
	}
	return tx.Commit()
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, with
// exponential backoff and bounded jitter on top of the driver's
// busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

// Remember stores content in short-term memory unconditionally and
// promotes it to the working tier when importance crosses the
// threshold. The working row carries a 7-day expiry stamped now.
func (s *Store) Remember(ctx context.Context, content, topic string, importance float64) error {
	now := s.now()

	s.mu.Lock()
	s.shortTerm[now.Format(time.RFC3339Nano)] = ShortTermEntry{
		Content:    content,
		Topic:      topic,
		Importance: importance,
		CreatedAt:  now,
	}
	s.mu.Unlock()

	if importance <= workingMemoryThreshold {
		return nil
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO working_memory (content, topic, importance, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?);
		`, content, topic, importance, now.Unix(), now.Add(workingMemoryTTL).Unix())
		if err != nil {
			return fmt.Errorf("insert working memory: %w", err)
		}
		return nil
	})
}

// RecallRecentTopics returns distinct topics acted on within the day
// window, skipping expired rows.
func (s *Store) RecallRecentTopics(ctx context.Context, days int) ([]string, error) {
	if days <= 0 {
		days = 7
	}
	now := s.now()
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT topic FROM working_memory
		WHERE created_at >= ? AND expires_at > ? AND topic != ''
		ORDER BY topic;
	`, cutoff.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("query recent topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("topic rows: %w", err)
	}
	return topics, nil
}

// RecordPerformance appends a permanent row. Engagement is recomputed
// here regardless of what the caller filled in.
func (s *Store) RecordPerformance(ctx context.Context, rec PerformanceRecord) error {
	rec.Engagement = EngagementScore(rec.Likes, rec.Comments, rec.Favorites, rec.Shares)
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = s.now()
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO performance (content_type, topic, title, likes, comments, favorites, shares, engagement_score, published_at, collected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, rec.ContentType, rec.Topic, rec.Title, rec.Likes, rec.Comments, rec.Favorites, rec.Shares,
			rec.Engagement, rec.PublishedAt.Unix(), s.now().Unix())
		if err != nil {
			return fmt.Errorf("insert performance: %w", err)
		}
		return nil
	})
}

// EngagementScore weighs comments and shares four times as heavily as
// likes and favorites.
func EngagementScore(likes, comments, favorites, shares int) int {
	return likes + favorites + comments*4 + shares*4
}

// TopPerformingStyles ranks content types by average engagement.
func (s *Store) TopPerformingStyles(ctx context.Context, limit int) ([]StyleStat, error) {
	if limit <= 0 || limit > 100 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_type, AVG(engagement_score), COUNT(1)
		FROM performance
		GROUP BY content_type
		ORDER BY AVG(engagement_score) DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top styles: %w", err)
	}
	defer rows.Close()

	var out []StyleStat
	for rows.Next() {
		var stat StyleStat
		if err := rows.Scan(&stat.ContentType, &stat.AvgEngagement, &stat.Samples); err != nil {
			return nil, fmt.Errorf("scan style stat: %w", err)
		}
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("style rows: %w", err)
	}
	return out, nil
}

// CompactWorkingMemory deletes expired working-memory rows. Safe to run
// repeatedly; a second pass with no new expiries deletes nothing.
func (s *Store) CompactWorkingMemory(ctx context.Context) (int64, error) {
	var deleted int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM working_memory WHERE expires_at <= ?;`, s.now().Unix())
		if err != nil {
			return fmt.Errorf("compact working memory: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// WorkingMemoryCount reports the live row count of the 7-day tier.
func (s *Store) WorkingMemoryCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM working_memory;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("working memory count: %w", err)
	}
	return count, nil
}

// ShortTermLen reports how many entries the process has remembered.
func (s *Store) ShortTermLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shortTerm)
}

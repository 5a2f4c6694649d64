// Package storage implements the durable state store for the pattern
// detector: parsed auth events, alerts with serialized evidence, and one
// upserted row per sliding counter key.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrCounterPersist wraps counter write failures. Losing a counter write
// breaks detection continuity, so callers must treat this as fatal for the
// line being processed.
var ErrCounterPersist = errors.New("counter state persistence failed")

// Store is the SQLite-backed detection state store. SQLite runs in WAL
// mode with a single-writer connection pool.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// New opens (creating if needed) the detections database at path and
// ensures the schema exists. Use ":memory:" for tests.
func New(path string, logger *zap.SugaredLogger) (*Store, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// WAL allows concurrent readers with the single writer; counter
	// upserts serialize on the one write connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.ensureTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ensureTables creates the three detection relations if they don't exist.
func (s *Store) ensureTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS auth_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		event_kind TEXT NOT NULL,
		src_ip TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		auth_method TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		observed_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_events_observed_at ON auth_events(observed_at);
	CREATE INDEX IF NOT EXISTS idx_auth_events_src_ip ON auth_events(src_ip);
	CREATE INDEX IF NOT EXISTS idx_auth_events_kind ON auth_events(event_kind);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		src_ip TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		count INTEGER NOT NULL DEFAULT 0,
		window_seconds INTEGER NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		evidence_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_rule_id ON alerts(rule_id);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		window_seconds INTEGER NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		users_json TEXT NOT NULL DEFAULT '[]',
		last_alert_at TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure detection tables: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ABOUTME: SQLite implementation of the Journal interface using modernc.org/sqlite
// ABOUTME: Provides event and pending-stop persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Journal interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. MemoryPath keeps everything in process.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == MemoryPath || strings.Contains(path, "mode=memory")
	if !inMemory {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite journal initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_events (
			event_id    TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			wallet      TEXT NOT NULL,
			session_id  TEXT,
			tier        TEXT,
			ts          TEXT NOT NULL,
			detail_json TEXT,

			CHECK (kind IN ('spawn', 'spawn_failed', 'stop', 'stop_failed', 'reconciled'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_ts ON session_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_wallet ON session_events(wallet, ts);
		CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id);

		CREATE TABLE IF NOT EXISTS pending_stops (
			session_id TEXT PRIMARY KEY,
			wallet     TEXT NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 1,
			last_error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite journal")
	return s.db.Close()
}

var _ Journal = (*SQLiteStore)(nil)

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS hwaccel_histogram (
	accel TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`

var counterNames = []string{"completed_total", "failed_total", "cancelled_total"}

// SQLiteStore persists the lifetime aggregate counters over a WAL-mode
// connection with a busy_timeout and a schema_version bookkeeping row. It
// has exactly one schema version because it holds only a handful of
// counters, not a per-job history table.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (creating if needed) a counters database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
		for _, name := range counterNames {
			if _, err := db.Exec("INSERT OR IGNORE INTO counters (name, value) VALUES (?, 0)", name); err != nil {
				db.Close()
				return nil, fmt.Errorf("init counter %s: %w", name, err)
			}
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func (s *SQLiteStore) increment(counter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
	`, counter)
	return err
}

// RecordCompletion increments completed_total and the hwAccel histogram
// bucket.
func (s *SQLiteStore) RecordCompletion(hwAccel string) error {
	if err := s.increment("completed_total"); err != nil {
		return err
	}
	if hwAccel == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO hwaccel_histogram (accel, count) VALUES (?, 1)
		ON CONFLICT(accel) DO UPDATE SET count = count + 1
	`, hwAccel)
	return err
}

// RecordFailure increments failed_total.
func (s *SQLiteStore) RecordFailure() error {
	return s.increment("failed_total")
}

// RecordCancellation increments cancelled_total.
func (s *SQLiteStore) RecordCancellation() error {
	return s.increment("cancelled_total")
}

// Stats returns the current counter snapshot.
func (s *SQLiteStore) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{HWAccelHistogram: make(map[string]int64)}

	rows, err := s.db.Query("SELECT name, value FROM counters")
	if err != nil {
		return out, fmt.Errorf("query counters: %w", err)
	}
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return out, err
		}
		switch name {
		case "completed_total":
			out.CompletedTotal = value
		case "failed_total":
			out.FailedTotal = value
		case "cancelled_total":
			out.CancelledTotal = value
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	histRows, err := s.db.Query("SELECT accel, count FROM hwaccel_histogram")
	if err != nil {
		return out, fmt.Errorf("query hwaccel histogram: %w", err)
	}
	defer histRows.Close()
	for histRows.Next() {
		var accel string
		var count int64
		if err := histRows.Scan(&accel, &count); err != nil {
			return out, err
		}
		out.HWAccelHistogram[accel] = count
	}
	return out, histRows.Err()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Package store persists the monitoring registry and alert state using SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite driver
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database holding platforms, domains, alerts,
// defacement records, scan settings, and the schedule registry.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs
// migrations. Use ":memory:" for an in-memory database (useful for tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS focal_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			full_name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			phone TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS entity_focal_points (
			entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			focal_point_id INTEGER NOT NULL REFERENCES focal_points(id) ON DELETE CASCADE,
			PRIMARY KEY (entity_id, focal_point_id)
		)`,
		`CREATE TABLE IF NOT EXISTS domains (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			last_scan_at TIMESTAMP,
			last_ssl_scan_at TIMESTAMP,
			ssl_issue INTEGER NOT NULL DEFAULT 0,
			domain_issue INTEGER NOT NULL DEFAULT 0,
			resolved_ip TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS platforms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			domain_id INTEGER NOT NULL REFERENCES domains(id),
			is_active INTEGER NOT NULL DEFAULT 1,
			screenshot_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id INTEGER NOT NULL REFERENCES entities(id),
			platform_id INTEGER NOT NULL REFERENCES platforms(id),
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'new',
			details TEXT NOT NULL DEFAULT '',
			template TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts (platform_id, kind, status)`,
		`CREATE TABLE IF NOT EXISTS defacements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			platform_id INTEGER NOT NULL UNIQUE REFERENCES platforms(id) ON DELETE CASCADE,
			baseline_capture BLOB,
			last_capture BLOB,
			baseline_tree_text TEXT NOT NULL DEFAULT '',
			last_tree_text TEXT NOT NULL DEFAULT '',
			is_defaced INTEGER NOT NULL DEFAULT 0,
			details TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scan_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			ssl_enabled INTEGER NOT NULL DEFAULT 1,
			domain_enabled INTEGER NOT NULL DEFAULT 1,
			defacement_enabled INTEGER NOT NULL DEFAULT 1,
			http_enabled INTEGER NOT NULL DEFAULT 1,
			ssl_check_error INTEGER NOT NULL DEFAULT 1,
			ssl_check_expiry INTEGER NOT NULL DEFAULT 1,
			domain_check_whois INTEGER NOT NULL DEFAULT 1,
			domain_check_dns INTEGER NOT NULL DEFAULT 1,
			domain_check_expiry INTEGER NOT NULL DEFAULT 1,
			size_tolerance INTEGER NOT NULL DEFAULT 1024,
			http_max_response_ms INTEGER NOT NULL DEFAULT 30000,
			vt_enabled INTEGER NOT NULL DEFAULT 0,
			vt_api_key TEXT NOT NULL DEFAULT '',
			vt_frequency_s INTEGER NOT NULL DEFAULT 86400
		)`,
		`CREATE TABLE IF NOT EXISTS configuration (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			notification_email TEXT NOT NULL DEFAULT '',
			notify_enabled INTEGER NOT NULL DEFAULT 1,
			use_proxy INTEGER NOT NULL DEFAULT 0,
			fallback_direct INTEGER NOT NULL DEFAULT 1,
			user_agent TEXT NOT NULL DEFAULT 'Mozilla/5.0 (X11; Linux x86_64) oju-monitor',
			scan_frequency_s INTEGER NOT NULL DEFAULT 3600,
			max_workers INTEGER NOT NULL DEFAULT 10
		)`,
		`CREATE TABLE IF NOT EXISTS proxies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS dns_servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS whitelist_hosts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS email_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			recipients TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS av_vendors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			contact TEXT NOT NULL DEFAULT '',
			comments TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS schedule (
			name TEXT PRIMARY KEY,
			interval_s INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS leases (
			name TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		// Single-row settings tables always exist so reads never miss.
		`INSERT OR IGNORE INTO scan_config (id) VALUES (1)`,
		`INSERT OR IGNORE INTO configuration (id) VALUES (1)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// nullableTime converts a zero time to NULL for storage.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanTime converts a scanned NULL back to the zero time.
func scanTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

// Package database wraps the embedded single-writer sqlite store used by
// every repository in internal/persistence.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go sqlite driver, no cgo
)

// DB wraps the database connection.
type DB struct {
	conn *sql.DB
	path string
}

// New opens the embedded store in WAL journaling mode with foreign keys on.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite is single-writer; keep the pool small so the driver serializes
	// writes rather than piling up lock-wait goroutines.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the filesystem path backing this store, for the backup job.
func (db *DB) Path() string {
	return db.path
}

// Migrate creates the schema if it does not already exist. The store has
// no external prior schema to defer to, so migration here is simply an
// idempotent CREATE TABLE IF NOT EXISTS pass.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Begin starts a new transaction.
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Exec executes a query without returning rows.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

const schema = `
CREATE TABLE IF NOT EXISTS strategies (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL UNIQUE,
	kind              TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'ACTIVE',
	schedule_interval INTEGER NOT NULL,
	parameters        TEXT NOT NULL DEFAULT '{}',
	last_run_at       DATETIME,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS positions (
	symbol          TEXT PRIMARY KEY,
	amount          REAL NOT NULL,
	average_cost    REAL NOT NULL,
	opened_at       DATETIME NOT NULL,
	last_updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id     INTEGER NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	price           REAL NOT NULL,
	amount          REAL NOT NULL,
	value           REAL NOT NULL,
	fee             REAL NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	client_order_id TEXT NOT NULL DEFAULT '',
	executed_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);

CREATE TABLE IF NOT EXISTS signals (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id     INTEGER NOT NULL,
	symbol          TEXT NOT NULL,
	action          TEXT NOT NULL,
	conviction      REAL NOT NULL,
	price_at_signal REAL NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	raw_analysis    TEXT NOT NULL DEFAULT '{}',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy_id);

CREATE TABLE IF NOT EXISTS run_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_run_logs_strategy_started ON run_logs(strategy_id, started_at);

CREATE TABLE IF NOT EXISTS trace_steps (
	run_log_id    INTEGER NOT NULL,
	step_index    INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	label         TEXT NOT NULL,
	input_digest  TEXT NOT NULL DEFAULT '',
	output_digest TEXT NOT NULL DEFAULT '',
	details       TEXT NOT NULL DEFAULT '{}',
	duration_ns   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_log_id, step_index)
);

CREATE TABLE IF NOT EXISTS watched_instruments (
	symbol       TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	added_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS price_bars (
	symbol    TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	open      REAL NOT NULL,
	high      REAL NOT NULL,
	low       REAL NOT NULL,
	close     REAL NOT NULL,
	volume    REAL NOT NULL,
	PRIMARY KEY (symbol, timeframe, open_time)
);

CREATE TABLE IF NOT EXISTS account (
	id                     INTEGER PRIMARY KEY CHECK (id = 1),
	cash                   REAL NOT NULL,
	equity_high_water_mark REAL NOT NULL,
	circuit_breaker_active INTEGER NOT NULL DEFAULT 0,
	circuit_breaker_reason TEXT NOT NULL DEFAULT ''
);
`

// Package catalog records conversion runs and the files they emitted in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	dataset_name    TEXT NOT NULL,
	source_dir      TEXT NOT NULL,
	target_dir      TEXT NOT NULL,
	seed            INTEGER NOT NULL DEFAULT 0,
	train_ratio     REAL NOT NULL,
	started_at      DATETIME NOT NULL,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	pairs_found     INTEGER NOT NULL DEFAULT 0,
	pairs_converted INTEGER NOT NULL DEFAULT 0,
	train_count     INTEGER NOT NULL DEFAULT 0,
	val_count       INTEGER NOT NULL DEFAULT 0,
	boxes_written   INTEGER NOT NULL DEFAULT 0,
	boxes_dropped   INTEGER NOT NULL DEFAULT 0,
	cancelled       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_items (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stem           TEXT NOT NULL,
	split          TEXT NOT NULL,
	image_path     TEXT NOT NULL,
	label_checksum TEXT NOT NULL DEFAULT '',
	boxes          INTEGER NOT NULL DEFAULT 0,
	UNIQUE(run_id, stem)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_items_run ON run_items(run_id);
`

// DB wraps a sql.DB with catalog operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

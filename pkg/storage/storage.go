package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS tracked_items (
  index_id      TEXT NOT NULL,
  datasource_id TEXT NOT NULL,
  item_id       TEXT NOT NULL,
  changed_at    INTEGER NOT NULL,
  status        INTEGER NOT NULL CHECK (status IN (0,1)),
  PRIMARY KEY (index_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_items_remaining ON tracked_items(index_id, status, changed_at, item_id);
CREATE INDEX IF NOT EXISTS idx_items_datasource ON tracked_items(index_id, datasource_id);
CREATE TABLE IF NOT EXISTS pending_tasks (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  server_id  TEXT NOT NULL,
  type       TEXT NOT NULL,
  index_id   TEXT,
  data       BLOB,
  attempts   INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_server ON pending_tasks(server_id, id);
CREATE TABLE IF NOT EXISTS search_servers (
  id             TEXT PRIMARY KEY,
  name           TEXT NOT NULL,
  backend        TEXT NOT NULL,
  backend_config TEXT,
  enabled        INTEGER NOT NULL CHECK (enabled IN (0,1))
);
CREATE TABLE IF NOT EXISTS search_indexes (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL,
  server_id   TEXT,
  datasources TEXT NOT NULL,
  fields      TEXT,
  read_only   INTEGER NOT NULL CHECK (read_only IN (0,1)),
  enabled     INTEGER NOT NULL CHECK (enabled IN (0,1)),
  options     TEXT
);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Tx is a write transaction handed out by WithTx.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// placeholders returns "?,?,...,?" with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

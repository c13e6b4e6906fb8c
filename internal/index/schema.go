// Package index keeps a read-optimized SQLite mirror of the task file and
// brief documents, with optional FTS5 full-text search. The files stay the
// source of truth; the cache can be deleted and rebuilt at any time.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS sources (
	path     TEXT PRIMARY KEY,
	checksum TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'todo',
	brief_id     TEXT NOT NULL DEFAULT '',
	parent_id    TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	completed_at DATETIME,
	record       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_brief ON tasks(brief_id);

CREATE TABLE IF NOT EXISTS deps (
	task_id TEXT NOT NULL,
	dep_id  TEXT NOT NULL,
	type    TEXT NOT NULL DEFAULT 'blocks',
	UNIQUE(task_id, dep_id, type)
);

CREATE INDEX IF NOT EXISTS idx_deps_dep ON deps(dep_id);

CREATE TABLE IF NOT EXISTS briefs (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'proposed',
	tags       TEXT NOT NULL DEFAULT '[]',
	body       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS refs (
	brief_id TEXT NOT NULL,
	target   TEXT NOT NULL,
	UNIQUE(brief_id, target)
);

CREATE INDEX IF NOT EXISTS idx_refs_target ON refs(target);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

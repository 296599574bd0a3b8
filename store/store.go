// Package store is the durable persistence layer for the AI core: embedding
// rows, semantic cache entries, and context sessions, all in one local SQLite
// database. The surrounding application owns the concept tables; this package
// never touches them.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with schema initialization.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at dbPath, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS embeddings (
			concept_id TEXT PRIMARY KEY,
			vector     BLOB NOT NULL,
			model      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS semantic_cache (
			id              TEXT PRIMARY KEY,
			query_embedding BLOB NOT NULL,
			query_text      TEXT NOT NULL,
			response        TEXT NOT NULL,
			provider        TEXT NOT NULL,
			model           TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			last_used_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_semantic_cache_scope ON semantic_cache(provider, model)`,
		`CREATE TABLE IF NOT EXISTS context_sessions (
			session_key      TEXT PRIMARY KEY,
			provider         TEXT NOT NULL,
			model            TEXT NOT NULL,
			messages         TEXT NOT NULL,
			concept_ids      TEXT,
			expires_at       INTEGER NOT NULL,
			external_cache_id TEXT,
			cache_expires_at INTEGER,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_context_sessions_expires ON context_sessions(expires_at)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"
)

// SemanticCacheRow is one stored completion keyed by its prompt embedding.
type SemanticCacheRow struct {
	ID             string
	QueryEmbedding []byte
	QueryText      string
	Response       string
	Provider       string
	Model          string
	CreatedAt      int64
	LastUsedAt     int64
}

// SemanticCacheStore handles semantic cache rows in SQLite.
type SemanticCacheStore struct {
	db *DB
}

// NewSemanticCacheStore creates a semantic cache store.
func NewSemanticCacheStore(db *DB) *SemanticCacheStore {
	return &SemanticCacheStore{db: db}
}

// Insert adds a new cache row.
func (s *SemanticCacheStore) Insert(ctx context.Context, row *SemanticCacheRow) error {
	now := time.Now().Unix()
	if row.CreatedAt == 0 {
		row.CreatedAt = now
	}
	if row.LastUsedAt == 0 {
		row.LastUsedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO semantic_cache (id, query_embedding, query_text, response, provider, model, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.QueryEmbedding, row.QueryText, row.Response, row.Provider, row.Model, row.CreatedAt, row.LastUsedAt)
	if err != nil {
		return fmt.Errorf("insert semantic cache row: %w", err)
	}
	return nil
}

// Scoped streams every cache row for a (provider, model) scope to fn.
func (s *SemanticCacheStore) Scoped(ctx context.Context, provider, model string, fn func(row *SemanticCacheRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_embedding, query_text, response, provider, model, created_at, last_used_at
		FROM semantic_cache WHERE provider = ? AND model = ?
	`, provider, model)
	if err != nil {
		return fmt.Errorf("list semantic cache rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r SemanticCacheRow
		if err := rows.Scan(&r.ID, &r.QueryEmbedding, &r.QueryText, &r.Response,
			&r.Provider, &r.Model, &r.CreatedAt, &r.LastUsedAt); err != nil {
			return fmt.Errorf("scan semantic cache row: %w", err)
		}
		if err := fn(&r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Touch bumps the last-used timestamp on a cache row.
func (s *SemanticCacheStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE semantic_cache SET last_used_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("touch semantic cache row: %w", err)
	}
	return nil
}

// Count returns the number of cache rows.
func (s *SemanticCacheStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count semantic cache rows: %w", err)
	}
	return n, nil
}

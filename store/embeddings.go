package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EmbeddingRow is a durable embedding as stored, vector still encoded.
type EmbeddingRow struct {
	ConceptID string
	Vector    []byte
	Model     string
	CreatedAt int64
	UpdatedAt int64
}

// EmbeddingStore handles embedding rows in SQLite. There is at most one row
// per concept; Put replaces in place.
type EmbeddingStore struct {
	db *DB
}

// NewEmbeddingStore creates an embedding store.
func NewEmbeddingStore(db *DB) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

// Get returns the embedding row for a concept, or nil if absent.
func (s *EmbeddingStore) Get(ctx context.Context, conceptID string) (*EmbeddingRow, error) {
	var r EmbeddingRow
	err := s.db.QueryRowContext(ctx, `
		SELECT concept_id, vector, model, created_at, updated_at
		FROM embeddings WHERE concept_id = ?
	`, conceptID).Scan(&r.ConceptID, &r.Vector, &r.Model, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return &r, nil
}

// Put upserts the embedding row for a concept.
func (s *EmbeddingStore) Put(ctx context.Context, conceptID string, vector []byte, model string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (concept_id, vector, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(concept_id) DO UPDATE SET
			vector = excluded.vector,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, conceptID, vector, model, now, now)
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

// Delete removes the embedding row for a concept. Deleting an absent row is
// not an error.
func (s *EmbeddingStore) Delete(ctx context.Context, conceptID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE concept_id = ?`, conceptID)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

// All streams every embedding row to fn. Used for the full index build.
func (s *EmbeddingStore) All(ctx context.Context, fn func(row *EmbeddingRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT concept_id, vector, model, created_at, updated_at FROM embeddings
	`)
	if err != nil {
		return fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r EmbeddingRow
		if err := rows.Scan(&r.ConceptID, &r.Vector, &r.Model, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		if err := fn(&r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// AllVectors streams every (concept id, encoded vector) pair to fn. This is
// the shape the vector index consumes for its full build.
func (s *EmbeddingStore) AllVectors(ctx context.Context, fn func(conceptID string, vector []byte) error) error {
	return s.All(ctx, func(row *EmbeddingRow) error {
		return fn(row.ConceptID, row.Vector)
	})
}

// ConceptIDs returns the ids of every concept that has an embedding row.
func (s *EmbeddingStore) ConceptIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT concept_id FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("list embedding ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan embedding id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Count returns the number of embedding rows.
func (s *EmbeddingStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

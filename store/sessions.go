package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
)

// SessionRow is a durable context session. Messages and ConceptIDs are
// stored as JSON text columns.
type SessionRow struct {
	SessionKey      string
	Provider        string
	Model           string
	Messages        []types.Message
	ConceptIDs      []string
	ExpiresAt       int64
	ExternalCacheID string
	CacheExpiresAt  int64
	CreatedAt       int64
	UpdatedAt       int64
}

// SessionStore handles context session rows in SQLite.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get returns the session row for a key, or nil if absent. Expiry is not
// checked here; that is the caller's concern.
func (s *SessionStore) Get(ctx context.Context, key string) (*SessionRow, error) {
	var (
		r          SessionRow
		messages   string
		conceptIDs sql.NullString
		externalID sql.NullString
		cacheExp   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_key, provider, model, messages, concept_ids, expires_at,
		       external_cache_id, cache_expires_at, created_at, updated_at
		FROM context_sessions WHERE session_key = ?
	`, key).Scan(&r.SessionKey, &r.Provider, &r.Model, &messages, &conceptIDs,
		&r.ExpiresAt, &externalID, &cacheExp, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := json.Unmarshal([]byte(messages), &r.Messages); err != nil {
		// Unreadable transcript: treat the row as absent rather than
		// surfacing a decode failure.
		return nil, nil
	}
	if conceptIDs.Valid && conceptIDs.String != "" {
		if err := json.Unmarshal([]byte(conceptIDs.String), &r.ConceptIDs); err != nil {
			r.ConceptIDs = nil
		}
	}
	if externalID.Valid {
		r.ExternalCacheID = externalID.String
	}
	if cacheExp.Valid {
		r.CacheExpiresAt = cacheExp.Int64
	}
	return &r, nil
}

// Put upserts a session row.
func (s *SessionStore) Put(ctx context.Context, row *SessionRow) error {
	messages, err := json.Marshal(row.Messages)
	if err != nil {
		return fmt.Errorf("marshal session messages: %w", err)
	}
	var conceptIDs any
	if len(row.ConceptIDs) > 0 {
		b, err := json.Marshal(row.ConceptIDs)
		if err != nil {
			return fmt.Errorf("marshal session concept ids: %w", err)
		}
		conceptIDs = string(b)
	}
	var externalID any
	if row.ExternalCacheID != "" {
		externalID = row.ExternalCacheID
	}
	var cacheExp any
	if row.CacheExpiresAt != 0 {
		cacheExp = row.CacheExpiresAt
	}

	now := time.Now().Unix()
	if row.CreatedAt == 0 {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_sessions (session_key, provider, model, messages, concept_ids,
			expires_at, external_cache_id, cache_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			messages = excluded.messages,
			concept_ids = excluded.concept_ids,
			expires_at = excluded.expires_at,
			external_cache_id = excluded.external_cache_id,
			cache_expires_at = excluded.cache_expires_at,
			updated_at = excluded.updated_at
	`, row.SessionKey, row.Provider, row.Model, string(messages), conceptIDs,
		row.ExpiresAt, externalID, cacheExp, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// SetExternalCache attaches an external cache handle to an existing row.
func (s *SessionStore) SetExternalCache(ctx context.Context, key, cacheID string, expiresAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE context_sessions SET external_cache_id = ?, cache_expires_at = ?, updated_at = ?
		WHERE session_key = ?
	`, cacheID, expiresAt, time.Now().Unix(), key)
	if err != nil {
		return fmt.Errorf("set session external cache: %w", err)
	}
	return nil
}

// Delete removes a session row. Deleting an absent row is not an error.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM context_sessions WHERE session_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Expired returns every session row whose expiry is at or before now.
func (s *SessionStore) Expired(ctx context.Context, now time.Time) ([]*SessionRow, error) {
	return s.list(ctx, `
		SELECT session_key, provider, model, messages, concept_ids, expires_at,
		       external_cache_id, cache_expires_at, created_at, updated_at
		FROM context_sessions WHERE expires_at <= ?
	`, now.Unix())
}

// All returns every session row.
func (s *SessionStore) All(ctx context.Context) ([]*SessionRow, error) {
	return s.list(ctx, `
		SELECT session_key, provider, model, messages, concept_ids, expires_at,
		       external_cache_id, cache_expires_at, created_at, updated_at
		FROM context_sessions
	`)
}

func (s *SessionStore) list(ctx context.Context, query string, args ...any) ([]*SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRow
	for rows.Next() {
		var (
			r          SessionRow
			messages   string
			conceptIDs sql.NullString
			externalID sql.NullString
			cacheExp   sql.NullInt64
		)
		if err := rows.Scan(&r.SessionKey, &r.Provider, &r.Model, &messages, &conceptIDs,
			&r.ExpiresAt, &externalID, &cacheExp, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &r.Messages); err != nil {
			r.Messages = nil
		}
		if conceptIDs.Valid && conceptIDs.String != "" {
			if err := json.Unmarshal([]byte(conceptIDs.String), &r.ConceptIDs); err != nil {
				r.ConceptIDs = nil
			}
		}
		if externalID.Valid {
			r.ExternalCacheID = externalID.String
		}
		if cacheExp.Valid {
			r.CacheExpiresAt = cacheExp.Int64
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmbeddingStore_RoundTrip(t *testing.T) {
	s := NewEmbeddingStore(openTestDB(t))
	ctx := context.Background()

	row, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, row, "absent row reads as nil, not an error")

	require.NoError(t, s.Put(ctx, "c1", []byte{1, 2, 3, 4}, "model-a"))

	row, err = s.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, []byte{1, 2, 3, 4}, row.Vector)
	assert.Equal(t, "model-a", row.Model)
}

func TestEmbeddingStore_PutReplacesInPlace(t *testing.T) {
	s := NewEmbeddingStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "c1", []byte{1}, "model-a"))
	require.NoError(t, s.Put(ctx, "c1", []byte{9}, "model-b"))

	row, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, row.Vector)
	assert.Equal(t, "model-b", row.Model)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmbeddingStore_DeleteAbsentIsNoop(t *testing.T) {
	s := NewEmbeddingStore(openTestDB(t))
	assert.NoError(t, s.Delete(context.Background(), "never-existed"))
}

func TestEmbeddingStore_AllVectors(t *testing.T) {
	s := NewEmbeddingStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "c1", []byte{1}, "m"))
	require.NoError(t, s.Put(ctx, "c2", []byte{2}, "m"))

	seen := make(map[string][]byte)
	require.NoError(t, s.AllVectors(ctx, func(conceptID string, vector []byte) error {
		seen[conceptID] = vector
		return nil
	}))
	assert.Len(t, seen, 2)
	assert.Equal(t, []byte{2}, seen["c2"])

	ids, err := s.ConceptIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "c1")
	assert.Contains(t, ids, "c2")
}

func TestSessionStore_UnreadableTranscriptReadsAsAbsent(t *testing.T) {
	db := openTestDB(t)
	s := NewSessionStore(db)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		INSERT INTO context_sessions (session_key, provider, model, messages, expires_at, created_at, updated_at)
		VALUES ('bad', 'openai', 'm', 'not-json', 9999999999, 1, 1)
	`)
	require.NoError(t, err)

	row, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSessionStore_ExpiredSelection(t *testing.T) {
	s := NewSessionStore(openTestDB(t))
	ctx := context.Background()

	put := func(key string, expiresAt int64) {
		require.NoError(t, s.Put(ctx, &SessionRow{
			SessionKey: key,
			Provider:   "openai",
			Model:      "m",
			Messages:   []types.Message{{Role: "user", Content: "x"}},
			ExpiresAt:  expiresAt,
		}))
	}
	put("old", 100)
	put("fresh", 1<<40)

	expired, err := s.Expired(ctx, time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].SessionKey)
}

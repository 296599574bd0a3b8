package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/store"
)

// fakeCacher records context cache calls and can be told to fail.
type fakeCacher struct {
	mu      sync.Mutex
	created []string
	deleted []string
	fail    bool
}

func (f *fakeCacher) CreateContextCache(_ context.Context, content string, ttl time.Duration) (*types.ContextCacheHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("cache service rejected the request")
	}
	id := fmt.Sprintf("cachedContents/%d", len(f.created)+1)
	f.created = append(f.created, content)
	return &types.ContextCacheHandle{ID: id, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (f *fakeCacher) DeleteContextCache(_ context.Context, handleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("cache service rejected the request")
	}
	f.deleted = append(f.deleted, handleID)
	return nil
}

func (f *fakeCacher) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newTestSessionCache(t *testing.T, opts ...Option) (*Cache, *store.SessionStore) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows := store.NewSessionStore(db)
	return New(rows, opts...), rows
}

func userMsg(text string) types.Message {
	return types.Message{Role: "user", Content: text}
}

func TestKey_Deterministic(t *testing.T) {
	assert.Equal(t, "ask:concept-1", Key("ask", "concept-1", ""))
	assert.Equal(t, "ask:concept-1:draft", Key("ask", "concept-1", "draft"))
	assert.Equal(t, Key("ask", "concept-1", "draft"), Key("ask", "concept-1", "draft"))
	assert.NotEqual(t, Key("ask", "concept-1", ""), Key("refine", "concept-1", ""))
}

func TestGetOrCreate_MergesWhileUnexpired(t *testing.T) {
	c, _ := newTestSessionCache(t)
	ctx := context.Background()

	first, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("hello")}, []string{"c1"}, time.Hour, nil)
	require.NoError(t, err)
	require.Len(t, first.Messages, 1)
	require.Equal(t, []string{"c1"}, first.ConceptIDs)

	second, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("follow-up")}, []string{"c1", "c2"}, time.Hour, nil)
	require.NoError(t, err)
	assert.Len(t, second.Messages, 2, "messages accumulate")
	assert.Equal(t, []string{"c1", "c2"}, second.ConceptIDs, "concept ids union without duplicates")
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt, "merge keeps the original expiry")
}

func TestGetOrCreate_ExpiredRowReplaced(t *testing.T) {
	current := time.Now()
	c, _ := newTestSessionCache(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("old")}, []string{"c1"}, time.Millisecond, nil)
	require.NoError(t, err)

	current = current.Add(time.Second)

	fresh, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("new")}, []string{"c9"}, time.Hour, nil)
	require.NoError(t, err)
	assert.Len(t, fresh.Messages, 1, "expired content is not merged")
	assert.Equal(t, "new", fresh.Messages[0].Content)
	assert.Equal(t, []string{"c9"}, fresh.ConceptIDs)
}

func TestGet_LazyExpiry(t *testing.T) {
	current := time.Now()
	c, rows := newTestSessionCache(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("hello")}, []string{"c1"}, time.Millisecond, nil)
	require.NoError(t, err)

	current = current.Add(time.Second)

	sess, err := c.Get(ctx, "ask:c1")
	require.NoError(t, err)
	assert.Nil(t, sess, "expired session reads as absent")

	row, err := rows.Get(ctx, "ask:c1")
	require.NoError(t, err)
	assert.NotNil(t, row, "the row stays on disk until an explicit cleanup")
}

func TestUpdate_AbsentKeyIsNil(t *testing.T) {
	c, _ := newTestSessionCache(t)

	sess, err := c.Update(context.Background(), "no-such-key", []types.Message{userMsg("x")})
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestUpdate_AppendsMessages(t *testing.T) {
	c, _ := newTestSessionCache(t)
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("q")}, []string{"c1"}, time.Hour, nil)
	require.NoError(t, err)

	sess, err := c.Update(ctx, "ask:c1", []types.Message{{Role: "assistant", Content: "a"}})
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "assistant", sess.Messages[1].Role)
}

func TestCleanupExpired_ReleasesHandlesAndCounts(t *testing.T) {
	current := time.Now()
	c, rows := newTestSessionCache(t, WithClock(func() time.Time { return current }))
	cacher := &fakeCacher{}
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "gemini", "m",
		[]types.Message{userMsg("a")}, []string{"c1"}, time.Minute, nil)
	require.NoError(t, err)
	_, err = c.GetOrCreate(ctx, "ask:c2", "gemini", "m",
		[]types.Message{userMsg("b")}, []string{"c2"}, time.Minute, nil)
	require.NoError(t, err)
	_, err = c.GetOrCreate(ctx, "ask:c3", "gemini", "m",
		[]types.Message{userMsg("c")}, []string{"c3"}, time.Hour, nil)
	require.NoError(t, err)

	require.NoError(t, rows.SetExternalCache(ctx, "ask:c1", "cachedContents/99", current.Add(time.Minute).Unix()))

	current = current.Add(30 * time.Minute)

	removed, err := c.CleanupExpired(ctx, cacher)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"cachedContents/99"}, cacher.deleted)

	sess, err := c.Get(ctx, "ask:c3")
	require.NoError(t, err)
	assert.NotNil(t, sess, "unexpired session survives the sweep")
}

func TestCleanupExpired_ReleaseFailureStillDeletes(t *testing.T) {
	current := time.Now()
	c, rows := newTestSessionCache(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "gemini", "m",
		[]types.Message{userMsg("a")}, []string{"c1"}, time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, rows.SetExternalCache(ctx, "ask:c1", "cachedContents/1", current.Add(time.Minute).Unix()))

	current = current.Add(time.Hour)

	removed, err := c.CleanupExpired(ctx, &fakeCacher{fail: true})
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "a failed remote release does not block the delete")

	row, err := rows.Get(ctx, "ask:c1")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestInvalidateForConcepts_DeletesIntersectingOnly(t *testing.T) {
	c, _ := newTestSessionCache(t)
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("a")}, []string{"c1", "c2"}, time.Hour, nil)
	require.NoError(t, err)
	_, err = c.GetOrCreate(ctx, "ask:c3", "openai", "m",
		[]types.Message{userMsg("b")}, []string{"c3"}, time.Hour, nil)
	require.NoError(t, err)

	removed, err := c.InvalidateForConcepts(ctx, []string{"c2", "c77"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	gone, err := c.Get(ctx, "ask:c1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := c.Get(ctx, "ask:c3")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestInvalidateForConcepts_EmptyInputIsNoop(t *testing.T) {
	c, _ := newTestSessionCache(t)
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "openai", "m",
		[]types.Message{userMsg("a")}, []string{"c1"}, time.Hour, nil)
	require.NoError(t, err)

	removed, err := c.InvalidateForConcepts(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestGetOrCreate_RemoteCacheCreatedInBackground(t *testing.T) {
	c, _ := newTestSessionCache(t, WithCacheThreshold(64))
	cacher := &fakeCacher{}
	ctx := context.Background()

	big := strings.Repeat("lengthy static context ", 20)
	sess, err := c.GetOrCreate(ctx, "ask:c1", "gemini", "m",
		[]types.Message{userMsg(big)}, []string{"c1"}, time.Hour, cacher)
	require.NoError(t, err)
	assert.Nil(t, sess.ExternalCache, "the caller never waits on handle creation")

	require.True(t, c.WaitBackground(2*time.Second), "background attempt must settle")
	require.Equal(t, 1, cacher.createdCount())

	sess, err = c.Get(ctx, "ask:c1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.ExternalCache, "handle written back through the store")
	assert.Equal(t, "cachedContents/1", sess.ExternalCache.ID)
}

func TestGetOrCreate_SmallContentSkipsRemoteCache(t *testing.T) {
	c, _ := newTestSessionCache(t, WithCacheThreshold(1<<20))
	cacher := &fakeCacher{}
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "gemini", "m",
		[]types.Message{userMsg("tiny")}, []string{"c1"}, time.Hour, cacher)
	require.NoError(t, err)

	assert.False(t, c.WaitBackground(50*time.Millisecond))
	assert.Zero(t, cacher.createdCount())
}

func TestGetOrCreate_ExistingHandleNotRecreated(t *testing.T) {
	c, rows := newTestSessionCache(t, WithCacheThreshold(8))
	cacher := &fakeCacher{}
	ctx := context.Background()

	big := strings.Repeat("context ", 50)
	_, err := c.GetOrCreate(ctx, "ask:c1", "gemini", "m",
		[]types.Message{userMsg(big)}, []string{"c1"}, time.Hour, cacher)
	require.NoError(t, err)
	require.True(t, c.WaitBackground(2*time.Second))
	require.Equal(t, 1, cacher.createdCount())

	_, err = c.GetOrCreate(ctx, "ask:c1", "gemini", "m",
		[]types.Message{userMsg("more")}, []string{"c1"}, time.Hour, cacher)
	require.NoError(t, err)

	assert.False(t, c.WaitBackground(50*time.Millisecond), "no second attempt once a handle exists")
	assert.Equal(t, 1, cacher.createdCount())

	row, err := rows.Get(ctx, "ask:c1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "cachedContents/1", row.ExternalCacheID)
}

func TestCreateCacheFor_Gating(t *testing.T) {
	c, rows := newTestSessionCache(t, WithCacheThreshold(16))
	cacher := &fakeCacher{}
	ctx := context.Background()

	_, err := c.GetOrCreate(ctx, "ask:c1", "gemini", "m",
		[]types.Message{userMsg("hi")}, []string{"c1"}, time.Hour, nil)
	require.NoError(t, err)

	require.NoError(t, c.CreateCacheFor(ctx, "ask:c1", "short", cacher))
	assert.Zero(t, cacher.createdCount(), "content under the threshold is not cached")

	require.NoError(t, c.CreateCacheFor(ctx, "ask:c1", strings.Repeat("x", 64), nil))
	assert.Zero(t, cacher.createdCount(), "nil capability is a no-op")

	require.NoError(t, c.CreateCacheFor(ctx, "ask:c1", strings.Repeat("x", 64), cacher))
	require.Equal(t, 1, cacher.createdCount())

	row, err := rows.Get(ctx, "ask:c1")
	require.NoError(t, err)
	assert.NotEmpty(t, row.ExternalCacheID)
}

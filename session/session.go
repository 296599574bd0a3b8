// Package session caches conversational context under deterministic keys
// with a time-to-live. Sessions merge on reuse while unexpired, expire
// lazily on read, and are physically removed only by an explicit cleanup
// sweep or by concept-change invalidation. Providers with the context
// caching capability can additionally host the bulk static context
// remotely; the handle is attached to the session row once created.
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/provider"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/store"
)

// DefaultCacheThreshold is the serialized-content size above which a
// provider-hosted context cache is worth creating, in bytes.
const DefaultCacheThreshold = 2048

// remoteCacheTimeout bounds the detached remote cache creation call.
const remoteCacheTimeout = 30 * time.Second

// Key builds a deterministic session key from an operation name, a primary
// concept id, and an optional disambiguator, so repeated logical
// conversations converge on one row.
func Key(operation, conceptID, qualifier string) string {
	parts := []string{operation, conceptID}
	if qualifier != "" {
		parts = append(parts, qualifier)
	}
	return strings.Join(parts, ":")
}

// Session is a cached conversational context.
type Session struct {
	Key        string
	Provider   string
	Model      string
	Messages   []types.Message
	ConceptIDs []string
	ExpiresAt  time.Time

	// ExternalCache is optional and eventually set: remote cache creation
	// is detached, so a session can be observed before its handle exists.
	ExternalCache *types.ContextCacheHandle
}

// Cache is the context session cache.
type Cache struct {
	rows           *store.SessionStore
	cacheThreshold int
	logger         *slog.Logger
	now            func() time.Time

	// background is signaled after each detached remote-cache attempt
	// settles; tests use it to wait without sleeping.
	background chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithCacheThreshold overrides the remote-cache size threshold in bytes.
func WithCacheThreshold(bytes int) Option {
	return func(c *Cache) { c.cacheThreshold = bytes }
}

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock overrides the time source. Tests use it to force expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a session cache.
func New(rows *store.SessionStore, opts ...Option) *Cache {
	c := &Cache{
		rows:           rows,
		cacheThreshold: DefaultCacheThreshold,
		logger:         slog.Default(),
		now:            time.Now,
		background:     make(chan struct{}, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate merges messages and concept ids into the unexpired session for
// key, or inserts a new session with the given ttl. When cc is non-nil, the
// merged content exceeds the size threshold, and no handle exists yet, a
// provider-hosted cache is created in a detached background task; the caller
// neither waits for it nor observes its failure.
func (c *Cache) GetOrCreate(ctx context.Context, key, providerName, model string,
	messages []types.Message, conceptIDs []string, ttl time.Duration, cc provider.ContextCacher) (*Session, error) {

	now := c.now()
	row, err := c.rows.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if row != nil && now.Unix() < row.ExpiresAt {
		row.Messages = append(row.Messages, messages...)
		row.ConceptIDs = unionIDs(row.ConceptIDs, conceptIDs)
	} else {
		row = &store.SessionRow{
			SessionKey: key,
			Provider:   providerName,
			Model:      model,
			Messages:   messages,
			ConceptIDs: unionIDs(nil, conceptIDs),
			ExpiresAt:  now.Add(ttl).Unix(),
		}
	}
	if err := c.rows.Put(ctx, row); err != nil {
		return nil, err
	}

	sess := rowToSession(row)
	if cc != nil && row.ExternalCacheID == "" {
		if content := serializedContent(row.Messages); len(content) > c.cacheThreshold {
			go c.createRemoteCache(key, content, time.Unix(row.ExpiresAt, 0).Sub(now), cc)
		}
	}
	return sess, nil
}

// Get returns the session for key, or nil if absent or past expiry. Expiry
// is checked lazily here; the row is not removed.
func (c *Cache) Get(ctx context.Context, key string) (*Session, error) {
	row, err := c.rows.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil || c.now().Unix() >= row.ExpiresAt {
		return nil, nil
	}
	return rowToSession(row), nil
}

// Update merges additional messages into an existing session. Returns nil
// without error if the session does not exist.
func (c *Cache) Update(ctx context.Context, key string, messages []types.Message) (*Session, error) {
	row, err := c.rows.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	row.Messages = append(row.Messages, messages...)
	if err := c.rows.Put(ctx, row); err != nil {
		return nil, err
	}
	return rowToSession(row), nil
}

// Delete removes a session row.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.rows.Delete(ctx, key)
}

// CleanupExpired deletes every session past expiry and returns the count
// removed. For each deleted session owning an external cache handle, the
// provider is asked to release the handle first so no orphaned remote state
// accumulates; a failed release is logged and does not block the delete.
func (c *Cache) CleanupExpired(ctx context.Context, cc provider.ContextCacher) (int, error) {
	expired, err := c.rows.Expired(ctx, c.now())
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, row := range expired {
		if row.ExternalCacheID != "" && cc != nil {
			if err := cc.DeleteContextCache(ctx, row.ExternalCacheID); err != nil {
				c.logger.Warn("external context cache release failed",
					"session_key", row.SessionKey, "cache_id", row.ExternalCacheID, "error", err)
			}
		}
		if err := c.rows.Delete(ctx, row.SessionKey); err != nil {
			c.logger.Warn("expired session delete failed", "session_key", row.SessionKey, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// InvalidateForConcepts deletes every session whose tracked concept set
// intersects conceptIDs and returns the count removed. Any external cache
// handle on such a session is left for the provider-side TTL to reap.
func (c *Cache) InvalidateForConcepts(ctx context.Context, conceptIDs []string) (int, error) {
	if len(conceptIDs) == 0 {
		return 0, nil
	}
	target := make(map[string]struct{}, len(conceptIDs))
	for _, id := range conceptIDs {
		target[id] = struct{}{}
	}

	all, err := c.rows.All(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, row := range all {
		if !intersects(row.ConceptIDs, target) {
			continue
		}
		if err := c.rows.Delete(ctx, row.SessionKey); err != nil {
			c.logger.Warn("session invalidation delete failed", "session_key", row.SessionKey, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// CreateCacheFor is the size- and capability-gated primitive underlying
// GetOrCreate's automatic cache creation. It is a no-op unless cc is non-nil
// and content exceeds the threshold.
func (c *Cache) CreateCacheFor(ctx context.Context, key, content string, cc provider.ContextCacher) error {
	if cc == nil || len(content) <= c.cacheThreshold {
		return nil
	}
	row, err := c.rows.Get(ctx, key)
	if err != nil {
		return err
	}
	if row == nil || row.ExternalCacheID != "" {
		return nil
	}

	ttl := time.Unix(row.ExpiresAt, 0).Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	handle, err := cc.CreateContextCache(ctx, content, ttl)
	if err != nil {
		return err
	}
	return c.rows.SetExternalCache(ctx, key, handle.ID, handle.ExpiresAt.Unix())
}

// WaitBackground blocks until one detached remote-cache attempt settles or
// the timeout elapses. Only tests need this.
func (c *Cache) WaitBackground(timeout time.Duration) bool {
	select {
	case <-c.background:
		return true
	case <-time.After(timeout):
		return false
	}
}

// createRemoteCache runs detached from the originating call: it uses its own
// context, writes the handle back through the store on success, and only
// logs on failure.
func (c *Cache) createRemoteCache(key, content string, ttl time.Duration, cc provider.ContextCacher) {
	defer func() {
		select {
		case c.background <- struct{}{}:
		default:
		}
	}()

	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteCacheTimeout)
	defer cancel()

	handle, err := cc.CreateContextCache(ctx, content, ttl)
	if err != nil {
		c.logger.Warn("external context cache creation failed", "session_key", key, "error", err)
		return
	}
	if err := c.rows.SetExternalCache(ctx, key, handle.ID, handle.ExpiresAt.Unix()); err != nil {
		c.logger.Warn("external context cache handle write-back failed",
			"session_key", key, "cache_id", handle.ID, "error", err)
	}
}

func rowToSession(row *store.SessionRow) *Session {
	s := &Session{
		Key:        row.SessionKey,
		Provider:   row.Provider,
		Model:      row.Model,
		Messages:   row.Messages,
		ConceptIDs: row.ConceptIDs,
		ExpiresAt:  time.Unix(row.ExpiresAt, 0),
	}
	if row.ExternalCacheID != "" {
		s.ExternalCache = &types.ContextCacheHandle{
			ID:        row.ExternalCacheID,
			ExpiresAt: time.Unix(row.CacheExpiresAt, 0),
		}
	}
	return s
}

func serializedContent(messages []types.Message) string {
	b, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	return string(b)
}

func unionIDs(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, id := range existing {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range incoming {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func intersects(ids []string, target map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := target[id]; ok {
			return true
		}
	}
	return false
}

// Package semcache is a similarity-keyed cache of prior LLM completions.
// Lookups derive an embedding for the prompt and match against stored
// entries scoped to the same (provider, model); nothing here is keyed by
// exact string equality.
package semcache

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/internal/vectorcodec"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/store"
)

// DefaultThreshold is the minimum cosine similarity for a cache hit.
const DefaultThreshold = 0.95

// promptMemoTTL bounds the in-process memo of prompt embeddings, so a
// Lookup followed by a Store of the same prompt computes one embedding.
const promptMemoTTL = 5 * time.Minute

// Embedder generates an embedding vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache is the semantic response cache.
type Cache struct {
	embedder  Embedder
	rows      *store.SemanticCacheStore
	memo      *gocache.Cache
	threshold float64
	logger    *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithThreshold overrides the similarity threshold for hits.
func WithThreshold(threshold float64) Option {
	return func(c *Cache) { c.threshold = threshold }
}

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a semantic cache.
func New(embedder Embedder, rows *store.SemanticCacheStore, opts ...Option) *Cache {
	c := &Cache{
		embedder:  embedder,
		rows:      rows,
		memo:      gocache.New(promptMemoTTL, 2*promptMemoTTL),
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup searches for a stored completion whose prompt is similar to
// promptText within the (provider, model) scope. A hit returns the stored
// response and bumps its last-used timestamp; a miss returns ("", false, nil).
func (c *Cache) Lookup(ctx context.Context, promptText, provider, model string) (string, bool, error) {
	query, err := c.promptEmbedding(ctx, promptText)
	if err != nil {
		return "", false, err
	}
	queryNorm := l2norm(query)
	if queryNorm == 0 {
		return "", false, nil
	}

	var (
		bestID       string
		bestResponse string
		bestSim      float64
	)
	err = c.rows.Scoped(ctx, provider, model, func(row *store.SemanticCacheRow) error {
		vec, _, decErr := vectorcodec.Decode(row.QueryEmbedding)
		if decErr != nil {
			return nil // corrupt row, skip
		}
		norm := l2norm(vec)
		if norm == 0 {
			return nil
		}
		sim := dot(query, vec) / (queryNorm * norm)
		if sim >= c.threshold && sim > bestSim {
			bestID = row.ID
			bestResponse = row.Response
			bestSim = sim
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if bestID == "" {
		return "", false, nil
	}

	if err := c.rows.Touch(ctx, bestID); err != nil {
		c.logger.Debug("semantic cache touch failed", "id", bestID, "error", err)
	}
	c.logger.Debug("semantic cache hit", "similarity", bestSim, "provider", provider, "model", model)
	return bestResponse, true, nil
}

// Store persists a completion under a freshly computed prompt embedding.
func (c *Cache) Store(ctx context.Context, promptText, response, provider, model string) error {
	vec, err := c.promptEmbedding(ctx, promptText)
	if err != nil {
		return err
	}
	return c.rows.Insert(ctx, &store.SemanticCacheRow{
		ID:             uuid.New().String(),
		QueryEmbedding: vectorcodec.Encode(vec),
		QueryText:      promptText,
		Response:       response,
		Provider:       provider,
		Model:          model,
	})
}

// Size returns the number of stored entries.
func (c *Cache) Size(ctx context.Context) (int, error) {
	return c.rows.Count(ctx)
}

func (c *Cache) promptEmbedding(ctx context.Context, promptText string) ([]float32, error) {
	if v, ok := c.memo.Get(promptText); ok {
		return v.([]float32), nil
	}
	vec, err := c.embedder.Embed(ctx, promptText)
	if err != nil {
		return nil, err
	}
	c.memo.SetDefault(promptText, vec)
	return vec, nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

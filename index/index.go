// Package index provides an in-memory cosine-similarity index over concept
// embeddings. It mirrors the durable embedding store: rebuilt wholesale at
// startup, individually maintained thereafter, and never touching storage
// itself.
package index

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/internal/vectorcodec"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
)

// EmbeddingSource supplies the durable rows for a full index build.
// *store.EmbeddingStore satisfies it.
type EmbeddingSource interface {
	AllVectors(ctx context.Context, fn func(conceptID string, vector []byte) error) error
}

type entry struct {
	vector []float32
	norm   float64
}

// Index is an in-memory nearest-neighbor index. It is safe for concurrent
// use; each entry is replaced as an atomic unit under the write lock.
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for skipped-row warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) { ix.logger = logger }
}

// New creates an empty index.
func New(opts ...Option) *Index {
	ix := &Index{
		entries: make(map[string]entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Initialize bulk-loads every durable embedding. Rows that fail to decode or
// fall below the minimum dimensionality are skipped and logged, never fatal.
func (ix *Index) Initialize(ctx context.Context, source EmbeddingSource) error {
	loaded := 0
	skipped := 0
	err := source.AllVectors(ctx, func(conceptID string, vector []byte) error {
		vec, _, err := vectorcodec.Decode(vector)
		if err != nil {
			skipped++
			ix.logger.Warn("skipping undecodable embedding row", "concept_id", conceptID)
			return nil
		}
		ix.Add(conceptID, vec)
		loaded++
		return nil
	})
	if err != nil {
		return err
	}
	ix.logger.Info("vector index initialized", "loaded", loaded, "skipped", skipped)
	return nil
}

// Add inserts or wholesale-replaces the entry for a concept, precomputing
// its L2 norm.
func (ix *Index) Add(conceptID string, vector []float32) {
	vec := append([]float32(nil), vector...)
	ix.mu.Lock()
	ix.entries[conceptID] = entry{vector: vec, norm: l2norm(vec)}
	ix.mu.Unlock()
}

// Remove drops the entry for a concept. Removing an absent id is a no-op.
func (ix *Index) Remove(conceptID string) {
	ix.mu.Lock()
	delete(ix.entries, conceptID)
	ix.mu.Unlock()
}

// Size returns the number of indexed entries.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Clear discards every entry. Durable state is unaffected.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.entries = make(map[string]entry)
	ix.mu.Unlock()
}

type searchConfig struct {
	minSimilarity float64
	exclude       map[string]struct{}
}

// SearchOption customizes a Search call.
type SearchOption func(*searchConfig)

// WithMinSimilarity filters results to similarity >= min.
func WithMinSimilarity(min float64) SearchOption {
	return func(c *searchConfig) { c.minSimilarity = min }
}

// WithExclude omits the given concept ids from the results.
func WithExclude(ids ...string) SearchOption {
	return func(c *searchConfig) {
		if c.exclude == nil {
			c.exclude = make(map[string]struct{}, len(ids))
		}
		for _, id := range ids {
			c.exclude[id] = struct{}{}
		}
	}
}

// Search returns the entries nearest to query by cosine similarity, sorted
// descending and truncated to limit. A zero-norm query or entry can never
// match; mismatched vector lengths are compared over the overlapping prefix.
func (ix *Index) Search(query []float32, limit int, opts ...SearchOption) []types.SearchResult {
	cfg := searchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	queryNorm := l2norm(query)
	if queryNorm == 0 || limit <= 0 {
		return nil
	}

	ix.mu.RLock()
	results := make([]types.SearchResult, 0, len(ix.entries))
	for id, e := range ix.entries {
		if _, excluded := cfg.exclude[id]; excluded {
			continue
		}
		if e.norm == 0 {
			continue
		}
		sim := dot(query, e.vector) / (queryNorm * e.norm)
		if sim < cfg.minSimilarity {
			continue
		}
		results = append(results, types.SearchResult{ConceptID: id, Similarity: sim})
	}
	ix.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
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

// Package embedding orchestrates embedding generation: get-or-create reads
// against the durable store, batch backfill of missing embeddings, and
// keeping the in-memory vector index in sync.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/index"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/internal/vectorcodec"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/llmerr"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/store"
)

// Embedder generates an embedding vector for text. The LLM client satisfies
// this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbeddingModel() string
}

// ConceptSource is the external read API over the application's concepts.
type ConceptSource interface {
	// GetConcept returns the concept for id, or nil if it does not exist.
	GetConcept(ctx context.Context, id string) (*types.Concept, error)

	// ListConceptIDs returns the ids of every concept.
	ListConceptIDs(ctx context.Context) ([]string, error)
}

// Status is a live snapshot of embedding coverage.
type Status struct {
	TotalConcepts    int        `json:"total_concepts"`
	WithEmbedding    int        `json:"with_embedding"`
	WithoutEmbedding int        `json:"without_embedding"`
	BackfillRunning  bool       `json:"backfill_running"`
	LastFullBuild    *time.Time `json:"last_full_build,omitempty"`
}

// Progress reports the outcome of one backfill batch.
type Progress struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// ProgressFunc receives per-batch backfill progress.
type ProgressFunc func(p Progress)

const (
	// maxBackfillIterations bounds the outer backfill loop so a persistent
	// provider outage cannot keep the sweep alive forever.
	maxBackfillIterations = 50

	// batchRetryLimit bounds retries of a batch that failed entirely.
	batchRetryLimit = 3
)

// Orchestrator bridges the durable embedding store and the vector index.
type Orchestrator struct {
	concepts ConceptSource
	rows     *store.EmbeddingStore
	embedder Embedder
	index    *index.Index
	logger   *slog.Logger

	backfillRunning atomic.Bool
	lastFullBuild   atomic.Int64 // unix seconds, 0 = never

	backoffBase time.Duration
	backoffCap  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithBatchBackoff tunes the capped exponential backoff applied after a
// whole batch fails. Used by tests to keep retries fast.
func WithBatchBackoff(base, cap time.Duration) Option {
	return func(o *Orchestrator) {
		o.backoffBase = base
		o.backoffCap = cap
	}
}

// New creates an orchestrator.
func New(concepts ConceptSource, rows *store.EmbeddingStore, embedder Embedder, ix *index.Index, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		concepts:    concepts,
		rows:        rows,
		embedder:    embedder,
		index:       ix,
		logger:      slog.Default(),
		backoffBase: time.Second,
		backoffCap:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns live embedding coverage counts.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	ids, err := o.concepts.ListConceptIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	have, err := o.rows.ConceptIDs(ctx)
	if err != nil {
		return nil, err
	}

	with := 0
	for _, id := range ids {
		if _, ok := have[id]; ok {
			with++
		}
	}

	st := &Status{
		TotalConcepts:    len(ids),
		WithEmbedding:    with,
		WithoutEmbedding: len(ids) - with,
		BackfillRunning:  o.backfillRunning.Load(),
	}
	if ts := o.lastFullBuild.Load(); ts != 0 {
		t := time.Unix(ts, 0)
		st.LastFullBuild = &t
	}
	return st, nil
}

// GetOrCreate returns the embedding for a concept, reading the durable row
// when possible and generating a fresh vector otherwise.
//
// A valid binary row is returned as-is. A legacy-encoded row is decoded,
// opportunistically rewritten in binary form, and returned. An absent or
// undecodable row triggers a provider call; the fresh vector is persisted in
// binary form before being returned. Provider failures propagate and leave
// the durable row untouched.
func (o *Orchestrator) GetOrCreate(ctx context.Context, conceptID, text, model string) ([]float32, error) {
	row, err := o.rows.Get(ctx, conceptID)
	if err != nil {
		return nil, err
	}

	if row != nil {
		vec, legacy, decErr := vectorcodec.Decode(row.Vector)
		if decErr == nil {
			if legacy {
				if putErr := o.rows.Put(ctx, conceptID, vectorcodec.Encode(vec), row.Model); putErr != nil {
					o.logger.Warn("legacy embedding rewrite failed", "concept_id", conceptID, "error", putErr)
				}
			}
			return vec, nil
		}
		o.logger.Warn("stored embedding undecodable, regenerating", "concept_id", conceptID)
	}

	vec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = o.embedder.EmbeddingModel()
	}
	if err := o.rows.Put(ctx, conceptID, vectorcodec.Encode(vec), model); err != nil {
		return nil, err
	}
	return vec, nil
}

// GenerateFor creates (or reuses) the embedding for a single concept and
// pushes it into the vector index so it is immediately searchable.
func (o *Orchestrator) GenerateFor(ctx context.Context, conceptID string) ([]float32, error) {
	concept, err := o.concepts.GetConcept(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	if concept == nil {
		return nil, llmerr.NewNotFoundError(fmt.Sprintf("concept %q not found", conceptID))
	}

	vec, err := o.GetOrCreate(ctx, conceptID, concept.EmbeddingText(), "")
	if err != nil {
		return nil, err
	}
	o.index.Add(conceptID, vec)
	return vec, nil
}

// RemoveConcept reacts to a concept deletion: the durable embedding row and
// the index entry are both dropped.
func (o *Orchestrator) RemoveConcept(ctx context.Context, conceptID string) error {
	if err := o.rows.Delete(ctx, conceptID); err != nil {
		return err
	}
	o.index.Remove(conceptID)
	return nil
}

// BackfillMissing sweeps concepts lacking an embedding in sequential batches
// of up to batchSize, calling GetOrCreate for each. One concept's failure is
// logged and skipped. A batch that fails entirely is retried with capped
// exponential backoff up to batchRetryLimit times before being abandoned.
// The sweep ends when nothing remains missing or after a fixed maximum number
// of iterations, whichever comes first.
func (o *Orchestrator) BackfillMissing(ctx context.Context, batchSize int, onProgress ProgressFunc) error {
	if batchSize <= 0 {
		batchSize = 10
	}
	if !o.backfillRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("backfill already running")
	}
	defer o.backfillRunning.Store(false)

	for iter := 0; iter < maxBackfillIterations; iter++ {
		missing, err := o.missingConceptIDs(ctx)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			o.lastFullBuild.Store(time.Now().Unix())
			o.logger.Info("embedding backfill complete", "iterations", iter)
			return nil
		}

		batch := missing
		if len(batch) > batchSize {
			batch = batch[:batchSize]
		}

		succeeded, failed := o.runBatch(ctx, batch)
		if succeeded == 0 && failed > 0 {
			succeeded, failed = o.retryBatch(ctx, batch)
		}

		if onProgress != nil {
			onProgress(Progress{
				Succeeded: succeeded,
				Failed:    failed,
				Remaining: len(missing) - succeeded,
			})
		}
	}

	o.logger.Warn("embedding backfill abandoned at iteration limit", "limit", maxBackfillIterations)
	return nil
}

// retryBatch re-runs a wholly failed batch with capped exponential backoff.
func (o *Orchestrator) retryBatch(ctx context.Context, batch []string) (succeeded, failed int) {
	for attempt := 1; attempt <= batchRetryLimit; attempt++ {
		backoff := o.backoffBase * time.Duration(1<<(attempt-1))
		if o.backoffCap > 0 && backoff > o.backoffCap {
			backoff = o.backoffCap
		}
		select {
		case <-ctx.Done():
			return 0, len(batch)
		case <-time.After(backoff):
		}

		o.logger.Debug("retrying failed backfill batch", "attempt", attempt, "size", len(batch))
		succeeded, failed = o.runBatch(ctx, batch)
		if succeeded > 0 {
			return succeeded, failed
		}
	}
	return 0, len(batch)
}

func (o *Orchestrator) runBatch(ctx context.Context, batch []string) (succeeded, failed int) {
	for _, id := range batch {
		if ctx.Err() != nil {
			failed += len(batch) - succeeded - failed
			return succeeded, failed
		}
		if _, err := o.GenerateFor(ctx, id); err != nil {
			failed++
			o.logger.Warn("backfill item failed", "concept_id", id, "error", err)
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

func (o *Orchestrator) missingConceptIDs(ctx context.Context) ([]string, error) {
	ids, err := o.concepts.ListConceptIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	have, err := o.rows.ConceptIDs(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Package provider defines the interface for LLM provider adapters.
// Each provider (OpenAI, Gemini) implements Provider; providers that can
// host large reusable context additionally implement ContextCacher, probed
// by the client as an optional capability.
package provider

import (
	"context"
	"time"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
)

// Provider is the interface every LLM provider adapter implements.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "gemini").
	Name() string

	// Model returns the completion model this provider instance targets.
	Model() string

	// EmbeddingModel returns the model that produces embedding vectors.
	EmbeddingModel() string

	// Complete executes a completion request and returns the normalized
	// response. Failures are mapped to llmerr.LLMError values.
	Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error)

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ContextCacher is the optional capability of hosting large reusable
// context on the provider side, referenced by an opaque handle.
type ContextCacher interface {
	// CreateContextCache uploads content as a provider-hosted cache object
	// and returns its handle.
	CreateContextCache(ctx context.Context, content string, ttl time.Duration) (*types.ContextCacheHandle, error)

	// DeleteContextCache releases a previously created cache object.
	// Deleting an unknown handle is not an error.
	DeleteContextCache(ctx context.Context, handleID string) error
}

// AsContextCacher probes p for the context caching capability.
func AsContextCacher(p Provider) (ContextCacher, bool) {
	cc, ok := p.(ContextCacher)
	return cc, ok
}

// Config carries provider construction parameters.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float32
}

// Factory creates provider instances from configuration. A missing or
// invalid credential fails construction with a configuration error.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

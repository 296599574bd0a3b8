// Package aicore is the AI subsystem of the writing assistant: an in-memory
// nearest-neighbor index over concept embeddings, an orchestrator that
// lazily and batch-generates those embeddings, a similarity-keyed response
// cache for LLM completions, a TTL-scoped context session cache, and a
// client facade tying cache lookups, context reuse, and provider selection
// into one request pipeline.
//
// Basic usage:
//
//	db, err := store.Open(dbPath)
//	...
//	client, err := aicore.New(ctx,
//	    aicore.WithCredential("openai", os.Getenv("OPENAI_API_KEY")),
//	    aicore.WithCredential("gemini", os.Getenv("GEMINI_API_KEY")),
//	)
//	...
//	client.AttachSemanticCache(semcache.New(client, store.NewSemanticCacheStore(db)))
//
//	resp, err := client.Complete(ctx, &aicore.CompletionRequest{
//	    Prompt:   "Summarize this concept.",
//	    UseCache: true,
//	})
package aicore

import (
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/provider"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/semcache"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/session"
)

// Re-export core request/response types for convenience.
type (
	// CompletionRequest carries all parameters for a completion call.
	CompletionRequest = types.CompletionRequest

	// CompletionResponse is the normalized result of a completion call.
	CompletionResponse = types.CompletionResponse

	// Message is a single turn in a conversation transcript.
	Message = types.Message

	// ContextCacheHandle references a provider-hosted context cache object.
	ContextCacheHandle = types.ContextCacheHandle

	// SearchResult is a single nearest-neighbor match from the vector index.
	SearchResult = types.SearchResult

	// Concept is the read-only projection of an application concept.
	Concept = types.Concept
)

// Re-export provider types.
type (
	// Provider is the interface every LLM provider adapter implements.
	Provider = provider.Provider

	// ContextCacher is the optional provider-hosted context caching capability.
	ContextCacher = provider.ContextCacher

	// ProviderConfig carries provider construction parameters.
	ProviderConfig = provider.Config
)

// AttachSemanticCache wires the semantic response cache into the completion
// pipeline. Used when the cache needs the client itself as its embedder and
// therefore cannot be passed at construction time.
func (c *Client) AttachSemanticCache(cache *semcache.Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.semantic = cache
}

// AttachSessionCache wires the context session cache into the completion
// pipeline.
func (c *Client) AttachSessionCache(cache *session.Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = cache
}

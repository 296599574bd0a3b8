// Package types defines the shared request/response and data-model types
// used across the AI core: completion requests, conversation messages,
// search results, and context cache handles.
package types

import (
	"time"
)

// Message is a single turn in a conversation transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries all parameters for a completion call.
// SystemPrompt, MaxTokens, Temperature and History are optional; zero
// values mean "use the provider defaults".
type CompletionRequest struct {
	Prompt       string    `json:"prompt"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  *float32  `json:"temperature,omitempty"`
	History      []Message `json:"history,omitempty"`

	// UseCache enables the semantic response cache for this call.
	UseCache bool `json:"use_cache,omitempty"`

	// SessionKey, when set, resolves conversational context from the
	// context session cache before the provider call.
	SessionKey string `json:"session_key,omitempty"`

	// ContextCacheID references a live provider-hosted context cache.
	// Set by the client pipeline when the resolved session carries one;
	// providers without the capability ignore it.
	ContextCacheID string `json:"-"`
}

// CompletionResponse is the normalized result of a completion call.
type CompletionResponse struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Cached reports whether the response was served from the semantic
	// cache without a provider call.
	Cached bool `json:"cached,omitempty"`
}

// ContextCacheHandle references a provider-hosted context cache object.
// The handle is opaque; only the owning provider can interpret it.
type ContextCacheHandle struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the handle has not yet expired.
func (h *ContextCacheHandle) Live(now time.Time) bool {
	return h != nil && h.ID != "" && now.Before(h.ExpiresAt)
}

// SearchResult is a single nearest-neighbor match from the vector index.
type SearchResult struct {
	ConceptID  string  `json:"concept_id"`
	Similarity float64 `json:"similarity"`
}

// Concept is the read-only projection of a concept exposed by the
// surrounding application. Its persistence is out of scope here.
type Concept struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// EmbeddingText returns the text that is embedded for a concept.
func (c *Concept) EmbeddingText() string {
	s := c.Title
	if c.Description != "" {
		s += "\n" + c.Description
	}
	if c.Content != "" {
		s += "\n" + c.Content
	}
	return s
}

package aicore

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/llmerr"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/provider"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/providers"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/semcache"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/session"
)

// Client is the entry point for LLM access. It owns the active provider,
// consults the semantic response cache and the context session cache around
// each completion, and applies bounded retry with capped exponential backoff
// to transient provider failures.
//
// Client is safe for concurrent use by multiple goroutines. Construct one at
// startup and pass it by reference; a test harness simply constructs another.
type Client struct {
	config   *ClientConfig
	logger   *slog.Logger
	semantic *semcache.Cache
	sessions *session.Cache

	mu           sync.RWMutex
	provider     provider.Provider
	providerName string

	backoffMu   sync.Mutex
	backoffRand *rand.Rand
}

// New creates a client. Without an explicit provider it picks, in the fixed
// preference order, the first provider whose credential is configured; it
// fails if none are configured, or if an explicitly requested provider's
// credential is missing.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Client{
		config:      cfg,
		logger:      cfg.Logger,
		semantic:    cfg.SemanticCache,
		sessions:    cfg.SessionCache,
		backoffRand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	name := cfg.Provider
	if name != "" {
		prov, err := c.buildProvider(ctx, name)
		if err != nil {
			return nil, err
		}
		c.provider = prov
		c.providerName = name
	} else {
		for _, candidate := range providers.PreferenceOrder {
			if cfg.Credentials[candidate] == "" {
				continue
			}
			prov, err := c.buildProvider(ctx, candidate)
			if err != nil {
				return nil, err
			}
			c.provider = prov
			c.providerName = candidate
			break
		}
		if c.provider == nil {
			return nil, llmerr.NewConfigurationError("",
				fmt.Sprintf("no provider credential configured (checked %v)", providers.PreferenceOrder))
		}
	}

	c.logger.Info("llm client initialized",
		"provider", c.providerName,
		"model", c.provider.Model(),
		"semantic_cache", c.semantic != nil,
		"session_cache", c.sessions != nil,
	)
	return c, nil
}

// Provider returns the active provider name.
func (c *Client) Provider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providerName
}

// Model returns the active provider's completion model.
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider.Model()
}

// EmbeddingModel returns the active provider's embedding model.
func (c *Client) EmbeddingModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider.EmbeddingModel()
}

// SetProvider switches the active provider. Switching to the already-active
// provider is a no-op. The swap is committed only on successful construction
// of the new provider; on credential failure the previous provider remains
// authoritative.
func (c *Client) SetProvider(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == c.providerName {
		return nil
	}
	prov, err := c.buildProvider(ctx, name)
	if err != nil {
		return err
	}
	old := c.provider
	c.provider = prov
	c.providerName = name
	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.Debug("previous provider close failed", "error", err)
		}
	}
	c.logger.Info("provider switched", "provider", name, "model", prov.Model())
	return nil
}

// Complete executes the completion pipeline: semantic cache consult, context
// session resolution, provider call with retry, best-effort cache store.
// Cache and session failures never block the completion; only the provider
// call's failure propagates.
func (c *Client) Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	if req == nil || req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	prov, provName, semantic, sessions := c.pipeline()

	if req.UseCache && semantic != nil {
		cached, hit, err := semantic.Lookup(ctx, cachePrompt(req), provName, prov.Model())
		if err != nil {
			c.logger.Warn("semantic cache lookup failed", "error", err)
		} else if hit {
			return &types.CompletionResponse{
				Content:  cached,
				Provider: provName,
				Model:    prov.Model(),
				Cached:   true,
			}, nil
		}
	}

	c.resolveSessionContext(ctx, prov, sessions, req)

	resp, err := c.executeWithRetry(ctx, prov, req)
	if err != nil {
		return nil, err
	}

	if req.UseCache && semantic != nil {
		if err := semantic.Store(ctx, cachePrompt(req), resp.Content, provName, prov.Model()); err != nil {
			c.logger.Warn("semantic cache store failed", "error", err)
		}
	}
	return resp, nil
}

// CompleteJSON runs the same pipeline as Complete and re-issues the provider
// call up to the configured retry count until the result parses as a JSON
// object, raising a validation error when exhausted. A hit from the semantic
// cache is validated the same way and falls through to the provider when the
// cached payload does not parse.
func (c *Client) CompleteJSON(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	if req == nil || req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	prov, provName, semantic, sessions := c.pipeline()

	if req.UseCache && semantic != nil {
		cached, hit, err := semantic.Lookup(ctx, cachePrompt(req), provName, prov.Model())
		if err != nil {
			c.logger.Warn("semantic cache lookup failed", "error", err)
		} else if hit && isJSONObject(cached) {
			return &types.CompletionResponse{
				Content:  cached,
				Provider: provName,
				Model:    prov.Model(),
				Cached:   true,
			}, nil
		}
	}

	c.resolveSessionContext(ctx, prov, sessions, req)

	var resp *types.CompletionResponse
	var err error
	attempts := c.config.JSONRetryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err = c.executeWithRetry(ctx, prov, req)
		if err != nil {
			return nil, err
		}
		if isJSONObject(resp.Content) {
			if req.UseCache && semantic != nil {
				if storeErr := semantic.Store(ctx, cachePrompt(req), resp.Content, provName, prov.Model()); storeErr != nil {
					c.logger.Warn("semantic cache store failed", "error", storeErr)
				}
			}
			return resp, nil
		}
		c.logger.Debug("completion was not a JSON object, re-issuing", "attempt", attempt+1)
	}

	return nil, llmerr.NewValidationError(provName, prov.Model(),
		fmt.Sprintf("completion did not parse as a JSON object after %d attempts", attempts))
}

// Embed is a pure passthrough to the active provider. Embeddings are never
// cached here; the embedding orchestrator owns their persistence.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	prov, _ := c.activeProvider()
	return prov.Embed(ctx, text)
}

// ContextCacher returns the active provider's context caching capability,
// or nil when the provider does not support it.
func (c *Client) ContextCacher() provider.ContextCacher {
	prov, _ := c.activeProvider()
	cc, ok := provider.AsContextCacher(prov)
	if !ok {
		return nil
	}
	return cc
}

// Close releases the active provider's resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider != nil {
		return c.provider.Close()
	}
	return nil
}

func (c *Client) activeProvider() (provider.Provider, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider, c.providerName
}

// pipeline snapshots the active provider and attached caches.
func (c *Client) pipeline() (provider.Provider, string, *semcache.Cache, *session.Cache) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider, c.providerName, c.semantic, c.sessions
}

// resolveSessionContext attaches a live external cache handle to the request
// when the active provider supports context caching and the session carries
// one. Failures here degrade to an uncontextualized call.
func (c *Client) resolveSessionContext(ctx context.Context, prov provider.Provider, sessions *session.Cache, req *types.CompletionRequest) {
	if sessions == nil || req.SessionKey == "" {
		return
	}
	if _, ok := provider.AsContextCacher(prov); !ok {
		return
	}
	sess, err := sessions.Get(ctx, req.SessionKey)
	if err != nil {
		c.logger.Warn("context session resolve failed", "session_key", req.SessionKey, "error", err)
		return
	}
	if sess != nil && sess.ExternalCache.Live(time.Now()) {
		req.ContextCacheID = sess.ExternalCache.ID
	}
}

func (c *Client) executeWithRetry(ctx context.Context, prov provider.Provider, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryBackoff(attempt)):
			}
		}

		resp, err := prov.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !llmerr.IsRetryable(err) {
			return nil, err
		}
		c.logger.Debug("retrying transient provider failure", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// retryBackoff computes the delay before retry attempt n (1-based):
// exponential growth from the configured base, capped, with optional jitter.
func (c *Client) retryBackoff(attempt int) time.Duration {
	backoff := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
	if c.config.RetryMaxBackoff > 0 && backoff > c.config.RetryMaxBackoff {
		backoff = c.config.RetryMaxBackoff
	}
	if c.config.RetryJitter > 0 {
		c.backoffMu.Lock()
		f := c.backoffRand.Float64()
		c.backoffMu.Unlock()
		delta := (f*2 - 1) * c.config.RetryJitter * float64(backoff)
		backoff += time.Duration(delta)
	}
	return backoff
}

func (c *Client) buildProvider(ctx context.Context, name string) (provider.Provider, error) {
	key := c.config.Credentials[name]
	if key == "" {
		return nil, llmerr.NewConfigurationError(name, "missing API key")
	}
	return providers.Create(ctx, name, provider.Config{
		APIKey:      key,
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
	})
}

// cachePrompt is the text the semantic cache keys on: the system prompt and
// the user prompt together, since the same user prompt under a different
// system prompt is a different question.
func cachePrompt(req *types.CompletionRequest) string {
	if req.SystemPrompt == "" {
		return req.Prompt
	}
	return req.SystemPrompt + "\n" + req.Prompt
}

func isJSONObject(s string) bool {
	var obj map[string]any
	return json.Unmarshal([]byte(s), &obj) == nil
}

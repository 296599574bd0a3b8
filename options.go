package aicore

import (
	"log/slog"
	"time"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/semcache"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/session"
)

// ClientConfig holds all configuration for the Client.
type ClientConfig struct {
	// Provider explicitly selects the active provider. Empty means pick the
	// first provider in preference order with a configured credential.
	Provider string

	// Credentials maps provider name to API key.
	Credentials map[string]string

	// Model overrides the provider's default completion model.
	Model string

	// Temperature is the default sampling temperature. Nil means provider
	// default.
	Temperature *float32

	// Retry tuning for transient provider failures.
	RetryCount      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	RetryJitter     float64

	// JSONRetryCount bounds how many times CompleteJSON re-issues the
	// provider call when the result is not a well-formed JSON object.
	JSONRetryCount int

	// Caches. Nil disables the corresponding pipeline step.
	SemanticCache *semcache.Cache
	SessionCache  *session.Cache

	// Logging
	Logger *slog.Logger
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Credentials:     make(map[string]string),
		RetryCount:      3,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 10 * time.Second,
		RetryJitter:     0.2,
		JSONRetryCount:  2,
		Logger:          slog.Default(),
	}
}

// WithCredential configures the API key for a provider.
func WithCredential(providerName, apiKey string) Option {
	return func(c *ClientConfig) {
		c.Credentials[providerName] = apiKey
	}
}

// WithProvider explicitly selects the active provider. Construction fails
// if its credential is not configured.
func WithProvider(name string) Option {
	return func(c *ClientConfig) {
		c.Provider = name
	}
}

// WithModel overrides the provider's default completion model.
func WithModel(model string) Option {
	return func(c *ClientConfig) {
		c.Model = model
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *ClientConfig) {
		c.Temperature = &t
	}
}

// WithRetry configures retry behavior for transient provider failures.
// count is the number of retry attempts (0 disables retries); backoff is the
// initial delay, grown exponentially per attempt.
func WithRetry(count int, backoff time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryCount = count
		c.RetryBackoff = backoff
	}
}

// WithRetryMaxBackoff caps the retry backoff. Use 0 to disable the cap.
func WithRetryMaxBackoff(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryMaxBackoff = d
	}
}

// WithRetryJitter sets the jitter ratio for retries (0.0 - 1.0).
func WithRetryJitter(jitter float64) Option {
	return func(c *ClientConfig) {
		c.RetryJitter = jitter
	}
}

// WithJSONRetryCount bounds CompleteJSON's re-issue attempts.
func WithJSONRetryCount(count int) Option {
	return func(c *ClientConfig) {
		c.JSONRetryCount = count
	}
}

// WithSemanticCache enables the semantic response cache pipeline step.
func WithSemanticCache(cache *semcache.Cache) Option {
	return func(c *ClientConfig) {
		c.SemanticCache = cache
	}
}

// WithSessionCache enables the context session pipeline step.
func WithSessionCache(cache *session.Cache) Option {
	return func(c *ClientConfig) {
		c.SessionCache = cache
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

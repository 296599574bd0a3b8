// Package providers is the registry of built-in LLM provider factories.
// The client resolves provider names through it; applications can register
// additional providers before constructing a client.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/provider"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/providers/gemini"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/providers/openai"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]provider.Factory{
		openai.ProviderName: openai.NewFromConfig,
		gemini.ProviderName: gemini.NewFromConfig,
	}
)

// PreferenceOrder is the fixed order in which providers are tried when no
// explicit provider is requested.
var PreferenceOrder = []string{openai.ProviderName, gemini.ProviderName}

// Register registers a provider factory under the given name.
func Register(name string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get returns the factory registered under name.
func Get(name string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Create constructs a provider instance by name.
func Create(ctx context.Context, name string, cfg provider.Config) (provider.Provider, error) {
	factory, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", name, List())
	}
	return factory(ctx, cfg)
}

// List returns all registered provider names.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

package aicore

import (
	"context"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/internal/config"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/semcache"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/session"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/store"
)

// NewFromConfigFile builds a fully wired client from a YAML config file plus
// environment overrides: it opens the durable store, constructs the client
// from the configured credentials, and attaches the semantic response cache
// and the context session cache. The returned DB is owned by the caller and
// must be closed after the client.
func NewFromConfigFile(ctx context.Context, path string, extra ...Option) (*Client, *store.DB, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	opts := make([]Option, 0, len(cfg.Credentials())+4+len(extra))
	for name, key := range cfg.Credentials() {
		opts = append(opts, WithCredential(name, key))
	}
	if cfg.Provider != "" {
		opts = append(opts, WithProvider(cfg.Provider))
	}
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	if cfg.Temperature != nil {
		opts = append(opts, WithTemperature(*cfg.Temperature))
	}
	opts = append(opts, extra...)

	client, err := New(ctx, opts...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	client.AttachSemanticCache(semcache.New(client, store.NewSemanticCacheStore(db),
		semcache.WithThreshold(cfg.SemanticCacheThreshold),
		semcache.WithLogger(client.logger)))
	client.AttachSessionCache(session.New(store.NewSessionStore(db),
		session.WithCacheThreshold(cfg.ContextCacheThreshold),
		session.WithLogger(client.logger)))

	return client, db, nil
}

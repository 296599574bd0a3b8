// Package config loads the AI core settings the desktop shell passes to the
// client: provider credentials, model overrides, cache thresholds, and the
// database location. Environment variables override file values so packaged
// builds can be reconfigured without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses Go duration strings ("30m", "2h") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the on-disk configuration shape.
type Config struct {
	DBPath string `yaml:"db_path"`

	Provider    string   `yaml:"provider,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`

	OpenAIAPIKey string `yaml:"openai_api_key,omitempty"`
	GeminiAPIKey string `yaml:"gemini_api_key,omitempty"`

	SemanticCacheThreshold float64  `yaml:"semantic_cache_threshold,omitempty"`
	ContextCacheThreshold  int      `yaml:"context_cache_threshold,omitempty"`
	SessionTTL             Duration `yaml:"session_ttl,omitempty"`
}

// Load reads a YAML config file and applies environment overrides. A missing
// file is not an error; overrides alone can fully configure the core.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DBPath:                 "assistant.db",
		SemanticCacheThreshold: 0.95,
		ContextCacheThreshold:  2048,
		SessionTTL:             Duration(time.Hour),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AI_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AI_SEMANTIC_CACHE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SemanticCacheThreshold = f
		}
	}
	if v := os.Getenv("AI_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SessionTTL = Duration(d)
		}
	}
}

// Credentials returns the provider credential map the client consumes.
func (c *Config) Credentials() map[string]string {
	creds := make(map[string]string)
	if c.OpenAIAPIKey != "" {
		creds["openai"] = c.OpenAIAPIKey
	}
	if c.GeminiAPIKey != "" {
		creds["gemini"] = c.GeminiAPIKey
	}
	return creds
}

// Package gemini adapts the Google Gemini API as a provider. Gemini is the
// one built-in provider implementing the ContextCacher capability: large
// static context can be uploaded once as a CachedContent object and
// referenced by handle on later calls.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/llmerr"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/provider"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "gemini"

	// DefaultModel is used when no model is configured. Context caching
	// requires a pinned model version.
	DefaultModel = "gemini-1.5-flash-001"

	// EmbeddingModel produces the embedding vectors.
	EmbeddingModel = "text-embedding-004"
)

// Provider implements the Gemini adapter.
type Provider struct {
	client      *genai.Client
	model       string
	temperature *float32
}

// NewFromConfig creates a provider from a Config struct. A missing API key
// is a configuration error.
func NewFromConfig(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	if cfg.APIKey == "" {
		return nil, llmerr.NewConfigurationError(ProviderName, "missing API key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, llmerr.NewConfigurationError(ProviderName, fmt.Sprintf("client init: %v", err))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// Model returns the configured completion model.
func (p *Provider) Model() string {
	return p.model
}

// EmbeddingModel returns the model that produces embedding vectors.
func (p *Provider) EmbeddingModel() string {
	return EmbeddingModel
}

// Complete executes a chat completion. When the request references a live
// context cache handle, the generative model is bound to the cached content
// so the bulk context is not resent.
func (p *Provider) Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	model, err := p.generativeModel(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	} else if p.temperature != nil {
		model.SetTemperature(*p.temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.SystemPrompt != "" && req.ContextCacheID == "" {
		// A cached-content model carries its own system instruction.
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}

	chat := model.StartChat()
	for _, m := range req.History {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		chat.History = append(chat.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := chat.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, p.mapError(err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	return &types.CompletionResponse{
		Content:  text,
		Provider: ProviderName,
		Model:    p.model,
	}, nil
}

// Embed returns the embedding vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, p.mapError(err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, llmerr.NewValidationError(ProviderName, EmbeddingModel, "empty embedding response")
	}
	return res.Embedding.Values, nil
}

// CreateContextCache uploads content as a CachedContent object with the
// given ttl and returns its handle.
func (p *Provider) CreateContextCache(ctx context.Context, content string, ttl time.Duration) (*types.ContextCacheHandle, error) {
	cc, err := p.client.CreateCachedContent(ctx, &genai.CachedContent{
		Model: p.model,
		Contents: []*genai.Content{
			{Role: "user", Parts: []genai.Part{genai.Text(content)}},
		},
		Expiration: genai.ExpireTimeOrTTL{TTL: ttl},
	})
	if err != nil {
		return nil, p.mapError(err)
	}
	expires := cc.Expiration.ExpireTime
	if expires.IsZero() {
		expires = time.Now().Add(ttl)
	}
	return &types.ContextCacheHandle{ID: cc.Name, ExpiresAt: expires}, nil
}

// DeleteContextCache releases a CachedContent object. Deleting an unknown
// handle is not an error.
func (p *Provider) DeleteContextCache(ctx context.Context, handleID string) error {
	if err := p.client.DeleteCachedContent(ctx, handleID); err != nil {
		mapped := p.mapError(err)
		if llmerr.IsNotFound(mapped) {
			return nil
		}
		return mapped
	}
	return nil
}

// Close releases the underlying API client.
func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) generativeModel(ctx context.Context, req *types.CompletionRequest) (*genai.GenerativeModel, error) {
	if req.ContextCacheID == "" {
		return p.client.GenerativeModel(p.model), nil
	}
	cc, err := p.client.GetCachedContent(ctx, req.ContextCacheID)
	if err != nil {
		return nil, p.mapError(err)
	}
	return p.client.GenerativeModelFromCachedContent(cc), nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", llmerr.NewValidationError(ProviderName, DefaultModel, "empty completion response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

func (p *Provider) mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llmerr.NewConfigurationError(ProviderName, apiErr.Message)
		case http.StatusTooManyRequests:
			return llmerr.NewRateLimitError(ProviderName, p.model, apiErr.Message)
		case http.StatusNotFound:
			return llmerr.NewNotFoundError(apiErr.Message)
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return llmerr.NewServiceUnavailableError(ProviderName, p.model, apiErr.Message)
		}
		return llmerr.NewInternalError(ProviderName, p.model, apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerr.NewTimeoutError(ProviderName, p.model, err.Error())
	}
	return llmerr.NewServiceUnavailableError(ProviderName, p.model, fmt.Sprintf("request failed: %v", err))
}

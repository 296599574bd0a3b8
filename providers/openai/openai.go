// Package openai adapts the OpenAI API as a provider. It serves as the
// reference implementation for other provider adapters. OpenAI does not
// expose provider-hosted context caching, so this provider intentionally
// does not implement the ContextCacher capability.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/llmerr"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/provider"
	"github.com/thomasbcox/thomas-writing-assistant-sub003/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openai"

	// DefaultModel is used when no model is configured.
	DefaultModel = goopenai.GPT4oMini

	// EmbeddingModel produces the embedding vectors.
	EmbeddingModel = goopenai.SmallEmbedding3
)

// Provider implements the OpenAI adapter.
type Provider struct {
	client      *goopenai.Client
	model       string
	temperature *float32
}

// NewFromConfig creates a provider from a Config struct. A missing API key
// is a configuration error.
func NewFromConfig(_ context.Context, cfg provider.Config) (provider.Provider, error) {
	if cfg.APIKey == "" {
		return nil, llmerr.NewConfigurationError(ProviderName, "missing API key")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		client:      goopenai.NewClient(cfg.APIKey),
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
	return string(EmbeddingModel)
}

// Complete executes a chat completion.
func (p *Provider) Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.History {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	ccr := goopenai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		ccr.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		ccr.Temperature = *req.Temperature
	} else if p.temperature != nil {
		ccr.Temperature = *p.temperature
	}

	resp, err := p.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llmerr.NewValidationError(ProviderName, p.model, "empty completion response")
	}

	return &types.CompletionResponse{
		Content:  resp.Choices[0].Message.Content,
		Provider: ProviderName,
		Model:    p.model,
	}, nil
}

// Embed returns the embedding vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: EmbeddingModel,
	})
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Data) == 0 {
		return nil, llmerr.NewValidationError(ProviderName, string(EmbeddingModel), "empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// Close releases provider resources. The OpenAI client holds none.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llmerr.NewConfigurationError(ProviderName, apiErr.Message)
		case http.StatusTooManyRequests:
			return llmerr.NewRateLimitError(ProviderName, p.model, apiErr.Message)
		case http.StatusRequestTimeout:
			return llmerr.NewTimeoutError(ProviderName, p.model, apiErr.Message)
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return llmerr.NewServiceUnavailableError(ProviderName, p.model, apiErr.Message)
		case http.StatusNotFound:
			return llmerr.NewNotFoundError(apiErr.Message)
		}
		return llmerr.NewInternalError(ProviderName, p.model, apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerr.NewTimeoutError(ProviderName, p.model, err.Error())
	}
	return llmerr.NewServiceUnavailableError(ProviderName, p.model, fmt.Sprintf("request failed: %v", err))
}

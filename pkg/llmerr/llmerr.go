// Package llmerr defines the unified error taxonomy for AI core operations.
// Provider-specific errors are mapped to these standard types so callers can
// make retry decisions without knowing which provider produced the failure.
package llmerr

import (
	"errors"
	"fmt"
)

// Error type constants.
const (
	TypeConfiguration      = "configuration_error"
	TypeRateLimit          = "rate_limit_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeValidation         = "validation_error"
	TypeNotFound           = "not_found_error"
	TypeInternal           = "internal_error"
)

// LLMError is a standardized error from an LLM provider or core component.
type LLMError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Retryable bool   `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, model=%s)", e.Type, e.Message, e.Provider, e.Model)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// NewConfigurationError reports a missing or invalid credential. Never retried.
func NewConfigurationError(provider, message string) *LLMError {
	return &LLMError{
		Type:      TypeConfiguration,
		Message:   message,
		Provider:  provider,
		Retryable: false,
	}
}

// NewRateLimitError reports a provider rate limit. Retryable.
func NewRateLimitError(provider, model, message string) *LLMError {
	return &LLMError{
		Type:      TypeRateLimit,
		Message:   message,
		Provider:  provider,
		Model:     model,
		Retryable: true,
	}
}

// NewTimeoutError reports a provider timeout. Retryable.
func NewTimeoutError(provider, model, message string) *LLMError {
	return &LLMError{
		Type:      TypeTimeout,
		Message:   message,
		Provider:  provider,
		Model:     model,
		Retryable: true,
	}
}

// NewServiceUnavailableError reports a transient provider outage. Retryable.
func NewServiceUnavailableError(provider, model, message string) *LLMError {
	return &LLMError{
		Type:      TypeServiceUnavailable,
		Message:   message,
		Provider:  provider,
		Model:     model,
		Retryable: true,
	}
}

// NewValidationError reports a malformed request or payload, including a
// completion that was requested as JSON but did not parse. Not retried; the
// JSON pipeline re-issues the request itself when that makes sense.
func NewValidationError(provider, model, message string) *LLMError {
	return &LLMError{
		Type:      TypeValidation,
		Message:   message,
		Provider:  provider,
		Model:     model,
		Retryable: false,
	}
}

// NewNotFoundError reports an unknown entity (concept, model). Never retried.
func NewNotFoundError(message string) *LLMError {
	return &LLMError{
		Type:      TypeNotFound,
		Message:   message,
		Retryable: false,
	}
}

// NewInternalError reports an unclassified failure. Not retried.
func NewInternalError(provider, model, message string) *LLMError {
	return &LLMError{
		Type:      TypeInternal,
		Message:   message,
		Provider:  provider,
		Model:     model,
		Retryable: false,
	}
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	var le *LLMError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsType reports whether err is an LLMError of the given type.
func IsType(err error, errType string) bool {
	var le *LLMError
	if errors.As(err, &le) {
		return le.Type == errType
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsType(err, TypeNotFound)
}

// IsConfiguration reports whether err is a credential/configuration error.
func IsConfiguration(err error) bool {
	return IsType(err, TypeConfiguration)
}

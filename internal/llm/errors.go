package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrModelUnavailable is returned when every configured model failed. The
// pipeline treats it as a per-subject failure.
var ErrModelUnavailable = errors.New("model unavailable")

// Error categories for a single provider call.
var (
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrModelNotFound      = errors.New("model not found")
	ErrFeatureUnsupported = errors.New("model feature unsupported")
	ErrContentTooLong     = errors.New("content too long for model")
	ErrProviderError      = errors.New("provider error")
)

// LLMError is a classified failure of one provider call.
type LLMError struct {
	Err        error
	StatusCode int
	Provider   string
	Model      string
	RawMessage string
	Category   string

	// Retryable means the same model may succeed if called again.
	Retryable bool
	// ShouldFallback means the next model in the chain should be tried.
	ShouldFallback bool
}

func (e *LLMError) Error() string {
	msg := fmt.Sprintf("%s/%s: %s", e.Provider, e.Model, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.RawMessage != "" {
		msg += ": " + truncate(e.RawMessage, 300)
	}
	return msg
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// ClassifyError turns a failed call into an LLMError.
func ClassifyError(err error, provider, model string, statusCode int) *LLMError {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())
	llmErr := &LLMError{
		Err:        err,
		StatusCode: statusCode,
		Provider:   provider,
		Model:      model,
		RawMessage: err.Error(),
	}

	// Message patterns that override the status code; 400 covers many causes.
	if containsFeatureUnsupported(errStr) {
		llmErr.Err = ErrFeatureUnsupported
		llmErr.Category = "model_unsupported"
		llmErr.ShouldFallback = true
		return llmErr
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		llmErr.Err = ErrRateLimited
		llmErr.Category = "rate_limit"
		llmErr.Retryable = true
		llmErr.ShouldFallback = true

	case http.StatusPaymentRequired:
		llmErr.Err = ErrProviderError
		llmErr.Category = "quota_exceeded"
		llmErr.ShouldFallback = true

	case http.StatusUnauthorized, http.StatusForbidden:
		llmErr.Err = ErrInvalidAPIKey
		llmErr.Category = "invalid_key"
		// Other models share the same key.
		llmErr.ShouldFallback = false

	case http.StatusNotFound:
		llmErr.Err = ErrModelNotFound
		llmErr.Category = "model_unsupported"
		llmErr.ShouldFallback = true

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusInternalServerError:
		llmErr.Err = ErrProviderError
		llmErr.Category = "provider_error"
		llmErr.Retryable = true
		llmErr.ShouldFallback = true

	default:
		classifyByMessage(llmErr, errStr)
	}

	return llmErr
}

func containsFeatureUnsupported(errStr string) bool {
	patterns := []string{
		"response_format is not supported",
		"response_format not supported",
		"json mode not supported",
		"does not support response_format",
		"does not support image",
		"image input is not supported",
		"vision is not supported",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

func classifyByMessage(llmErr *LLMError, errStr string) {
	switch {
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "ratelimit"):
		llmErr.Err = ErrRateLimited
		llmErr.Category = "rate_limit"
		llmErr.Retryable = true
		llmErr.ShouldFallback = true

	case strings.Contains(errStr, "overloaded") || strings.Contains(errStr, "capacity"):
		llmErr.Err = ErrProviderError
		llmErr.Category = "provider_error"
		llmErr.Retryable = true
		llmErr.ShouldFallback = true

	case strings.Contains(errStr, "model not found") || strings.Contains(errStr, "invalid model") ||
		strings.Contains(errStr, "does not exist"):
		llmErr.Err = ErrModelNotFound
		llmErr.Category = "model_unsupported"
		llmErr.ShouldFallback = true

	case strings.Contains(errStr, "invalid api key") || strings.Contains(errStr, "incorrect api key") ||
		strings.Contains(errStr, "authentication"):
		llmErr.Err = ErrInvalidAPIKey
		llmErr.Category = "invalid_key"

	case strings.Contains(errStr, "context") && strings.Contains(errStr, "length"),
		strings.Contains(errStr, "too many tokens"):
		llmErr.Err = ErrContentTooLong
		llmErr.Category = "content_too_long"
		// A model with a larger window may accept it.
		llmErr.ShouldFallback = true

	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") || strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "eof"):
		llmErr.Err = ErrProviderError
		llmErr.Category = "timeout"
		llmErr.Retryable = true
		llmErr.ShouldFallback = true

	default:
		llmErr.Err = ErrProviderError
		llmErr.Category = "unknown"
		llmErr.ShouldFallback = true
	}
}

// IsRetryable reports whether err is a retryable LLMError.
func IsRetryable(err error) bool {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

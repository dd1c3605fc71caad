// Package llm sends page content to a language model and returns the
// candidate record recovered from its reply.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jmylchreest/refyne-harvest/internal/version"
)

// API formats.
const (
	FormatOpenAI    = "openai"
	FormatAnthropic = "anthropic"
	FormatOllama    = "ollama"
)

// Retry and fallback defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	BackoffMultiplier     = 2.0
	DefaultRateLimitWait  = 5 * time.Second
	DefaultFallbackDelay  = 1 * time.Second
	DefaultTemperature    = 0.2
	DefaultMaxTokens      = 2000
	DefaultTimeout        = 120 * time.Second
	anthropicVersion      = "2023-06-01"
	defaultOllamaBaseURL  = "http://localhost:11434"
	defaultImageMediaType = "image/png"
	openRouterReferer     = "https://github.com/jmylchreest/refyne-harvest"
	openRouterTitle       = "refyne-harvest"
	defaultOpenAIBaseURL  = "https://api.openai.com"
	defaultOpenRouterURL  = "https://openrouter.ai/api"
	defaultAnthropicURL   = "https://api.anthropic.com"
	openAIChatEndpoint    = "/v1/chat/completions"
	anthropicChatEndpoint = "/v1/messages"
	ollamaChatEndpoint    = "/api/chat"
)

// Options configures a Client.
type Options struct {
	Provider       string // openai, openrouter, anthropic, ollama
	Model          string
	FallbackModels []string
	APIKey         string
	BaseURL        string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RateLimitWait  time.Duration
	FallbackDelay  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Provider == "" {
		o.Provider = "openai"
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialBackoff == 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.RateLimitWait == 0 {
		o.RateLimitWait = DefaultRateLimitWait
	}
	if o.FallbackDelay == 0 {
		o.FallbackDelay = DefaultFallbackDelay
	}
}

// Message is one chat message. Images are sent alongside Text.
type Message struct {
	Role      string // system, user, assistant
	Text      string
	Images    [][]byte
	MediaType string // of Images; defaults to image/png
}

// Request is a single completion request.
type Request struct {
	Messages []Message
	JSONMode bool
}

// Result is a completion plus token usage.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
	FinishReason string // "length" means the output was truncated
	Model        string
}

// IsTruncated reports whether the output hit the token limit.
func (r *Result) IsTruncated() bool {
	return r.FinishReason == "length"
}

// Client calls a chat-completion API with retry and model fallback.
type Client struct {
	http   *resty.Client
	opts   Options
	logger *slog.Logger
}

// NewClient creates a client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	opts.applyDefaults()

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", version.UserAgent())

	return &Client{
		http:   client,
		opts:   opts,
		logger: logger.With("component", "llm", "provider", opts.Provider),
	}
}

// Models returns the primary model followed by the fallbacks.
func (c *Client) Models() []string {
	models := make([]string, 0, 1+len(c.opts.FallbackModels))
	if c.opts.Model != "" {
		models = append(models, c.opts.Model)
	}
	for _, m := range c.opts.FallbackModels {
		if m != "" && m != c.opts.Model {
			models = append(models, m)
		}
	}
	return models
}

// Complete sends req to each model in turn. Retryable errors are retried on
// the same model with exponential backoff; errors that allow fallback move on
// to the next model. When every model fails the error matches
// ErrModelUnavailable.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	models := c.Models()
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no model configured", ErrModelUnavailable)
	}

	var lastErr error
	for i, model := range models {
		if i > 0 {
			c.logger.Info("falling back to next model", "model", model, "previous_error", lastErr)
			if err := sleep(ctx, c.opts.FallbackDelay); err != nil {
				return nil, err
			}
		}

		result, err := c.completeWithRetry(ctx, model, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		var llmErr *LLMError
		if errors.As(err, &llmErr) && !llmErr.ShouldFallback {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, lastErr)
}

func (c *Client) completeWithRetry(ctx context.Context, model string, req Request) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		result, err := c.call(ctx, model, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) || attempt == c.opts.MaxAttempts {
			break
		}

		wait := c.backoff(attempt, err)
		c.logger.Warn("retrying LLM call",
			"model", model,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoff returns the delay before retry number attempt (1-based).
func (c *Client) backoff(attempt int, err error) time.Duration {
	base := c.opts.InitialBackoff
	if errors.Is(err, ErrRateLimited) && c.opts.RateLimitWait > base {
		base = c.opts.RateLimitWait
	}
	d := time.Duration(float64(base) * math.Pow(BackoffMultiplier, float64(attempt-1)))
	if d > c.opts.MaxBackoff {
		d = c.opts.MaxBackoff
	}
	return d
}

func (c *Client) call(ctx context.Context, model string, req Request) (*Result, error) {
	format := apiFormat(c.opts.Provider)
	body := c.buildBody(format, model, req)
	url := c.apiURL(format)

	c.logger.Debug("making LLM API request",
		"model", model,
		"api_url", url,
		"messages", len(req.Messages),
		"max_tokens", c.opts.MaxTokens,
	)

	r := c.http.R().SetContext(ctx).SetBody(body)
	c.setAuthHeaders(r)

	res, err := r.Post(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ClassifyError(fmt.Errorf("request failed: %w", err), c.opts.Provider, model, 0)
	}

	c.logger.Debug("LLM API response received",
		"model", model,
		"status_code", res.StatusCode(),
		"response_length", len(res.Body()),
	)

	if res.IsError() {
		return nil, ClassifyError(
			fmt.Errorf("API error (status %d): %s", res.StatusCode(), string(res.Body())),
			c.opts.Provider, model, res.StatusCode())
	}

	result, err := ParseResponse(format, res.Body())
	if err != nil {
		return nil, ClassifyError(err, c.opts.Provider, model, res.StatusCode())
	}
	result.Model = model

	if result.IsTruncated() {
		c.logger.Warn("LLM output truncated",
			"model", model,
			"output_tokens", result.OutputTokens,
			"max_tokens", c.opts.MaxTokens,
		)
	}
	return result, nil
}

func apiFormat(provider string) string {
	switch provider {
	case "anthropic":
		return FormatAnthropic
	case "ollama":
		return FormatOllama
	default:
		return FormatOpenAI
	}
}

func (c *Client) apiURL(format string) string {
	base := strings.TrimRight(c.opts.BaseURL, "/")
	switch format {
	case FormatAnthropic:
		if base == "" {
			base = defaultAnthropicURL
		}
		return base + anthropicChatEndpoint
	case FormatOllama:
		if base == "" {
			base = defaultOllamaBaseURL
		}
		return base + ollamaChatEndpoint
	default:
		if base == "" {
			base = defaultOpenAIBaseURL
			if c.opts.Provider == "openrouter" {
				base = defaultOpenRouterURL
			}
		}
		return base + openAIChatEndpoint
	}
}

func (c *Client) setAuthHeaders(r *resty.Request) {
	switch c.opts.Provider {
	case "anthropic":
		r.SetHeader("x-api-key", c.opts.APIKey)
		r.SetHeader("anthropic-version", anthropicVersion)
	case "ollama":
		if c.opts.APIKey != "" {
			r.SetAuthToken(c.opts.APIKey)
		}
	case "openrouter":
		r.SetAuthToken(c.opts.APIKey)
		r.SetHeader("HTTP-Referer", openRouterReferer)
		r.SetHeader("X-Title", openRouterTitle)
	default:
		r.SetAuthToken(c.opts.APIKey)
	}
}

func (c *Client) buildBody(format, model string, req Request) map[string]any {
	switch format {
	case FormatAnthropic:
		return c.anthropicBody(model, req)
	case FormatOllama:
		return c.ollamaBody(model, req)
	default:
		return c.openAIBody(model, req)
	}
}

func mediaType(m Message) string {
	if m.MediaType != "" {
		return m.MediaType
	}
	return defaultImageMediaType
}

func (c *Client) openAIBody(model string, req Request) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.Images) == 0 {
			messages = append(messages, map[string]any{"role": m.Role, "content": m.Text})
			continue
		}
		parts := []map[string]any{{"type": "text", "text": m.Text}}
		for _, img := range m.Images {
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]string{
					"url": "data:" + mediaType(m) + ";base64," + base64.StdEncoding.EncodeToString(img),
				},
			})
		}
		messages = append(messages, map[string]any{"role": m.Role, "content": parts})
	}

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": c.opts.Temperature,
		"max_tokens":  c.opts.MaxTokens,
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	return body
}

func (c *Client) anthropicBody(model string, req Request) map[string]any {
	var system []string
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Text)
			continue
		}
		parts := make([]map[string]any, 0, 1+len(m.Images))
		for _, img := range m.Images {
			parts = append(parts, map[string]any{
				"type": "image",
				"source": map[string]string{
					"type":       "base64",
					"media_type": mediaType(m),
					"data":       base64.StdEncoding.EncodeToString(img),
				},
			})
		}
		parts = append(parts, map[string]any{"type": "text", "text": m.Text})
		messages = append(messages, map[string]any{"role": m.Role, "content": parts})
	}

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": c.opts.Temperature,
		"max_tokens":  c.opts.MaxTokens,
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	return body
}

func (c *Client) ollamaBody(model string, req Request) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{"role": m.Role, "content": m.Text}
		if len(m.Images) > 0 {
			images := make([]string, len(m.Images))
			for i, img := range m.Images {
				images[i] = base64.StdEncoding.EncodeToString(img)
			}
			msg["images"] = images
		}
		messages = append(messages, msg)
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"temperature": c.opts.Temperature,
			"num_predict": c.opts.MaxTokens,
		},
	}
	if req.JSONMode {
		body["format"] = "json"
	}
	return body
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

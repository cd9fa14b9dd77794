package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/resilience"
)

// Generator produces a completion for a system/user prompt pair.
type Generator interface {
	Generate(ctx context.Context, system, user string, opts ...GenerateOption) (string, error)
}

// GenerateOption adjusts a single request.
type GenerateOption func(*ChatRequest)

// WithTemperature overrides the client temperature for one call.
func WithTemperature(t float64) GenerateOption {
	return func(r *ChatRequest) { r.Temperature = t }
}

// WithMaxTokens overrides the client token limit for one call.
func WithMaxTokens(n int) GenerateOption {
	return func(r *ChatRequest) {
		if n > 0 {
			r.MaxTokens = n
		}
	}
}

// WithThinking overrides the reasoning toggle for one call. Nil keeps the
// client default.
func WithThinking(enable *bool) GenerateOption {
	return func(r *ChatRequest) {
		if enable != nil {
			r.EnableThinking = enable
		}
	}
}

// Client wraps a Provider with request defaults, rate limiting and
// bounded exponential-backoff retries. Every failure is retried.
type Client struct {
	provider       Provider
	model          string
	temperature    float64
	maxTokens      int
	enableThinking *bool
	retry          resilience.RetryConfig
	limiter        *rate.Limiter
	logger         *slog.Logger
	onRetry        func(ctx context.Context, attempt int, err error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDefaults sets the default temperature and token limit.
func WithDefaults(temperature float64, maxTokens int) ClientOption {
	return func(c *Client) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// WithEnableThinking sets the default reasoning toggle.
func WithEnableThinking(enable *bool) ClientOption {
	return func(c *Client) { c.enableThinking = enable }
}

// WithRetry configures the retry policy: maxAttempts total attempts with
// delays growing from interval up to maxInterval.
func WithRetry(maxAttempts int, interval, maxInterval time.Duration) ClientOption {
	return func(c *Client) {
		c.retry = resilience.RetryConfig{
			MaxAttempts:   maxAttempts,
			InitialDelay:  interval,
			MaxDelay:      maxInterval,
			Multiplier:    2,
			IsRecoverable: resilience.Always,
		}
	}
}

// WithRateLimit caps requests per second. Zero or less disables it.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryHook is called for each retried attempt, e.g. to count retries.
func WithRetryHook(fn func(ctx context.Context, attempt int, err error)) ClientOption {
	return func(c *Client) { c.onRetry = fn }
}

// NewClient creates a retrying client for model on top of provider.
func NewClient(provider Provider, model string, opts ...ClientOption) *Client {
	c := &Client{
		provider:    provider,
		model:       model,
		temperature: 0.3,
		maxTokens:   1024,
		logger:      slog.Default(),
	}
	WithRetry(3, time.Second, 30*time.Second)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends one system/user exchange and returns the raw text.
func (c *Client) Generate(ctx context.Context, system, user string, opts ...GenerateOption) (string, error) {
	req := ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		EnableThinking: c.enableThinking,
	}
	for _, opt := range opts {
		opt(&req)
	}

	policy := c.retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		c.logger.WarnContext(ctx, "generation call failed, retrying",
			"attempt", attempt, "max_attempts", c.retry.MaxAttempts, "delay", delay, "error", err)
		if c.onRetry != nil {
			c.onRetry(ctx, attempt, err)
		}
	})

	resp, err := resilience.DoValue(ctx, policy, func() (*ChatResponse, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return c.provider.Chat(ctx, req)
	})
	if err != nil {
		return "", errors.New(errors.CodeLLMError,
			fmt.Sprintf("generation failed after %d attempts", c.retry.MaxAttempts), err).
			WithAttribute("model", c.model)
	}
	c.logger.DebugContext(ctx, "generation completed",
		"model", c.model, "prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return resp.Content, nil
}

var _ Generator = (*Client)(nil)

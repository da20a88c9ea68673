package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// extractionSystemPrompt keeps model-backed extractors on the JSON-only path.
const extractionSystemPrompt = "You extract structured facts from personal notes. Respond with valid JSON only, never prose."

// AnthropicConfig holds Anthropic extractor configuration.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required)
	APIKey string

	// Model is the model name (default: claude-haiku-4-5-20251001)
	Model string

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// RequestsPerMinute throttles outbound calls (default: 30)
	RequestsPerMinute int

	// MaxTokens caps the response size (default: 1024)
	MaxTokens int64
}

// AnthropicExtractor extracts entities and relations using the Anthropic
// Messages API. Calls are throttled client-side and wrapped with circuit
// breaker protection so a degraded API never backs up the worker pool.
type AnthropicExtractor struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	limiter   *rate.Limiter
	breaker   *CircuitBreaker
}

// NewAnthropicExtractor creates an Anthropic-backed extractor.
func NewAnthropicExtractor(config AnthropicConfig) *AnthropicExtractor {
	if config.Model == "" {
		config.Model = "claude-haiku-4-5-20251001"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))

	return &AnthropicExtractor{
		client:    &client,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		timeout:   config.Timeout,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		breaker:   NewCircuitBreaker("anthropic"),
	}
}

// Extract sends the extraction prompt and parses the JSON response.
// Blocks on the rate limiter first so burst ingestion cannot exceed the
// configured requests per minute.
func (c *AnthropicExtractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("anthropic rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, ExtractionPrompt(text))
	})

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("anthropic circuit breaker open: %w", err)
		}
		return nil, err
	}

	return ParseExtraction(result.(string))
}

// complete is the internal Messages API call without circuit breaker wrapping
func (c *AnthropicExtractor) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic returned no text content")
	}

	return sb.String(), nil
}

// GetModel returns the configured model name.
func (c *AnthropicExtractor) GetModel() string {
	return c.model
}

// BreakerState reports the circuit breaker state for health endpoints.
func (c *AnthropicExtractor) BreakerState() string {
	return c.breaker.State()
}

var _ Extractor = (*AnthropicExtractor)(nil)

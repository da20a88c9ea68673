package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model used for extraction completions (default: qwen2.5:7b)
	Model string

	// EmbedModel is the model used for embeddings (default: nomic-embed-text)
	EmbedModel string

	// Dimensions is the expected embedding width (default: 768, matching
	// nomic-embed-text). Responses with a different width are rejected.
	Dimensions int

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration
}

// OllamaClient talks to a local Ollama server for extraction and embeddings.
// All HTTP calls are wrapped with circuit breaker protection.
type OllamaClient struct {
	baseURL    string
	client     *http.Client
	breaker    *CircuitBreaker
	model      string
	embedModel string
	dimensions int
	timeout    time.Duration
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse carries a 2D array; we always use the first embedding.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates an Ollama client with the given configuration,
// filling in defaults for any zero fields.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 768
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		breaker:    NewCircuitBreaker("ollama"),
		model:      config.Model,
		embedModel: config.EmbedModel,
		dimensions: config.Dimensions,
		timeout:    config.Timeout,
	}
}

// Extract sends the extraction prompt to /api/generate and parses the JSON
// response into candidates.
func (c *OllamaClient) Extract(ctx context.Context, text string) (*Extraction, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, ExtractionPrompt(text))
	})

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}

	return ParseExtraction(result.(string))
}

// complete is the internal /api/generate call without circuit breaker wrapping
func (c *OllamaClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return respData.Response, nil
}

// Embed generates an embedding for the given text via /api/embed.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, text)
	})

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}

	return result.([]float32), nil
}

// embed is the internal /api/embed call without circuit breaker wrapping
func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := embedRequest{
		Model: c.embedModel,
		Input: text,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding vector")
	}
	if len(respData.Embeddings[0]) != c.dimensions {
		return nil, fmt.Errorf("ollama returned %d-dimensional embedding, want %d", len(respData.Embeddings[0]), c.dimensions)
	}

	return respData.Embeddings[0], nil
}

// Dimensions returns the configured embedding width.
func (c *OllamaClient) Dimensions() int {
	return c.dimensions
}

// HealthCheck verifies that Ollama is reachable via /api/version.
// It bypasses the circuit breaker since it is itself a health probe.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// GetModel returns the configured extraction model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// BreakerState reports the circuit breaker state for health endpoints.
func (c *OllamaClient) BreakerState() string {
	return c.breaker.State()
}

// Compile-time assertions that OllamaClient satisfies both contracts.
var _ Extractor = (*OllamaClient)(nil)
var _ Embedder = (*OllamaClient)(nil)

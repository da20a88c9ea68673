package extract

import "fmt"

// Options selects and configures the extraction and embedding backends.
type Options struct {
	// Provider picks the extractor: "rules" (default), "anthropic", "ollama"
	Provider string

	// EmbedProvider picks the embedder: "none" (default), "hash", "ollama"
	EmbedProvider string

	// AnthropicAPIKey is required when Provider is "anthropic"
	AnthropicAPIKey string

	// Model overrides the provider's default extraction model
	Model string

	// OllamaBaseURL overrides the default http://localhost:11434
	OllamaBaseURL string

	// EmbedModel overrides the provider's default embedding model
	EmbedModel string

	// EmbedDimensions is the embedding width (provider default when 0)
	EmbedDimensions int
}

// NewExtractor creates the extractor for the configured provider.
func NewExtractor(opts Options) (Extractor, error) {
	switch opts.Provider {
	case "anthropic":
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic extractor requires an API key")
		}
		return NewAnthropicExtractor(AnthropicConfig{APIKey: opts.AnthropicAPIKey, Model: opts.Model}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    opts.OllamaBaseURL,
			Model:      opts.Model,
			EmbedModel: opts.EmbedModel,
			Dimensions: opts.EmbedDimensions,
		}), nil
	case "rules", "":
		return NewRuleExtractor(), nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %q", opts.Provider)
	}
}

// NewEmbedder creates the embedder for the configured provider.
// Returns (nil, nil) when embeddings are disabled; callers fall back to
// substring search.
func NewEmbedder(opts Options) (Embedder, error) {
	switch opts.EmbedProvider {
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:    opts.OllamaBaseURL,
			EmbedModel: opts.EmbedModel,
			Dimensions: opts.EmbedDimensions,
		}), nil
	case "hash":
		return NewHashEmbedder(opts.EmbedDimensions), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", opts.EmbedProvider)
	}
}

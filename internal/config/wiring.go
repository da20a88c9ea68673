package config

import (
	"fmt"
	"time"

	"github.com/memvault/memvault/internal/consent"
	"github.com/memvault/memvault/internal/engine"
	"github.com/memvault/memvault/internal/extract"
)

// EngineConfig maps the pipeline settings and limits onto an engine
// configuration. Knobs the configuration does not govern, such as the
// origin confidence seeds, keep the engine defaults.
func (c *Config) EngineConfig() (engine.Config, error) {
	eng := engine.DefaultConfig()

	eng.NumWorkers = c.Pipeline.NumWorkers
	eng.QueueSize = c.Pipeline.QueueSize
	shutdown, err := time.ParseDuration(c.Pipeline.ShutdownTimeout)
	if err != nil {
		return engine.Config{}, fmt.Errorf("config: pipeline.shutdown_timeout: %w", err)
	}
	eng.ShutdownTimeout = shutdown

	return c.Limits.EngineConfig(eng)
}

// EngineConfig overlays the limits onto an engine configuration.
func (l *Limits) EngineConfig(eng engine.Config) (engine.Config, error) {
	eng.Dedup.FuzzyThreshold = l.FuzzyDedupThreshold
	eng.Dedup.SemanticThreshold = l.SemanticDedupThreshold
	eng.Dedup.SemanticEnabled = l.SemanticDedupEnabled

	eng.Quality.AccessBoost = l.AccessBoost
	eng.Quality.ReinforceBoost = l.ReinforceBoost
	eng.Quality.ConfidenceCap = l.ConfidenceCap
	eng.Quality.DecayFloor = l.ConfidenceFloor
	eng.Quality.DecayMinDelta = l.DecayMinDelta
	halfLife, err := l.HalfLife()
	if err != nil {
		return engine.Config{}, err
	}
	eng.Quality.DecayHalfLife = halfLife

	eng.Graph.DefaultTraverseDepth = l.DefaultTraverseDepth
	eng.Graph.MaxTraverseDepth = l.MaxTraverseDepth
	eng.Graph.DefaultPathDepth = l.DefaultPathDepth
	eng.Graph.MaxPathDepth = l.MaxPathDepth

	eng.Search.MinSimilarity = l.SemanticSearchThreshold

	return eng, nil
}

// AuthorityConfig maps the consent section onto the consent authority
// configuration.
func (c *Config) AuthorityConfig() (consent.Config, error) {
	ttl, err := time.ParseDuration(c.Consent.CacheTTL)
	if err != nil {
		return consent.Config{}, fmt.Errorf("config: consent.cache_ttl: %w", err)
	}
	return consent.Config{
		CacheEnabled:    c.Consent.CacheEnabled,
		CacheTTL:        ttl,
		CacheMaxEntries: int64(c.Consent.CacheMaxEntries),
	}, nil
}

// ExtractOptions maps the extraction section onto the provider options.
func (c *Config) ExtractOptions() extract.Options {
	var model string
	switch c.Extraction.Provider {
	case "anthropic":
		model = c.Extraction.AnthropicModel
	case "ollama":
		model = c.Extraction.OllamaModel
	}
	return extract.Options{
		Provider:        c.Extraction.Provider,
		EmbedProvider:   c.Extraction.EmbedProvider,
		AnthropicAPIKey: c.Extraction.AnthropicAPIKey,
		Model:           model,
		OllamaBaseURL:   c.Extraction.OllamaURL,
		EmbedModel:      c.Extraction.EmbedModel,
		EmbedDimensions: c.Extraction.EmbedDimensions,
	}
}

// SweepInterval returns the parsed decay sweep interval.
func (c *Config) SweepInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Decay.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("config: decay.sweep_interval: %w", err)
	}
	return d, nil
}

// BackupInterval returns the parsed backup interval.
func (c *Config) BackupInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Backup.Interval)
	if err != nil {
		return 0, fmt.Errorf("config: backup.interval: %w", err)
	}
	return d, nil
}

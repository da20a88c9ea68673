// Package config provides configuration management for memvault.
// Settings are resolved in three layers: built-in defaults, then an
// optional YAML file named by MEMVAULT_CONFIG, then environment
// variables with the MEMVAULT_ prefix. Later layers win.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the memvault daemon and tools.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Consent    ConsentConfig    `yaml:"consent"`
	Decay      DecayConfig      `yaml:"decay"`
	Backup     BackupConfig     `yaml:"backup"`
	Limits     Limits           `yaml:"limits"`
}

// StorageConfig selects the per-user storage backend.
type StorageConfig struct {
	Engine         string `yaml:"engine"`          // Storage engine: sqlite, postgres (default: sqlite)
	DataPath       string `yaml:"data_path"`       // Directory for per-user sqlite files (default: ./data)
	PostgresDSN    string `yaml:"postgres_dsn"`    // Postgres DSN; one schema is carved per user
	MigrationsPath string `yaml:"migrations_path"` // Optional sqlite migration directory, applied per vault on open
}

// PipelineConfig sizes the background ingestion machinery.
type PipelineConfig struct {
	NumWorkers      int    `yaml:"num_workers"`      // Ingestion worker goroutines (default: 4)
	QueueSize       int    `yaml:"queue_size"`       // Job queue buffer (default: 1000)
	ShutdownTimeout string `yaml:"shutdown_timeout"` // Worker drain deadline (default: 30s)
}

// ExtractionConfig selects the extraction and embedding providers.
type ExtractionConfig struct {
	Provider        string `yaml:"provider"`          // Extractor: rules, anthropic, ollama (default: rules)
	EmbedProvider   string `yaml:"embed_provider"`    // Embedder: none, hash, ollama (default: none)
	AnthropicAPIKey string `yaml:"anthropic_api_key"` // Anthropic API key
	AnthropicModel  string `yaml:"anthropic_model"`   // Anthropic model override
	OllamaURL       string `yaml:"ollama_url"`        // Ollama API URL (default: http://localhost:11434)
	OllamaModel     string `yaml:"ollama_model"`      // Ollama extraction model (default: qwen2.5:7b)
	EmbedModel      string `yaml:"embed_model"`       // Embedding model (default: nomic-embed-text)
	EmbedDimensions int    `yaml:"embed_dimensions"`  // Embedding width (provider default when 0)
	IndexPath       string `yaml:"index_path"`        // Vector index directory; empty keeps the index in memory
}

// ConsentConfig tunes the consent decision cache.
type ConsentConfig struct {
	CacheEnabled    bool   `yaml:"cache_enabled"`     // Cache consent verdicts (default: true)
	CacheTTL        string `yaml:"cache_ttl"`         // Verdict lifetime (default: 30s)
	CacheMaxEntries int    `yaml:"cache_max_entries"` // Cache capacity (default: 4096)
}

// DecayConfig schedules the background confidence-decay sweep.
type DecayConfig struct {
	Enabled       bool   `yaml:"enabled"`        // Run periodic decay sweeps (default: true)
	SweepInterval string `yaml:"sweep_interval"` // Time between sweeps (default: 1h)
}

// BackupConfig contains backup configuration.
type BackupConfig struct {
	Enabled          bool   `yaml:"enabled"`           // Enable automatic backups (default: false)
	Interval         string `yaml:"interval"`          // Backup interval duration (default: 24h)
	Path             string `yaml:"path"`              // Path to backup directory (default: ./backups)
	Verify           bool   `yaml:"verify"`            // Verify backups after creation (default: true)
	RetentionHourly  int    `yaml:"retention_hourly"`  // Number of hourly backups to keep (default: 24)
	RetentionDaily   int    `yaml:"retention_daily"`   // Number of daily backups to keep (default: 7)
	RetentionWeekly  int    `yaml:"retention_weekly"`  // Number of weekly backups to keep (default: 4)
	RetentionMonthly int    `yaml:"retention_monthly"` // Number of monthly backups to keep (default: 12)
}

// Load resolves the configuration: defaults, then the YAML file named by
// MEMVAULT_CONFIG (when set), then MEMVAULT_* environment overrides.
// The result is validated before it is returned.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("MEMVAULT_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML file over cfg. Fields absent from the file keep
// their current values.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// defaultConfig constructs a Config with built-in defaults only.
func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Pipeline: PipelineConfig{
			NumWorkers:      4,
			QueueSize:       1000,
			ShutdownTimeout: "30s",
		},
		Extraction: ExtractionConfig{
			Provider:      "rules",
			EmbedProvider: "none",
			OllamaURL:     "http://localhost:11434",
			OllamaModel:   "qwen2.5:7b",
			EmbedModel:    "nomic-embed-text",
		},
		Consent: ConsentConfig{
			CacheEnabled:    true,
			CacheTTL:        "30s",
			CacheMaxEntries: 4096,
		},
		Decay: DecayConfig{
			Enabled:       true,
			SweepInterval: "1h",
		},
		Backup: BackupConfig{
			Enabled:          false,
			Interval:         "24h",
			Path:             "./backups",
			Verify:           true,
			RetentionHourly:  24,
			RetentionDaily:   7,
			RetentionWeekly:  4,
			RetentionMonthly: 12,
		},
		Limits: DefaultLimits(),
	}
}

// applyEnv overlays MEMVAULT_* environment variables onto cfg. The current
// value of each field serves as the default, so environment variables win
// over the file layer.
func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("MEMVAULT_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("MEMVAULT_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("MEMVAULT_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.MigrationsPath = getEnv("MEMVAULT_MIGRATIONS_PATH", cfg.Storage.MigrationsPath)

	cfg.Pipeline.NumWorkers = getEnvInt("MEMVAULT_WORKERS", cfg.Pipeline.NumWorkers)
	cfg.Pipeline.QueueSize = getEnvInt("MEMVAULT_QUEUE_SIZE", cfg.Pipeline.QueueSize)
	cfg.Pipeline.ShutdownTimeout = getEnv("MEMVAULT_SHUTDOWN_TIMEOUT", cfg.Pipeline.ShutdownTimeout)

	cfg.Extraction.Provider = getEnv("MEMVAULT_EXTRACTION_PROVIDER", cfg.Extraction.Provider)
	cfg.Extraction.EmbedProvider = getEnv("MEMVAULT_EMBEDDING_PROVIDER", cfg.Extraction.EmbedProvider)
	cfg.Extraction.AnthropicAPIKey = getEnv("MEMVAULT_ANTHROPIC_API_KEY", cfg.Extraction.AnthropicAPIKey)
	cfg.Extraction.AnthropicModel = getEnv("MEMVAULT_ANTHROPIC_MODEL", cfg.Extraction.AnthropicModel)
	cfg.Extraction.OllamaURL = getEnv("MEMVAULT_OLLAMA_URL", cfg.Extraction.OllamaURL)
	cfg.Extraction.OllamaModel = getEnv("MEMVAULT_OLLAMA_MODEL", cfg.Extraction.OllamaModel)
	cfg.Extraction.EmbedModel = getEnv("MEMVAULT_EMBEDDING_MODEL", cfg.Extraction.EmbedModel)
	cfg.Extraction.EmbedDimensions = getEnvInt("MEMVAULT_EMBEDDING_DIMENSIONS", cfg.Extraction.EmbedDimensions)
	cfg.Extraction.IndexPath = getEnv("MEMVAULT_INDEX_PATH", cfg.Extraction.IndexPath)

	cfg.Consent.CacheEnabled = getEnvBool("MEMVAULT_CONSENT_CACHE", cfg.Consent.CacheEnabled)
	cfg.Consent.CacheTTL = getEnv("MEMVAULT_CONSENT_CACHE_TTL", cfg.Consent.CacheTTL)
	cfg.Consent.CacheMaxEntries = getEnvInt("MEMVAULT_CONSENT_CACHE_ENTRIES", cfg.Consent.CacheMaxEntries)

	cfg.Decay.Enabled = getEnvBool("MEMVAULT_DECAY_ENABLED", cfg.Decay.Enabled)
	cfg.Decay.SweepInterval = getEnv("MEMVAULT_DECAY_INTERVAL", cfg.Decay.SweepInterval)

	cfg.Backup.Enabled = getEnvBool("MEMVAULT_BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.Interval = getEnv("MEMVAULT_BACKUP_INTERVAL", cfg.Backup.Interval)
	cfg.Backup.Path = getEnv("MEMVAULT_BACKUP_PATH", cfg.Backup.Path)
	cfg.Backup.Verify = getEnvBool("MEMVAULT_BACKUP_VERIFY", cfg.Backup.Verify)
	cfg.Backup.RetentionHourly = getEnvInt("MEMVAULT_BACKUP_RETENTION_HOURLY", cfg.Backup.RetentionHourly)
	cfg.Backup.RetentionDaily = getEnvInt("MEMVAULT_BACKUP_RETENTION_DAILY", cfg.Backup.RetentionDaily)
	cfg.Backup.RetentionWeekly = getEnvInt("MEMVAULT_BACKUP_RETENTION_WEEKLY", cfg.Backup.RetentionWeekly)
	cfg.Backup.RetentionMonthly = getEnvInt("MEMVAULT_BACKUP_RETENTION_MONTHLY", cfg.Backup.RetentionMonthly)

	applyLimitsEnv(&cfg.Limits)
}

// Validate checks the assembled configuration for contradictions and
// unparseable values.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
		if c.Storage.DataPath == "" {
			return fmt.Errorf("config: storage.data_path is required for the sqlite engine")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.Engine)
	}

	if c.Pipeline.NumWorkers < 1 {
		return fmt.Errorf("config: pipeline.num_workers must be >= 1, got %d", c.Pipeline.NumWorkers)
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("config: pipeline.queue_size must be >= 1, got %d", c.Pipeline.QueueSize)
	}
	if _, err := time.ParseDuration(c.Pipeline.ShutdownTimeout); err != nil {
		return fmt.Errorf("config: pipeline.shutdown_timeout: %w", err)
	}

	switch c.Extraction.Provider {
	case "rules", "ollama":
	case "anthropic":
		if c.Extraction.AnthropicAPIKey == "" {
			return fmt.Errorf("config: extraction.anthropic_api_key is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("config: unsupported extraction provider %q", c.Extraction.Provider)
	}

	switch c.Extraction.EmbedProvider {
	case "none", "hash", "ollama":
	default:
		return fmt.Errorf("config: unsupported embedding provider %q", c.Extraction.EmbedProvider)
	}

	if c.Consent.CacheMaxEntries < 1 {
		return fmt.Errorf("config: consent.cache_max_entries must be >= 1, got %d", c.Consent.CacheMaxEntries)
	}
	if _, err := time.ParseDuration(c.Consent.CacheTTL); err != nil {
		return fmt.Errorf("config: consent.cache_ttl: %w", err)
	}

	if _, err := time.ParseDuration(c.Decay.SweepInterval); err != nil {
		return fmt.Errorf("config: decay.sweep_interval: %w", err)
	}

	if _, err := time.ParseDuration(c.Backup.Interval); err != nil {
		return fmt.Errorf("config: backup.interval: %w", err)
	}

	return c.Limits.Validate()
}

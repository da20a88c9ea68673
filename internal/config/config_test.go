package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	_ = os.Unsetenv("MEMVAULT_CONFIG")
	_ = os.Unsetenv("MEMVAULT_STORAGE_ENGINE")
	_ = os.Unsetenv("MEMVAULT_DATA_PATH")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Engine,
		"Default storage engine must be sqlite")
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, 4, cfg.Pipeline.NumWorkers)
	assert.Equal(t, "rules", cfg.Extraction.Provider,
		"Default extractor must not require network or credentials")
	assert.True(t, cfg.Consent.CacheEnabled)
	assert.Equal(t, 0.6, cfg.Limits.FuzzyDedupThreshold)
	assert.Equal(t, "720h", cfg.Limits.DecayHalfLife)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MEMVAULT_STORAGE_ENGINE", "postgres")
	t.Setenv("MEMVAULT_POSTGRES_DSN", "postgres://vault@localhost/vault?sslmode=disable")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, "postgres://vault@localhost/vault?sslmode=disable", cfg.Storage.PostgresDSN)
}

func TestLoad_FileLayer(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  data_path: /vaults/data
extraction:
  provider: ollama
  ollama_model: llama3.1:8b
limits:
  fuzzy_dedup_threshold: 0.7
`)
	t.Setenv("MEMVAULT_CONFIG", path)
	_ = os.Unsetenv("MEMVAULT_DATA_PATH")
	_ = os.Unsetenv("MEMVAULT_EXTRACTION_PROVIDER")
	_ = os.Unsetenv("MEMVAULT_FUZZY_DEDUP_THRESHOLD")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "/vaults/data", cfg.Storage.DataPath)
	assert.Equal(t, "ollama", cfg.Extraction.Provider)
	assert.Equal(t, "llama3.1:8b", cfg.Extraction.OllamaModel)
	assert.Equal(t, 0.7, cfg.Limits.FuzzyDedupThreshold)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, 4, cfg.Pipeline.NumWorkers)
	assert.Equal(t, 6, cfg.Limits.MaxPathDepth)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  data_path: /from-file
`)
	t.Setenv("MEMVAULT_CONFIG", path)
	t.Setenv("MEMVAULT_DATA_PATH", "/from-env")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "/from-env", cfg.Storage.DataPath,
		"Environment variables must take precedence over the config file")
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Setenv("MEMVAULT_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := config.Load()
	assert.Error(t, err, "A named config file that does not exist must fail loudly")
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := writeConfigFile(t, "storage: [not: a: mapping")
	t.Setenv("MEMVAULT_CONFIG", path)

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_UnknownEngineRejected(t *testing.T) {
	t.Setenv("MEMVAULT_STORAGE_ENGINE", "mongodb")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage engine")
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("MEMVAULT_STORAGE_ENGINE", "postgres")
	_ = os.Unsetenv("MEMVAULT_POSTGRES_DSN")
	_ = os.Unsetenv("MEMVAULT_CONFIG")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_dsn")
}

func TestLoad_AnthropicRequiresKey(t *testing.T) {
	t.Setenv("MEMVAULT_EXTRACTION_PROVIDER", "anthropic")
	_ = os.Unsetenv("MEMVAULT_ANTHROPIC_API_KEY")
	_ = os.Unsetenv("MEMVAULT_CONFIG")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic_api_key")
}

func TestLoad_LimitsEnvOverride(t *testing.T) {
	t.Setenv("MEMVAULT_FUZZY_DEDUP_THRESHOLD", "0.75")
	t.Setenv("MEMVAULT_DECAY_HALF_LIFE", "168h")
	_ = os.Unsetenv("MEMVAULT_CONFIG")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 0.75, cfg.Limits.FuzzyDedupThreshold)
	assert.Equal(t, "168h", cfg.Limits.DecayHalfLife)
}

func TestLoad_BadLimitRejected(t *testing.T) {
	t.Setenv("MEMVAULT_FUZZY_DEDUP_THRESHOLD", "1.5")
	_ = os.Unsetenv("MEMVAULT_CONFIG")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fuzzy_dedup_threshold")
}

func TestLimits_ValidateRejectsBadHalfLife(t *testing.T) {
	limits := config.DefaultLimits()
	limits.DecayHalfLife = "soon"

	err := limits.Validate()
	assert.Error(t, err)
}

func TestEngineConfig_CarriesLimits(t *testing.T) {
	_ = os.Unsetenv("MEMVAULT_CONFIG")
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Limits.FuzzyDedupThreshold = 0.8
	cfg.Limits.SemanticSearchThreshold = 0.45
	cfg.Limits.DecayHalfLife = "168h"
	cfg.Pipeline.NumWorkers = 2

	eng, err := cfg.EngineConfig()
	require.NoError(t, err)

	assert.Equal(t, 2, eng.NumWorkers)
	assert.Equal(t, 0.8, eng.Dedup.FuzzyThreshold)
	assert.Equal(t, 0.45, eng.Search.MinSimilarity)
	assert.Equal(t, 168*time.Hour, eng.Quality.DecayHalfLife)
	assert.NoError(t, eng.Validate(), "A valid config must map to a valid engine config")
}

func TestAuthorityConfig_ParsesTTL(t *testing.T) {
	_ = os.Unsetenv("MEMVAULT_CONFIG")
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Consent.CacheTTL = "45s"
	cfg.Consent.CacheMaxEntries = 128

	auth, err := cfg.AuthorityConfig()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, auth.CacheTTL)
	assert.Equal(t, int64(128), auth.CacheMaxEntries)
	assert.True(t, auth.CacheEnabled)
}

func TestExtractOptions_ModelFollowsProvider(t *testing.T) {
	_ = os.Unsetenv("MEMVAULT_CONFIG")
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Extraction.Provider = "anthropic"
	cfg.Extraction.AnthropicAPIKey = "sk-test"
	cfg.Extraction.AnthropicModel = "claude-3-5-haiku-20241022"
	cfg.Extraction.OllamaModel = "qwen2.5:7b"

	opts := cfg.ExtractOptions()
	assert.Equal(t, "anthropic", opts.Provider)
	assert.Equal(t, "claude-3-5-haiku-20241022", opts.Model,
		"The model override must follow the selected provider")

	cfg.Extraction.Provider = "ollama"
	opts = cfg.ExtractOptions()
	assert.Equal(t, "qwen2.5:7b", opts.Model)
}

// writeConfigFile drops YAML content into a temp file and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "memvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Command memvault-import loads a directory of markdown notes into one
// user's vault and exits. Each note becomes a memory write through the
// regular ingestion pipeline; the command waits for the background
// enrichment queue to drain before shutting down so imported notes are
// fully extracted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/memvault/memvault/internal/config"
	"github.com/memvault/memvault/internal/engine"
	"github.com/memvault/memvault/internal/extract"
	"github.com/memvault/memvault/internal/importer"
	"github.com/memvault/memvault/internal/namespaces"
	"github.com/memvault/memvault/internal/vectorindex"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (overrides MEMVAULT_CONFIG)")
	userID     = flag.String("user", "", "Vault owner to import into (required)")
	dir        = flag.String("dir", "", "Directory of markdown notes to import (required)")
)

func main() {
	flag.Parse()

	if err := validateArgs(*userID, *dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if *configPath != "" {
		os.Setenv("MEMVAULT_CONFIG", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	manager, err := namespaces.NewManager(namespaces.Config{
		Backend:       cfg.Storage.Engine,
		DataDir:       cfg.Storage.DataPath,
		PostgresDSN:   cfg.Storage.PostgresDSN,
		MigrationsDir: cfg.Storage.MigrationsPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize namespaces: %v", err)
	}
	defer manager.Close()

	vaultEngine, err := buildEngine(cfg, manager)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vaultEngine.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	imp := importer.New(vaultEngine)
	result, err := imp.ImportDirectory(ctx, *userID, *dir)
	if err != nil {
		_ = vaultEngine.Shutdown(ctx)
		log.Fatalf("Import failed: %v", err)
	}

	// Let enrichment finish before tearing the workers down.
	drainQueue(ctx, vaultEngine)
	if err := vaultEngine.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down engine: %v", err)
	}

	fmt.Printf("Imported %d of %d files for %s: %d entities seeded, %d skipped, %d failed\n",
		result.MemoriesCreated, result.FilesFound, *userID,
		result.EntitiesSeeded, result.FilesSkipped, result.FilesFailed)
	for _, msg := range result.Errors {
		fmt.Printf("  error: %s\n", msg)
	}

	if result.FilesFailed > 0 {
		_ = manager.Close()
		os.Exit(1)
	}
}

// validateArgs checks the required flags.
func validateArgs(user, dir string) error {
	if user == "" {
		return fmt.Errorf("-user is required")
	}
	if dir == "" {
		return fmt.Errorf("-dir is required")
	}
	return nil
}

// drainQueue waits until the background queue is empty. Workers pull
// jobs continuously, so this terminates unless the context is cancelled.
func drainQueue(ctx context.Context, vaultEngine *engine.VaultEngine) {
	for vaultEngine.GetQueueSize() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// buildEngine assembles the vault engine with the configured extraction
// collaborators, mirroring the daemon's wiring.
func buildEngine(cfg *config.Config, manager *namespaces.Manager) (*engine.VaultEngine, error) {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}

	opts := cfg.ExtractOptions()
	extractor, err := extract.NewExtractor(opts)
	if err != nil {
		return nil, err
	}
	embedder, err := extract.NewEmbedder(opts)
	if err != nil {
		return nil, err
	}

	var index *vectorindex.Index
	if embedder != nil {
		if cfg.Extraction.IndexPath != "" {
			index, err = vectorindex.NewPersistentIndex(cfg.Extraction.IndexPath)
			if err != nil {
				return nil, err
			}
		} else {
			index = vectorindex.NewMemoryIndex()
		}
	}

	return engine.NewVaultEngineWithExtraction(manager, engineCfg, extractor, embedder, index)
}

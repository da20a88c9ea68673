// Command memvaultd runs the memory vault daemon. It wires the
// configuration onto per-user namespaces and the vault engine with its
// extraction collaborators, then runs the background maintenance the
// engine does not own: ingestion workers, periodic confidence decay, and
// optional backups. Transports embed the api facade in their own
// processes; the daemon keeps the vault machinery running.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/memvault/memvault/internal/backup"
	"github.com/memvault/memvault/internal/config"
	"github.com/memvault/memvault/internal/engine"
	"github.com/memvault/memvault/internal/extract"
	"github.com/memvault/memvault/internal/limits"
	"github.com/memvault/memvault/internal/namespaces"
	"github.com/memvault/memvault/internal/vectorindex"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (overrides MEMVAULT_CONFIG)")
	flag.Parse()
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

	// Open existing vaults up front so maintenance sweeps cover
	// returning users before their first request.
	if cfg.Storage.Engine == "sqlite" {
		warmNamespaces(cfg.Storage.DataPath, manager)
	}

	vaultEngine, err := buildEngine(cfg, manager)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vaultEngine.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	if cfg.Decay.Enabled {
		interval, err := cfg.SweepInterval()
		if err != nil {
			log.Fatalf("Failed to parse decay interval: %v", err)
		}
		provider := limits.NewProvider(cfg.Limits, reloadLimits, interval)
		if path := os.Getenv("MEMVAULT_CONFIG"); path != "" {
			watcher := limits.NewWatcher(path, provider)
			if err := watcher.Start(); err != nil {
				log.Printf("WARNING: config watch disabled: %v", err)
			} else {
				defer watcher.Stop()
			}
		}
		go runDecayTicker(ctx, manager, provider, interval)
	}

	var backupSvc *backup.Service
	if cfg.Backup.Enabled {
		interval, err := cfg.BackupInterval()
		if err != nil {
			log.Fatalf("Failed to parse backup interval: %v", err)
		}
		backupSvc, err = backup.NewService(backup.Config{
			Engine:    cfg.Storage.Engine,
			DataDir:   cfg.Storage.DataPath,
			BackupDir: cfg.Backup.Path,
			Interval:  interval,
			Retention: retentionFromConfig(cfg),
			Verify:    cfg.Backup.Verify,
		})
		if err != nil {
			log.Fatalf("Failed to initialize backups: %v", err)
		}
		go func() {
			if err := backupSvc.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("Backup service error: %v", err)
			}
		}()
	}

	log.Printf("memvaultd running: backend=%s workers=%d extraction=%s",
		cfg.Storage.Engine, cfg.Pipeline.NumWorkers, cfg.Extraction.Provider)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if backupSvc != nil {
		if err := backupSvc.Stop(); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
	if err := vaultEngine.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down engine: %v", err)
	}
	cancel()
}

// buildEngine assembles the vault engine from the configuration:
// pipeline sizing and limits onto the engine config, extractor and
// embedder from the provider selection, and a vector index when
// embeddings are enabled.
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

// warmNamespaces opens a store for every vault file already on disk.
func warmNamespaces(dataDir string, manager *namespaces.Manager) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("WARNING: cannot read data directory: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		userID := strings.TrimSuffix(entry.Name(), ".db")
		if _, err := manager.Store(userID); err != nil {
			log.Printf("WARNING: cannot open vault for %s: %v", userID, err)
		}
	}
}

// runDecayTicker sweeps every open namespace at the configured interval.
// The limits are re-read through the provider each sweep, so decay
// tuning changes reach a long-running daemon without a restart.
func runDecayTicker(ctx context.Context, manager *namespaces.Manager, provider *limits.Provider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			runDecaySweep(ctx, manager, provider, now)
		}
	}
}

// runDecaySweep decays every open vault once with the freshest limits.
func runDecaySweep(ctx context.Context, manager *namespaces.Manager, provider *limits.Provider, now time.Time) {
	lim := provider.Current(ctx)
	engineCfg, err := lim.EngineConfig(engine.DefaultConfig())
	if err != nil {
		log.Printf("WARNING: decay sweep skipped, invalid limits: %v", err)
		return
	}
	decay := engine.NewDecayManager(engineCfg.Quality)

	for _, userID := range manager.Users() {
		store, err := manager.Store(userID)
		if err != nil {
			log.Printf("WARNING: decay sweep for %s: %v", userID, err)
			continue
		}
		report, err := decay.Run(ctx, store, now)
		if err != nil {
			log.Printf("WARNING: decay sweep for %s failed: %v", userID, err)
			continue
		}
		if report.Updated > 0 {
			log.Printf("decay: %s: %d of %d records decayed", userID, report.Updated, report.Examined)
		}
	}
}

// reloadLimits is the provider source: it re-resolves the configuration
// layers and serves the limits section.
func reloadLimits(_ context.Context) (config.Limits, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Limits{}, err
	}
	return cfg.Limits, nil
}

// retentionFromConfig maps the backup retention tiers.
func retentionFromConfig(cfg *config.Config) backup.RetentionPolicy {
	return backup.RetentionPolicy{
		Hourly:  cfg.Backup.RetentionHourly,
		Daily:   cfg.Backup.RetentionDaily,
		Weekly:  cfg.Backup.RetentionWeekly,
		Monthly: cfg.Backup.RetentionMonthly,
	}
}

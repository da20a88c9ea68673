// Command memvault-backup snapshots the per-user vault databases. It can
// run one sweep and exit, list or restore snapshots, or stay resident
// and sweep on an interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memvault/memvault/internal/backup"
	"github.com/memvault/memvault/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (overrides MEMVAULT_CONFIG)")
	dataDir    = flag.String("data-dir", "", "Data directory holding per-user vaults (overrides config)")
	backupDir  = flag.String("backup-dir", "", "Snapshot directory (overrides config)")
	interval   = flag.Duration("interval", 0, "Sweep interval (overrides config)")
	verify     = flag.Bool("verify", true, "Verify snapshots after creation")
	oneshot    = flag.Bool("oneshot", false, "Perform a single sweep and exit")
	restore    = flag.String("restore", "", "Restore a vault from the given snapshot and exit")
	listCmd    = flag.Bool("list", false, "List all snapshots and exit")
)

func main() {
	flag.Parse()
	if *configPath != "" {
		os.Setenv("MEMVAULT_CONFIG", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	service, err := backup.NewService(serviceConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to create backup service: %v", err)
	}

	ctx := context.Background()

	switch {
	case *restore != "":
		handleRestore(ctx, service, *restore)
	case *listCmd:
		handleList(service)
	case *oneshot:
		handleOneshot(ctx, service)
	default:
		runService(ctx, service)
	}
}

// serviceConfig resolves the backup configuration: file and environment
// layers first, command-line flags on top.
func serviceConfig(cfg *config.Config) backup.Config {
	out := backup.Config{
		Engine:    cfg.Storage.Engine,
		DataDir:   cfg.Storage.DataPath,
		BackupDir: cfg.Backup.Path,
		Retention: backup.RetentionPolicy{
			Hourly:  cfg.Backup.RetentionHourly,
			Daily:   cfg.Backup.RetentionDaily,
			Weekly:  cfg.Backup.RetentionWeekly,
			Monthly: cfg.Backup.RetentionMonthly,
		},
		Verify: *verify,
	}

	if d, err := cfg.BackupInterval(); err == nil {
		out.Interval = d
	}
	if *dataDir != "" {
		out.DataDir = *dataDir
	}
	if *backupDir != "" {
		out.BackupDir = *backupDir
	}
	if *interval > 0 {
		out.Interval = *interval
	}
	return out
}

func handleRestore(ctx context.Context, service *backup.Service, snapshotPath string) {
	log.Printf("Restoring vault from snapshot: %s", snapshotPath)
	if err := service.Restore(ctx, snapshotPath); err != nil {
		log.Fatalf("Restore failed: %v", err)
	}
	log.Println("Vault restored successfully")
}

func handleList(service *backup.Service) {
	snapshots, err := service.ListSnapshots()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	fmt.Printf("Found %d snapshot(s):\n\n", len(snapshots))
	for i, snap := range snapshots {
		fmt.Printf("%d. %s\n", i+1, snap.Path)
		fmt.Printf("   User: %s\n", snap.User)
		fmt.Printf("   Size: %.2f MB\n", float64(snap.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			snap.Timestamp.Format(time.RFC3339),
			time.Since(snap.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func handleOneshot(ctx context.Context, service *backup.Service) {
	log.Println("Performing one-time backup sweep...")

	result, err := service.Run(ctx)
	if err != nil {
		log.Fatalf("Backup failed: %v", err)
	}

	log.Printf("Sweep completed: %d vaults, %d snapshots, %d pruned, duration %v",
		result.Users, result.Snapshots, result.Pruned, result.Duration.Round(time.Millisecond))
	if result.Failures > 0 {
		for _, msg := range result.Errors {
			log.Printf("  error: %s", msg)
		}
		os.Exit(1)
	}
}

func runService(ctx context.Context, service *backup.Service) {
	go func() {
		if err := service.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Backup service error: %v", err)
		}
	}()

	log.Println("Backup service started, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down backup service...")
	if err := service.Stop(); err != nil {
		log.Printf("Warning: %v", err)
	}
	log.Println("Backup service stopped")
}

package main

import (
	"testing"
	"time"

	"github.com/memvault/memvault/internal/config"
)

func loadBackupTestConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	t.Setenv("MEMVAULT_CONFIG", "")
	t.Setenv("MEMVAULT_STORAGE_ENGINE", "sqlite")
	t.Setenv("MEMVAULT_DATA_PATH", dataDir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	return cfg
}

// resetFlags restores the flag values a test mutates; flags are package
// level, so leaked values would bleed into later tests.
func resetFlags(t *testing.T) {
	t.Helper()
	oldData, oldBackup, oldInterval, oldVerify := *dataDir, *backupDir, *interval, *verify
	t.Cleanup(func() {
		*dataDir = oldData
		*backupDir = oldBackup
		*interval = oldInterval
		*verify = oldVerify
	})
}

// TestServiceConfig_FromConfig verifies the configuration layers map
// through when no flags are set.
func TestServiceConfig_FromConfig(t *testing.T) {
	resetFlags(t)
	t.Setenv("MEMVAULT_BACKUP_PATH", "/var/backups/memvault")
	t.Setenv("MEMVAULT_BACKUP_INTERVAL", "6h")
	t.Setenv("MEMVAULT_BACKUP_RETENTION_HOURLY", "12")
	t.Setenv("MEMVAULT_BACKUP_RETENTION_DAILY", "10")
	cfg := loadBackupTestConfig(t, "/var/lib/memvault")

	got := serviceConfig(cfg)

	if got.Engine != "sqlite" {
		t.Errorf("Engine = %q, want sqlite", got.Engine)
	}
	if got.DataDir != "/var/lib/memvault" {
		t.Errorf("DataDir = %q, want the configured data path", got.DataDir)
	}
	if got.BackupDir != "/var/backups/memvault" {
		t.Errorf("BackupDir = %q, want the configured backup path", got.BackupDir)
	}
	if got.Interval != 6*time.Hour {
		t.Errorf("Interval = %v, want 6h", got.Interval)
	}
	if got.Retention.Hourly != 12 || got.Retention.Daily != 10 {
		t.Errorf("Retention = %+v, want hourly 12, daily 10", got.Retention)
	}
	if !got.Verify {
		t.Error("Verify should default to true")
	}
}

// TestServiceConfig_FlagOverrides verifies command-line flags win over
// the configuration file and environment.
func TestServiceConfig_FlagOverrides(t *testing.T) {
	resetFlags(t)
	t.Setenv("MEMVAULT_BACKUP_PATH", "/var/backups/memvault")
	t.Setenv("MEMVAULT_BACKUP_INTERVAL", "6h")
	cfg := loadBackupTestConfig(t, "/var/lib/memvault")

	*dataDir = "/mnt/other/data"
	*backupDir = "/mnt/other/backups"
	*interval = 30 * time.Minute
	*verify = false

	got := serviceConfig(cfg)

	if got.DataDir != "/mnt/other/data" {
		t.Errorf("DataDir = %q, want the flag value", got.DataDir)
	}
	if got.BackupDir != "/mnt/other/backups" {
		t.Errorf("BackupDir = %q, want the flag value", got.BackupDir)
	}
	if got.Interval != 30*time.Minute {
		t.Errorf("Interval = %v, want the flag value", got.Interval)
	}
	if got.Verify {
		t.Error("Verify = true, want the flag value")
	}
}

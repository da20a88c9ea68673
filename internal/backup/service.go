package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Service snapshots every per-user vault in the data directory. One
// sweep copies each sqlite file into the backup directory via VACUUM
// INTO and then applies the retention policy.
type Service struct {
	dataDir   string
	backupDir string
	interval  time.Duration
	retention RetentionPolicy
	verify    bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	lastRun time.Time
}

// NewService validates cfg and returns a backup service. Construction
// fails for non-sqlite engines; postgres deployments back up with
// pg_dump instead.
func NewService(cfg Config) (*Service, error) {
	if cfg.Engine != "" && cfg.Engine != "sqlite" {
		return nil, fmt.Errorf("backup: unsupported backend %q, use pg_dump for postgres deployments", cfg.Engine)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("backup: data directory is required")
	}
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}

	if cfg.Retention.Hourly == 0 {
		cfg.Retention.Hourly = 24
	}
	if cfg.Retention.Daily == 0 {
		cfg.Retention.Daily = 7
	}
	if cfg.Retention.Weekly == 0 {
		cfg.Retention.Weekly = 4
	}
	if cfg.Retention.Monthly == 0 {
		cfg.Retention.Monthly = 12
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}

	return &Service{
		dataDir:   cfg.DataDir,
		backupDir: cfg.BackupDir,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		verify:    cfg.Verify,
		stopCh:    make(chan struct{}),
	}, nil
}

// Run performs one backup sweep: every vault file in the data directory
// is snapshotted, then old snapshots are pruned. Vaults that fail to
// snapshot are logged and counted without stopping the sweep.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	vaults, err := listVaultFiles(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	result := &RunResult{Users: len(vaults)}
	for _, vault := range vaults {
		if ctx.Err() != nil {
			result.Duration = time.Since(start)
			return result, ctx.Err()
		}

		if _, err := s.snapshotVault(vault); err != nil {
			log.Printf("backup: %s: %v", vault.user, err)
			result.Failures++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", vault.user, err))
			continue
		}
		result.Snapshots++
	}

	pruned, err := applyRetention(s.backupDir, s.retention)
	if err != nil {
		log.Printf("backup: retention: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("retention: %v", err))
	}
	result.Pruned = pruned

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	result.Duration = time.Since(start)
	log.Printf("backup: %d vaults, %d snapshots, %d failures, %d pruned in %v",
		result.Users, result.Snapshots, result.Failures, result.Pruned,
		result.Duration.Round(time.Millisecond))
	return result, nil
}

// Start runs backup sweeps at the configured interval until ctx is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup: service is already running")
	}
	s.running = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("backup: service started interval=%v dir=%s", s.interval, s.backupDir)

	for {
		select {
		case <-ctx.Done():
			log.Printf("backup: service stopping, context cancelled")
			return ctx.Err()

		case <-s.stopCh:
			log.Printf("backup: service stopping")
			return nil

		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				log.Printf("backup: scheduled sweep failed: %v", err)
			}
		}
	}
}

// Stop stops a running service.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("backup: service is not running")
	}
	close(s.stopCh)
	s.running = false
	return nil
}

// ListSnapshots returns all snapshots in the backup directory, newest
// first.
func (s *Service) ListSnapshots() ([]SnapshotInfo, error) {
	return listSnapshots(s.backupDir)
}

// Restore replaces a user's vault file with the given snapshot. The
// owning user is parsed from the snapshot name. A pre-restore copy of
// the current vault is taken first and rolled back to when the restore
// fails. The vault must not be open in a running server.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("backup: cannot restore while the service is running")
	}

	user, _, ok := parseSnapshotName(filepath.Base(snapshotPath))
	if !ok {
		return fmt.Errorf("backup: %q is not a snapshot file", snapshotPath)
	}
	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("backup: snapshot not found: %w", err)
	}

	target := filepath.Join(s.dataDir, user+".db")

	preRestore := target + ".pre-restore"
	if _, err := os.Stat(target); err == nil {
		if err := snapshotSQLite(target, preRestore); err != nil {
			return fmt.Errorf("backup: failed to create pre-restore copy: %w", err)
		}
		defer os.Remove(preRestore)
	}

	if err := restoreSQLite(snapshotPath, target); err != nil {
		if _, statErr := os.Stat(preRestore); statErr == nil {
			if rollbackErr := restoreSQLite(preRestore, target); rollbackErr != nil {
				return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)", rollbackErr, err)
			}
			return fmt.Errorf("backup: restore failed, rolled back to previous state: %w", err)
		}
		return err
	}

	log.Printf("backup: restored vault %s from %s", user, snapshotPath)
	return nil
}

// snapshotVault writes one timestamped snapshot for a vault file and
// verifies it when verification is enabled.
func (s *Service) snapshotVault(v vaultFile) (string, error) {
	timestamp := time.Now().Format(snapshotTimeLayout)
	dest := filepath.Join(s.backupDir, fmt.Sprintf("%s-%s.db", v.user, timestamp))

	if err := snapshotSQLite(v.path, dest); err != nil {
		return "", err
	}
	if s.verify {
		if err := verifySnapshot(dest); err != nil {
			return "", fmt.Errorf("verification failed: %w", err)
		}
	}
	return dest, nil
}

// vaultFile is one per-user sqlite file in the data directory.
type vaultFile struct {
	user string
	path string
}

// listVaultFiles returns the vault databases in dataDir. The file name
// minus the .db suffix is the owning user id; WAL side files do not end
// in .db and are skipped naturally.
func listVaultFiles(dataDir string) ([]vaultFile, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var vaults []vaultFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		user := strings.TrimSuffix(entry.Name(), ".db")
		if user == "" {
			continue
		}
		vaults = append(vaults, vaultFile{user: user, path: filepath.Join(dataDir, entry.Name())})
	}
	return vaults, nil
}

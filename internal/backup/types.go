// Package backup snapshots per-user vault databases into a backup
// directory and prunes old snapshots with a tiered retention policy.
// Only the sqlite backend is supported; postgres deployments back up
// with pg_dump.
package backup

import (
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// Engine is the storage engine the deployment runs. Only "sqlite"
	// vaults can be snapshotted; any other value fails construction.
	Engine string

	// DataDir is the directory holding one sqlite file per user.
	DataDir string

	// BackupDir is the directory snapshots are written to.
	BackupDir string

	// Interval is the duration between automated sweeps (default: 24h).
	Interval time.Duration

	// Retention defines how many snapshots to keep at each age tier.
	Retention RetentionPolicy

	// Verify enables an integrity check after each snapshot.
	Verify bool
}

// RetentionPolicy defines how many snapshots to keep per user at each
// tier. Snapshots are categorized by age:
//   - Hourly: less than 24 hours old
//   - Daily: between 1 and 7 days old
//   - Weekly: between 7 and 30 days old
//   - Monthly: between 30 and 365 days old
//
// Snapshots older than a year are always pruned.
type RetentionPolicy struct {
	// Hourly is the number of hourly snapshots to keep (default: 24)
	Hourly int

	// Daily is the number of daily snapshots to keep (default: 7)
	Daily int

	// Weekly is the number of weekly snapshots to keep (default: 4)
	Weekly int

	// Monthly is the number of monthly snapshots to keep (default: 12)
	Monthly int
}

// SnapshotInfo describes one snapshot file in the backup directory.
type SnapshotInfo struct {
	// User is the vault owner the snapshot belongs to.
	User string

	// Path is the full path to the snapshot file.
	Path string

	// Timestamp is when the snapshot was taken, parsed from the file name.
	Timestamp time.Time

	// Size is the snapshot file size in bytes.
	Size int64
}

// RunResult summarizes one backup sweep across all vaults.
type RunResult struct {
	// Users is the number of vault files found in the data directory.
	Users int

	// Snapshots is the number of snapshots successfully written.
	Snapshots int

	// Failures is the number of vaults that could not be snapshotted.
	Failures int

	// Pruned is the number of old snapshots removed by retention.
	Pruned int

	// Errors carries one message per failed vault or retention problem.
	Errors []string

	// Duration is how long the sweep took.
	Duration time.Duration
}

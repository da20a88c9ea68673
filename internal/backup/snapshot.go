package backup

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// snapshotSQLite copies a sqlite database into destPath with VACUUM
// INTO, which produces a consistent point-in-time copy even under WAL
// mode.
func snapshotSQLite(sourcePath, destPath string) error {
	sourceDB, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer func() { _ = sourceDB.Close() }()

	if err := sourceDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping source database: %w", err)
	}

	// VACUUM INTO takes a string literal, not a bind parameter.
	quoted := strings.ReplaceAll(destPath, "'", "''")
	if _, err := sourceDB.Exec(fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// verifySnapshot opens a snapshot and runs sqlite's integrity check.
func verifySnapshot(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// restoreSQLite copies a verified snapshot over targetPath. The target
// database must not be in use.
func restoreSQLite(snapshotPath, targetPath string) error {
	if err := verifySnapshot(snapshotPath); err != nil {
		return fmt.Errorf("snapshot verification failed: %w", err)
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync target file: %w", err)
	}

	if err := verifySnapshot(targetPath); err != nil {
		return fmt.Errorf("restored database verification failed: %w", err)
	}
	return nil
}

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// snapshotTimeLayout is the timestamp embedded in snapshot file names.
// Microseconds keep names unique when sweeps run close together.
const snapshotTimeLayout = "20060102-150405.000000"

// snapshotNameRe matches "<user>-<timestamp>.db". User ids may contain
// hyphens, so the timestamp shape anchors the split.
var snapshotNameRe = regexp.MustCompile(`^(.+)-(\d{8}-\d{6}\.\d{6})\.db$`)

// parseSnapshotName splits a snapshot file name into its owning user id
// and timestamp. ok is false for files that are not snapshots.
func parseSnapshotName(name string) (user string, ts time.Time, ok bool) {
	m := snapshotNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, false
	}
	ts, err := time.ParseInLocation(snapshotTimeLayout, m[2], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return m[1], ts, true
}

// listSnapshots returns the snapshots in backupDir sorted newest first.
// Files that do not match the snapshot naming scheme are ignored.
func listSnapshots(backupDir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		user, ts, ok := parseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			User:      user,
			Path:      filepath.Join(backupDir, entry.Name()),
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// applyRetention prunes old snapshots. Each user's snapshots are tiered
// by age and trimmed independently, so one user's churn never evicts
// another user's history. Returns the number of snapshots removed.
func applyRetention(backupDir string, policy RetentionPolicy) (int, error) {
	snapshots, err := listSnapshots(backupDir)
	if err != nil {
		return 0, err
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	byUser := make(map[string][]SnapshotInfo)
	for _, snap := range snapshots {
		byUser[snap.User] = append(byUser[snap.User], snap)
	}

	now := time.Now()
	var toDelete []string

	for _, userSnaps := range byUser {
		// userSnaps inherits the newest-first order from listSnapshots.
		var hourly, daily, weekly, monthly []SnapshotInfo
		for _, snap := range userSnaps {
			age := now.Sub(snap.Timestamp)
			switch {
			case age < 24*time.Hour:
				hourly = append(hourly, snap)
			case age < 7*24*time.Hour:
				daily = append(daily, snap)
			case age < 30*24*time.Hour:
				weekly = append(weekly, snap)
			case age < 365*24*time.Hour:
				monthly = append(monthly, snap)
			default:
				// Snapshots older than a year are always pruned.
				toDelete = append(toDelete, snap.Path)
			}
		}

		for _, tier := range []struct {
			snaps []SnapshotInfo
			keep  int
		}{
			{hourly, policy.Hourly},
			{daily, policy.Daily},
			{weekly, policy.Weekly},
			{monthly, policy.Monthly},
		} {
			if len(tier.snaps) > tier.keep {
				for _, snap := range tier.snaps[tier.keep:] {
					toDelete = append(toDelete, snap.Path)
				}
			}
		}
	}

	pruned := 0
	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
			continue
		}
		pruned++
	}
	if lastErr != nil {
		return pruned, fmt.Errorf("failed to delete some snapshots: %w", lastErr)
	}
	return pruned, nil
}

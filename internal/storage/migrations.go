package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Migrator applies plain-SQL schema migrations to one vault database.
// Migration files live in a single directory and are named
// NNN_description.up.sql, with an optional NNN_description.down.sql
// counterpart for rollback. Applied versions are tracked in a
// schema_migrations table inside the vault itself, so every per-user
// database carries its own version and returning users catch up lazily.
// Statements use ? placeholders; the runner serves the sqlite backend,
// where the embedded schema covers new vaults and migration files cover
// vaults created by older builds.
type Migrator struct {
	db    *sql.DB
	steps []migrationStep
}

type migrationStep struct {
	version  uint64
	name     string
	upFile   string
	downFile string
}

// NewMigrator loads the migration steps from dir and prepares the
// tracking table. Files not matching the naming convention are ignored;
// a version with only a down file is dropped entirely.
func NewMigrator(db *sql.DB, dir string) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("migrations: nil database handle")
	}

	steps, err := loadMigrationSteps(dir)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("migrations: create tracking table: %w", err)
	}

	return &Migrator{db: db, steps: steps}, nil
}

// Version returns the highest applied migration version, 0 when none
// has been applied yet.
func (m *Migrator) Version() (uint64, error) {
	var v uint64
	if err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return v, nil
}

// Apply runs every pending step in ascending version order and reports
// how many were applied. A failing step stops the run; steps already
// applied stay recorded.
func (m *Migrator) Apply() (int, error) {
	current, err := m.Version()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, step := range m.steps {
		if step.version <= current {
			continue
		}
		if err := m.runFile(step.upFile); err != nil {
			return applied, fmt.Errorf("migrations: apply %d_%s: %w", step.version, step.name, err)
		}
		if _, err := m.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", step.version); err != nil {
			return applied, fmt.Errorf("migrations: record %d_%s: %w", step.version, step.name, err)
		}
		applied++
	}
	return applied, nil
}

// Rollback undoes every applied step in descending version order. A step
// without a down file aborts the rollback before touching anything newer
// than it.
func (m *Migrator) Rollback() error {
	current, err := m.Version()
	if err != nil {
		return err
	}

	for i := len(m.steps) - 1; i >= 0; i-- {
		step := m.steps[i]
		if step.version > current {
			continue
		}
		if step.downFile == "" {
			return fmt.Errorf("migrations: no down file for %d_%s", step.version, step.name)
		}
		if err := m.runFile(step.downFile); err != nil {
			return fmt.Errorf("migrations: roll back %d_%s: %w", step.version, step.name, err)
		}
		if _, err := m.db.Exec("DELETE FROM schema_migrations WHERE version = ?", step.version); err != nil {
			return fmt.Errorf("migrations: unrecord %d_%s: %w", step.version, step.name, err)
		}
	}
	return nil
}

func (m *Migrator) runFile(path string) error {
	ddl, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(string(ddl))
	return err
}

// loadMigrationSteps scans dir for NNN_description.{up,down}.sql pairs
// and returns them sorted by version ascending.
func loadMigrationSteps(dir string) ([]migrationStep, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: read directory: %w", err)
	}

	byVersion := make(map[uint64]*migrationStep)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		var base string
		up := false
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			base = strings.TrimSuffix(name, ".up.sql")
			up = true
		case strings.HasSuffix(name, ".down.sql"):
			base = strings.TrimSuffix(name, ".down.sql")
		default:
			continue
		}

		versionStr, stepName, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(versionStr, 10, 64)
		if err != nil || version == 0 {
			continue
		}

		step, exists := byVersion[version]
		if !exists {
			step = &migrationStep{version: version, name: stepName}
			byVersion[version] = step
		}
		if up {
			step.upFile = filepath.Join(dir, name)
		} else {
			step.downFile = filepath.Join(dir, name)
		}
	}

	steps := make([]migrationStep, 0, len(byVersion))
	for _, step := range byVersion {
		if step.upFile == "" {
			continue
		}
		steps = append(steps, *step)
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].version < steps[j].version
	})
	return steps, nil
}

// Package importer loads a directory of markdown notes into a user's
// vault. Each note becomes one memory write through the regular
// ingestion pipeline, and every wikilinked name is pre-seeded as a
// concept entity so extraction has anchors to attach relationships to.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/engine"
	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// seedConfidence is the initial confidence for entities created from
// wiki links. A link is a deliberate reference by the note's author,
// so it ranks above a scraped mention but below a confirmed fact.
const seedConfidence = 0.6

// Result is the summary of one completed directory import.
type Result struct {
	FilesFound      int           `json:"files_found"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesFailed     int           `json:"files_failed"`
	MemoriesCreated int           `json:"memories_created"`
	EntitiesSeeded  int           `json:"entities_seeded"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration_ms"`
}

// Ingestor is the slice of the vault engine the importer drives.
// *engine.VaultEngine satisfies it.
type Ingestor interface {
	IngestMemoryText(ctx context.Context, userID, text string, origin types.Origin, agent string) (*engine.WriteReceipt, error)
	CheckAndDeduplicate(ctx context.Context, userID, entityType, name string) (int64, error)
	CreateEntity(ctx context.Context, userID string, entity *types.Entity) (*types.Entity, error)
}

// Importer ingests markdown directories into vaults.
type Importer struct {
	engine Ingestor
}

// New returns an Importer that writes through the given engine.
func New(ingestor Ingestor) *Importer {
	return &Importer{engine: ingestor}
}

// ImportDirectory walks dir for markdown files and ingests each one as a
// memory write for userID. Files that fail to read, parse, or ingest are
// logged and counted without aborting the rest of the run. When ctx is
// cancelled mid-run the partial result is returned alongside ctx.Err().
func (imp *Importer) ImportDirectory(ctx context.Context, userID, dir string) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("import: cannot access %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("import: %q is not a directory", dir)
	}

	files, err := collectMarkdownFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("import: walk %q: %w", dir, err)
	}

	result := &Result{FilesFound: len(files)}

	// Lowercased wikilink targets already dedup-checked this run. Saves
	// a round trip per repeated link, nothing more; the dedup resolver
	// stays authoritative across runs.
	seeded := make(map[string]bool)

	for _, absPath := range files {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, "context cancelled")
			result.Duration = time.Since(start)
			return result, ctx.Err()
		}

		rel, relErr := filepath.Rel(dir, absPath)
		if relErr != nil {
			rel = absPath
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			log.Printf("import: skip %s: read error: %v", rel, err)
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: read error: %v", rel, err))
			continue
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			result.FilesSkipped++
			continue
		}

		parsed, err := ParseMarkdownFile(data, absPath, rel)
		if err != nil {
			log.Printf("import: skip %s: parse error: %v", rel, err)
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: parse error: %v", rel, err))
			continue
		}

		for _, link := range parsed.WikiLinks {
			key := strings.ToLower(link.Target)
			if seeded[key] {
				continue
			}
			seeded[key] = true

			created, err := imp.seedConcept(ctx, userID, link.Target, rel)
			if err != nil {
				log.Printf("import: seed %q from %s: %v", link.Target, rel, err)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: seed %q: %v", rel, link.Target, err))
				continue
			}
			if created {
				result.EntitiesSeeded++
			}
		}

		if _, err := imp.engine.IngestMemoryText(ctx, userID, parsed.Content, parsed.Origin, parsed.Agent); err != nil {
			log.Printf("import: failed to ingest %s: %v", rel, err)
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: ingest error: %v", rel, err))
			continue
		}
		result.MemoriesCreated++
	}

	result.Duration = time.Since(start)
	log.Printf("import: %s: %d files found, %d memories created, %d entities seeded, %d skipped, %d failed in %s",
		dir, result.FilesFound, result.MemoriesCreated, result.EntitiesSeeded,
		result.FilesSkipped, result.FilesFailed, result.Duration.Round(time.Millisecond))
	return result, nil
}

// seedConcept creates a concept entity for a wikilinked name unless the
// dedup resolver matches it to an existing entity. Reports whether a new
// entity was created.
func (imp *Importer) seedConcept(ctx context.Context, userID, name, sourceFile string) (bool, error) {
	matchedID, err := imp.engine.CheckAndDeduplicate(ctx, userID, types.EntityTypeConcept, name)
	if err != nil {
		return false, err
	}
	if matchedID != 0 {
		return false, nil
	}

	entity := &types.Entity{
		Type:       types.EntityTypeConcept,
		Name:       name,
		Properties: map[string]interface{}{"origin_ref": "import:" + sourceFile},
		Confidence: seedConfidence,
	}
	if _, err := imp.engine.CreateEntity(ctx, userID, entity); err != nil {
		// Lost a race with a concurrent insert; the anchor exists either way.
		if errors.Is(err, storage.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// collectMarkdownFiles walks root and returns the paths of all .md and
// .markdown files, skipping hidden directories such as .obsidian and .git.
func collectMarkdownFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == ".md" || ext == ".markdown" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

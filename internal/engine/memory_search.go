package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// SearchOptions tunes a memory search. Zero fields fall back to the
// engine's configured search defaults.
type SearchOptions struct {
	// Limit caps the number of hits.
	Limit int

	// MinSimilarity drops vector hits below this cosine similarity.
	// Substring search ignores it.
	MinSimilarity float64
}

// normalize applies the configured defaults and bounds in place.
func (o *SearchOptions) normalize(defaults SearchConfig) {
	if o.Limit <= 0 {
		o.Limit = defaults.DefaultLimit
	}
	if o.Limit > defaults.MaxLimit {
		o.Limit = defaults.MaxLimit
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = defaults.MinSimilarity
	}
}

// MemorySearchResult is one ranked search hit. Similarity is cosine
// similarity for vector search and 0 for substring matches.
type MemorySearchResult struct {
	Note       *types.MemoryNote `json:"note"`
	Similarity float64           `json:"similarity"`
}

// searchMemories ranks stored notes against the query. Embedder
// configured: the query is embedded and matched against note vectors,
// preferring the in-memory index over a store scan. No embedder, or the
// query cannot be embedded: case-insensitive substring search. Every hit
// records an access on its quality record.
func (e *VaultEngine) searchMemories(ctx context.Context, store storage.Store, userID string, query string, opts SearchOptions) ([]MemorySearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}
	opts.normalize(e.config.Search)

	var results []MemorySearchResult
	var err error
	if e.embedder != nil {
		results, err = e.searchByVector(ctx, store, userID, query, opts)
		if err != nil {
			return nil, err
		}
	}
	if e.embedder == nil || results == nil {
		results, err = e.searchBySubstring(ctx, store, query, opts)
		if err != nil {
			return nil, err
		}
	}

	e.recordSearchAccess(ctx, store, results)
	return results, nil
}

// searchByVector embeds the query and ranks notes by cosine similarity.
// A nil, nil return means the vector path is unavailable and the caller
// should fall back to substring search.
func (e *VaultEngine) searchByVector(ctx context.Context, store storage.Store, userID string, query string, opts SearchOptions) ([]MemorySearchResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("WARNING: Query embedding failed, falling back to substring search: %v", err)
		return nil, nil
	}

	if e.index != nil {
		hits, err := e.index.Search(ctx, userID, vec, opts.Limit)
		if err != nil {
			return nil, err
		}
		results := make([]MemorySearchResult, 0, len(hits))
		for _, hit := range hits {
			if float64(hit.Similarity) < opts.MinSimilarity {
				continue
			}
			note, err := store.GetNote(ctx, hit.NoteID)
			if errors.Is(err, storage.ErrNotFound) {
				// The index is a mirror and may briefly outlive a note.
				continue
			}
			if err != nil {
				return nil, err
			}
			results = append(results, MemorySearchResult{Note: note, Similarity: float64(hit.Similarity)})
		}
		return results, nil
	}

	matches, err := store.SearchEmbeddings(ctx, vec, opts.Limit, opts.MinSimilarity, "memory:")
	if err != nil {
		return nil, err
	}
	results := make([]MemorySearchResult, 0, len(matches))
	for _, match := range matches {
		idStr, ok := strings.CutPrefix(match.Ref, "memory:")
		if !ok {
			continue
		}
		noteID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		note, err := store.GetNote(ctx, noteID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, MemorySearchResult{Note: note, Similarity: match.Similarity})
	}
	return results, nil
}

func (e *VaultEngine) searchBySubstring(ctx context.Context, store storage.Store, query string, opts SearchOptions) ([]MemorySearchResult, error) {
	notes, err := store.SearchNotesSubstring(ctx, query, opts.Limit)
	if err != nil {
		return nil, err
	}
	results := make([]MemorySearchResult, 0, len(notes))
	for _, note := range notes {
		results = append(results, MemorySearchResult{Note: note})
	}
	return results, nil
}

// recordSearchAccess bumps access tracking on each hit's quality record.
// Failures only cost the confidence nudge, so they are logged and the
// results returned anyway.
func (e *VaultEngine) recordSearchAccess(ctx context.Context, store storage.Store, results []MemorySearchResult) {
	now := time.Now()
	for _, result := range results {
		subject := "memory/" + strconv.FormatInt(result.Note.ID, 10)
		meta, err := latestMetaForSubject(ctx, store, subject)
		if err != nil || meta == nil {
			continue
		}
		if err := e.scorer.RecordAccess(ctx, store, meta.ID, now); err != nil {
			log.Printf("WARNING: Failed to record access on meta %d: %v", meta.ID, err)
		}
	}
}

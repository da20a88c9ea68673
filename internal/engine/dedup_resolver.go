package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/memvault/memvault/internal/extract"
	"github.com/memvault/memvault/internal/storage"
)

// Match types, in stage order. A candidate is reported under the first
// stage that matches it; an exact match is never reported as fuzzy.
const (
	MatchExact      = "exact"
	MatchNormalized = "normalized"
	MatchFuzzy      = "fuzzy"
	MatchAlias      = "alias"
	MatchSemantic   = "semantic"
)

// DuplicateMatch reports which existing entity a candidate name duplicates
// and through which stage the match was made.
type DuplicateMatch struct {
	EntityID   int64   `json:"entity_id"`
	MatchType  string  `json:"match_type"`
	Similarity float64 `json:"similarity"`
}

// DedupResolver resolves candidate entity names against the stored graph
// through staged matching: exact, normalized, fuzzy, alias, and an
// optional embedding-based semantic stage. Stages never match across
// entity types.
type DedupResolver struct {
	config   DedupConfig
	embedder extract.Embedder
}

// NewDedupResolver creates a resolver. embedder may be nil; the semantic
// stage then stays off regardless of configuration.
func NewDedupResolver(config DedupConfig, embedder extract.Embedder) *DedupResolver {
	return &DedupResolver{config: config, embedder: embedder}
}

// FindDuplicate runs the stages in order and returns the first match, or
// nil when no stage matches. Finding nothing is not an error.
func (r *DedupResolver) FindDuplicate(ctx context.Context, store storage.Store, entityType, name string) (*DuplicateMatch, error) {
	entityType = strings.TrimSpace(entityType)
	name = strings.TrimSpace(name)
	if entityType == "" || name == "" {
		return nil, fmt.Errorf("%w: entity type and name are required", storage.ErrInvalidInput)
	}

	// Stage 1: exact, case-insensitive within the type.
	existing, err := store.GetEntityByName(ctx, entityType, name)
	if err == nil {
		return &DuplicateMatch{EntityID: existing.ID, MatchType: MatchExact, Similarity: 1}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	names, err := store.ListEntityNames(ctx, entityType)
	if err != nil {
		return nil, err
	}

	// Stage 2: conservative singularization.
	normalized := normalizeName(name)
	for _, candidate := range names {
		if normalizeName(candidate.Name) == normalized {
			return &DuplicateMatch{EntityID: candidate.ID, MatchType: MatchNormalized, Similarity: 1}, nil
		}
	}

	// Stage 3: trigram similarity, strictly above the threshold; the
	// highest-scoring entity wins.
	var bestID int64
	var bestScore float64
	for _, candidate := range names {
		score := trigramSimilarity(name, candidate.Name)
		if score > bestScore {
			bestID, bestScore = candidate.ID, score
		}
	}
	if bestScore > r.config.FuzzyThreshold {
		return &DuplicateMatch{EntityID: bestID, MatchType: MatchFuzzy, Similarity: bestScore}, nil
	}

	// Stage 4: alias lists.
	for _, candidate := range names {
		for _, alias := range candidate.Aliases {
			if strings.EqualFold(alias, name) {
				return &DuplicateMatch{EntityID: candidate.ID, MatchType: MatchAlias, Similarity: 1}, nil
			}
		}
	}

	// Stage 5 (optional): nearest entity-name embedding.
	if r.config.SemanticEnabled && r.embedder != nil {
		match, err := r.findSemantic(ctx, store, entityType, name)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return match, nil
		}
	}

	return nil, nil
}

// CheckAndDeduplicate returns the id of the entity the candidate
// duplicates, or 0 when the candidate is new. The ingestion pipeline
// calls this before inserting extracted entities.
func (r *DedupResolver) CheckAndDeduplicate(ctx context.Context, store storage.Store, entityType, name string) (int64, error) {
	match, err := r.FindDuplicate(ctx, store, entityType, name)
	if err != nil {
		return 0, err
	}
	if match == nil {
		return 0, nil
	}
	return match.EntityID, nil
}

// findSemantic embeds the candidate name and looks for the nearest stored
// entity-name vector above the semantic threshold, rejecting hits whose
// entity is gone or of a different type.
func (r *DedupResolver) findSemantic(ctx context.Context, store storage.Store, entityType, name string) (*DuplicateMatch, error) {
	vector, err := r.embedder.Embed(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("semantic stage embedding: %w", err)
	}

	matches, err := store.SearchEmbeddings(ctx, vector, 5, r.config.SemanticThreshold, "entity:")
	if err != nil {
		return nil, err
	}

	for _, hit := range matches {
		ref, ok := strings.CutPrefix(hit.Ref, "entity:")
		if !ok {
			continue
		}
		id, parseErr := strconv.ParseInt(ref, 10, 64)
		if parseErr != nil {
			continue
		}

		entity, getErr := store.GetEntity(ctx, id)
		if errors.Is(getErr, storage.ErrNotFound) {
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		if entity.Type != entityType {
			continue
		}

		return &DuplicateMatch{EntityID: id, MatchType: MatchSemantic, Similarity: hit.Similarity}, nil
	}

	return nil, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/memvault/memvault/internal/extract"
	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

func newTestResolver() *DedupResolver {
	return NewDedupResolver(DefaultConfig().Dedup, nil)
}

// TestFindDuplicate_ExactCaseInsensitive verifies stage one matches names
// case-insensitively within a type and reports the exact stage, not a
// later one.
func TestFindDuplicate_ExactCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := seedEntity(t, store, types.EntityTypeFood, "Pizza")

	match, err := newTestResolver().FindDuplicate(ctx, store, types.EntityTypeFood, "pizza")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match == nil {
		t.Fatal("Expected a match for pizza, got nil")
	}
	if match.EntityID != id {
		t.Errorf("Matched entity %d, want %d", match.EntityID, id)
	}
	if match.MatchType != MatchExact {
		t.Errorf("Match type = %q, want %q", match.MatchType, MatchExact)
	}
	if match.Similarity != 1 {
		t.Errorf("Similarity = %v, want 1", match.Similarity)
	}
}

// TestFindDuplicate_NormalizedPlural verifies the singularization stage
// folds plural candidates onto the stored singular.
func TestFindDuplicate_NormalizedPlural(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := seedEntity(t, store, types.EntityTypeFood, "Breakfast Burrito")

	match, err := newTestResolver().FindDuplicate(ctx, store, types.EntityTypeFood, "Breakfast Burritos")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match == nil {
		t.Fatal("Expected a normalized match, got nil")
	}
	if match.EntityID != id || match.MatchType != MatchNormalized {
		t.Errorf("Got entity %d via %q, want %d via %q", match.EntityID, match.MatchType, id, MatchNormalized)
	}
}

// TestFindDuplicate_FuzzyTypo verifies the trigram stage catches a typo
// the earlier stages miss. The pair scores exactly 0.7 against the
// default 0.6 threshold.
func TestFindDuplicate_FuzzyTypo(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := seedEntity(t, store, types.EntityTypeFood, "breakfast burrito")

	match, err := newTestResolver().FindDuplicate(ctx, store, types.EntityTypeFood, "breakfast buritto")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match == nil {
		t.Fatal("Expected a fuzzy match, got nil")
	}
	if match.EntityID != id || match.MatchType != MatchFuzzy {
		t.Errorf("Got entity %d via %q, want %d via %q", match.EntityID, match.MatchType, id, MatchFuzzy)
	}
	if match.Similarity <= 0.6 || match.Similarity > 1 {
		t.Errorf("Fuzzy similarity = %v, want in (0.6, 1]", match.Similarity)
	}
}

// TestFindDuplicate_ThresholdIsStrict verifies a score exactly at the
// threshold does not match. The same typo pair scores 0.7, so raising
// the threshold to 0.7 must turn the match off.
func TestFindDuplicate_ThresholdIsStrict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedEntity(t, store, types.EntityTypeFood, "breakfast burrito")

	config := DefaultConfig().Dedup
	config.FuzzyThreshold = 0.7
	resolver := NewDedupResolver(config, nil)

	match, err := resolver.FindDuplicate(ctx, store, types.EntityTypeFood, "breakfast buritto")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match != nil {
		t.Errorf("Score equal to the threshold matched as %q with similarity %v, want no match", match.MatchType, match.Similarity)
	}
}

// TestFindDuplicate_Alias verifies the alias stage matches stored aliases
// case-insensitively.
func TestFindDuplicate_Alias(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	entity := &types.Entity{
		Type:         types.EntityTypePerson,
		Name:         "Robert",
		Confidence:   0.9,
		MentionCount: 1,
		FirstSeen:    now,
		LastSeen:     now,
	}
	entity.SetAliases([]string{"Bob", "Bobby"})
	id, err := store.CreateEntity(ctx, entity)
	if err != nil {
		t.Fatalf("Failed to seed aliased entity: %v", err)
	}

	match, err := newTestResolver().FindDuplicate(ctx, store, types.EntityTypePerson, "bob")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match == nil {
		t.Fatal("Expected an alias match, got nil")
	}
	if match.EntityID != id || match.MatchType != MatchAlias {
		t.Errorf("Got entity %d via %q, want %d via %q", match.EntityID, match.MatchType, id, MatchAlias)
	}
}

// TestFindDuplicate_TypeSeparation verifies no stage matches across
// entity types.
func TestFindDuplicate_TypeSeparation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedEntity(t, store, types.EntityTypePlace, "Paris")

	match, err := newTestResolver().FindDuplicate(ctx, store, types.EntityTypePerson, "Paris")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match != nil {
		t.Errorf("Matched across types via %q, want no match", match.MatchType)
	}
}

// TestFindDuplicate_Semantic verifies the optional embedding stage: a
// stored entity-name vector identical to the query's embedding is a
// certain hit, but only within the same entity type.
func TestFindDuplicate_Semantic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := seedEntity(t, store, types.EntityTypePlace, "Golden Gate Bridge")

	embedder := extract.NewHashEmbedder(64)
	vec, err := embedder.Embed(ctx, "GG Bridge")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if err := store.StoreEmbedding(ctx, fmt.Sprintf("entity:%d", id), vec); err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}

	config := DefaultConfig().Dedup
	config.SemanticEnabled = true
	resolver := NewDedupResolver(config, embedder)

	match, err := resolver.FindDuplicate(ctx, store, types.EntityTypePlace, "GG Bridge")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match == nil {
		t.Fatal("Expected a semantic match, got nil")
	}
	if match.EntityID != id || match.MatchType != MatchSemantic {
		t.Errorf("Got entity %d via %q, want %d via %q", match.EntityID, match.MatchType, id, MatchSemantic)
	}
	if match.Similarity < 0.99 {
		t.Errorf("Similarity = %v, want ~1 for identical vectors", match.Similarity)
	}

	// The hit's entity is a place; asking for a person must not match.
	match, err = resolver.FindDuplicate(ctx, store, types.EntityTypePerson, "GG Bridge")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match != nil {
		t.Errorf("Semantic stage matched across types via %q", match.MatchType)
	}
}

// TestFindDuplicate_SemanticOffByDefault verifies the default
// configuration never reaches the embedding stage.
func TestFindDuplicate_SemanticOffByDefault(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := seedEntity(t, store, types.EntityTypePlace, "Golden Gate Bridge")

	embedder := extract.NewHashEmbedder(64)
	vec, err := embedder.Embed(ctx, "GG Bridge")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if err := store.StoreEmbedding(ctx, fmt.Sprintf("entity:%d", id), vec); err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}

	resolver := NewDedupResolver(DefaultConfig().Dedup, embedder)
	match, err := resolver.FindDuplicate(ctx, store, types.EntityTypePlace, "GG Bridge")
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if match != nil {
		t.Errorf("Semantic stage ran while disabled, matched via %q", match.MatchType)
	}
}

// TestCheckAndDeduplicate verifies the pipeline-facing wrapper returns
// the matched id, or zero for a novel candidate.
func TestCheckAndDeduplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	id := seedEntity(t, store, types.EntityTypeFood, "Sushi")

	resolver := newTestResolver()

	got, err := resolver.CheckAndDeduplicate(ctx, store, types.EntityTypeFood, "sushi")
	if err != nil {
		t.Fatalf("CheckAndDeduplicate failed: %v", err)
	}
	if got != id {
		t.Errorf("CheckAndDeduplicate = %d, want %d", got, id)
	}

	got, err = resolver.CheckAndDeduplicate(ctx, store, types.EntityTypeFood, "Quesadilla")
	if err != nil {
		t.Fatalf("CheckAndDeduplicate failed: %v", err)
	}
	if got != 0 {
		t.Errorf("CheckAndDeduplicate for a new name = %d, want 0", got)
	}
}

// TestFindDuplicate_InvalidInput verifies blank type or name is rejected.
func TestFindDuplicate_InvalidInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := newTestResolver()

	if _, err := resolver.FindDuplicate(ctx, store, "", "pizza"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Empty type: got %v, want ErrInvalidInput", err)
	}
	if _, err := resolver.FindDuplicate(ctx, store, types.EntityTypeFood, "   "); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Blank name: got %v, want ErrInvalidInput", err)
	}
}

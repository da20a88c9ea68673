package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// TestPathBetween_Direct verifies a single edge resolves to a one-hop
// path in source-to-target order.
func TestPathBetween_Direct(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	a := seedEntity(t, store, types.EntityTypePerson, "a")
	b := seedEntity(t, store, types.EntityTypePerson, "b")
	seedEdge(t, store, a, b, types.RelKnows, 2)

	path, err := graph.PathBetween(ctx, store, a, b, 0)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path == nil {
		t.Fatal("Expected a path, got nil")
	}
	if path.Length != 1 || len(path.Nodes) != 2 || len(path.Edges) != 1 {
		t.Errorf("Path shape length=%d nodes=%d edges=%d, want 1/2/1", path.Length, len(path.Nodes), len(path.Edges))
	}
	if path.Nodes[0].ID != a || path.Nodes[1].ID != b {
		t.Errorf("Path order = [%d %d], want [%d %d]", path.Nodes[0].ID, path.Nodes[1].ID, a, b)
	}
	if path.TotalWeight != 2 {
		t.Errorf("TotalWeight = %v, want 2", path.TotalWeight)
	}
}

// TestPathBetween_HopCountBeatsWeight verifies hop count is the primary
// criterion: a light two-hop route wins over a heavy three-hop one.
func TestPathBetween_HopCountBeatsWeight(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	a := seedEntity(t, store, types.EntityTypeConcept, "a")
	b := seedEntity(t, store, types.EntityTypeConcept, "b")
	c := seedEntity(t, store, types.EntityTypeConcept, "c")
	d := seedEntity(t, store, types.EntityTypeConcept, "d")
	e := seedEntity(t, store, types.EntityTypeConcept, "e")

	seedEdge(t, store, a, b, types.RelRelatesTo, 0.1)
	seedEdge(t, store, b, c, types.RelRelatesTo, 0.1)
	seedEdge(t, store, a, d, types.RelRelatesTo, 10)
	seedEdge(t, store, d, e, types.RelRelatesTo, 10)
	seedEdge(t, store, e, c, types.RelRelatesTo, 10)

	path, err := graph.PathBetween(ctx, store, a, c, 0)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path == nil {
		t.Fatal("Expected a path, got nil")
	}
	if path.Length != 2 {
		t.Fatalf("Path length = %d, want the 2-hop route", path.Length)
	}
	if path.Nodes[1].ID != b {
		t.Errorf("Path went through %d, want %d", path.Nodes[1].ID, b)
	}
}

// TestPathBetween_WeightBreaksTies verifies that between equal-hop routes
// the one with the lower accumulated inverse weight wins, favoring
// stronger edges.
func TestPathBetween_WeightBreaksTies(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	a := seedEntity(t, store, types.EntityTypeConcept, "a")
	strong := seedEntity(t, store, types.EntityTypeConcept, "strong")
	weak := seedEntity(t, store, types.EntityTypeConcept, "weak")
	c := seedEntity(t, store, types.EntityTypeConcept, "c")

	seedEdge(t, store, a, strong, types.RelRelatesTo, 5)
	seedEdge(t, store, strong, c, types.RelRelatesTo, 5)
	seedEdge(t, store, a, weak, types.RelRelatesTo, 1)
	seedEdge(t, store, weak, c, types.RelRelatesTo, 1)

	path, err := graph.PathBetween(ctx, store, a, c, 0)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path == nil {
		t.Fatal("Expected a path, got nil")
	}
	if path.Length != 2 || path.Nodes[1].ID != strong {
		t.Errorf("Tie broke to entity %d, want the strong route via %d", path.Nodes[1].ID, strong)
	}
	if path.TotalWeight != 10 {
		t.Errorf("TotalWeight = %v, want 10", path.TotalWeight)
	}
}

// TestPathBetween_EdgeDirectionIgnored verifies paths cross edges against
// their stored direction.
func TestPathBetween_EdgeDirectionIgnored(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := seedEntity(t, store, types.EntityTypePerson, "a")
	b := seedEntity(t, store, types.EntityTypePerson, "b")
	c := seedEntity(t, store, types.EntityTypePerson, "c")
	seedEdge(t, store, a, b, types.RelKnows, 1)
	seedEdge(t, store, c, b, types.RelKnows, 1)

	path, err := newTestGraph().PathBetween(ctx, store, a, c, 0)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path == nil || path.Length != 2 {
		t.Fatalf("Expected a 2-hop path over a reversed edge, got %+v", path)
	}
}

// TestPathBetween_NoPath verifies disconnected entities yield nil without
// an error.
func TestPathBetween_NoPath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := seedEntity(t, store, types.EntityTypePerson, "a")
	z := seedEntity(t, store, types.EntityTypePerson, "z")

	path, err := newTestGraph().PathBetween(ctx, store, a, z, 0)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path != nil {
		t.Errorf("Expected nil for disconnected entities, got a path of length %d", path.Length)
	}
}

// TestPathBetween_DepthBound verifies the default bound of 4 hops, and
// that requests above the ceiling of 6 are clamped rather than honored.
func TestPathBetween_DepthBound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	// A 5-hop chain: within the ceiling but past the default.
	ids := make([]int64, 6)
	for i := range ids {
		ids[i] = seedEntity(t, store, types.EntityTypeConcept, string(rune('a'+i)))
	}
	for i := 0; i < len(ids)-1; i++ {
		seedEdge(t, store, ids[i], ids[i+1], types.RelRelatesTo, 1)
	}

	path, err := graph.PathBetween(ctx, store, ids[0], ids[5], 0)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path != nil {
		t.Errorf("Default depth found a %d-hop path, want nil past 4 hops", path.Length)
	}

	path, err = graph.PathBetween(ctx, store, ids[0], ids[5], 5)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path == nil || path.Length != 5 {
		t.Fatalf("Depth 5 search: got %+v, want the 5-hop path", path)
	}

	// Requesting 50 clamps to 6, which still reaches the target here.
	path, err = graph.PathBetween(ctx, store, ids[0], ids[5], 50)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path == nil || path.Length != 5 {
		t.Errorf("Clamped search: got %+v, want the 5-hop path", path)
	}
}

// TestPathBetween_SameEntity verifies the degenerate source == target
// case is a zero-length single-node path.
func TestPathBetween_SameEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := seedEntity(t, store, types.EntityTypePerson, "a")
	path, err := newTestGraph().PathBetween(ctx, store, a, a, 0)
	if err != nil {
		t.Fatalf("PathBetween failed: %v", err)
	}
	if path == nil || path.Length != 0 || len(path.Nodes) != 1 {
		t.Errorf("Self path = %+v, want a single-node zero-length path", path)
	}
}

// TestPathBetween_UnknownEndpoint verifies missing endpoints error with
// not-found instead of silently returning nil.
func TestPathBetween_UnknownEndpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a := seedEntity(t, store, types.EntityTypePerson, "a")

	if _, err := newTestGraph().PathBetween(ctx, store, a, 9999, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Unknown target: got %v, want ErrNotFound", err)
	}
	if _, err := newTestGraph().PathBetween(ctx, store, 9999, a, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Unknown source: got %v, want ErrNotFound", err)
	}
}

// seedPatternGraph builds the little world the pattern query tests share.
func seedPatternGraph(t *testing.T, store storage.Store) map[string]int64 {
	t.Helper()
	ids := map[string]int64{
		"user":     seedEntity(t, store, types.EntityTypePerson, "user"),
		"pizza":    seedEntity(t, store, types.EntityTypeFood, "pizza"),
		"sushi":    seedEntity(t, store, types.EntityTypeFood, "sushi"),
		"kale":     seedEntity(t, store, types.EntityTypeFood, "kale"),
		"dana":     seedEntity(t, store, types.EntityTypePerson, "Dana"),
		"acme":     seedEntity(t, store, types.EntityTypeOrganization, "Acme"),
		"portland": seedEntity(t, store, types.EntityTypePlace, "Portland"),
	}

	seedEdge(t, store, ids["user"], ids["pizza"], types.RelLikes, 1)
	seedEdge(t, store, ids["user"], ids["sushi"], types.RelLikes, 1)
	seedEdge(t, store, ids["user"], ids["kale"], types.RelDislikes, 1)
	seedEdge(t, store, ids["user"], ids["dana"], types.RelMarriedTo, 1)
	seedEdge(t, store, ids["dana"], ids["acme"], types.RelWorksAt, 1)
	seedEdge(t, store, ids["dana"], ids["portland"], types.RelLivesIn, 1)
	return ids
}

// TestQueryPattern_StructuredByRelation verifies relation-only criteria
// return every matching edge exactly once.
func TestQueryPattern_StructuredByRelation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ids := seedPatternGraph(t, store)

	result, err := newTestGraph().QueryPattern(ctx, store, PatternQuery{
		Criteria: PatternCriteria{Relation: types.RelLikes},
	})
	if err != nil {
		t.Fatalf("QueryPattern failed: %v", err)
	}
	if len(result.Matches) != 2 {
		t.Fatalf("Got %d matches, want 2", len(result.Matches))
	}
	for _, match := range result.Matches {
		if match.Edge.Relation != types.RelLikes {
			t.Errorf("Match has relation %q, want %q", match.Edge.Relation, types.RelLikes)
		}
		if match.Source.ID != ids["user"] {
			t.Errorf("Match source = %d, want the user entity", match.Source.ID)
		}
	}
}

// TestQueryPattern_ConfidenceOrder verifies matches come back highest
// edge confidence first.
func TestQueryPattern_ConfidenceOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := seedEntity(t, store, types.EntityTypePerson, "user")
	pizza := seedEntity(t, store, types.EntityTypeFood, "pizza")
	sushi := seedEntity(t, store, types.EntityTypeFood, "sushi")

	now := time.Now()
	low, err := store.UpsertEdge(ctx, &types.Edge{
		SourceID: user, TargetID: sushi, Relation: types.RelLikes,
		Weight: 1, Confidence: 0.5, FirstSeen: now, LastSeen: now,
	})
	if err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}
	high, err := store.UpsertEdge(ctx, &types.Edge{
		SourceID: user, TargetID: pizza, Relation: types.RelLikes,
		Weight: 1, Confidence: 0.95, FirstSeen: now, LastSeen: now,
	})
	if err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	result, err := newTestGraph().QueryPattern(ctx, store, PatternQuery{
		Criteria: PatternCriteria{Relation: types.RelLikes},
	})
	if err != nil {
		t.Fatalf("QueryPattern failed: %v", err)
	}
	if len(result.Matches) != 2 {
		t.Fatalf("Got %d matches, want 2", len(result.Matches))
	}
	if result.Matches[0].Edge.ID != high.ID || result.Matches[1].Edge.ID != low.ID {
		t.Errorf("Match order = [%d %d], want [%d %d]",
			result.Matches[0].Edge.ID, result.Matches[1].Edge.ID, high.ID, low.ID)
	}
}

// TestQueryPattern_EntityNameMatchesEitherEndpoint verifies a name
// criterion picks up edges on both sides of the named entity, including
// through an alias.
func TestQueryPattern_EntityNameMatchesEitherEndpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ids := seedPatternGraph(t, store)

	result, err := newTestGraph().QueryPattern(ctx, store, PatternQuery{
		Criteria: PatternCriteria{EntityName: "dana"},
	})
	if err != nil {
		t.Fatalf("QueryPattern failed: %v", err)
	}
	// married_to in, works_at and lives_in out.
	if len(result.Matches) != 3 {
		t.Fatalf("Got %d matches, want 3", len(result.Matches))
	}
	for _, match := range result.Matches {
		if match.Source.ID != ids["dana"] && match.Target.ID != ids["dana"] {
			t.Errorf("Match %d-%s->%d does not touch Dana", match.Source.ID, match.Edge.Relation, match.Target.ID)
		}
	}
}

// TestQueryPattern_AliasName verifies the name criterion honors stored
// aliases.
func TestQueryPattern_AliasName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	robert := &types.Entity{
		Type: types.EntityTypePerson, Name: "Robert",
		Confidence: 0.9, MentionCount: 1, FirstSeen: now, LastSeen: now,
	}
	robert.SetAliases([]string{"Bob"})
	robertID, err := store.CreateEntity(ctx, robert)
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	user := seedEntity(t, store, types.EntityTypePerson, "user")
	seedEdge(t, store, user, robertID, types.RelFriendOf, 1)

	result, err := newTestGraph().QueryPattern(ctx, store, PatternQuery{
		Criteria: PatternCriteria{EntityName: "bob"},
	})
	if err != nil {
		t.Fatalf("QueryPattern failed: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Target.ID != robertID {
		t.Fatalf("Alias lookup got %d matches, want the friend_of edge to Robert", len(result.Matches))
	}
}

// TestQueryPattern_TargetTypeFilter verifies target-type criteria drop
// edges pointing at other types.
func TestQueryPattern_TargetTypeFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ids := seedPatternGraph(t, store)

	result, err := newTestGraph().QueryPattern(ctx, store, PatternQuery{
		Criteria: PatternCriteria{EntityName: "dana", TargetType: types.EntityTypePlace},
	})
	if err != nil {
		t.Fatalf("QueryPattern failed: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Target.ID != ids["portland"] {
		t.Fatalf("Got %d matches, want only the lives_in edge to Portland", len(result.Matches))
	}
}

// TestQueryPattern_EmptyCriteria verifies a query with neither text nor
// criteria is rejected.
func TestQueryPattern_EmptyCriteria(t *testing.T) {
	store := newTestStore(t)
	_, err := newTestGraph().QueryPattern(context.Background(), store, PatternQuery{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Got %v, want ErrInvalidInput", err)
	}
}

// TestQueryPattern_Templates runs each recognized phrase shape end to end
// against the shared graph.
func TestQueryPattern_Templates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ids := seedPatternGraph(t, store)

	cases := []struct {
		text         string
		wantCriteria PatternCriteria
		wantTargets  []int64
	}{
		{
			text:         "What foods do I like?",
			wantCriteria: PatternCriteria{TargetType: types.EntityTypeFood, Relation: types.RelLikes},
			wantTargets:  []int64{ids["pizza"], ids["sushi"]},
		},
		{
			text:         "who works_at Acme?",
			wantCriteria: PatternCriteria{Relation: types.RelWorksAt, EntityName: "Acme"},
			wantTargets:  []int64{ids["acme"]},
		},
		{
			text:         "Where does Dana live?",
			wantCriteria: PatternCriteria{EntityName: "Dana", Relation: types.RelLivesIn},
			wantTargets:  []int64{ids["portland"]},
		},
		{
			text:         "what is related to pizza",
			wantCriteria: PatternCriteria{EntityName: "pizza"},
			wantTargets:  []int64{ids["pizza"]},
		},
	}

	for _, tc := range cases {
		result, err := newTestGraph().QueryPattern(ctx, store, PatternQuery{Text: tc.text})
		if err != nil {
			t.Errorf("QueryPattern(%q) failed: %v", tc.text, err)
			continue
		}
		if result.Criteria != tc.wantCriteria {
			t.Errorf("QueryPattern(%q) resolved criteria %+v, want %+v", tc.text, result.Criteria, tc.wantCriteria)
		}
		if len(result.Matches) == 0 {
			t.Errorf("QueryPattern(%q) found no matches", tc.text)
			continue
		}
		for _, want := range tc.wantTargets {
			found := false
			for _, match := range result.Matches {
				if match.Target.ID == want || match.Source.ID == want {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("QueryPattern(%q) missing entity %d in matches", tc.text, want)
			}
		}
	}
}

// TestQueryPattern_VerbPluralization verifies a template verb matches the
// stored relation with a trailing s added.
func TestQueryPattern_VerbPluralization(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPatternGraph(t, store)

	result, err := newTestGraph().QueryPattern(ctx, store, PatternQuery{Text: "what foods do i dislike"})
	if err != nil {
		t.Fatalf("QueryPattern failed: %v", err)
	}
	if result.Criteria.Relation != types.RelDislikes {
		t.Errorf("Resolved relation %q, want %q", result.Criteria.Relation, types.RelDislikes)
	}
	if len(result.Matches) != 1 {
		t.Errorf("Got %d matches, want the kale edge alone", len(result.Matches))
	}
}

// TestQueryPattern_UnrecognizedText verifies free text outside the
// templates fails with the sentinel error rather than guessing.
func TestQueryPattern_UnrecognizedText(t *testing.T) {
	store := newTestStore(t)

	_, err := newTestGraph().QueryPattern(context.Background(), store, PatternQuery{Text: "tell me everything you know"})
	if !errors.Is(err, ErrPatternNotRecognized) {
		t.Errorf("Got %v, want ErrPatternNotRecognized", err)
	}
}

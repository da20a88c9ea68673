package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

func newTestGraph() *GraphEngine {
	return NewGraphEngine(DefaultConfig().Graph)
}

func nodeIDs(result *TraversalResult) map[int64]int {
	depths := make(map[int64]int, len(result.Nodes))
	for _, node := range result.Nodes {
		depths[node.Entity.ID] = node.Depth
	}
	return depths
}

// TestNeighbors_Filters verifies direction and relation filtering over a
// small star graph.
func TestNeighbors_Filters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	user := seedEntity(t, store, types.EntityTypePerson, "user")
	pizza := seedEntity(t, store, types.EntityTypeFood, "pizza")
	kale := seedEntity(t, store, types.EntityTypeFood, "kale")
	dana := seedEntity(t, store, types.EntityTypePerson, "Dana")

	seedEdge(t, store, user, pizza, types.RelLikes, 1)
	seedEdge(t, store, user, kale, types.RelDislikes, 1)
	seedEdge(t, store, dana, user, types.RelKnows, 1)

	neighbors, err := graph.Neighbors(ctx, store, user, storage.NeighborOptions{})
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(neighbors) != 3 {
		t.Errorf("Both directions: got %d neighbors, want 3", len(neighbors))
	}

	neighbors, err = graph.Neighbors(ctx, store, user, storage.NeighborOptions{Direction: storage.DirectionOutgoing})
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(neighbors) != 2 {
		t.Errorf("Outgoing only: got %d neighbors, want 2", len(neighbors))
	}

	neighbors, err = graph.Neighbors(ctx, store, user, storage.NeighborOptions{Relations: []string{types.RelLikes}})
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(neighbors) != 1 {
		t.Fatalf("Relation filter: got %d neighbors, want 1", len(neighbors))
	}
	if neighbors[0].Entity.ID != pizza {
		t.Errorf("Relation filter returned entity %d, want %d", neighbors[0].Entity.ID, pizza)
	}
	if neighbors[0].Edge == nil || neighbors[0].Edge.Relation != types.RelLikes {
		t.Error("Neighbor is missing its connecting edge")
	}
}

// TestNeighbors_MissingEntity verifies an unknown id errors instead of
// returning an empty list.
func TestNeighbors_MissingEntity(t *testing.T) {
	store := newTestStore(t)
	_, err := newTestGraph().Neighbors(context.Background(), store, 9999, storage.NeighborOptions{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Got %v, want ErrNotFound", err)
	}
}

// TestTraverse_DepthSemantics walks a 4-hop chain and verifies the
// default depth, an explicit depth, and the hard ceiling. A request above
// the ceiling behaves exactly like the ceiling.
func TestTraverse_DepthSemantics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	a := seedEntity(t, store, types.EntityTypeConcept, "a")
	b := seedEntity(t, store, types.EntityTypeConcept, "b")
	c := seedEntity(t, store, types.EntityTypeConcept, "c")
	d := seedEntity(t, store, types.EntityTypeConcept, "d")
	e := seedEntity(t, store, types.EntityTypeConcept, "e")
	seedEdge(t, store, a, b, types.RelRelatesTo, 1)
	seedEdge(t, store, b, c, types.RelRelatesTo, 1)
	seedEdge(t, store, c, d, types.RelRelatesTo, 1)
	seedEdge(t, store, d, e, types.RelRelatesTo, 1)

	// Default depth is 2: the start at depth 0, b at one hop, c at two.
	result, err := graph.Traverse(ctx, store, a, TraverseOptions{})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	depths := nodeIDs(result)
	if len(depths) != 3 || depths[a] != 0 || depths[b] != 1 || depths[c] != 2 {
		t.Errorf("Default depth visited %v, want a@0, b@1, c@2", depths)
	}

	result, err = graph.Traverse(ctx, store, a, TraverseOptions{MaxDepth: 3})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	depths = nodeIDs(result)
	if len(depths) != 4 || depths[d] != 3 {
		t.Errorf("Depth 3 visited %v, want a, b, c, and d@3", depths)
	}

	// Depth 10 clamps to the ceiling of 3 and must match the depth-3 walk.
	result, err = graph.Traverse(ctx, store, a, TraverseOptions{MaxDepth: 10})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	clamped := nodeIDs(result)
	if len(clamped) != len(depths) {
		t.Errorf("Clamped walk visited %d nodes, want %d", len(clamped), len(depths))
	}
	if _, reached := clamped[e]; reached {
		t.Error("Clamped walk reached a node past the depth ceiling")
	}
}

// TestTraverse_TypeFilter verifies entity-type filtering excludes nodes
// and blocks expansion through them.
func TestTraverse_TypeFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	user := seedEntity(t, store, types.EntityTypePerson, "user")
	pizza := seedEntity(t, store, types.EntityTypeFood, "pizza")
	dana := seedEntity(t, store, types.EntityTypePerson, "Dana")
	acme := seedEntity(t, store, types.EntityTypeOrganization, "Acme")
	rome := seedEntity(t, store, types.EntityTypePlace, "Rome")

	seedEdge(t, store, user, pizza, types.RelLikes, 1)
	seedEdge(t, store, user, dana, types.RelMarriedTo, 1)
	seedEdge(t, store, dana, acme, types.RelWorksAt, 1)
	seedEdge(t, store, pizza, rome, types.RelRelatesTo, 1)

	result, err := graph.Traverse(ctx, store, user, TraverseOptions{
		MaxDepth:    3,
		EntityTypes: []string{types.EntityTypePerson},
	})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}

	depths := nodeIDs(result)
	if len(depths) != 2 || depths[user] != 0 || depths[dana] != 1 {
		t.Errorf("Type filter visited %v, want the start and Dana only", depths)
	}
	// Rome is reachable only through the filtered-out pizza node.
	if _, reached := depths[rome]; reached {
		t.Error("Traversal expanded through an excluded node")
	}
}

// TestTraverse_RelationFilter verifies the walk only crosses listed
// relations.
func TestTraverse_RelationFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := newTestGraph()

	user := seedEntity(t, store, types.EntityTypePerson, "user")
	pizza := seedEntity(t, store, types.EntityTypeFood, "pizza")
	dana := seedEntity(t, store, types.EntityTypePerson, "Dana")
	seedEdge(t, store, user, pizza, types.RelLikes, 1)
	seedEdge(t, store, user, dana, types.RelMarriedTo, 1)

	result, err := graph.Traverse(ctx, store, user, TraverseOptions{
		Relations: []string{types.RelLikes},
	})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}

	depths := nodeIDs(result)
	if len(depths) != 2 {
		t.Fatalf("Relation filter visited %d nodes, want 2", len(depths))
	}
	if _, reached := depths[pizza]; !reached {
		t.Error("Relation filter missed the likes edge")
	}
	if _, reached := depths[dana]; reached {
		t.Error("Relation filter crossed an unlisted relation")
	}
}

// TestTraverse_IsolatedStart verifies a start entity with no edges yields
// an empty result, not an error.
func TestTraverse_IsolatedStart(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	lone := seedEntity(t, store, types.EntityTypeConcept, "loner")
	result, err := newTestGraph().Traverse(ctx, store, lone, TraverseOptions{})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if len(result.Nodes) != 1 || result.Nodes[0].Entity.ID != lone {
		t.Errorf("Isolated start returned %d nodes, want just the start", len(result.Nodes))
	}
	if len(result.Edges) != 0 {
		t.Errorf("Isolated start walked %d edges, want none", len(result.Edges))
	}
}

// TestCentrality verifies degree counts split by direction and the
// weighted variants sum edge weights.
func TestCentrality(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := seedEntity(t, store, types.EntityTypePerson, "user")
	dana := seedEntity(t, store, types.EntityTypePerson, "Dana")
	acme := seedEntity(t, store, types.EntityTypeOrganization, "Acme")
	seedEdge(t, store, user, dana, types.RelMarriedTo, 2)
	seedEdge(t, store, dana, acme, types.RelWorksAt, 3)

	result, err := newTestGraph().Centrality(ctx, store, dana)
	if err != nil {
		t.Fatalf("Centrality failed: %v", err)
	}
	if result.InDegree != 1 || result.OutDegree != 1 || result.Degree != 2 {
		t.Errorf("Degrees = in %d out %d total %d, want 1/1/2", result.InDegree, result.OutDegree, result.Degree)
	}
	if result.WeightedInDegree != 2 || result.WeightedOutDegree != 3 || result.WeightedDegree != 5 {
		t.Errorf("Weighted degrees = in %v out %v total %v, want 2/3/5",
			result.WeightedInDegree, result.WeightedOutDegree, result.WeightedDegree)
	}

	if _, err := newTestGraph().Centrality(ctx, store, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Unknown entity: got %v, want ErrNotFound", err)
	}
}

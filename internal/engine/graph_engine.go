package engine

import (
	"context"
	"errors"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// Neighbor pairs an adjacent entity with the edge connecting it to the
// queried entity.
type Neighbor struct {
	Entity *types.Entity `json:"entity"`
	Edge   *types.Edge   `json:"edge"`
}

// TraverseOptions bounds a breadth-first walk.
type TraverseOptions struct {
	// MaxDepth is the requested hop limit. Non-positive applies the
	// configured default; the configured ceiling clamps any request.
	MaxDepth int `json:"max_depth,omitempty"`

	// Relations restricts the walk to these relation tags. Empty means all.
	Relations []string `json:"relations,omitempty"`

	// EntityTypes restricts visited entities to these types. Empty means
	// all; the start entity is always included.
	EntityTypes []string `json:"entity_types,omitempty"`

	// MinConfidence drops edges below this confidence.
	MinConfidence float64 `json:"min_confidence,omitempty"`

	// Limit caps the number of visited entities (default: 50, max: 500).
	Limit int `json:"limit,omitempty"`
}

// TraversalNode is one visited entity with the hop depth it was first
// reached at.
type TraversalNode struct {
	Entity *types.Entity `json:"entity"`
	Depth  int           `json:"depth"`
}

// TraversalResult holds the entities reached by a breadth-first walk and
// the edges walked to reach them.
type TraversalResult struct {
	Nodes []*TraversalNode `json:"nodes"`
	Edges []*types.Edge    `json:"edges"`
}

// GraphEngine serves neighbor, traversal, path, pattern, and statistics
// queries over one store's knowledge graph. It is stateless beyond its
// depth bounds and safe for concurrent use.
type GraphEngine struct {
	config GraphConfig
}

// NewGraphEngine creates a graph engine with the given bounds.
func NewGraphEngine(config GraphConfig) *GraphEngine {
	return &GraphEngine{config: config}
}

// Neighbors returns the entities one hop from entityID with the
// connecting edges, honoring direction, relation, and confidence filters.
func (g *GraphEngine) Neighbors(ctx context.Context, store storage.Store, entityID int64, opts storage.NeighborOptions) ([]*Neighbor, error) {
	if _, err := store.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}

	opts.Normalize()
	edges, err := store.ListNeighborEdges(ctx, []int64{entityID}, opts)
	if err != nil {
		return nil, err
	}

	neighbors := make([]*Neighbor, 0, len(edges))
	for _, edge := range edges {
		other, err := store.GetEntity(ctx, edge.Other(entityID))
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted endpoint; the edge is stale but harmless.
			continue
		}
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, &Neighbor{Entity: other, Edge: edge})
	}
	return neighbors, nil
}

// Traverse walks the graph breadth-first from startID. The requested
// depth is defaulted and clamped by configuration regardless of what the
// caller asks for; visited-set tracking guarantees termination on cycles.
func (g *GraphEngine) Traverse(ctx context.Context, store storage.Store, startID int64, opts TraverseOptions) (*TraversalResult, error) {
	start, err := store.GetEntity(ctx, startID)
	if err != nil {
		return nil, err
	}

	depth := opts.MaxDepth
	if depth <= 0 {
		depth = g.config.DefaultTraverseDepth
	}
	if depth > g.config.MaxTraverseDepth {
		depth = g.config.MaxTraverseDepth
	}

	hop := storage.NeighborOptions{
		Relations:     opts.Relations,
		MinConfidence: opts.MinConfidence,
		Limit:         opts.Limit,
	}
	hop.Normalize()
	limit := hop.Limit

	typeAllowed := func(entityType string) bool {
		if len(opts.EntityTypes) == 0 {
			return true
		}
		for _, t := range opts.EntityTypes {
			if t == entityType {
				return true
			}
		}
		return false
	}

	result := &TraversalResult{
		Nodes: []*TraversalNode{{Entity: start, Depth: 0}},
	}
	visited := map[int64]bool{startID: true}
	seenEdges := map[int64]bool{}
	frontier := []int64{startID}

	for d := 1; d <= depth && len(frontier) > 0 && len(result.Nodes) < limit; d++ {
		edges, err := store.ListNeighborEdges(ctx, frontier, hop)
		if err != nil {
			return nil, err
		}

		var next []int64
		for _, edge := range edges {
			if !seenEdges[edge.ID] {
				seenEdges[edge.ID] = true
				result.Edges = append(result.Edges, edge)
			}

			for _, endpoint := range []int64{edge.SourceID, edge.TargetID} {
				if visited[endpoint] || len(result.Nodes) >= limit {
					continue
				}
				visited[endpoint] = true

				entity, err := store.GetEntity(ctx, endpoint)
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				if !typeAllowed(entity.Type) {
					continue
				}

				result.Nodes = append(result.Nodes, &TraversalNode{Entity: entity, Depth: d})
				next = append(next, endpoint)
			}
		}
		frontier = next
	}

	return result, nil
}

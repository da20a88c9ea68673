package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// ErrPatternNotRecognized reports a natural-language query that matched
// none of the known phrase templates.
var ErrPatternNotRecognized = errors.New("pattern not recognized")

// Path is one hop-shortest route between two entities.
type Path struct {
	Nodes       []*types.Entity `json:"nodes"`
	Edges       []*types.Edge   `json:"edges"`
	TotalWeight float64         `json:"total_weight"`
	Length      int             `json:"length"`
}

// PatternCriteria is the structured form every pattern query reduces to.
// EntityName matches either endpoint of an edge (display name or alias);
// EntityType constrains the source, TargetType the target.
type PatternCriteria struct {
	EntityType string `json:"entity_type,omitempty"`
	EntityName string `json:"entity_name,omitempty"`
	Relation   string `json:"relation,omitempty"`
	TargetType string `json:"target_type,omitempty"`
}

func (c *PatternCriteria) isEmpty() bool {
	return c.EntityType == "" && c.EntityName == "" && c.Relation == "" && c.TargetType == ""
}

// PatternQuery is a graph pattern query: either a natural-language Text
// matched against the known templates, or explicit Criteria.
type PatternQuery struct {
	Text     string          `json:"text,omitempty"`
	Criteria PatternCriteria `json:"criteria,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// PatternMatch is one edge satisfying the criteria, with both endpoints
// resolved.
type PatternMatch struct {
	Source *types.Entity `json:"source"`
	Edge   *types.Edge   `json:"edge"`
	Target *types.Entity `json:"target"`
}

// PatternResult echoes the criteria a query resolved to alongside its
// matches.
type PatternResult struct {
	Criteria PatternCriteria `json:"criteria"`
	Matches  []*PatternMatch `json:"matches"`
}

// pathState tracks the best known route to a node during the path search.
type pathState struct {
	cost   float64
	depth  int
	prevID int64
	edge   *types.Edge
}

// PathBetween finds the shortest path between two entities by hop count,
// breaking ties at equal hop count by the lower accumulated inverse-weight
// cost (cost(edge) = 1/max(weight, 0.01)). Returns nil, not an error, when
// no path exists within the depth bound.
func (g *GraphEngine) PathBetween(ctx context.Context, store storage.Store, sourceID, targetID int64, maxDepth int) (*Path, error) {
	source, err := store.GetEntity(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := store.GetEntity(ctx, targetID); err != nil {
		return nil, err
	}

	if maxDepth <= 0 {
		maxDepth = g.config.DefaultPathDepth
	}
	if maxDepth > g.config.MaxPathDepth {
		maxDepth = g.config.MaxPathDepth
	}

	if sourceID == targetID {
		return &Path{Nodes: []*types.Entity{source}}, nil
	}

	// Level-synchronized BFS: every node of depth d settles before depth
	// d+1 opens, so the first level containing the target holds only
	// hop-optimal routes and the cost comparison picks among them.
	states := map[int64]*pathState{sourceID: {}}
	frontier := []int64{sourceID}
	hop := storage.NeighborOptions{Direction: storage.DirectionBoth, Limit: 500}

	found := false
	for depth := 1; depth <= maxDepth && len(frontier) > 0 && !found; depth++ {
		edges, err := store.ListNeighborEdges(ctx, frontier, hop)
		if err != nil {
			return nil, err
		}

		var next []int64
		for _, edge := range edges {
			for _, fromID := range []int64{edge.SourceID, edge.TargetID} {
				from, ok := states[fromID]
				if !ok || from.depth != depth-1 {
					continue
				}

				toID := edge.Other(fromID)
				if toID == fromID {
					continue
				}
				cost := from.cost + 1/maxFloat(edge.Weight, 0.01)

				known, seen := states[toID]
				switch {
				case !seen:
					states[toID] = &pathState{cost: cost, depth: depth, prevID: fromID, edge: edge}
					next = append(next, toID)
				case known.depth == depth && cost < known.cost:
					known.cost = cost
					known.prevID = fromID
					known.edge = edge
				}
			}
		}

		if _, ok := states[targetID]; ok {
			found = true
		}
		frontier = next
	}

	if !found {
		return nil, nil
	}
	return g.reconstructPath(ctx, store, states, targetID)
}

// reconstructPath walks the predecessor chain back from the target and
// assembles the path in source-to-target order.
func (g *GraphEngine) reconstructPath(ctx context.Context, store storage.Store, states map[int64]*pathState, targetID int64) (*Path, error) {
	var nodeIDs []int64
	var edges []*types.Edge

	for id := targetID; ; {
		state := states[id]
		nodeIDs = append(nodeIDs, id)
		if state.edge == nil {
			break
		}
		edges = append(edges, state.edge)
		id = state.prevID
	}

	// Reverse into source-to-target order.
	for i, j := 0, len(nodeIDs)-1; i < j; i, j = i+1, j-1 {
		nodeIDs[i], nodeIDs[j] = nodeIDs[j], nodeIDs[i]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}

	path := &Path{Edges: edges, Length: len(edges)}
	for _, edge := range edges {
		path.TotalWeight += edge.Weight
	}
	for _, id := range nodeIDs {
		entity, err := store.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		path.Nodes = append(path.Nodes, entity)
	}
	return path, nil
}

// QueryPattern resolves a pattern query to structured criteria and
// returns the matching edges with resolved endpoints, highest confidence
// first.
func (g *GraphEngine) QueryPattern(ctx context.Context, store storage.Store, query PatternQuery) (*PatternResult, error) {
	criteria := query.Criteria
	if text := strings.TrimSpace(query.Text); text != "" {
		parsed, err := parsePatternText(text)
		if err != nil {
			return nil, err
		}
		criteria = *parsed
	} else if criteria.isEmpty() {
		return nil, fmt.Errorf("%w: pattern query needs text or at least one criterion", storage.ErrInvalidInput)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	seeds, err := g.patternSeeds(ctx, store, criteria)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return &PatternResult{Criteria: criteria}, nil
	}

	seedIDs := make([]int64, 0, len(seeds))
	byID := make(map[int64]*types.Entity, len(seeds))
	for _, entity := range seeds {
		seedIDs = append(seedIDs, entity.ID)
		byID[entity.ID] = entity
	}

	hop := storage.NeighborOptions{Direction: storage.DirectionBoth, Limit: 500}
	if criteria.Relation != "" {
		hop.Relations = []string{criteria.Relation}
	}
	edges, err := store.ListNeighborEdges(ctx, seedIDs, hop)
	if err != nil {
		return nil, err
	}

	result := &PatternResult{Criteria: criteria}
	seen := map[int64]bool{}
	for _, edge := range edges {
		if seen[edge.ID] {
			continue
		}
		seen[edge.ID] = true

		source, err := g.patternEntity(ctx, store, byID, edge.SourceID)
		if err != nil {
			return nil, err
		}
		target, err := g.patternEntity(ctx, store, byID, edge.TargetID)
		if err != nil {
			return nil, err
		}
		if source == nil || target == nil {
			continue
		}
		if !criteria.matchesEdge(source, target) {
			continue
		}

		result.Matches = append(result.Matches, &PatternMatch{Source: source, Edge: edge, Target: target})
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		if result.Matches[i].Edge.Confidence != result.Matches[j].Edge.Confidence {
			return result.Matches[i].Edge.Confidence > result.Matches[j].Edge.Confidence
		}
		return result.Matches[i].Edge.ID < result.Matches[j].Edge.ID
	})
	if len(result.Matches) > limit {
		result.Matches = result.Matches[:limit]
	}
	return result, nil
}

// patternSeeds picks the entities to expand edges from: named entities
// when EntityName is set, one type's entities when EntityType is set,
// otherwise a bounded scan of the whole graph.
func (g *GraphEngine) patternSeeds(ctx context.Context, store storage.Store, criteria PatternCriteria) ([]*types.Entity, error) {
	if criteria.EntityName == "" {
		page, err := store.ListEntities(ctx, storage.EntityFilter{Type: criteria.EntityType, Limit: 200})
		if err != nil {
			return nil, err
		}
		return page.Items, nil
	}

	// Display names first; the substring filter keeps this cheap.
	page, err := store.ListEntities(ctx, storage.EntityFilter{NameContains: criteria.EntityName, Limit: 200})
	if err != nil {
		return nil, err
	}
	if seeds := seedsMatchingName(page.Items, criteria.EntityName); len(seeds) > 0 {
		return seeds, nil
	}

	// The name may be an alias, which the substring filter cannot see.
	page, err = store.ListEntities(ctx, storage.EntityFilter{Limit: 200})
	if err != nil {
		return nil, err
	}
	return seedsMatchingName(page.Items, criteria.EntityName), nil
}

func seedsMatchingName(entities []*types.Entity, name string) []*types.Entity {
	var seeds []*types.Entity
	for _, entity := range entities {
		if strings.EqualFold(entity.Name, name) || entity.HasAlias(name) {
			seeds = append(seeds, entity)
		}
	}
	return seeds
}

// patternEntity resolves an edge endpoint, consulting the seed cache
// first. A soft-deleted endpoint resolves to nil.
func (g *GraphEngine) patternEntity(ctx context.Context, store storage.Store, cache map[int64]*types.Entity, id int64) (*types.Entity, error) {
	if entity, ok := cache[id]; ok {
		return entity, nil
	}
	entity, err := store.GetEntity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cache[id] = entity
	return entity, nil
}

// matchesEdge applies the criteria to one resolved edge. The relation was
// already filtered at the store.
func (c *PatternCriteria) matchesEdge(source, target *types.Entity) bool {
	if c.EntityType != "" && source.Type != c.EntityType {
		return false
	}
	if c.TargetType != "" && target.Type != c.TargetType {
		return false
	}
	if c.EntityName != "" {
		if !strings.EqualFold(source.Name, c.EntityName) && !source.HasAlias(c.EntityName) &&
			!strings.EqualFold(target.Name, c.EntityName) && !target.HasAlias(c.EntityName) {
			return false
		}
	}
	return true
}

// The fixed phrase templates, tried in order. Deliberately a closed list;
// anything fancier belongs in an extraction collaborator, not here.
var (
	reWhatDoI     = regexp.MustCompile(`(?i)^what\s+([a-z]+)\s+do\s+i\s+([a-z_]+)\s*\??$`)
	reWhoRelation = regexp.MustCompile(`(?i)^who\s+([a-z_]+)\s+(.+?)\s*\??$`)
	reWhereDoes   = regexp.MustCompile(`(?i)^where\s+does\s+(.+?)\s+(live|work)\s*\??$`)
	reRelatedTo   = regexp.MustCompile(`(?i)^what\s+is\s+related\s+to\s+(.+?)\s*\??$`)
)

// parsePatternText reduces a natural-language query to structured
// criteria via the template list.
func parsePatternText(text string) (*PatternCriteria, error) {
	if m := reWhatDoI.FindStringSubmatch(text); m != nil {
		return &PatternCriteria{
			TargetType: normalizeName(m[1]),
			Relation:   canonicalRelation(m[2]),
		}, nil
	}

	if m := reWhoRelation.FindStringSubmatch(text); m != nil {
		return &PatternCriteria{
			Relation:   canonicalRelation(m[1]),
			EntityName: strings.TrimSpace(m[2]),
		}, nil
	}

	if m := reWhereDoes.FindStringSubmatch(text); m != nil {
		relation := types.RelLivesIn
		if strings.EqualFold(m[2], "work") {
			relation = types.RelWorksAt
		}
		return &PatternCriteria{EntityName: strings.TrimSpace(m[1]), Relation: relation}, nil
	}

	if m := reRelatedTo.FindStringSubmatch(text); m != nil {
		return &PatternCriteria{EntityName: strings.TrimSpace(m[1])}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrPatternNotRecognized, text)
}

// canonicalRelation maps a verb from a parsed template onto the edge
// vocabulary: the verb verbatim when known, else the verb + "s" form
// ("like" -> "likes").
func canonicalRelation(verb string) string {
	verb = strings.ToLower(verb)
	if types.IsKnownRelation(verb) {
		return verb
	}
	if types.IsKnownRelation(verb + "s") {
		return verb + "s"
	}
	return verb
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

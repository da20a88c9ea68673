package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate indicates a write would violate a live uniqueness
	// constraint, e.g. a second non-deleted entity with the same
	// (type, lower(name)).
	ErrDuplicate = errors.New("duplicate resource")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// EntityFilter provides pagination and filtering for entity listings.
type EntityFilter struct {
	// Type restricts results to one entity type. Empty means all types.
	Type string

	// NameContains restricts results to names containing the substring,
	// case-insensitively. Empty means no name filter.
	NameContains string

	// MinConfidence drops entities below this confidence. Zero means no floor.
	MinConfidence float64

	// IncludeDeleted includes soft-deleted entities. Default excludes them.
	IncludeDeleted bool

	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 200).
	Limit int
}

// Normalize applies defaults and caps to the EntityFilter.
func (f *EntityFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.MinConfidence < 0 {
		f.MinConfidence = 0
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (f *EntityFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Direction selects which edges count as neighbors of an entity.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// NeighborOptions bounds a single-hop edge lookup.
type NeighborOptions struct {
	// Direction selects outgoing, incoming, or both edge directions
	// relative to the queried entity. Defaults to both.
	Direction Direction

	// Relations restricts results to these relation tags. Empty means all.
	Relations []string

	// MinConfidence drops edges below this confidence. Zero means no floor.
	MinConfidence float64

	// Limit caps the number of edges returned (default: 50, max: 500).
	Limit int
}

// Normalize applies defaults and caps to the NeighborOptions.
func (o *NeighborOptions) Normalize() {
	switch o.Direction {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
	default:
		o.Direction = DirectionBoth
	}
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.MinConfidence < 0 {
		o.MinConfidence = 0
	}
}

// MetaFilter provides pagination and filtering for memory-quality listings.
type MetaFilter struct {
	// Statuses restricts results to these review states. Empty means all.
	Statuses []string

	// SourceType restricts results to one provenance kind. Empty means all.
	SourceType string

	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 50, max: 500).
	Limit int
}

// Normalize applies defaults and caps to the MetaFilter.
func (f *MetaFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (f *MetaFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// EntityName is the slim projection the deduplication stages match against:
// every live entity of a type with its display name and aliases.
type EntityName struct {
	ID      int64
	Name    string
	Aliases []string
}

// MergeResult summarizes what one entity merge changed.
type MergeResult struct {
	// TargetID is the surviving entity.
	TargetID int64

	// EdgesMoved counts edges re-pointed from the source to the target.
	EdgesMoved int

	// EdgesCombined counts source edges folded into an existing target
	// edge (weight summed, max confidence kept) and soft-deleted.
	EdgesCombined int
}

// DegreeStats holds degree and weighted-degree counts over active edges.
type DegreeStats struct {
	InDegree          int
	OutDegree         int
	WeightedInDegree  float64
	WeightedOutDegree float64
}

// Degree is the total (in + out) degree.
func (d *DegreeStats) Degree() int {
	return d.InDegree + d.OutDegree
}

// WeightedDegree is the total (in + out) weighted degree.
func (d *DegreeStats) WeightedDegree() float64 {
	return d.WeightedInDegree + d.WeightedOutDegree
}

// RelationCount is one relation tag with its active-edge frequency.
type RelationCount struct {
	Relation string `json:"relation"`
	Count    int    `json:"count"`
}

// GraphStats aggregates the shape of one user's knowledge graph.
type GraphStats struct {
	EntityCount       int             `json:"entity_count"`
	EdgeCount         int             `json:"edge_count"`
	EntityTypeCounts  map[string]int  `json:"entity_type_counts"`
	TopRelations      []RelationCount `json:"top_relations"`
	AvgEdgeConfidence float64         `json:"avg_edge_confidence"`
	AvgDegree         float64         `json:"avg_degree"`
}

// EmbeddingMatch is one nearest-neighbor hit from the embedding store.
type EmbeddingMatch struct {
	// Ref is the provenance key the vector was stored under, e.g. "memory:12".
	Ref string

	// Similarity is cosine similarity in [-1,1]; callers filter by threshold.
	Similarity float64
}

// AccessUpdate is an atomic access-tracking mutation on a memory-quality
// record: increment the counter, stamp the access time, and nudge
// confidence up without exceeding the cap.
type AccessUpdate struct {
	At              time.Time
	ConfidenceBoost float64
	ConfidenceCap   float64
}

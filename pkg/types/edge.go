package types

import "time"

// Edge represents a typed, weighted relationship between two entities.
// At most one active edge exists per (source, target, relation); asserting
// the same triple again merges into the existing edge by summing weight
// and keeping the higher confidence.
type Edge struct {
	// Core identification fields
	ID       int64  `json:"id"`
	SourceID int64  `json:"source_id"` // Source entity id; must be live at creation
	TargetID int64  `json:"target_id"` // Target entity id; must be live at creation
	Relation string `json:"relation"`  // Relation tag (likes, lives_in, ...)

	// Edge properties
	Weight     float64  `json:"weight"`             // Accumulated assertion weight
	Confidence float64  `json:"confidence"`         // Trust score in [0,1]
	Evidence   []string `json:"evidence,omitempty"` // Ordered provenance snippets

	// Open property bag
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Provenance timestamps
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // Soft-delete timestamp (null = live)
}

// IsDeleted reports whether the edge has been soft-deleted.
func (e *Edge) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Other returns the opposite endpoint of the edge relative to entityID:
// the target when entityID is the source, the source otherwise.
func (e *Edge) Other(entityID int64) int64 {
	if e.SourceID == entityID {
		return e.TargetID
	}
	return e.SourceID
}

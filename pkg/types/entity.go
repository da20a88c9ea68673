package types

import (
	"strings"
	"time"
)

// Entity represents a typed node in a user's knowledge graph.
// Entities are created on first mention (direct write or extraction),
// mutated by updates, merges, and access tracking, and soft-deleted
// rather than physically removed.
type Entity struct {
	// Core identification fields
	ID   int64  `json:"id"`   // Stable integer identifier, unique per user namespace
	Type string `json:"type"` // Entity type tag (person, food, place, ...)
	Name string `json:"name"` // Display name; (type, lower(name)) unique among non-deleted

	// Open property bag; the engine itself only reads "aliases"
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Quality signals
	Confidence   float64 `json:"confidence"`    // Trust score in [0,1]
	MentionCount int     `json:"mention_count"` // Times this entity has been asserted (>= 1)

	// Provenance timestamps
	FirstSeen time.Time  `json:"first_seen"`           // First occurrence
	LastSeen  time.Time  `json:"last_seen"`            // Most recent occurrence
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // Soft-delete timestamp (null = live)
}

// IsDeleted reports whether the entity has been soft-deleted.
func (e *Entity) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Aliases returns the alias list from the property bag. The bag is open
// JSON, so the value may round-trip as []string or []interface{}; both
// are handled, anything else yields nil.
func (e *Entity) Aliases() []string {
	if e.Properties == nil {
		return nil
	}
	switch v := e.Properties["aliases"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SetAliases writes the alias list into the property bag, dropping empty
// strings and case-insensitive duplicates while preserving order.
func (e *Entity) SetAliases(aliases []string) {
	seen := make(map[string]bool, len(aliases))
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	if len(out) == 0 {
		return
	}
	if e.Properties == nil {
		e.Properties = make(map[string]interface{})
	}
	e.Properties["aliases"] = out
}

// HasAlias reports whether name matches one of the entity's aliases,
// case-insensitively.
func (e *Entity) HasAlias(name string) bool {
	for _, a := range e.Aliases() {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

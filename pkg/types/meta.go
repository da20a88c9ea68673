package types

import "time"

// Contradiction records a detected conflict between two stored facts about
// the same logical subject. The same record is appended to both sides'
// memory-quality entries so either can present the full conflict context.
type Contradiction struct {
	Field      string     `json:"field"`                 // Logical subject key the facts disagree on
	OldValue   string     `json:"old_value"`             // Value held before the conflicting write
	NewValue   string     `json:"new_value"`             // Incoming value that raised the conflict
	OldMetaID  int64      `json:"old_meta_id"`           // memory_meta id of the established fact
	NewMetaID  int64      `json:"new_meta_id"`           // memory_meta id of the incoming fact
	Agent      string     `json:"agent,omitempty"`       // Agent whose write raised the conflict
	DetectedAt time.Time  `json:"detected_at"`           // When the conflict was detected
	Resolution Resolution `json:"resolution,omitempty"`  // Empty until reviewed
	ResolvedAt *time.Time `json:"resolved_at,omitempty"` // When the reviewer resolved it
}

// PromoteEvent is one confidence adjustment in a record's promote history.
type PromoteEvent struct {
	At     time.Time `json:"at"`
	Delta  float64   `json:"delta"`
	Reason string    `json:"reason"` // "reinforce", "access", "resolution"
}

// MemoryMeta is the provenance and trust-scoring record attached to every
// ingested fact. Confidence is seeded from the fact's origin, nudged up by
// access and reinforcement, and decayed over time by an external scheduler
// driving the decay primitive.
type MemoryMeta struct {
	ID int64 `json:"id"`

	// Provenance pointer into whichever store holds the underlying fact
	SourceType string `json:"source_type"` // "profile" | "table" | "memory" | "edge"
	SourceRef  string `json:"source_ref"`  // e.g. "diet", "meals#12", "7"

	// Logical subject used to group facts for contradiction detection,
	// e.g. "profile/diet" or "entity:7/lives_in"
	SubjectKey string `json:"subject_key"`

	Origin      Origin `json:"origin"`                 // user_stated | ai_inferred | ai_pattern
	AgentSource string `json:"agent_source,omitempty"` // Agent that produced the fact

	Confidence float64    `json:"confidence"` // Current trust score in [0,1]
	Status     MetaStatus `json:"status"`     // active | contested | resolved

	// Access and reinforcement tracking
	AccessCount    int        `json:"access_count"`
	LastAccessed   *time.Time `json:"last_accessed,omitempty"`
	LastReinforced *time.Time `json:"last_reinforced,omitempty"`

	// Conflict and adjustment history
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	PromoteHistory []PromoteEvent  `json:"promote_history,omitempty"`

	// Meta ids this entry is contextually paired with after a keep_both
	// resolution; the same pair never re-raises a contradiction.
	ContextualWith []int64 `json:"contextual_with,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsContextualWith reports whether otherID is contextually paired with
// this record.
func (m *MemoryMeta) IsContextualWith(otherID int64) bool {
	for _, id := range m.ContextualWith {
		if id == otherID {
			return true
		}
	}
	return false
}

// OpenContradiction returns the most recent unresolved contradiction on
// the record, or nil when none is pending review.
func (m *MemoryMeta) OpenContradiction() *Contradiction {
	for i := len(m.Contradictions) - 1; i >= 0; i-- {
		if m.Contradictions[i].Resolution == "" {
			return &m.Contradictions[i]
		}
	}
	return nil
}

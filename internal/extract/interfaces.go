// Package extract turns raw memory text into candidate graph facts. It
// defines the Extractor and Embedder contracts consumed by the ingestion
// pipeline and ships three extractor implementations: a rule-based default
// that needs no network, an Anthropic-backed extractor, and an Ollama-backed
// one for local models. Strict JSON-only prompt templates and tolerant
// response parsing live here as well.
package extract

import "context"

// Candidate is a possible entity mention found in text.
type Candidate struct {
	// Name is the surface form of the mention, e.g. "Breakfast Burritos"
	Name string `json:"name"`

	// Type is one of the known entity type tags (person, food, place, ...)
	Type string `json:"type"`

	// Aliases are alternative surface forms seen for the same mention
	Aliases []string `json:"aliases,omitempty"`

	// Confidence is the extractor's certainty in [0,1]
	Confidence float64 `json:"confidence"`
}

// CandidateEdge is a possible relation between two candidates. Endpoints are
// referenced by name; the pipeline resolves them against the graph after
// deduplication, so an edge may bind to a pre-existing entity rather than
// the candidate that carried the name.
type CandidateEdge struct {
	SourceName string  `json:"from"`
	SourceType string  `json:"from_type"`
	TargetName string  `json:"to"`
	TargetType string  `json:"to_type"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`

	// Evidence is the text fragment the relation was read from
	Evidence string `json:"evidence,omitempty"`
}

// Extraction is the result of one extraction pass over a piece of text.
type Extraction struct {
	Entities []Candidate
	Edges    []CandidateEdge
}

// Extractor finds candidate entities and relations in free text.
// Implementations must be safe for concurrent use; the ingestion worker
// pool calls Extract from multiple goroutines.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Extraction, error)
}

// Embedder produces fixed-width embedding vectors for text. Dimensions
// reports the vector width so stores can validate before persisting.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

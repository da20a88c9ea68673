// Package engine provides the core vault engine with an async ingestion
// pipeline. The engine orchestrates synchronous authoritative writes with
// background embedding, extraction, and graph enrichment using worker pools
// and job queues, plus the deduplication, graph-query, quality-scoring, and
// contradiction subsystems that operate on the stored data.
package engine

import (
	"fmt"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// IngestJob represents a unit of background work scheduled by one ingestion
// call. Jobs are queued after the synchronous write has been committed and
// processed by worker goroutines; a job failure never affects the write.
type IngestJob struct {
	// UserID selects the namespace the job operates on.
	UserID string

	// WriteID is the write record this job was scheduled by.
	WriteID string

	// JobID is the handle returned to the caller in the write receipt.
	JobID string

	// SourceRef points at the durable fact the job enriches
	// (e.g. "memory:12", "profile:diet", "table:meals#3").
	SourceRef string

	// Text is the content to embed and extract from.
	Text string

	// Agent is the agent id that performed the originating write.
	Agent string

	// Origin classifies the originating write's assertion.
	Origin types.Origin

	// Timestamp is when the job was queued.
	Timestamp time.Time
}

// StoreResolver yields the storage namespace for a user. The namespace
// manager implements this; tests substitute a stub bound to one store.
type StoreResolver interface {
	Store(userID string) (storage.Store, error)
}

// DedupConfig tunes the staged duplicate-entity resolver.
type DedupConfig struct {
	// FuzzyThreshold is the trigram similarity a fuzzy match must exceed
	// to count as a duplicate (default: 0.6). Exceed, not meet: a score
	// equal to the threshold is rejected.
	FuzzyThreshold float64

	// SemanticThreshold is the cosine similarity an embedding match must
	// reach in the optional semantic stage (default: 0.85).
	SemanticThreshold float64

	// SemanticEnabled turns on the embedding-based final stage. Off by
	// default; it requires an embedder and stored entity vectors.
	SemanticEnabled bool
}

// QualityConfig tunes confidence seeding, boosting, and decay.
type QualityConfig struct {
	// OriginConfidence seeds a new record's confidence from its origin.
	OriginConfidence map[types.Origin]float64

	// AccessBoost is added to confidence each time a fact is read (default: 0.01).
	AccessBoost float64

	// ReinforceBoost is added when a fact is re-asserted (default: 0.05).
	ReinforceBoost float64

	// ConfidenceCap is the ceiling boosts never push past (default: 1.0).
	ConfidenceCap float64

	// DecayHalfLife is the time for unused confidence to fall halfway to
	// the floor (default: 720h).
	DecayHalfLife time.Duration

	// DecayFloor is the value decay asymptotically approaches (default: 0.05).
	DecayFloor float64

	// DecayMinDelta suppresses writes for decay steps smaller than this
	// (default: 0.001).
	DecayMinDelta float64
}

// SearchConfig sets memory-search defaults and bounds.
type SearchConfig struct {
	// DefaultLimit applies when a search passes limit 0 (default: 10).
	DefaultLimit int

	// MaxLimit clamps any requested limit (default: 50).
	MaxLimit int

	// MinSimilarity is the similarity floor applied when a vector search
	// passes no cutoff of its own (default: 0.3).
	MinSimilarity float64
}

// GraphConfig bounds traversal and path-finding depth.
type GraphConfig struct {
	// DefaultTraverseDepth applies when a traverse call passes depth 0 (default: 2).
	DefaultTraverseDepth int

	// MaxTraverseDepth clamps any requested traverse depth (default: 3).
	MaxTraverseDepth int

	// DefaultPathDepth applies when a path query passes maxDepth 0 (default: 4).
	DefaultPathDepth int

	// MaxPathDepth clamps any requested path depth (default: 6).
	MaxPathDepth int
}

// Config holds configuration for the vault engine.
type Config struct {
	// NumWorkers is the number of ingestion worker goroutines (default: 4).
	NumWorkers int

	// QueueSize is the size of the ingestion job queue buffer (default: 1000).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// Dedup tunes the duplicate-entity resolver.
	Dedup DedupConfig

	// Quality tunes confidence scoring and decay.
	Quality QualityConfig

	// Graph bounds traversal and path queries.
	Graph GraphConfig

	// Search sets memory-search defaults.
	Search SearchConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:      4,
		QueueSize:       1000,
		ShutdownTimeout: 30 * time.Second,
		Dedup: DedupConfig{
			FuzzyThreshold:    0.6,
			SemanticThreshold: 0.85,
			SemanticEnabled:   false,
		},
		Quality: QualityConfig{
			OriginConfidence: map[types.Origin]float64{
				types.OriginUserStated: 0.95,
				types.OriginAIInferred: 0.75,
				types.OriginAIPattern:  0.60,
			},
			AccessBoost:    0.01,
			ReinforceBoost: 0.05,
			ConfidenceCap:  1.0,
			DecayHalfLife:  720 * time.Hour,
			DecayFloor:     0.05,
			DecayMinDelta:  0.001,
		},
		Graph: GraphConfig{
			DefaultTraverseDepth: 2,
			MaxTraverseDepth:     3,
			DefaultPathDepth:     4,
			MaxPathDepth:         6,
		},
		Search: SearchConfig{
			DefaultLimit:  10,
			MaxLimit:      50,
			MinSimilarity: 0.3,
		},
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.Dedup.FuzzyThreshold < 0 || c.Dedup.FuzzyThreshold > 1 {
		return fmt.Errorf("Dedup.FuzzyThreshold must be in [0,1], got %f", c.Dedup.FuzzyThreshold)
	}

	if c.Dedup.SemanticThreshold < 0 || c.Dedup.SemanticThreshold > 1 {
		return fmt.Errorf("Dedup.SemanticThreshold must be in [0,1], got %f", c.Dedup.SemanticThreshold)
	}

	if c.Quality.AccessBoost < 0 {
		return fmt.Errorf("Quality.AccessBoost must be >= 0, got %f", c.Quality.AccessBoost)
	}

	if c.Quality.ReinforceBoost < 0 {
		return fmt.Errorf("Quality.ReinforceBoost must be >= 0, got %f", c.Quality.ReinforceBoost)
	}

	if c.Quality.ConfidenceCap <= 0 || c.Quality.ConfidenceCap > 1 {
		return fmt.Errorf("Quality.ConfidenceCap must be in (0,1], got %f", c.Quality.ConfidenceCap)
	}

	if c.Quality.DecayHalfLife <= 0 {
		return fmt.Errorf("Quality.DecayHalfLife must be > 0, got %v", c.Quality.DecayHalfLife)
	}

	if c.Quality.DecayFloor < 0 || c.Quality.DecayFloor >= 1 {
		return fmt.Errorf("Quality.DecayFloor must be in [0,1), got %f", c.Quality.DecayFloor)
	}

	if c.Quality.DecayMinDelta < 0 {
		return fmt.Errorf("Quality.DecayMinDelta must be >= 0, got %f", c.Quality.DecayMinDelta)
	}

	for _, origin := range types.ValidOrigins {
		seed, ok := c.Quality.OriginConfidence[origin]
		if !ok {
			return fmt.Errorf("Quality.OriginConfidence missing seed for origin %q", origin)
		}
		if seed < 0 || seed > 1 {
			return fmt.Errorf("Quality.OriginConfidence[%q] must be in [0,1], got %f", origin, seed)
		}
	}

	if c.Graph.DefaultTraverseDepth < 1 {
		return fmt.Errorf("Graph.DefaultTraverseDepth must be >= 1, got %d", c.Graph.DefaultTraverseDepth)
	}

	if c.Graph.MaxTraverseDepth < c.Graph.DefaultTraverseDepth {
		return fmt.Errorf("Graph.MaxTraverseDepth must be >= DefaultTraverseDepth, got %d", c.Graph.MaxTraverseDepth)
	}

	if c.Graph.DefaultPathDepth < 1 {
		return fmt.Errorf("Graph.DefaultPathDepth must be >= 1, got %d", c.Graph.DefaultPathDepth)
	}

	if c.Graph.MaxPathDepth < c.Graph.DefaultPathDepth {
		return fmt.Errorf("Graph.MaxPathDepth must be >= DefaultPathDepth, got %d", c.Graph.MaxPathDepth)
	}

	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("Search.DefaultLimit must be >= 1, got %d", c.Search.DefaultLimit)
	}

	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("Search.MaxLimit must be >= DefaultLimit, got %d", c.Search.MaxLimit)
	}

	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("Search.MinSimilarity must be in [0,1], got %f", c.Search.MinSimilarity)
	}

	return nil
}

// SeedConfidence returns the initial confidence for a fact of the given
// origin, falling back to the ai_pattern seed for unknown origins.
func (c *QualityConfig) SeedConfidence(origin types.Origin) float64 {
	if seed, ok := c.OriginConfidence[origin]; ok {
		return seed
	}
	return c.OriginConfidence[types.OriginAIPattern]
}

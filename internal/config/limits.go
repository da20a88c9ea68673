package config

import (
	"fmt"
	"time"
)

// Limits bundles the runtime-tunable thresholds, boosts, and depth caps
// that govern dedup, scoring, decay, search, and traversal. Components
// receive them explicitly, either as a snapshot or through a
// limits.Provider; nothing reads them from package-level state.
type Limits struct {
	FuzzyDedupThreshold     float64 `yaml:"fuzzy_dedup_threshold"`     // Trigram similarity a fuzzy duplicate must exceed (default: 0.6)
	SemanticDedupThreshold  float64 `yaml:"semantic_dedup_threshold"`  // Cosine similarity for the semantic dedup stage (default: 0.85)
	SemanticDedupEnabled    bool    `yaml:"semantic_dedup_enabled"`    // Enable embedding-based dedup (default: false)
	SemanticSearchThreshold float64 `yaml:"semantic_search_threshold"` // Similarity floor for vector memory search (default: 0.3)
	AccessBoost             float64 `yaml:"access_boost"`              // Confidence added each time a fact is read (default: 0.01)
	ReinforceBoost          float64 `yaml:"reinforce_boost"`           // Confidence added when a fact is re-asserted (default: 0.05)
	ConfidenceCap           float64 `yaml:"confidence_cap"`            // Ceiling boosts never push past (default: 1.0)
	ConfidenceFloor         float64 `yaml:"confidence_floor"`          // Value decay asymptotically approaches (default: 0.05)
	DecayHalfLife           string  `yaml:"decay_half_life"`           // Time for unused confidence to fall halfway to the floor (default: 720h)
	DecayMinDelta           float64 `yaml:"decay_min_delta"`           // Decay steps smaller than this skip the write (default: 0.001)
	DefaultTraverseDepth    int     `yaml:"default_traverse_depth"`    // Traverse depth when a call passes 0 (default: 2)
	MaxTraverseDepth        int     `yaml:"max_traverse_depth"`        // Clamp on any requested traverse depth (default: 3)
	DefaultPathDepth        int     `yaml:"default_path_depth"`        // Path-search depth when a call passes 0 (default: 4)
	MaxPathDepth            int     `yaml:"max_path_depth"`            // Clamp on any requested path depth (default: 6)
}

// DefaultLimits returns the built-in tuning defaults.
func DefaultLimits() Limits {
	return Limits{
		FuzzyDedupThreshold:     0.6,
		SemanticDedupThreshold:  0.85,
		SemanticDedupEnabled:    false,
		SemanticSearchThreshold: 0.3,
		AccessBoost:             0.01,
		ReinforceBoost:          0.05,
		ConfidenceCap:           1.0,
		ConfidenceFloor:         0.05,
		DecayHalfLife:           "720h",
		DecayMinDelta:           0.001,
		DefaultTraverseDepth:    2,
		MaxTraverseDepth:        3,
		DefaultPathDepth:        4,
		MaxPathDepth:            6,
	}
}

// applyLimitsEnv overlays MEMVAULT_* environment variables onto l.
func applyLimitsEnv(l *Limits) {
	l.FuzzyDedupThreshold = getEnvFloat("MEMVAULT_FUZZY_DEDUP_THRESHOLD", l.FuzzyDedupThreshold)
	l.SemanticDedupThreshold = getEnvFloat("MEMVAULT_SEMANTIC_DEDUP_THRESHOLD", l.SemanticDedupThreshold)
	l.SemanticDedupEnabled = getEnvBool("MEMVAULT_SEMANTIC_DEDUP", l.SemanticDedupEnabled)
	l.SemanticSearchThreshold = getEnvFloat("MEMVAULT_SEMANTIC_SEARCH_THRESHOLD", l.SemanticSearchThreshold)
	l.AccessBoost = getEnvFloat("MEMVAULT_ACCESS_BOOST", l.AccessBoost)
	l.ReinforceBoost = getEnvFloat("MEMVAULT_REINFORCE_BOOST", l.ReinforceBoost)
	l.ConfidenceCap = getEnvFloat("MEMVAULT_CONFIDENCE_CAP", l.ConfidenceCap)
	l.ConfidenceFloor = getEnvFloat("MEMVAULT_CONFIDENCE_FLOOR", l.ConfidenceFloor)
	l.DecayHalfLife = getEnv("MEMVAULT_DECAY_HALF_LIFE", l.DecayHalfLife)
	l.DecayMinDelta = getEnvFloat("MEMVAULT_DECAY_MIN_DELTA", l.DecayMinDelta)
	l.DefaultTraverseDepth = getEnvInt("MEMVAULT_DEFAULT_TRAVERSE_DEPTH", l.DefaultTraverseDepth)
	l.MaxTraverseDepth = getEnvInt("MEMVAULT_MAX_TRAVERSE_DEPTH", l.MaxTraverseDepth)
	l.DefaultPathDepth = getEnvInt("MEMVAULT_DEFAULT_PATH_DEPTH", l.DefaultPathDepth)
	l.MaxPathDepth = getEnvInt("MEMVAULT_MAX_PATH_DEPTH", l.MaxPathDepth)
}

// HalfLife returns the parsed decay half-life.
func (l *Limits) HalfLife() (time.Duration, error) {
	d, err := time.ParseDuration(l.DecayHalfLife)
	if err != nil {
		return 0, fmt.Errorf("config: limits.decay_half_life: %w", err)
	}
	return d, nil
}

// Validate checks every limit against its allowed range.
func (l *Limits) Validate() error {
	if l.FuzzyDedupThreshold < 0 || l.FuzzyDedupThreshold > 1 {
		return fmt.Errorf("config: limits.fuzzy_dedup_threshold must be in [0,1], got %f", l.FuzzyDedupThreshold)
	}
	if l.SemanticDedupThreshold < 0 || l.SemanticDedupThreshold > 1 {
		return fmt.Errorf("config: limits.semantic_dedup_threshold must be in [0,1], got %f", l.SemanticDedupThreshold)
	}
	if l.SemanticSearchThreshold < 0 || l.SemanticSearchThreshold > 1 {
		return fmt.Errorf("config: limits.semantic_search_threshold must be in [0,1], got %f", l.SemanticSearchThreshold)
	}
	if l.AccessBoost < 0 {
		return fmt.Errorf("config: limits.access_boost must be >= 0, got %f", l.AccessBoost)
	}
	if l.ReinforceBoost < 0 {
		return fmt.Errorf("config: limits.reinforce_boost must be >= 0, got %f", l.ReinforceBoost)
	}
	if l.ConfidenceCap <= 0 || l.ConfidenceCap > 1 {
		return fmt.Errorf("config: limits.confidence_cap must be in (0,1], got %f", l.ConfidenceCap)
	}
	if l.ConfidenceFloor < 0 || l.ConfidenceFloor >= 1 {
		return fmt.Errorf("config: limits.confidence_floor must be in [0,1), got %f", l.ConfidenceFloor)
	}
	halfLife, err := l.HalfLife()
	if err != nil {
		return err
	}
	if halfLife <= 0 {
		return fmt.Errorf("config: limits.decay_half_life must be > 0, got %v", halfLife)
	}
	if l.DecayMinDelta < 0 {
		return fmt.Errorf("config: limits.decay_min_delta must be >= 0, got %f", l.DecayMinDelta)
	}
	if l.DefaultTraverseDepth < 1 {
		return fmt.Errorf("config: limits.default_traverse_depth must be >= 1, got %d", l.DefaultTraverseDepth)
	}
	if l.MaxTraverseDepth < l.DefaultTraverseDepth {
		return fmt.Errorf("config: limits.max_traverse_depth must be >= default_traverse_depth, got %d", l.MaxTraverseDepth)
	}
	if l.DefaultPathDepth < 1 {
		return fmt.Errorf("config: limits.default_path_depth must be >= 1, got %d", l.DefaultPathDepth)
	}
	if l.MaxPathDepth < l.DefaultPathDepth {
		return fmt.Errorf("config: limits.max_path_depth must be >= default_path_depth, got %d", l.MaxPathDepth)
	}
	return nil
}

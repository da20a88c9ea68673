package engine

import (
	"context"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// ConfidenceScorer maintains the trust score of memory-quality records:
// it seeds new records from their origin and applies the access and
// reinforcement boosts. Downward movement is the DecayManager's job.
type ConfidenceScorer struct {
	config QualityConfig
}

// NewConfidenceScorer creates a scorer with the given quality tuning.
func NewConfidenceScorer(config QualityConfig) *ConfidenceScorer {
	return &ConfidenceScorer{config: config}
}

// NewMeta builds an unsaved quality record for a newly ingested fact,
// with confidence seeded from the origin.
func (s *ConfidenceScorer) NewMeta(sourceType, sourceRef, subjectKey string, origin types.Origin, agent string, at time.Time) *types.MemoryMeta {
	return &types.MemoryMeta{
		SourceType:  sourceType,
		SourceRef:   sourceRef,
		SubjectKey:  subjectKey,
		Origin:      origin,
		AgentSource: agent,
		Confidence:  s.config.SeedConfidence(origin),
		Status:      types.MetaActive,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// RecordAccess counts one read of the fact: bumps accessCount, stamps
// lastAccessed, and nudges confidence up by the access boost, capped.
// The store applies the update atomically.
func (s *ConfidenceScorer) RecordAccess(ctx context.Context, store storage.Store, metaID int64, at time.Time) error {
	return store.RecordMetaAccess(ctx, metaID, storage.AccessUpdate{
		At:              at,
		ConfidenceBoost: s.config.AccessBoost,
		ConfidenceCap:   s.config.ConfidenceCap,
	})
}

// Reinforce records an explicit re-assertion of the fact: stamps
// lastReinforced, applies the reinforcement boost up to the cap, and
// appends the adjustment to the promote history. Returns the updated
// record.
func (s *ConfidenceScorer) Reinforce(ctx context.Context, store storage.Store, metaID int64, at time.Time) (*types.MemoryMeta, error) {
	meta, err := store.GetMeta(ctx, metaID)
	if err != nil {
		return nil, err
	}

	boosted := meta.Confidence + s.config.ReinforceBoost
	if boosted > s.config.ConfidenceCap {
		boosted = s.config.ConfidenceCap
	}
	delta := boosted - meta.Confidence

	meta.Confidence = boosted
	meta.LastReinforced = &at
	meta.UpdatedAt = at
	meta.PromoteHistory = append(meta.PromoteHistory, types.PromoteEvent{
		At:     at,
		Delta:  delta,
		Reason: "reinforce",
	})

	if err := store.UpdateMeta(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

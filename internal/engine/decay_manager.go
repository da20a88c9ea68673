package engine

import (
	"context"
	"math"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// DecayManager lowers the confidence of quality records that go unused.
// It exposes only the mutation primitive; an external scheduler decides
// when a sweep runs.
type DecayManager struct {
	config QualityConfig
}

// NewDecayManager creates a decay manager with the given quality tuning.
func NewDecayManager(config QualityConfig) *DecayManager {
	return &DecayManager{config: config}
}

// DecayReport summarizes one decay sweep.
type DecayReport struct {
	// Examined is the number of records the sweep looked at.
	Examined int `json:"examined"`

	// Updated is the number of records whose confidence was lowered.
	Updated int `json:"updated"`

	// Skipped counts records left untouched: already at the floor, too
	// recently used, or within the minimum write delta.
	Skipped int `json:"skipped"`
}

// DecayedConfidence returns the confidence a record should hold after
// elapsed time without use. Exponential half-life decay towards the
// floor, never below it:
//
//	floor + (confidence - floor) * 2^(-elapsed / halfLife)
func (d *DecayManager) DecayedConfidence(confidence float64, elapsed time.Duration) float64 {
	floor := d.config.DecayFloor
	if confidence <= floor {
		return confidence
	}
	if elapsed <= 0 {
		return confidence
	}

	halfLives := float64(elapsed) / float64(d.config.DecayHalfLife)
	return floor + (confidence-floor)*math.Pow(2, -halfLives)
}

// Run applies decay across every active and contested record in the
// store. Records are aged from their most recent use: lastReinforced,
// lastAccessed, or createdAt, whichever is latest. Sub-threshold deltas
// skip the write so a frequent scheduler does not churn the store.
func (d *DecayManager) Run(ctx context.Context, store storage.Store, now time.Time) (*DecayReport, error) {
	report := &DecayReport{}

	filter := storage.MetaFilter{
		Statuses: []string{string(types.MetaActive), string(types.MetaContested)},
		Limit:    500,
	}

	for page := 1; ; page++ {
		filter.Page = page
		batch, err := store.ListMeta(ctx, filter)
		if err != nil {
			return nil, err
		}

		for _, meta := range batch.Items {
			report.Examined++

			elapsed := now.Sub(lastUse(meta))
			decayed := d.DecayedConfidence(meta.Confidence, elapsed)
			if meta.Confidence-decayed < d.config.DecayMinDelta {
				report.Skipped++
				continue
			}

			meta.Confidence = decayed
			meta.UpdatedAt = now
			if err := store.UpdateMeta(ctx, meta); err != nil {
				return nil, err
			}
			report.Updated++
		}

		if !batch.HasMore {
			break
		}
	}

	return report, nil
}

// lastUse returns the record's most recent use: reinforcement, access,
// or creation, whichever is latest.
func lastUse(meta *types.MemoryMeta) time.Time {
	latest := meta.CreatedAt
	if meta.LastAccessed != nil && meta.LastAccessed.After(latest) {
		latest = *meta.LastAccessed
	}
	if meta.LastReinforced != nil && meta.LastReinforced.After(latest) {
		latest = *meta.LastReinforced
	}
	return latest
}

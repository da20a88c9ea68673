package engine

import (
	"context"

	"github.com/memvault/memvault/internal/storage"
)

// CentralityResult holds degree statistics for one entity over active
// edges.
type CentralityResult struct {
	EntityID          int64   `json:"entity_id"`
	Degree            int     `json:"degree"`
	InDegree          int     `json:"in_degree"`
	OutDegree         int     `json:"out_degree"`
	WeightedDegree    float64 `json:"weighted_degree"`
	WeightedInDegree  float64 `json:"weighted_in_degree"`
	WeightedOutDegree float64 `json:"weighted_out_degree"`
}

// Centrality returns degree and weighted degree for one entity.
func (g *GraphEngine) Centrality(ctx context.Context, store storage.Store, entityID int64) (*CentralityResult, error) {
	if _, err := store.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}

	stats, err := store.EntityDegree(ctx, entityID)
	if err != nil {
		return nil, err
	}

	return &CentralityResult{
		EntityID:          entityID,
		Degree:            stats.Degree(),
		InDegree:          stats.InDegree,
		OutDegree:         stats.OutDegree,
		WeightedDegree:    stats.WeightedDegree(),
		WeightedInDegree:  stats.WeightedInDegree,
		WeightedOutDegree: stats.WeightedOutDegree,
	}, nil
}

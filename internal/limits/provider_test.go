package limits_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault/internal/config"
	"github.com/memvault/memvault/internal/limits"
)

func TestProvider_ServesInitialWithinTTL(t *testing.T) {
	calls := 0
	source := func(ctx context.Context) (config.Limits, error) {
		calls++
		return config.DefaultLimits(), nil
	}

	provider := limits.NewProvider(config.DefaultLimits(), source, time.Hour)

	l := provider.Current(context.Background())
	assert.Equal(t, 0.6, l.FuzzyDedupThreshold)
	provider.Current(context.Background())
	assert.Equal(t, 0, calls, "A fresh snapshot must not touch the source")
}

func TestProvider_RefreshesOnceStale(t *testing.T) {
	tuned := config.DefaultLimits()
	tuned.FuzzyDedupThreshold = 0.9

	calls := 0
	source := func(ctx context.Context) (config.Limits, error) {
		calls++
		return tuned, nil
	}

	// Zero TTL: every read is stale.
	provider := limits.NewProvider(config.DefaultLimits(), source, 0)

	l := provider.Current(context.Background())
	assert.Equal(t, 0.9, l.FuzzyDedupThreshold)
	require.Equal(t, 1, calls)

	provider.Current(context.Background())
	assert.Equal(t, 2, calls)
}

func TestProvider_KeepsLastKnownOnSourceError(t *testing.T) {
	initial := config.DefaultLimits()
	initial.AccessBoost = 0.02

	broken := true
	source := func(ctx context.Context) (config.Limits, error) {
		if broken {
			return config.Limits{}, fmt.Errorf("settings store unreachable")
		}
		fixed := config.DefaultLimits()
		fixed.AccessBoost = 0.03
		return fixed, nil
	}

	provider := limits.NewProvider(initial, source, 0)

	l := provider.Current(context.Background())
	assert.Equal(t, 0.02, l.AccessBoost,
		"A failing source must leave the previous limits in service")

	broken = false
	l = provider.Current(context.Background())
	assert.Equal(t, 0.03, l.AccessBoost)
}

func TestProvider_RejectsInvalidRefresh(t *testing.T) {
	source := func(ctx context.Context) (config.Limits, error) {
		bad := config.DefaultLimits()
		bad.FuzzyDedupThreshold = 2.0
		return bad, nil
	}

	provider := limits.NewProvider(config.DefaultLimits(), source, 0)

	l := provider.Current(context.Background())
	assert.Equal(t, 0.6, l.FuzzyDedupThreshold,
		"Limits that fail validation must not replace the current ones")

	err := provider.Refresh(context.Background())
	assert.Error(t, err)
}

func TestProvider_RefreshForcesRead(t *testing.T) {
	tuned := config.DefaultLimits()
	tuned.ReinforceBoost = 0.1
	source := func(ctx context.Context) (config.Limits, error) {
		return tuned, nil
	}

	provider := limits.NewProvider(config.DefaultLimits(), source, time.Hour)

	require.NoError(t, provider.Refresh(context.Background()))
	l := provider.Current(context.Background())
	assert.Equal(t, 0.1, l.ReinforceBoost)
}

func TestStatic_NeverRefreshes(t *testing.T) {
	fixed := config.DefaultLimits()
	fixed.MaxTraverseDepth = 5
	fixed.DefaultTraverseDepth = 5

	provider := limits.NewStatic(fixed)

	l := provider.Current(context.Background())
	assert.Equal(t, 5, l.MaxTraverseDepth)
	assert.NoError(t, provider.Refresh(context.Background()))
}

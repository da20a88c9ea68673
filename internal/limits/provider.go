// Package limits carries the vault's runtime tunables to the components
// that consume them. A Provider hands out config.Limits snapshots and
// re-reads them from its source once they go stale, so tuning changes
// reach a long-running daemon without a restart and nothing consults
// package-level state.
package limits

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/memvault/memvault/internal/config"
)

// Source yields the current limits, typically by re-reading the
// configuration layers.
type Source func(ctx context.Context) (config.Limits, error)

// Provider serves limits snapshots with TTL-based refresh. A failing or
// invalid refresh keeps the last known limits in service and is retried
// after another TTL.
type Provider struct {
	source Source
	ttl    time.Duration

	mu      sync.Mutex
	current config.Limits
	fetched time.Time
}

// NewProvider returns a provider that serves initial until ttl elapses,
// then re-reads from source. A ttl of zero re-reads on every call.
func NewProvider(initial config.Limits, source Source, ttl time.Duration) *Provider {
	return &Provider{
		source:  source,
		ttl:     ttl,
		current: initial,
		fetched: time.Now(),
	}
}

// NewStatic returns a provider that always serves the given limits.
// Tests and one-shot tools use this.
func NewStatic(l config.Limits) *Provider {
	return &Provider{current: l}
}

// Current returns the freshest limits the provider can serve.
func (p *Provider) Current(ctx context.Context) config.Limits {
	p.mu.Lock()
	current := p.current
	stale := p.source != nil && time.Since(p.fetched) >= p.ttl
	p.mu.Unlock()

	if !stale {
		return current
	}

	if err := p.Refresh(ctx); err != nil {
		log.Printf("WARNING: Limits refresh failed, keeping previous values: %v", err)
		p.mu.Lock()
		p.fetched = time.Now()
		p.mu.Unlock()
		return current
	}

	p.mu.Lock()
	current = p.current
	p.mu.Unlock()
	return current
}

// Refresh re-reads the source immediately, regardless of TTL. The new
// limits are validated before they replace the current ones.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.source == nil {
		return nil
	}

	fresh, err := p.source(ctx)
	if err != nil {
		return err
	}
	if err := fresh.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = fresh
	p.fetched = time.Now()
	p.mu.Unlock()
	return nil
}

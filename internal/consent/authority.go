// Package consent decides whether an agent may touch a resource in a
// user's vault. Rules are hierarchical resource paths granted by the
// account owner; absence of any matching rule denies.
package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// ErrDenied is returned when no rule grants the requested access. It is
// not retryable; the owner has to grant consent first.
var ErrDenied = errors.New("consent denied")

// StoreResolver resolves the storage namespace serving one user's vault.
type StoreResolver interface {
	Store(userID string) (storage.Store, error)
}

// Config controls decision caching.
type Config struct {
	// CacheEnabled turns verdict caching on. Disable to consult the
	// store on every check.
	CacheEnabled bool

	// CacheTTL bounds how long a verdict may be served without
	// consulting the store.
	CacheTTL time.Duration

	// CacheMaxEntries caps the number of cached verdicts.
	CacheMaxEntries int64
}

// DefaultConfig returns the default consent configuration.
func DefaultConfig() Config {
	return Config{
		CacheEnabled:    true,
		CacheTTL:        30 * time.Second,
		CacheMaxEntries: 4096,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.CacheEnabled {
		if c.CacheTTL <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
		if c.CacheMaxEntries <= 0 {
			return fmt.Errorf("cache max entries must be positive")
		}
	}
	return nil
}

// Authority answers consent checks against the rules the owner has
// granted. Owner sessions never reach the authority; callers gate those
// upstream.
type Authority struct {
	stores StoreResolver
	cache  *decisionCache
}

// NewAuthority creates a consent authority over the given namespaces.
func NewAuthority(stores StoreResolver, config Config) (*Authority, error) {
	if stores == nil {
		return nil, fmt.Errorf("store resolver is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	authority := &Authority{stores: stores}
	if config.CacheEnabled {
		cache, err := newDecisionCache(config.CacheMaxEntries, config.CacheTTL)
		if err != nil {
			return nil, err
		}
		authority.cache = cache
	}
	return authority, nil
}

// Require checks that an agent holds the requested permission on a
// resource. The most specific rule wins: the full path is tested first,
// then each ancestor level's wildcard and the ancestor itself, ending at
// the bare "*". The first level holding any rule settles the request; no
// rule at all denies.
func (a *Authority) Require(ctx context.Context, userID, agentID, resource string, permission types.Permission) error {
	resource = normalizeResource(resource)
	if userID == "" || strings.TrimSpace(agentID) == "" || resource == "" {
		return fmt.Errorf("%w: user id, agent id, and resource are required", storage.ErrInvalidInput)
	}
	if permission != types.PermissionRead && permission != types.PermissionWrite {
		return fmt.Errorf("%w: permission must be read or write", storage.ErrInvalidInput)
	}

	if a.cache != nil {
		if allowed, ok := a.cache.lookup(userID, agentID, resource, permission); ok {
			if allowed {
				return nil
			}
			return denialError(agentID, resource, permission)
		}
	}

	store, err := a.stores.Store(userID)
	if err != nil {
		return err
	}
	rules, err := store.ListConsentRules(ctx, agentID)
	if err != nil {
		return err
	}

	allowed := decide(rules, resource, permission)
	if a.cache != nil {
		a.cache.record(userID, agentID, resource, permission, allowed)
	}
	if !allowed {
		return denialError(agentID, resource, permission)
	}
	return nil
}

// Grant upserts a consent rule. Granting the same rule twice is a no-op;
// granting a different permission for the same (agent, resource) pair
// replaces it.
func (a *Authority) Grant(ctx context.Context, userID string, rule *types.ConsentRule) error {
	if rule == nil {
		return storage.ErrInvalidInput
	}

	granted := *rule
	granted.Resource = normalizeResource(granted.Resource)

	store, err := a.stores.Store(userID)
	if err != nil {
		return err
	}
	if err := store.UpsertConsentRule(ctx, &granted); err != nil {
		return err
	}
	a.invalidate(userID)
	return nil
}

// Revoke deletes a consent rule. Revoking an absent rule is a no-op.
func (a *Authority) Revoke(ctx context.Context, userID, agentID, resource string) error {
	store, err := a.stores.Store(userID)
	if err != nil {
		return err
	}
	if err := store.DeleteConsentRule(ctx, agentID, normalizeResource(resource)); err != nil {
		return err
	}
	a.invalidate(userID)
	return nil
}

// Rules returns the rules granted to one agent in a user's vault.
func (a *Authority) Rules(ctx context.Context, userID, agentID string) ([]*types.ConsentRule, error) {
	store, err := a.stores.Store(userID)
	if err != nil {
		return nil, err
	}
	return store.ListConsentRules(ctx, agentID)
}

// AllRules returns every rule in a user's vault, for the owner's audit
// view.
func (a *Authority) AllRules(ctx context.Context, userID string) ([]*types.ConsentRule, error) {
	store, err := a.stores.Store(userID)
	if err != nil {
		return nil, err
	}
	return store.ListAllConsentRules(ctx)
}

// Close releases the decision cache.
func (a *Authority) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
}

func (a *Authority) invalidate(userID string) {
	if a.cache != nil {
		a.cache.invalidate(userID)
	}
}

// decide walks the resolution order and lets the first matching rule
// settle the request.
func decide(rules []*types.ConsentRule, resource string, permission types.Permission) bool {
	if len(rules) == 0 {
		return false
	}

	byResource := make(map[string]*types.ConsentRule, len(rules))
	for _, rule := range rules {
		byResource[rule.Resource] = rule
	}

	for _, candidate := range resolutionOrder(resource) {
		if rule, ok := byResource[candidate]; ok {
			return rule.Allows(permission)
		}
	}
	return false
}

// resolutionOrder returns the resource paths to test, most specific
// first: "tables/meals" resolves through "tables/meals", "tables/*",
// "tables", "*".
func resolutionOrder(resource string) []string {
	segments := strings.Split(resource, "/")
	order := make([]string, 0, 2*len(segments))
	order = append(order, resource)
	for i := len(segments) - 1; i >= 1; i-- {
		prefix := strings.Join(segments[:i], "/")
		order = append(order, prefix+"/*", prefix)
	}
	return append(order, "*")
}

// normalizeResource trims whitespace and surrounding slashes so that
// "/tables/meals/" and "tables/meals" resolve identically.
func normalizeResource(resource string) string {
	return strings.Trim(strings.TrimSpace(resource), "/")
}

func denialError(agentID, resource string, permission types.Permission) error {
	return fmt.Errorf("%w: agent %q has no %s consent on %q", ErrDenied, agentID, permission, resource)
}

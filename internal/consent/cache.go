package consent

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/memvault/memvault/pkg/types"
)

// decisionCache memoizes allow/deny verdicts with a TTL. Keys carry a
// per-user epoch; Grant and Revoke bump the epoch, so a stale verdict can
// never be served again, it just ages out of the cache.
type decisionCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	mu     sync.Mutex
	epochs map[string]uint64
}

func newDecisionCache(maxEntries int64, ttl time.Duration) (*decisionCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		// Ristretto sizing guidance: counters at 10x the expected
		// entries, cost 1 per verdict.
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("consent cache: %w", err)
	}
	return &decisionCache{
		cache:  cache,
		ttl:    ttl,
		epochs: make(map[string]uint64),
	}, nil
}

// lookup returns a cached verdict for the current epoch, if any.
func (c *decisionCache) lookup(userID, agentID, resource string, permission types.Permission) (allowed, ok bool) {
	value, ok := c.cache.Get(c.key(userID, agentID, resource, permission))
	if !ok {
		return false, false
	}
	allowed, ok = value.(bool)
	return allowed, ok
}

// record stores a verdict under the current epoch. Ristretto admits
// writes asynchronously; a dropped entry only costs a future store read.
func (c *decisionCache) record(userID, agentID, resource string, permission types.Permission, allowed bool) {
	c.cache.SetWithTTL(c.key(userID, agentID, resource, permission), allowed, 1, c.ttl)
}

// invalidate retires every cached verdict for one user.
func (c *decisionCache) invalidate(userID string) {
	c.mu.Lock()
	c.epochs[userID]++
	c.mu.Unlock()
}

func (c *decisionCache) key(userID, agentID, resource string, permission types.Permission) string {
	c.mu.Lock()
	epoch := c.epochs[userID]
	c.mu.Unlock()
	return fmt.Sprintf("%s|%d|%s|%s|%s", userID, epoch, agentID, resource, permission)
}

// Close releases the underlying cache.
func (c *decisionCache) Close() {
	c.cache.Close()
}

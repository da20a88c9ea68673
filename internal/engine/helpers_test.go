package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/internal/storage/sqlite"
	"github.com/memvault/memvault/pkg/types"
)

const testUser = "test-user"

// staticResolver serves the same pre-opened store for every user id the
// tests throw at it.
type staticResolver struct {
	store storage.Store
}

func (r staticResolver) Store(userID string) (storage.Store, error) {
	return r.store, nil
}

// failingResolver rejects every lookup; writes against it fail before
// anything reaches the queue.
type failingResolver struct{}

func (failingResolver) Store(userID string) (storage.Store, error) {
	return nil, fmt.Errorf("no store for user %q", userID)
}

// newTestStore creates an in-memory SQLite store scoped to the test.
func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.NewVaultStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestEngine creates an engine over a fresh in-memory store with a
// single worker. The engine is not started; tests that exercise the
// pipeline use startTestEngine.
func newTestEngine(t *testing.T) (*VaultEngine, storage.Store) {
	t.Helper()
	store := newTestStore(t)

	config := DefaultConfig()
	config.NumWorkers = 1

	engine, err := NewVaultEngine(staticResolver{store: store}, config)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine, store
}

// startTestEngine creates and starts an engine; shutdown happens before
// the store closes because cleanups run last-in first-out.
func startTestEngine(t *testing.T) (*VaultEngine, storage.Store) {
	t.Helper()
	engine, store := newTestEngine(t)

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })
	return engine, store
}

// seedEntity inserts an entity directly through the store.
func seedEntity(t *testing.T, store storage.Store, entityType, name string) int64 {
	t.Helper()
	now := time.Now()
	id, err := store.CreateEntity(context.Background(), &types.Entity{
		Type:         entityType,
		Name:         name,
		Confidence:   0.9,
		MentionCount: 1,
		FirstSeen:    now,
		LastSeen:     now,
	})
	if err != nil {
		t.Fatalf("Failed to seed entity %s/%s: %v", entityType, name, err)
	}
	return id
}

// seedEdge links two seeded entities.
func seedEdge(t *testing.T, store storage.Store, sourceID, targetID int64, relation string, weight float64) *types.Edge {
	t.Helper()
	now := time.Now()
	edge, err := store.UpsertEdge(context.Background(), &types.Edge{
		SourceID:   sourceID,
		TargetID:   targetID,
		Relation:   relation,
		Weight:     weight,
		Confidence: 0.9,
		FirstSeen:  now,
		LastSeen:   now,
	})
	if err != nil {
		t.Fatalf("Failed to seed edge %d -%s-> %d: %v", sourceID, relation, targetID, err)
	}
	return edge
}

// seedMeta creates a quality record directly through the store.
func seedMeta(t *testing.T, store storage.Store, scorer *ConfidenceScorer, sourceType, sourceRef, subjectKey string, origin types.Origin) *types.MemoryMeta {
	t.Helper()
	meta := scorer.NewMeta(sourceType, sourceRef, subjectKey, origin, "", time.Now())
	id, err := store.CreateMeta(context.Background(), meta)
	if err != nil {
		t.Fatalf("Failed to seed meta for %s: %v", subjectKey, err)
	}
	meta.ID = id
	return meta
}

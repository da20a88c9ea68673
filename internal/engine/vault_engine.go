package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/memvault/memvault/internal/extract"
	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/internal/vectorindex"
	"github.com/memvault/memvault/pkg/types"
)

// VaultEngine is the core orchestrator for one vault deployment. It serves
// every user namespace through a StoreResolver, performs authoritative
// writes synchronously, and runs embedding, extraction, and graph
// enrichment in a background worker pool so ingestion calls return fast.
type VaultEngine struct {
	// Configuration
	config Config

	// Per-user storage resolution
	stores StoreResolver

	// Extraction collaborators
	extractor extract.Extractor
	embedder  extract.Embedder
	index     *vectorindex.Index

	// Ingestion pipeline
	ingestQueue     chan *IngestJob
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	// Intelligence layer
	dedup          *DedupResolver
	graph          *GraphEngine
	scorer         *ConfidenceScorer
	decay          *DecayManager
	contradictions *ContradictionManager

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	// Callbacks
	onJobComplete func(userID, jobID string)
	onJobFailed   func(userID, jobID string, err error)
}

// NewVaultEngine creates a vault engine with the rule-based extractor and
// no embedding support. Memory search falls back to substring matching.
// Use DefaultConfig() for sensible defaults.
func NewVaultEngine(stores StoreResolver, engineConfig Config) (*VaultEngine, error) {
	return NewVaultEngineWithExtraction(stores, engineConfig, extract.NewRuleExtractor(), nil, nil)
}

// NewVaultEngineWithExtraction creates a vault engine with explicit
// extraction collaborators. extractor is required; embedder and index may
// be nil, in which case notes are stored without vectors and search falls
// back to substring matching.
func NewVaultEngineWithExtraction(stores StoreResolver, engineConfig Config, extractor extract.Extractor, embedder extract.Embedder, index *vectorindex.Index) (*VaultEngine, error) {
	if stores == nil {
		return nil, fmt.Errorf("store resolver is required")
	}

	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}

	if err := engineConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	engine := &VaultEngine{
		config:       engineConfig,
		stores:       stores,
		extractor:    extractor,
		embedder:     embedder,
		index:        index,
		ingestQueue:  make(chan *IngestJob, engineConfig.QueueSize),
		started:      false,
		shuttingDown: false,
	}

	// Initialize intelligence layer
	engine.dedup = NewDedupResolver(engineConfig.Dedup, embedder)
	engine.graph = NewGraphEngine(engineConfig.Graph)
	engine.scorer = NewConfidenceScorer(engineConfig.Quality)
	engine.decay = NewDecayManager(engineConfig.Quality)
	engine.contradictions = NewContradictionManager(engine.scorer)

	return engine, nil
}

// SetOnJobComplete sets a callback fired when a background ingestion job
// finishes successfully.
func (e *VaultEngine) SetOnJobComplete(callback func(userID, jobID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onJobComplete = callback
}

// SetOnJobFailed sets a callback fired when a background ingestion job
// fails. Failures never propagate to the caller that scheduled the job;
// this callback plus the log are the error sink.
func (e *VaultEngine) SetOnJobFailed(callback func(userID, jobID string, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onJobFailed = callback
}

// Start starts the vault engine and its worker pool.
// This must be called before using the Ingest operations.
func (e *VaultEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	log.Println("Starting vault engine...")

	// Create worker context
	e.workerCtx, e.workerCancel = context.WithCancel(ctx)

	// Start worker pool
	e.startWorkerPool(e.workerCtx)

	e.started = true
	log.Println("Vault engine started successfully")

	return nil
}

// Shutdown gracefully shuts down the vault engine.
// It closes the ingestion queue and waits for workers to drain (with timeout).
// Any pending jobs in the queue will be processed before shutdown completes.
func (e *VaultEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return fmt.Errorf("engine not started")
	}

	log.Println("Shutting down vault engine...")

	// Mark as shutting down (rejects new ingestion calls)
	e.shuttingDown = true

	// Cancel worker context
	if e.workerCancel != nil {
		e.workerCancel()
	}

	// Stop worker pool gracefully
	if err := e.stopWorkerPool(ctx); err != nil {
		log.Printf("WARNING: Worker pool shutdown had errors: %v", err)
	}

	e.started = false
	e.shuttingDown = false
	log.Println("Vault engine shut down successfully")

	return nil
}

// GetQueueSize returns the current number of jobs in the ingestion queue.
func (e *VaultEngine) GetQueueSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ingestQueue)
}

// store resolves the storage namespace for a user.
func (e *VaultEngine) store(userID string) (storage.Store, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	return e.stores.Store(userID)
}

// --- Knowledge graph operations ---

// CreateEntity inserts a new entity into the user's graph and returns it
// with its assigned id.
func (e *VaultEngine) CreateEntity(ctx context.Context, userID string, entity *types.Entity) (*types.Entity, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}

	id, err := store.CreateEntity(ctx, entity)
	if err != nil {
		return nil, err
	}
	return store.GetEntity(ctx, id)
}

// GetEntity retrieves an entity by id.
func (e *VaultEngine) GetEntity(ctx context.Context, userID string, id int64) (*types.Entity, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.GetEntity(ctx, id)
}

// ListEntities retrieves entities with pagination and filtering.
func (e *VaultEngine) ListEntities(ctx context.Context, userID string, filter storage.EntityFilter) (*storage.PaginatedResult[*types.Entity], error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.ListEntities(ctx, filter)
}

// UpdateEntity writes an entity's mutable fields.
func (e *VaultEngine) UpdateEntity(ctx context.Context, userID string, entity *types.Entity) (*types.Entity, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}

	if err := store.UpdateEntity(ctx, entity); err != nil {
		return nil, err
	}
	return store.GetEntity(ctx, entity.ID)
}

// DeleteEntity soft-deletes an entity.
func (e *VaultEngine) DeleteEntity(ctx context.Context, userID string, id int64) error {
	store, err := e.store(userID)
	if err != nil {
		return err
	}
	return store.DeleteEntity(ctx, id)
}

// MergeEntities folds the source entity into the target, re-pointing or
// combining every edge, inside one store transaction.
func (e *VaultEngine) MergeEntities(ctx context.Context, userID string, sourceID, targetID int64) (*storage.MergeResult, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.MergeEntities(ctx, sourceID, targetID)
}

// CreateEdge asserts a relationship between two entities. Re-asserting an
// existing (source, target, relation) triple merges into the stored edge.
func (e *VaultEngine) CreateEdge(ctx context.Context, userID string, edge *types.Edge) (*types.Edge, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.UpsertEdge(ctx, edge)
}

// DeleteEdge soft-deletes an edge.
func (e *VaultEngine) DeleteEdge(ctx context.Context, userID string, id int64) error {
	store, err := e.store(userID)
	if err != nil {
		return err
	}
	return store.DeleteEdge(ctx, id)
}

// GetNeighbors returns the entities one hop from the given entity together
// with the connecting edges.
func (e *VaultEngine) GetNeighbors(ctx context.Context, userID string, entityID int64, opts storage.NeighborOptions) ([]*Neighbor, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.graph.Neighbors(ctx, store, entityID, opts)
}

// Traverse walks the graph breadth-first from a start entity. A
// non-positive MaxDepth applies the configured default; any request is
// clamped to the ceiling.
func (e *VaultEngine) Traverse(ctx context.Context, userID string, startID int64, opts TraverseOptions) (*TraversalResult, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.graph.Traverse(ctx, store, startID, opts)
}

// GetPathBetween finds the shortest path between two entities by hop
// count, breaking ties by the lower accumulated inverse-weight cost.
// Returns nil (not an error) when no path exists within the depth bound.
func (e *VaultEngine) GetPathBetween(ctx context.Context, userID string, sourceID, targetID int64, maxDepth int) (*Path, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.graph.PathBetween(ctx, store, sourceID, targetID, maxDepth)
}

// QueryPattern runs a structured or natural-language pattern query over
// the graph. Natural-language strings that match no known template fail
// with ErrPatternNotRecognized.
func (e *VaultEngine) QueryPattern(ctx context.Context, userID string, query PatternQuery) (*PatternResult, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.graph.QueryPattern(ctx, store, query)
}

// GetEntityCentrality returns degree and weighted-degree statistics for
// one entity.
func (e *VaultEngine) GetEntityCentrality(ctx context.Context, userID string, entityID int64) (*CentralityResult, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.graph.Centrality(ctx, store, entityID)
}

// GetGraphStats aggregates counts, top relations, and averages over the
// user's live graph.
func (e *VaultEngine) GetGraphStats(ctx context.Context, userID string) (*storage.GraphStats, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.GraphStats(ctx)
}

// --- Deduplication operations ---

// FindDuplicateEntity runs the staged duplicate resolver for a candidate
// (type, name) pair. Returns nil when no stage produces a match.
func (e *VaultEngine) FindDuplicateEntity(ctx context.Context, userID string, entityType, name string) (*DuplicateMatch, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.dedup.FindDuplicate(ctx, store, entityType, name)
}

// CheckAndDeduplicate returns the id of the existing entity a candidate
// (type, name) pair duplicates, or 0 when the candidate is genuinely new.
// The ingestion pipeline calls this before inserting extracted entities.
func (e *VaultEngine) CheckAndDeduplicate(ctx context.Context, userID string, entityType, name string) (int64, error) {
	store, err := e.store(userID)
	if err != nil {
		return 0, err
	}
	return e.dedup.CheckAndDeduplicate(ctx, store, entityType, name)
}

// --- Memory operations ---

// SearchMemories ranks stored notes against a query. With an embedder
// configured the query is embedded and ranked by cosine similarity;
// otherwise a case-insensitive substring scan is used. Hits record an
// access on their quality records.
func (e *VaultEngine) SearchMemories(ctx context.Context, userID string, query string, opts SearchOptions) ([]MemorySearchResult, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.searchMemories(ctx, store, userID, query, opts)
}

// GetMemory retrieves one stored note by id.
func (e *VaultEngine) GetMemory(ctx context.Context, userID string, id int64) (*types.MemoryNote, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.GetNote(ctx, id)
}

// ListMemories returns stored notes, newest first.
func (e *VaultEngine) ListMemories(ctx context.Context, userID string, limit, offset int) ([]*types.MemoryNote, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.ListNotes(ctx, limit, offset)
}

// --- Profile, table, and audit reads ---

// GetProfile returns every field of the user's structured profile.
func (e *VaultEngine) GetProfile(ctx context.Context, userID string) ([]*types.ProfileField, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.ListProfileFields(ctx)
}

// GetProfileField returns one profile field.
func (e *VaultEngine) GetProfileField(ctx context.Context, userID string, field string) (*types.ProfileField, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.GetProfileField(ctx, field)
}

// ListTables returns the user's registered table names.
func (e *VaultEngine) ListTables(ctx context.Context, userID string) ([]string, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.ListTables(ctx)
}

// ListTableRecords returns a table's records, newest first.
func (e *VaultEngine) ListTableRecords(ctx context.Context, userID string, table string, limit, offset int) ([]*types.TableRecord, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.ListTableRecords(ctx, table, limit, offset)
}

// GetWriteRecord returns the audit record for one ingestion call.
func (e *VaultEngine) GetWriteRecord(ctx context.Context, userID string, writeID string) (*types.WriteRecord, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.GetWriteRecord(ctx, writeID)
}

// --- Memory quality operations ---

// GetMeta retrieves one memory-quality record.
func (e *VaultEngine) GetMeta(ctx context.Context, userID string, metaID int64) (*types.MemoryMeta, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return store.GetMeta(ctx, metaID)
}

// Reinforce records an explicit re-assertion of a fact, nudging its
// confidence up and logging the adjustment to its promote history.
func (e *VaultEngine) Reinforce(ctx context.Context, userID string, metaID int64) (*types.MemoryMeta, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.scorer.Reinforce(ctx, store, metaID, time.Now())
}

// RunDecay applies time-based confidence decay across the user's quality
// records. The engine exposes only this primitive; scheduling it is the
// caller's concern.
func (e *VaultEngine) RunDecay(ctx context.Context, userID string, now time.Time) (*DecayReport, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.decay.Run(ctx, store, now)
}

// ListContradictions returns up to five contested records awaiting review,
// oldest conflict first, each with its conflict context.
func (e *VaultEngine) ListContradictions(ctx context.Context, userID string) ([]*ContradictionView, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.contradictions.List(ctx, store)
}

// ResolveContradiction applies a reviewer's verdict to a contested record
// and its counterpart.
func (e *VaultEngine) ResolveContradiction(ctx context.Context, userID string, metaID int64, resolution types.Resolution) (*types.MemoryMeta, error) {
	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}
	return e.contradictions.Resolve(ctx, store, metaID, resolution, time.Now())
}

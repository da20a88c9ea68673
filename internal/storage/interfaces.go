// Package storage provides composable storage interfaces for the memvault
// system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. A Store instance always
// represents exactly one user's isolated namespace (one sqlite file or one
// postgres schema); nothing in these interfaces carries a user id.
package storage

import (
	"context"
	"time"

	"github.com/memvault/memvault/pkg/types"
)

// EntityStore provides CRUD, lookup, and merge operations over the typed
// nodes of one user's knowledge graph.
type EntityStore interface {
	// CreateEntity inserts a new entity and returns its id.
	// Returns ErrDuplicate if a live entity with the same (type, lower(name))
	// already exists, and ErrInvalidInput for empty type or name.
	CreateEntity(ctx context.Context, entity *types.Entity) (int64, error)

	// GetEntity retrieves a live entity by id.
	// Returns ErrNotFound if the entity is missing or soft-deleted.
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)

	// GetEntityByName retrieves a live entity by case-insensitive name
	// within one type. Returns ErrNotFound when nothing matches.
	GetEntityByName(ctx context.Context, entityType, name string) (*types.Entity, error)

	// ListEntities retrieves entities with pagination and filtering.
	ListEntities(ctx context.Context, filter EntityFilter) (*PaginatedResult[*types.Entity], error)

	// ListEntityNames returns the names and aliases of every live entity
	// of the given type, for the deduplication resolver's matching stages.
	ListEntityNames(ctx context.Context, entityType string) ([]EntityName, error)

	// UpdateEntity writes the entity's mutable fields (name, properties,
	// confidence). Returns ErrNotFound if the entity is missing or deleted.
	UpdateEntity(ctx context.Context, entity *types.Entity) error

	// TouchEntity increments mention_count and advances last_seen.
	// Returns ErrNotFound if the entity is missing or deleted.
	TouchEntity(ctx context.Context, id int64, at time.Time) error

	// DeleteEntity soft-deletes an entity.
	// Returns ErrNotFound if the entity is missing or already deleted.
	DeleteEntity(ctx context.Context, id int64) error

	// MergeEntities folds the source entity into the target inside one
	// transaction: soft-deletes the source, accumulates mention counts,
	// merges properties (target wins conflicts, source name joins the
	// target's aliases), and re-points or combines every edge touching
	// the source. Returns ErrInvalidInput when sourceID == targetID and
	// ErrNotFound when either side is missing or already deleted.
	MergeEntities(ctx context.Context, sourceID, targetID int64) (*MergeResult, error)
}

// EdgeStore manages the typed, weighted relationships between entities.
type EdgeStore interface {
	// UpsertEdge inserts the edge or, when a live edge with the same
	// (source, target, relation) exists, merges into it: weight is summed,
	// confidence keeps the max, evidence is appended. Both endpoints must
	// be live entities or ErrNotFound is returned. The stored edge is
	// returned in either case.
	UpsertEdge(ctx context.Context, edge *types.Edge) (*types.Edge, error)

	// GetEdge retrieves a live edge by id.
	// Returns ErrNotFound if the edge is missing or soft-deleted.
	GetEdge(ctx context.Context, id int64) (*types.Edge, error)

	// GetEdgeBetween retrieves the live edge for an exact
	// (source, target, relation) triple. Returns ErrNotFound when absent.
	GetEdgeBetween(ctx context.Context, sourceID, targetID int64, relation string) (*types.Edge, error)

	// ListNeighborEdges returns the live edges touching any of the given
	// entities, honoring direction, relation, and confidence filters.
	// Used for single-hop neighbor lookups and as the frontier expansion
	// primitive of breadth-first traversal.
	ListNeighborEdges(ctx context.Context, entityIDs []int64, opts NeighborOptions) ([]*types.Edge, error)

	// DeleteEdge soft-deletes an edge.
	// Returns ErrNotFound if the edge is missing or already deleted.
	DeleteEdge(ctx context.Context, id int64) error

	// EntityDegree returns degree statistics over the live edges touching
	// one entity. The entity itself is not checked for existence here.
	EntityDegree(ctx context.Context, entityID int64) (*DegreeStats, error)

	// GraphStats aggregates counts, top relations, and averages over the
	// live graph. Read-only.
	GraphStats(ctx context.Context) (*GraphStats, error)
}

// MetaStore manages memory-quality records: provenance, confidence,
// contradictions, and the review state machine's persistence.
type MetaStore interface {
	// CreateMeta inserts a new memory-quality record and returns its id.
	CreateMeta(ctx context.Context, meta *types.MemoryMeta) (int64, error)

	// GetMeta retrieves a record by id. Returns ErrNotFound when missing.
	GetMeta(ctx context.Context, id int64) (*types.MemoryMeta, error)

	// UpdateMeta writes all mutable fields of the record (confidence,
	// status, timestamps, contradiction and promote history, contextual
	// pairs). Returns ErrNotFound when missing.
	UpdateMeta(ctx context.Context, meta *types.MemoryMeta) error

	// ListMetaBySubject returns the records sharing one subject key,
	// newest first, excluding resolved entries.
	ListMetaBySubject(ctx context.Context, subjectKey string) ([]*types.MemoryMeta, error)

	// ListContested returns contested records ordered by the detection
	// time of their oldest unresolved contradiction, oldest first.
	ListContested(ctx context.Context, limit int) ([]*types.MemoryMeta, error)

	// ListMeta retrieves records with pagination and filtering, for decay
	// sweeps and diagnostics.
	ListMeta(ctx context.Context, filter MetaFilter) (*PaginatedResult[*types.MemoryMeta], error)

	// RecordMetaAccess atomically increments access_count, stamps
	// last_accessed, and nudges confidence up to the configured cap.
	// Returns ErrNotFound when missing.
	RecordMetaAccess(ctx context.Context, id int64, update AccessUpdate) error
}

// ProfileStore manages the user's structured profile fields.
type ProfileStore interface {
	// GetProfileField retrieves one field. Returns ErrNotFound when the
	// field has never been written.
	GetProfileField(ctx context.Context, field string) (*types.ProfileField, error)

	// UpsertProfileField writes a field value, creating it when absent.
	UpsertProfileField(ctx context.Context, field string, value interface{}, at time.Time) error

	// ListProfileFields returns every profile field, sorted by name.
	ListProfileFields(ctx context.Context) ([]*types.ProfileField, error)
}

// TableStore manages dynamic user-defined tables and their records.
type TableStore interface {
	// EnsureTable registers a table name, idempotently.
	EnsureTable(ctx context.Context, table string, at time.Time) error

	// InsertTableRecord appends a record to a table and returns its id.
	// The table is registered implicitly when unknown.
	InsertTableRecord(ctx context.Context, table string, data map[string]interface{}, at time.Time) (int64, error)

	// ListTableRecords returns a table's records, newest first.
	ListTableRecords(ctx context.Context, table string, limit, offset int) ([]*types.TableRecord, error)

	// ListTables returns the registered table names, sorted.
	ListTables(ctx context.Context) ([]string, error)
}

// NoteStore manages free-text memory notes.
type NoteStore interface {
	// InsertNote stores a memory note and returns its id.
	InsertNote(ctx context.Context, note *types.MemoryNote) (int64, error)

	// GetNote retrieves a note by id. Returns ErrNotFound when missing.
	GetNote(ctx context.Context, id int64) (*types.MemoryNote, error)

	// ListNotes returns notes, newest first.
	ListNotes(ctx context.Context, limit, offset int) ([]*types.MemoryNote, error)

	// MarkNoteEmbedded stamps embedded_at once the note's vector is stored.
	MarkNoteEmbedded(ctx context.Context, id int64, at time.Time) error

	// SearchNotesSubstring returns notes whose content contains the query,
	// case-insensitively, newest first. The fallback when no embedder is
	// configured.
	SearchNotesSubstring(ctx context.Context, query string, limit int) ([]*types.MemoryNote, error)
}

// WriteStore manages the per-ingestion audit records.
type WriteStore interface {
	// CreateWriteRecord inserts the audit row for one ingestion call.
	CreateWriteRecord(ctx context.Context, record *types.WriteRecord) error

	// GetWriteRecord retrieves the audit row by write id.
	// Returns ErrNotFound when missing.
	GetWriteRecord(ctx context.Context, writeID string) (*types.WriteRecord, error)
}

// ConsentStore persists per-agent consent rules.
type ConsentStore interface {
	// UpsertConsentRule creates or updates a rule, idempotently.
	UpsertConsentRule(ctx context.Context, rule *types.ConsentRule) error

	// DeleteConsentRule removes a rule, idempotently: deleting an absent
	// rule is not an error.
	DeleteConsentRule(ctx context.Context, agentID, resource string) error

	// ListConsentRules returns an agent's rules. An empty slice means the
	// agent has no access at all.
	ListConsentRules(ctx context.Context, agentID string) ([]*types.ConsentRule, error)

	// ListAllConsentRules returns every rule, for owner inspection.
	ListAllConsentRules(ctx context.Context) ([]*types.ConsentRule, error)
}

// EmbeddingStore manages durable vector embeddings keyed by provenance ref.
type EmbeddingStore interface {
	// StoreEmbedding stores (or replaces) the vector for a ref.
	StoreEmbedding(ctx context.Context, ref string, vector []float32) error

	// GetEmbedding retrieves the vector for a ref.
	// Returns ErrNotFound when absent.
	GetEmbedding(ctx context.Context, ref string) ([]float32, error)

	// DeleteEmbedding removes the vector for a ref, idempotently.
	DeleteEmbedding(ctx context.Context, ref string) error

	// SearchEmbeddings returns up to limit refs most similar to the query
	// vector, best first, dropping hits below minSimilarity. refPrefix
	// restricts the search to one provenance kind (e.g. "memory:");
	// empty searches everything.
	SearchEmbeddings(ctx context.Context, vector []float32, limit int, minSimilarity float64, refPrefix string) ([]EmbeddingMatch, error)
}

// Store is one user's complete namespace: every table the vault persists,
// behind a single handle whose lifetime the namespace manager owns.
type Store interface {
	EntityStore
	EdgeStore
	MetaStore
	ProfileStore
	TableStore
	NoteStore
	WriteStore
	ConsentStore
	EmbeddingStore

	// Close releases any resources held by the store.
	Close() error
}

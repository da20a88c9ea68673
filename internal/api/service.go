// Package api exposes every vault operation as a direct function call
// returning a uniform response envelope. The service enforces consent for
// agent-originated calls; transports and UIs live outside this module and
// compose on top of it.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/consent"
	"github.com/memvault/memvault/internal/engine"
	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// Consent resources, one per operation group.
const (
	resourceGraphEntities = "graph/entities"
	resourceGraphEdges    = "graph/edges"
	resourceGraphTraverse = "graph/traverse"
	resourceGraphQuery    = "graph/query"
	resourceGraphStats    = "graph/stats"
	resourceProfile       = "profile"
	resourceTables        = "tables"
	resourceMemories      = "memories"
	resourceQuality       = "quality/contradictions"
	resourceWrites        = "writes"
)

// Caller identifies who is invoking an operation: the vault owner over an
// authenticated session, or an agent acting under granted consent. Owner
// calls bypass the consent authority entirely.
type Caller struct {
	UserID  string
	AgentID string
	Owner   bool
}

// Service is the call-level API surface over one vault deployment.
type Service struct {
	engine    *engine.VaultEngine
	authority *consent.Authority
}

// NewService creates the API facade over an engine and a consent
// authority.
func NewService(vaultEngine *engine.VaultEngine, authority *consent.Authority) (*Service, error) {
	if vaultEngine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if authority == nil {
		return nil, fmt.Errorf("consent authority is required")
	}
	return &Service{engine: vaultEngine, authority: authority}, nil
}

// allow enforces consent for agent calls; owner sessions skip the
// authority.
func (s *Service) allow(ctx context.Context, caller Caller, resource string, permission types.Permission) error {
	if caller.UserID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if caller.Owner {
		return nil
	}
	return s.authority.Require(ctx, caller.UserID, caller.AgentID, resource, permission)
}

// ownerOnly gates operations agents can never perform, regardless of any
// consent rule.
func ownerOnly(caller Caller) error {
	if caller.UserID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if !caller.Owner {
		return fmt.Errorf("%w: owner session required", consent.ErrDenied)
	}
	return nil
}

// CreateEntity adds an entity to the caller's graph.
func (s *Service) CreateEntity(ctx context.Context, caller Caller, entity *types.Entity) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	created, err := s.engine.CreateEntity(ctx, caller.UserID, entity)
	if err != nil {
		return Fail(err)
	}
	return OK(created)
}

// GetEntity fetches one entity by id.
func (s *Service) GetEntity(ctx context.Context, caller Caller, id int64) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionRead); err != nil {
		return Fail(err)
	}
	entity, err := s.engine.GetEntity(ctx, caller.UserID, id)
	if err != nil {
		return Fail(err)
	}
	return OK(entity)
}

// ListEntities pages through entities with optional filters.
func (s *Service) ListEntities(ctx context.Context, caller Caller, filter storage.EntityFilter) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionRead); err != nil {
		return Fail(err)
	}
	page, err := s.engine.ListEntities(ctx, caller.UserID, filter)
	if err != nil {
		return Fail(err)
	}
	return OK(page)
}

// UpdateEntity updates an entity's mutable fields.
func (s *Service) UpdateEntity(ctx context.Context, caller Caller, entity *types.Entity) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	updated, err := s.engine.UpdateEntity(ctx, caller.UserID, entity)
	if err != nil {
		return Fail(err)
	}
	return OK(updated)
}

// DeleteEntity soft-deletes an entity and its edges.
func (s *Service) DeleteEntity(ctx context.Context, caller Caller, id int64) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	if err := s.engine.DeleteEntity(ctx, caller.UserID, id); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// MergeEntities folds one entity into another.
func (s *Service) MergeEntities(ctx context.Context, caller Caller, sourceID, targetID int64) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	result, err := s.engine.MergeEntities(ctx, caller.UserID, sourceID, targetID)
	if err != nil {
		return Fail(err)
	}
	return OK(result)
}

// FindDuplicateEntity reports the best duplicate match for a prospective
// entity, if any.
func (s *Service) FindDuplicateEntity(ctx context.Context, caller Caller, entityType, name string) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionRead); err != nil {
		return Fail(err)
	}
	match, err := s.engine.FindDuplicateEntity(ctx, caller.UserID, entityType, name)
	if err != nil {
		return Fail(err)
	}
	return OK(match)
}

// CheckAndDeduplicateBeforeCreate returns the id a new entity would merge
// into, or zero when it would be created fresh.
func (s *Service) CheckAndDeduplicateBeforeCreate(ctx context.Context, caller Caller, entityType, name string) *Response {
	if err := s.allow(ctx, caller, resourceGraphEntities, types.PermissionRead); err != nil {
		return Fail(err)
	}
	id, err := s.engine.CheckAndDeduplicate(ctx, caller.UserID, entityType, name)
	if err != nil {
		return Fail(err)
	}
	return OK(id)
}

// CreateEdge asserts a relation between two entities.
func (s *Service) CreateEdge(ctx context.Context, caller Caller, edge *types.Edge) *Response {
	if err := s.allow(ctx, caller, resourceGraphEdges, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	created, err := s.engine.CreateEdge(ctx, caller.UserID, edge)
	if err != nil {
		return Fail(err)
	}
	return OK(created)
}

// DeleteEdge soft-deletes an edge.
func (s *Service) DeleteEdge(ctx context.Context, caller Caller, id int64) *Response {
	if err := s.allow(ctx, caller, resourceGraphEdges, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	if err := s.engine.DeleteEdge(ctx, caller.UserID, id); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// GetNeighbors lists the entities directly connected to one entity.
func (s *Service) GetNeighbors(ctx context.Context, caller Caller, entityID int64, opts storage.NeighborOptions) *Response {
	if err := s.allow(ctx, caller, resourceGraphTraverse, types.PermissionRead); err != nil {
		return Fail(err)
	}
	neighbors, err := s.engine.GetNeighbors(ctx, caller.UserID, entityID, opts)
	if err != nil {
		return Fail(err)
	}
	return OK(neighbors)
}

// Traverse walks the graph breadth-first from a start entity.
func (s *Service) Traverse(ctx context.Context, caller Caller, startID int64, opts engine.TraverseOptions) *Response {
	if err := s.allow(ctx, caller, resourceGraphTraverse, types.PermissionRead); err != nil {
		return Fail(err)
	}
	result, err := s.engine.Traverse(ctx, caller.UserID, startID, opts)
	if err != nil {
		return Fail(err)
	}
	return OK(result)
}

// GetPathBetween finds the shortest path between two entities. A null
// payload means the entities are not connected within the depth bound.
func (s *Service) GetPathBetween(ctx context.Context, caller Caller, sourceID, targetID int64, maxDepth int) *Response {
	if err := s.allow(ctx, caller, resourceGraphTraverse, types.PermissionRead); err != nil {
		return Fail(err)
	}
	path, err := s.engine.GetPathBetween(ctx, caller.UserID, sourceID, targetID, maxDepth)
	if err != nil {
		return Fail(err)
	}
	return OK(path)
}

// QueryPattern runs a structured or template-matched natural-language
// graph query.
func (s *Service) QueryPattern(ctx context.Context, caller Caller, query engine.PatternQuery) *Response {
	if err := s.allow(ctx, caller, resourceGraphQuery, types.PermissionRead); err != nil {
		return Fail(err)
	}
	result, err := s.engine.QueryPattern(ctx, caller.UserID, query)
	if err != nil {
		return Fail(err)
	}
	return OK(result)
}

// GetEntityCentrality reports degree centrality for one entity.
func (s *Service) GetEntityCentrality(ctx context.Context, caller Caller, entityID int64) *Response {
	if err := s.allow(ctx, caller, resourceGraphStats, types.PermissionRead); err != nil {
		return Fail(err)
	}
	result, err := s.engine.GetEntityCentrality(ctx, caller.UserID, entityID)
	if err != nil {
		return Fail(err)
	}
	return OK(result)
}

// GetGraphStats summarizes the caller's graph.
func (s *Service) GetGraphStats(ctx context.Context, caller Caller) *Response {
	if err := s.allow(ctx, caller, resourceGraphStats, types.PermissionRead); err != nil {
		return Fail(err)
	}
	stats, err := s.engine.GetGraphStats(ctx, caller.UserID)
	if err != nil {
		return Fail(err)
	}
	return OK(stats)
}

// IngestProfileUpdate writes structured profile fields.
func (s *Service) IngestProfileUpdate(ctx context.Context, caller Caller, fields map[string]interface{}, origin types.Origin) *Response {
	if err := s.allow(ctx, caller, resourceProfile, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	receipt, err := s.engine.IngestProfileUpdate(ctx, caller.UserID, fields, origin, caller.AgentID)
	if err != nil {
		return Fail(err)
	}
	return OK(receipt)
}

// IngestTableRecord appends a record to a dynamic user table. Consent is
// scoped per table: writing to "meals" needs tables/meals.
func (s *Service) IngestTableRecord(ctx context.Context, caller Caller, table string, record map[string]interface{}, origin types.Origin) *Response {
	if strings.TrimSpace(table) == "" {
		return Fail(fmt.Errorf("%w: table name is required", storage.ErrInvalidInput))
	}
	if err := s.allow(ctx, caller, resourceTables+"/"+strings.TrimSpace(table), types.PermissionWrite); err != nil {
		return Fail(err)
	}
	receipt, err := s.engine.IngestTableRecord(ctx, caller.UserID, table, record, origin, caller.AgentID)
	if err != nil {
		return Fail(err)
	}
	return OK(receipt)
}

// IngestMemoryText stores a free-text memory.
func (s *Service) IngestMemoryText(ctx context.Context, caller Caller, text string, origin types.Origin) *Response {
	if err := s.allow(ctx, caller, resourceMemories, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	receipt, err := s.engine.IngestMemoryText(ctx, caller.UserID, text, origin, caller.AgentID)
	if err != nil {
		return Fail(err)
	}
	return OK(receipt)
}

// SearchMemories finds memory notes relevant to a query.
func (s *Service) SearchMemories(ctx context.Context, caller Caller, query string, opts engine.SearchOptions) *Response {
	if err := s.allow(ctx, caller, resourceMemories, types.PermissionRead); err != nil {
		return Fail(err)
	}
	results, err := s.engine.SearchMemories(ctx, caller.UserID, query, opts)
	if err != nil {
		return Fail(err)
	}
	return OK(results)
}

// GetMemory fetches one memory note by id.
func (s *Service) GetMemory(ctx context.Context, caller Caller, id int64) *Response {
	if err := s.allow(ctx, caller, resourceMemories, types.PermissionRead); err != nil {
		return Fail(err)
	}
	note, err := s.engine.GetMemory(ctx, caller.UserID, id)
	if err != nil {
		return Fail(err)
	}
	return OK(note)
}

// ListMemories pages through memory notes, newest first.
func (s *Service) ListMemories(ctx context.Context, caller Caller, limit, offset int) *Response {
	if err := s.allow(ctx, caller, resourceMemories, types.PermissionRead); err != nil {
		return Fail(err)
	}
	notes, err := s.engine.ListMemories(ctx, caller.UserID, limit, offset)
	if err != nil {
		return Fail(err)
	}
	return OK(notes)
}

// GetProfile returns every profile field.
func (s *Service) GetProfile(ctx context.Context, caller Caller) *Response {
	if err := s.allow(ctx, caller, resourceProfile, types.PermissionRead); err != nil {
		return Fail(err)
	}
	profile, err := s.engine.GetProfile(ctx, caller.UserID)
	if err != nil {
		return Fail(err)
	}
	return OK(profile)
}

// GetProfileField returns one profile field.
func (s *Service) GetProfileField(ctx context.Context, caller Caller, field string) *Response {
	if err := s.allow(ctx, caller, resourceProfile, types.PermissionRead); err != nil {
		return Fail(err)
	}
	value, err := s.engine.GetProfileField(ctx, caller.UserID, field)
	if err != nil {
		return Fail(err)
	}
	return OK(value)
}

// ListTables names the user tables that exist.
func (s *Service) ListTables(ctx context.Context, caller Caller) *Response {
	if err := s.allow(ctx, caller, resourceTables, types.PermissionRead); err != nil {
		return Fail(err)
	}
	tables, err := s.engine.ListTables(ctx, caller.UserID)
	if err != nil {
		return Fail(err)
	}
	return OK(tables)
}

// ListTableRecords pages through one table's records.
func (s *Service) ListTableRecords(ctx context.Context, caller Caller, table string, limit, offset int) *Response {
	if strings.TrimSpace(table) == "" {
		return Fail(fmt.Errorf("%w: table name is required", storage.ErrInvalidInput))
	}
	if err := s.allow(ctx, caller, resourceTables+"/"+strings.TrimSpace(table), types.PermissionRead); err != nil {
		return Fail(err)
	}
	records, err := s.engine.ListTableRecords(ctx, caller.UserID, table, limit, offset)
	if err != nil {
		return Fail(err)
	}
	return OK(records)
}

// GetWriteRecord returns the audit row for a write id, letting callers
// poll the fate of their async job.
func (s *Service) GetWriteRecord(ctx context.Context, caller Caller, writeID string) *Response {
	if err := s.allow(ctx, caller, resourceWrites, types.PermissionRead); err != nil {
		return Fail(err)
	}
	record, err := s.engine.GetWriteRecord(ctx, caller.UserID, writeID)
	if err != nil {
		return Fail(err)
	}
	return OK(record)
}

// GetMemoryMeta returns the quality record behind one meta id.
func (s *Service) GetMemoryMeta(ctx context.Context, caller Caller, metaID int64) *Response {
	if err := s.allow(ctx, caller, resourceQuality, types.PermissionRead); err != nil {
		return Fail(err)
	}
	meta, err := s.engine.GetMeta(ctx, caller.UserID, metaID)
	if err != nil {
		return Fail(err)
	}
	return OK(meta)
}

// ListContradictions returns open contradictions, oldest first.
func (s *Service) ListContradictions(ctx context.Context, caller Caller) *Response {
	if err := s.allow(ctx, caller, resourceQuality, types.PermissionRead); err != nil {
		return Fail(err)
	}
	views, err := s.engine.ListContradictions(ctx, caller.UserID)
	if err != nil {
		return Fail(err)
	}
	return OK(views)
}

// ResolveContradiction applies a reviewer verdict to a contested record.
func (s *Service) ResolveContradiction(ctx context.Context, caller Caller, metaID int64, resolution types.Resolution) *Response {
	if err := s.allow(ctx, caller, resourceQuality, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	meta, err := s.engine.ResolveContradiction(ctx, caller.UserID, metaID, resolution)
	if err != nil {
		return Fail(err)
	}
	return OK(meta)
}

// ReinforceMemory explicitly re-asserts a fact, boosting its confidence.
func (s *Service) ReinforceMemory(ctx context.Context, caller Caller, metaID int64) *Response {
	if err := s.allow(ctx, caller, resourceQuality, types.PermissionWrite); err != nil {
		return Fail(err)
	}
	meta, err := s.engine.Reinforce(ctx, caller.UserID, metaID)
	if err != nil {
		return Fail(err)
	}
	return OK(meta)
}

// ProbeResult reports whether an agent would be allowed an access level.
type ProbeResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// RequireConsent probes whether an agent holds a permission, without
// performing any operation. Owner-only.
func (s *Service) RequireConsent(ctx context.Context, caller Caller, agentID, resource string, permission types.Permission) *Response {
	if err := ownerOnly(caller); err != nil {
		return Fail(err)
	}
	if err := s.authority.Require(ctx, caller.UserID, agentID, resource, permission); err != nil {
		if errors.Is(err, consent.ErrDenied) {
			return OK(&ProbeResult{Allowed: false, Reason: err.Error()})
		}
		return Fail(err)
	}
	return OK(&ProbeResult{Allowed: true})
}

// GrantConsent installs or replaces a consent rule. Owner-only.
func (s *Service) GrantConsent(ctx context.Context, caller Caller, rule *types.ConsentRule) *Response {
	if err := ownerOnly(caller); err != nil {
		return Fail(err)
	}
	if err := s.authority.Grant(ctx, caller.UserID, rule); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// RevokeConsent removes a consent rule. Owner-only.
func (s *Service) RevokeConsent(ctx context.Context, caller Caller, agentID, resource string) *Response {
	if err := ownerOnly(caller); err != nil {
		return Fail(err)
	}
	if err := s.authority.Revoke(ctx, caller.UserID, agentID, resource); err != nil {
		return Fail(err)
	}
	return OK(nil)
}

// ListConsentRules returns one agent's rules. Owner-only.
func (s *Service) ListConsentRules(ctx context.Context, caller Caller, agentID string) *Response {
	if err := ownerOnly(caller); err != nil {
		return Fail(err)
	}
	rules, err := s.authority.Rules(ctx, caller.UserID, agentID)
	if err != nil {
		return Fail(err)
	}
	return OK(rules)
}

// ListAllConsentRules returns every rule in the vault. Owner-only.
func (s *Service) ListAllConsentRules(ctx context.Context, caller Caller) *Response {
	if err := ownerOnly(caller); err != nil {
		return Fail(err)
	}
	rules, err := s.authority.AllRules(ctx, caller.UserID)
	if err != nil {
		return Fail(err)
	}
	return OK(rules)
}

// RunDecay sweeps the caller's quality records through time decay.
// Owner-only; the daemon's scheduler is the usual caller.
func (s *Service) RunDecay(ctx context.Context, caller Caller) *Response {
	if err := ownerOnly(caller); err != nil {
		return Fail(err)
	}
	report, err := s.engine.RunDecay(ctx, caller.UserID, time.Now())
	if err != nil {
		return Fail(err)
	}
	return OK(report)
}

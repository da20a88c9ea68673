package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/extract"
	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// enrich runs the background half of one ingestion: embedding for memory
// notes, entity/edge extraction, and dedup-checked graph writes. The
// originating write is already committed; everything here is best-effort
// on its behalf.
func (e *VaultEngine) enrich(ctx context.Context, store storage.Store, job *IngestJob) error {
	now := time.Now()

	// Embedding failures degrade search but don't invalidate extraction,
	// so they are logged and skipped rather than failing the job.
	if err := e.embedNote(ctx, store, job, now); err != nil {
		log.Printf("WARNING: embedding failed for %s: %v", job.SourceRef, err)
	}

	result, err := e.extractor.Extract(ctx, job.Text)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if result == nil || (len(result.Entities) == 0 && len(result.Edges) == 0) {
		return nil
	}

	// Entity candidates first, so edges can resolve their endpoints.
	entityIDs := make(map[string]int64, len(result.Entities))
	for _, candidate := range result.Entities {
		id, err := e.resolveCandidate(ctx, store, candidate, job.SourceRef, now)
		if err != nil {
			log.Printf("WARNING: skipping extracted entity %q for %s: %v", candidate.Name, job.SourceRef, err)
			continue
		}
		entityIDs[candidateKey(candidate.Type, candidate.Name)] = id
	}

	for _, candidate := range result.Edges {
		if err := e.assertEdge(ctx, store, candidate, entityIDs, job, now); err != nil {
			log.Printf("WARNING: skipping extracted edge %s-[%s]->%s for %s: %v",
				candidate.SourceName, candidate.Relation, candidate.TargetName, job.SourceRef, err)
		}
	}

	return nil
}

// embedNote generates and stores the vector for a memory-note job. Only
// memory text is embedded; profile and table writes carry no note.
func (e *VaultEngine) embedNote(ctx context.Context, store storage.Store, job *IngestJob, now time.Time) error {
	ref, ok := strings.CutPrefix(job.SourceRef, "memory:")
	if !ok || e.embedder == nil {
		return nil
	}

	noteID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return fmt.Errorf("bad memory ref %q: %w", job.SourceRef, err)
	}

	vector, err := e.embedder.Embed(ctx, job.Text)
	if err != nil {
		return err
	}

	// The relational store is the durable copy; the vector index is a
	// rebuildable mirror.
	if err := store.StoreEmbedding(ctx, job.SourceRef, vector); err != nil {
		return err
	}
	if e.index != nil {
		if err := e.index.Add(ctx, job.UserID, noteID, job.Text, vector, string(job.Origin)); err != nil {
			log.Printf("WARNING: vector index add failed for %s: %v", job.SourceRef, err)
		}
	}

	return store.MarkNoteEmbedded(ctx, noteID, now)
}

// resolveCandidate turns an extracted entity candidate into a stored
// entity id: a duplicate touches the existing entity, anything else is
// created fresh.
func (e *VaultEngine) resolveCandidate(ctx context.Context, store storage.Store, candidate extract.Candidate, originRef string, now time.Time) (int64, error) {
	matchedID, err := e.dedup.CheckAndDeduplicate(ctx, store, candidate.Type, candidate.Name)
	if err != nil {
		return 0, err
	}
	if matchedID != 0 {
		if err := store.TouchEntity(ctx, matchedID, now); err != nil {
			return 0, err
		}
		return matchedID, nil
	}

	entity := &types.Entity{
		Type:         candidate.Type,
		Name:         candidate.Name,
		Properties:   map[string]interface{}{"origin_ref": originRef},
		Confidence:   candidate.Confidence,
		MentionCount: 1,
		FirstSeen:    now,
		LastSeen:     now,
	}
	entity.SetAliases(candidate.Aliases)

	id, err := store.CreateEntity(ctx, entity)
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost a race with a concurrent insert; use the stored entity.
		existing, getErr := store.GetEntityByName(ctx, candidate.Type, candidate.Name)
		if getErr != nil {
			return 0, err
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, err
	}

	// Name embeddings feed the semantic dedup stage; losing one only
	// weakens future matching.
	if e.config.Dedup.SemanticEnabled && e.embedder != nil {
		if vector, embErr := e.embedder.Embed(ctx, candidate.Name); embErr == nil {
			ref := "entity:" + strconv.FormatInt(id, 10)
			if storeErr := store.StoreEmbedding(ctx, ref, vector); storeErr != nil {
				log.Printf("WARNING: entity name embedding failed for %s: %v", ref, storeErr)
			}
		} else {
			log.Printf("WARNING: entity name embedding failed for %q: %v", candidate.Name, embErr)
		}
	}

	return id, nil
}

// assertEdge upserts one extracted edge, maintains its quality record,
// and runs relation-contradiction detection for single-valued relations.
func (e *VaultEngine) assertEdge(ctx context.Context, store storage.Store, candidate extract.CandidateEdge, entityIDs map[string]int64, job *IngestJob, now time.Time) error {
	sourceID, err := e.edgeEndpoint(ctx, store, candidate.SourceType, candidate.SourceName, entityIDs, job.SourceRef, now)
	if err != nil {
		return err
	}
	targetID, err := e.edgeEndpoint(ctx, store, candidate.TargetType, candidate.TargetName, entityIDs, job.SourceRef, now)
	if err != nil {
		return err
	}
	if sourceID == targetID {
		return nil
	}

	edge := &types.Edge{
		SourceID:   sourceID,
		TargetID:   targetID,
		Relation:   candidate.Relation,
		Weight:     1,
		Confidence: candidate.Confidence,
		Properties: map[string]interface{}{"origin_ref": job.SourceRef},
		FirstSeen:  now,
		LastSeen:   now,
	}
	if candidate.Evidence != "" {
		edge.Evidence = []string{candidate.Evidence}
	}

	stored, err := store.UpsertEdge(ctx, edge)
	if err != nil {
		return err
	}

	meta, err := e.edgeMeta(ctx, store, stored, job.Agent, now)
	if err != nil {
		return err
	}

	if types.SingleValuedRelations[stored.Relation] {
		e.checkRelationConflict(ctx, store, stored, meta, job.Agent, now)
	}
	return nil
}

// edgeEndpoint resolves an edge endpoint to an entity id, falling back to
// the dedup-or-create path when the extractor listed the endpoint only in
// the edge and not among the entity candidates.
func (e *VaultEngine) edgeEndpoint(ctx context.Context, store storage.Store, entityType, name string, entityIDs map[string]int64, originRef string, now time.Time) (int64, error) {
	if id, ok := entityIDs[candidateKey(entityType, name)]; ok {
		return id, nil
	}

	candidate := extract.Candidate{Name: name, Type: entityType, Confidence: 0.5}
	id, err := e.resolveCandidate(ctx, store, candidate, originRef, now)
	if err != nil {
		return 0, err
	}
	entityIDs[candidateKey(entityType, name)] = id
	return id, nil
}

// edgeMeta reinforces the quality record of a re-asserted edge or creates
// a fresh one for a new edge. Extracted facts always carry the
// ai_inferred origin; extraction is inference even over the owner's text.
func (e *VaultEngine) edgeMeta(ctx context.Context, store storage.Store, edge *types.Edge, agent string, now time.Time) (*types.MemoryMeta, error) {
	subject := fmt.Sprintf("entity:%d/%s", edge.SourceID, edge.Relation)
	ref := strconv.FormatInt(edge.ID, 10)

	metas, err := store.ListMetaBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		if meta.SourceType == "edge" && meta.SourceRef == ref {
			return e.scorer.Reinforce(ctx, store, meta.ID, now)
		}
	}

	meta := e.scorer.NewMeta("edge", ref, subject, types.OriginAIInferred, agent, now)
	metaID, err := store.CreateMeta(ctx, meta)
	if err != nil {
		return nil, err
	}
	meta.ID = metaID
	return meta, nil
}

// checkRelationConflict contests the quality records of two edges that
// assert different targets for a single-valued relation. Detection
// failures are logged; they never fail the job.
func (e *VaultEngine) checkRelationConflict(ctx context.Context, store storage.Store, edge *types.Edge, meta *types.MemoryMeta, agent string, now time.Time) {
	subject := meta.SubjectKey

	others, err := store.ListMetaBySubject(ctx, subject)
	if err != nil {
		log.Printf("WARNING: relation conflict scan failed for %s: %v", subject, err)
		return
	}

	newName, err := e.entityName(ctx, store, edge.TargetID)
	if err != nil {
		log.Printf("WARNING: relation conflict scan failed for %s: %v", subject, err)
		return
	}

	for _, other := range others {
		if other.ID == meta.ID || other.SourceType != "edge" {
			continue
		}

		otherEdgeID, parseErr := strconv.ParseInt(other.SourceRef, 10, 64)
		if parseErr != nil {
			continue
		}
		otherEdge, getErr := store.GetEdge(ctx, otherEdgeID)
		if errors.Is(getErr, storage.ErrNotFound) {
			continue
		}
		if getErr != nil {
			log.Printf("WARNING: relation conflict scan failed for %s: %v", subject, getErr)
			continue
		}
		if otherEdge.TargetID == edge.TargetID {
			continue
		}

		oldName, nameErr := e.entityName(ctx, store, otherEdge.TargetID)
		if nameErr != nil {
			log.Printf("WARNING: relation conflict scan failed for %s: %v", subject, nameErr)
			continue
		}

		if _, err := e.contradictions.Detect(ctx, store, other, meta, subject, oldName, newName, agent, now); err != nil {
			log.Printf("WARNING: contradiction detection failed for %s: %v", subject, err)
		}
	}
}

func (e *VaultEngine) entityName(ctx context.Context, store storage.Store, id int64) (string, error) {
	entity, err := store.GetEntity(ctx, id)
	if err != nil {
		return "", err
	}
	return entity.Name, nil
}

func candidateKey(entityType, name string) string {
	return entityType + "\x00" + strings.ToLower(name)
}

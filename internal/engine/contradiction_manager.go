package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// ContradictionManager detects conflicting facts and drives the review
// state machine over their quality records.
type ContradictionManager struct {
	scorer *ConfidenceScorer
}

// NewContradictionManager creates a manager. The scorer lets a
// reviewer's verdict boost the surviving record; it may be nil.
func NewContradictionManager(scorer *ConfidenceScorer) *ContradictionManager {
	return &ContradictionManager{scorer: scorer}
}

// ContradictionView pairs a contested record with the conflict awaiting
// review on it.
type ContradictionView struct {
	MetaID     int64               `json:"meta_id"`
	SourceType string              `json:"source_type"`
	SourceRef  string              `json:"source_ref"`
	SubjectKey string              `json:"subject_key"`
	Confidence float64             `json:"confidence"`
	Conflict   types.Contradiction `json:"conflict"`
}

// Detect records a conflict between an established fact and an incoming
// one: the contradiction is appended to BOTH quality records and both
// become contested. The raise is suppressed, returning false, when the
// two records are contextually paired (a previous keep_both) or the same
// pair already has the conflict pending.
func (m *ContradictionManager) Detect(ctx context.Context, store storage.Store, oldMeta, newMeta *types.MemoryMeta, field, oldValue, newValue string, agent string, at time.Time) (bool, error) {
	if oldMeta.ID == newMeta.ID {
		return false, nil
	}
	if oldMeta.IsContextualWith(newMeta.ID) || newMeta.IsContextualWith(oldMeta.ID) {
		return false, nil
	}
	if hasOpenConflictWith(oldMeta, newMeta.ID) || hasOpenConflictWith(newMeta, oldMeta.ID) {
		return false, nil
	}

	conflict := types.Contradiction{
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		OldMetaID:  oldMeta.ID,
		NewMetaID:  newMeta.ID,
		Agent:      agent,
		DetectedAt: at,
	}

	for _, meta := range []*types.MemoryMeta{oldMeta, newMeta} {
		meta.Contradictions = append(meta.Contradictions, conflict)
		meta.Status = types.MetaContested
		meta.UpdatedAt = at
		if err := store.UpdateMeta(ctx, meta); err != nil {
			return false, err
		}
	}
	return true, nil
}

// List returns up to five contested records awaiting review, ordered by
// the detection time of their oldest open conflict.
func (m *ContradictionManager) List(ctx context.Context, store storage.Store) ([]*ContradictionView, error) {
	metas, err := store.ListContested(ctx, 5)
	if err != nil {
		return nil, err
	}

	views := make([]*ContradictionView, 0, len(metas))
	for _, meta := range metas {
		conflict := oldestOpenConflict(meta)
		if conflict == nil {
			continue
		}
		views = append(views, &ContradictionView{
			MetaID:     meta.ID,
			SourceType: meta.SourceType,
			SourceRef:  meta.SourceRef,
			SubjectKey: meta.SubjectKey,
			Confidence: meta.Confidence,
			Conflict:   *conflict,
		})
	}
	return views, nil
}

// Resolve applies a reviewer's verdict to the oldest open conflict on a
// contested record and to its counterpart:
//
//	confirm   - the new value stands; the old record is superseded.
//	reject    - the old value stands; the new fact is discarded
//	            (profile value restored, extracted edge soft-deleted).
//	keep_both - both records return to active, contextually paired so
//	            the identical pair never re-raises.
//
// Returns the updated record the caller addressed.
func (m *ContradictionManager) Resolve(ctx context.Context, store storage.Store, metaID int64, resolution types.Resolution, at time.Time) (*types.MemoryMeta, error) {
	if metaID == 0 {
		return nil, fmt.Errorf("%w: meta id is required", storage.ErrInvalidInput)
	}
	if !types.IsValidResolution(resolution) {
		return nil, fmt.Errorf("%w: unknown resolution %q", storage.ErrInvalidInput, resolution)
	}

	meta, err := store.GetMeta(ctx, metaID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: no contested entry with meta id %d", storage.ErrInvalidInput, metaID)
	}
	if err != nil {
		return nil, err
	}
	if meta.Status != types.MetaContested {
		return nil, fmt.Errorf("%w: no contested entry with meta id %d", storage.ErrInvalidInput, metaID)
	}

	conflict := oldestOpenConflict(meta)
	if conflict == nil {
		return nil, fmt.Errorf("%w: no contested entry with meta id %d", storage.ErrInvalidInput, metaID)
	}

	counterpartID := conflict.OldMetaID
	if meta.ID == conflict.OldMetaID {
		counterpartID = conflict.NewMetaID
	}
	counterpart, err := store.GetMeta(ctx, counterpartID)
	if err != nil {
		return nil, err
	}

	oldSide, newSide := meta, counterpart
	if meta.ID == conflict.NewMetaID {
		oldSide, newSide = counterpart, meta
	}

	// Store fixups run before the meta updates: a failed fixup leaves the
	// conflict open and re-resolvable, while the reverse order could
	// close the conflict with the discarded fact still live.
	switch resolution {
	case types.ResolutionConfirm:
		if err := m.retireFact(ctx, store, oldSide); err != nil {
			return nil, err
		}
		newSide.Status = types.MetaActive
		oldSide.Status = types.MetaResolved
		m.boostSurvivor(newSide, at)

	case types.ResolutionReject:
		if err := m.discardIncoming(ctx, store, newSide, conflict, at); err != nil {
			return nil, err
		}
		oldSide.Status = types.MetaActive
		newSide.Status = types.MetaResolved
		m.boostSurvivor(oldSide, at)

	case types.ResolutionKeepBoth:
		oldSide.Status = types.MetaActive
		newSide.Status = types.MetaActive
		pairContextually(oldSide, newSide)
	}

	markConflictResolved(oldSide, conflict.OldMetaID, conflict.NewMetaID, resolution, at)
	markConflictResolved(newSide, conflict.OldMetaID, conflict.NewMetaID, resolution, at)

	// A record with another conflict still open stays contested
	// regardless of this verdict.
	if oldSide.Status == types.MetaActive && oldestOpenConflict(oldSide) != nil {
		oldSide.Status = types.MetaContested
	}
	if newSide.Status == types.MetaActive && oldestOpenConflict(newSide) != nil {
		newSide.Status = types.MetaContested
	}

	for _, side := range []*types.MemoryMeta{oldSide, newSide} {
		side.UpdatedAt = at
		if err := store.UpdateMeta(ctx, side); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// retireFact removes the superseded fact's live footprint when a confirm
// verdict accepts its replacement. Only extracted edges have one; profile
// fields already hold the new value.
func (m *ContradictionManager) retireFact(ctx context.Context, store storage.Store, meta *types.MemoryMeta) error {
	if meta.SourceType != "edge" {
		return nil
	}
	return m.deleteEdgeRef(ctx, store, meta.SourceRef)
}

// discardIncoming undoes the rejected fact's write: an extracted edge is
// soft-deleted, a profile field is restored to the old value unless a
// later write already moved it on.
func (m *ContradictionManager) discardIncoming(ctx context.Context, store storage.Store, meta *types.MemoryMeta, conflict *types.Contradiction, at time.Time) error {
	switch meta.SourceType {
	case "edge":
		return m.deleteEdgeRef(ctx, store, meta.SourceRef)

	case "profile":
		field := strings.TrimPrefix(conflict.Field, "profile/")
		current, err := store.GetProfileField(ctx, field)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if current != nil && valueString(current.Value) != conflict.NewValue {
			// A later write superseded the rejected value; leave it.
			return nil
		}
		return store.UpsertProfileField(ctx, field, parseValue(conflict.OldValue), at)
	}
	return nil
}

func (m *ContradictionManager) deleteEdgeRef(ctx context.Context, store storage.Store, sourceRef string) error {
	edgeID, err := strconv.ParseInt(sourceRef, 10, 64)
	if err != nil {
		return fmt.Errorf("bad edge ref %q: %w", sourceRef, err)
	}
	if err := store.DeleteEdge(ctx, edgeID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// boostSurvivor treats the reviewer's verdict as a reinforcement of the
// surviving fact.
func (m *ContradictionManager) boostSurvivor(meta *types.MemoryMeta, at time.Time) {
	if m.scorer == nil {
		return
	}
	boosted := meta.Confidence + m.scorer.config.ReinforceBoost
	if boosted > m.scorer.config.ConfidenceCap {
		boosted = m.scorer.config.ConfidenceCap
	}
	if boosted == meta.Confidence {
		return
	}
	meta.PromoteHistory = append(meta.PromoteHistory, types.PromoteEvent{
		At:     at,
		Delta:  boosted - meta.Confidence,
		Reason: "resolution",
	})
	meta.Confidence = boosted
}

// pairContextually records each record in the other's contextualWith
// list, suppressing any future raise for the identical pair.
func pairContextually(a, b *types.MemoryMeta) {
	if !a.IsContextualWith(b.ID) {
		a.ContextualWith = append(a.ContextualWith, b.ID)
	}
	if !b.IsContextualWith(a.ID) {
		b.ContextualWith = append(b.ContextualWith, a.ID)
	}
}

// markConflictResolved stamps the resolution on every open contradiction
// entry matching the pair.
func markConflictResolved(meta *types.MemoryMeta, oldID, newID int64, resolution types.Resolution, at time.Time) {
	for i := range meta.Contradictions {
		c := &meta.Contradictions[i]
		if c.Resolution == "" && c.OldMetaID == oldID && c.NewMetaID == newID {
			c.Resolution = resolution
			resolvedAt := at
			c.ResolvedAt = &resolvedAt
		}
	}
}

// hasOpenConflictWith reports whether the record already has an open
// contradiction involving the other record.
func hasOpenConflictWith(meta *types.MemoryMeta, otherID int64) bool {
	for _, c := range meta.Contradictions {
		if c.Resolution != "" {
			continue
		}
		if c.OldMetaID == otherID || c.NewMetaID == otherID {
			return true
		}
	}
	return false
}

// oldestOpenConflict returns the record's oldest unresolved contradiction,
// the one review addresses first, or nil.
func oldestOpenConflict(meta *types.MemoryMeta) *types.Contradiction {
	for i := range meta.Contradictions {
		if meta.Contradictions[i].Resolution == "" {
			return &meta.Contradictions[i]
		}
	}
	return nil
}

// parseValue turns a contradiction's value snapshot back into a stored
// value. Snapshots are JSON; anything unparseable round-trips as a raw
// string.
func parseValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

func newTestContradictions() (*ContradictionManager, *ConfidenceScorer) {
	scorer := NewConfidenceScorer(DefaultConfig().Quality)
	return NewContradictionManager(scorer), scorer
}

// seedProfileConflict writes a profile field twice with different values
// and raises the contradiction between the two quality records.
func seedProfileConflict(t *testing.T, store storage.Store, manager *ContradictionManager, scorer *ConfidenceScorer, field, oldVal, newVal string) (*types.MemoryMeta, *types.MemoryMeta) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	if err := store.UpsertProfileField(ctx, field, newVal, now); err != nil {
		t.Fatalf("UpsertProfileField failed: %v", err)
	}

	subject := "profile/" + field
	oldMeta := seedMeta(t, store, scorer, "profile", field, subject, types.OriginUserStated)
	newMeta := seedMeta(t, store, scorer, "profile", field, subject, types.OriginAIInferred)

	raised, err := manager.Detect(ctx, store, oldMeta, newMeta, subject, valueString(oldVal), valueString(newVal), "agent-1", now)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !raised {
		t.Fatal("Detect did not raise a contradiction")
	}
	return oldMeta, newMeta
}

// TestDetect_MarksBothContested verifies a raised conflict lands on both
// records and flips both to contested.
func TestDetect_MarksBothContested(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldMeta, newMeta := seedProfileConflict(t, store, manager, scorer, "diet", "vegetarian", "vegan")

	for _, id := range []int64{oldMeta.ID, newMeta.ID} {
		got, err := store.GetMeta(ctx, id)
		if err != nil {
			t.Fatalf("GetMeta failed: %v", err)
		}
		if got.Status != types.MetaContested {
			t.Errorf("Meta %d status = %q, want contested", id, got.Status)
		}
		if len(got.Contradictions) != 1 {
			t.Fatalf("Meta %d has %d contradictions, want 1", id, len(got.Contradictions))
		}
		conflict := got.Contradictions[0]
		if conflict.OldMetaID != oldMeta.ID || conflict.NewMetaID != newMeta.ID {
			t.Errorf("Conflict pair = (%d, %d), want (%d, %d)", conflict.OldMetaID, conflict.NewMetaID, oldMeta.ID, newMeta.ID)
		}
		if conflict.Field != "profile/diet" || conflict.Resolution != "" {
			t.Errorf("Conflict = %+v, want an open profile/diet conflict", conflict)
		}
	}
}

// TestDetect_SkipsPendingDuplicate verifies the same pair cannot stack a
// second open conflict.
func TestDetect_SkipsPendingDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldMeta, newMeta := seedProfileConflict(t, store, manager, scorer, "diet", "vegetarian", "vegan")

	raised, err := manager.Detect(ctx, store, oldMeta, newMeta, "profile/diet", valueString("vegetarian"), valueString("keto"), "agent-2", time.Now())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if raised {
		t.Error("Second Detect for a pending pair raised again")
	}

	got, err := store.GetMeta(ctx, oldMeta.ID)
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if len(got.Contradictions) != 1 {
		t.Errorf("Record accumulated %d conflicts, want the original 1", len(got.Contradictions))
	}
}

// TestDetect_SuppressedByContextualPair verifies records kept as both
// valid never re-raise against each other.
func TestDetect_SuppressedByContextualPair(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldMeta := seedMeta(t, store, scorer, "profile", "city", "profile/city", types.OriginUserStated)
	newMeta := seedMeta(t, store, scorer, "profile", "city", "profile/city", types.OriginUserStated)
	oldMeta.ContextualWith = []int64{newMeta.ID}
	if err := store.UpdateMeta(ctx, oldMeta); err != nil {
		t.Fatalf("UpdateMeta failed: %v", err)
	}

	raised, err := manager.Detect(ctx, store, oldMeta, newMeta, "profile/city", valueString("Portland"), valueString("Lisbon"), "", time.Now())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if raised {
		t.Error("Detect raised against a contextually paired record")
	}

	got, err := store.GetMeta(ctx, newMeta.ID)
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if got.Status != types.MetaActive {
		t.Errorf("Paired record went %q, want to stay active", got.Status)
	}
}

// TestResolve_Confirm verifies confirming keeps the new fact standing:
// the new record is active, the old superseded, and the conflict closed
// on both sides.
func TestResolve_Confirm(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldMeta, newMeta := seedProfileConflict(t, store, manager, scorer, "diet", "vegetarian", "vegan")

	resolved, err := manager.Resolve(ctx, store, newMeta.ID, types.ResolutionConfirm, time.Now())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.ID != newMeta.ID {
		t.Errorf("Resolve returned meta %d, want the addressed %d", resolved.ID, newMeta.ID)
	}

	gotNew, _ := store.GetMeta(ctx, newMeta.ID)
	gotOld, _ := store.GetMeta(ctx, oldMeta.ID)
	if gotNew.Status != types.MetaActive {
		t.Errorf("New record status = %q, want active", gotNew.Status)
	}
	if gotOld.Status != types.MetaResolved {
		t.Errorf("Old record status = %q, want resolved", gotOld.Status)
	}
	for _, got := range []*types.MemoryMeta{gotNew, gotOld} {
		if got.OpenContradiction() != nil {
			t.Errorf("Meta %d still has an open conflict after resolution", got.ID)
		}
		if got.Contradictions[0].Resolution != types.ResolutionConfirm || got.Contradictions[0].ResolvedAt == nil {
			t.Errorf("Meta %d conflict not stamped: %+v", got.ID, got.Contradictions[0])
		}
	}

	// The profile field keeps the confirmed new value.
	field, err := store.GetProfileField(ctx, "diet")
	if err != nil {
		t.Fatalf("GetProfileField failed: %v", err)
	}
	if valueString(field.Value) != valueString("vegan") {
		t.Errorf("Profile field = %v, want the confirmed vegan", field.Value)
	}

	// The surviving record gets a resolution boost in its history.
	last := gotNew.PromoteHistory[len(gotNew.PromoteHistory)-1]
	if last.Reason != "resolution" || last.Delta <= 0 {
		t.Errorf("Survivor promote event = %+v, want a positive resolution boost", last)
	}
}

// TestResolve_Reject_RestoresProfile verifies rejecting a profile write
// puts the old value back.
func TestResolve_Reject_RestoresProfile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldMeta, newMeta := seedProfileConflict(t, store, manager, scorer, "diet", "vegetarian", "vegan")

	if _, err := manager.Resolve(ctx, store, newMeta.ID, types.ResolutionReject, time.Now()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	gotOld, _ := store.GetMeta(ctx, oldMeta.ID)
	gotNew, _ := store.GetMeta(ctx, newMeta.ID)
	if gotOld.Status != types.MetaActive || gotNew.Status != types.MetaResolved {
		t.Errorf("Statuses = old %q new %q, want active/resolved", gotOld.Status, gotNew.Status)
	}

	field, err := store.GetProfileField(ctx, "diet")
	if err != nil {
		t.Fatalf("GetProfileField failed: %v", err)
	}
	if valueString(field.Value) != valueString("vegetarian") {
		t.Errorf("Profile field = %v, want vegetarian restored", field.Value)
	}
}

// TestResolve_Reject_LeavesSupersededValue verifies the restore is
// skipped when a later write already replaced the rejected value.
func TestResolve_Reject_LeavesSupersededValue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	_, newMeta := seedProfileConflict(t, store, manager, scorer, "diet", "vegetarian", "vegan")

	// A third write moves the field on before review happens.
	if err := store.UpsertProfileField(ctx, "diet", "pescatarian", time.Now()); err != nil {
		t.Fatalf("UpsertProfileField failed: %v", err)
	}

	if _, err := manager.Resolve(ctx, store, newMeta.ID, types.ResolutionReject, time.Now()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	field, err := store.GetProfileField(ctx, "diet")
	if err != nil {
		t.Fatalf("GetProfileField failed: %v", err)
	}
	if valueString(field.Value) != valueString("pescatarian") {
		t.Errorf("Profile field = %v, want the later pescatarian left alone", field.Value)
	}
}

// seedEdgeConflict builds two competing single-valued edges and raises
// the conflict between their quality records.
func seedEdgeConflict(t *testing.T, store storage.Store, manager *ContradictionManager, scorer *ConfidenceScorer) (oldEdge, newEdge *types.Edge, oldMeta, newMeta *types.MemoryMeta) {
	t.Helper()
	ctx := context.Background()

	user := seedEntity(t, store, types.EntityTypePerson, "user")
	portland := seedEntity(t, store, types.EntityTypePlace, "Portland")
	lisbon := seedEntity(t, store, types.EntityTypePlace, "Lisbon")
	oldEdge = seedEdge(t, store, user, portland, types.RelLivesIn, 1)
	newEdge = seedEdge(t, store, user, lisbon, types.RelLivesIn, 1)

	subject := fmt.Sprintf("entity:%d/%s", user, types.RelLivesIn)
	oldMeta = seedMeta(t, store, scorer, "edge", strconv.FormatInt(oldEdge.ID, 10), subject, types.OriginAIInferred)
	newMeta = seedMeta(t, store, scorer, "edge", strconv.FormatInt(newEdge.ID, 10), subject, types.OriginAIInferred)

	raised, err := manager.Detect(ctx, store, oldMeta, newMeta, subject, "Portland", "Lisbon", "agent-1", time.Now())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !raised {
		t.Fatal("Detect did not raise the edge conflict")
	}
	return oldEdge, newEdge, oldMeta, newMeta
}

// TestResolve_Confirm_RetiresOldEdge verifies confirming an extracted
// edge soft-deletes the superseded one.
func TestResolve_Confirm_RetiresOldEdge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldEdge, newEdge, _, newMeta := seedEdgeConflict(t, store, manager, scorer)

	if _, err := manager.Resolve(ctx, store, newMeta.ID, types.ResolutionConfirm, time.Now()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, err := store.GetEdge(ctx, oldEdge.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Old edge lookup = %v, want it soft-deleted", err)
	}
	if _, err := store.GetEdge(ctx, newEdge.ID); err != nil {
		t.Errorf("New edge lookup failed: %v, want it kept", err)
	}
}

// TestResolve_Reject_DeletesNewEdge verifies rejecting an extracted edge
// removes it and keeps the established one.
func TestResolve_Reject_DeletesNewEdge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldEdge, newEdge, _, newMeta := seedEdgeConflict(t, store, manager, scorer)

	if _, err := manager.Resolve(ctx, store, newMeta.ID, types.ResolutionReject, time.Now()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, err := store.GetEdge(ctx, newEdge.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("New edge lookup = %v, want it soft-deleted", err)
	}
	if _, err := store.GetEdge(ctx, oldEdge.ID); err != nil {
		t.Errorf("Old edge lookup failed: %v, want it kept", err)
	}
}

// TestResolve_KeepBoth verifies both records return to active, become
// contextually paired, and the identical pair never re-raises.
func TestResolve_KeepBoth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	oldMeta, newMeta := seedProfileConflict(t, store, manager, scorer, "city", "Portland", "Lisbon")

	if _, err := manager.Resolve(ctx, store, newMeta.ID, types.ResolutionKeepBoth, time.Now()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	gotOld, _ := store.GetMeta(ctx, oldMeta.ID)
	gotNew, _ := store.GetMeta(ctx, newMeta.ID)
	if gotOld.Status != types.MetaActive || gotNew.Status != types.MetaActive {
		t.Errorf("Statuses = %q/%q, want both active", gotOld.Status, gotNew.Status)
	}
	if !gotOld.IsContextualWith(gotNew.ID) || !gotNew.IsContextualWith(gotOld.ID) {
		t.Error("Records not contextually paired in both directions")
	}

	raised, err := manager.Detect(ctx, store, gotOld, gotNew, "profile/city", valueString("Portland"), valueString("Lisbon"), "", time.Now())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if raised {
		t.Error("Identical pair re-raised after keep_both")
	}
}

// TestResolve_InvalidArguments verifies the argument contract: missing
// id, unknown verdicts, unknown records, and uncontested records are all
// invalid-input errors.
func TestResolve_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	if _, err := manager.Resolve(ctx, store, 0, types.ResolutionConfirm, time.Now()); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Zero id: got %v, want ErrInvalidInput", err)
	}
	if _, err := manager.Resolve(ctx, store, 1, types.Resolution("maybe"), time.Now()); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Unknown verdict: got %v, want ErrInvalidInput", err)
	}
	if _, err := manager.Resolve(ctx, store, 9999, types.ResolutionConfirm, time.Now()); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Unknown record: got %v, want ErrInvalidInput", err)
	}

	calm := seedMeta(t, store, scorer, "profile", "diet", "profile/diet", types.OriginUserStated)
	if _, err := manager.Resolve(ctx, store, calm.ID, types.ResolutionConfirm, time.Now()); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Uncontested record: got %v, want ErrInvalidInput", err)
	}
}

// TestList_ReturnsPendingConflicts verifies the review queue exposes at
// most five contested records with their oldest open conflict attached.
func TestList_ReturnsPendingConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	manager, scorer := newTestContradictions()

	fields := []string{"diet", "city", "team"}
	for _, field := range fields {
		seedProfileConflict(t, store, manager, scorer, field, "old-"+field, "new-"+field)
	}

	views, err := manager.List(ctx, store)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	// Three conflicts, each contesting two records, capped at five views.
	if len(views) != 5 {
		t.Fatalf("Got %d views, want 5", len(views))
	}
	for _, view := range views {
		if view.MetaID == 0 || view.SubjectKey == "" {
			t.Errorf("View missing identity: %+v", view)
		}
		if view.Conflict.Resolution != "" {
			t.Errorf("View carries a closed conflict: %+v", view.Conflict)
		}
	}
}

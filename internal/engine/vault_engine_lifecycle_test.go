package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/memvault/memvault/internal/extract"
	"github.com/memvault/memvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingExtractor parks every Extract call until released, letting a
// test hold the worker busy while the queue fills behind it.
type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExtractor) Extract(ctx context.Context, text string) (*extract.Extraction, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &extract.Extraction{}, nil
}

// failingExtractor fails every job so tests can watch the failure path.
type failingExtractor struct{}

func (failingExtractor) Extract(ctx context.Context, text string) (*extract.Extraction, error) {
	return nil, fmt.Errorf("no patterns matched")
}

// waitForJob blocks until the completion callback reports the given job.
func waitForJob(t *testing.T, done <-chan string, jobID string) {
	t.Helper()
	select {
	case id := <-done:
		require.Equal(t, jobID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout: ingestion job never completed")
	}
}

// TestEngine_DoubleStart verifies that calling Start() twice returns an
// error and leaves the engine usable.
func TestEngine_DoubleStart(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Shutdown(ctx) })

	err := engine.Start(ctx)
	if err == nil {
		t.Fatal("Expected second Start() to return an error, got nil")
	}
	if err.Error() != "engine already started" {
		t.Errorf("Expected error message 'engine already started', got: %v", err)
	}

	// Engine still accepts writes after the failed Start.
	receipt, err := engine.IngestMemoryText(ctx, testUser, "still accepting writes", "", "")
	if err != nil {
		t.Errorf("Ingest failed after double Start attempt: %v", err)
	}
	if receipt == nil || receipt.WriteID == "" {
		t.Error("Expected a receipt after double Start attempt")
	}
}

// TestEngine_ShutdownBeforeStart verifies that Shutdown() on a never
// started engine fails cleanly.
func TestEngine_ShutdownBeforeStart(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Expected Shutdown() before Start() to return an error, got nil")
	}
	if err.Error() != "engine not started" {
		t.Errorf("Expected error message 'engine not started', got: %v", err)
	}
}

// TestEngine_IngestAfterShutdown verifies that the engine rejects writes
// once it has shut down.
func TestEngine_IngestAfterShutdown(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	if err := engine.Shutdown(ctx); err != nil {
		t.Fatalf("Failed to shut down engine: %v", err)
	}

	if _, err := engine.IngestMemoryText(ctx, testUser, "too late", "", ""); err == nil {
		t.Fatal("Expected ingest after shutdown to fail, got nil")
	}

	if err := engine.Shutdown(ctx); err == nil {
		t.Fatal("Expected second Shutdown() to return an error, got nil")
	}
}

// TestExtractionPipeline_EndToEnd runs a memory write through the rule
// extractor and checks the graph it builds, then re-ingests the same text
// and checks that everything reinforces instead of duplicating.
func TestExtractionPipeline_EndToEnd(t *testing.T) {
	engine, store := newTestEngine(t)

	done := make(chan string, 4)
	engine.SetOnJobComplete(func(userID, jobID string) { done <- jobID })

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	t.Cleanup(func() { _ = engine.Shutdown(ctx) })

	const text = "I love breakfast burritos. I live in Portland."

	receipt, err := engine.IngestMemoryText(ctx, testUser, text, "", "")
	require.NoError(t, err)
	require.NotEmpty(t, receipt.JobID)
	waitForJob(t, done, receipt.JobID)

	user, err := store.GetEntityByName(ctx, "person", "user")
	require.NoError(t, err, "expected the owner entity to be created")
	food, err := store.GetEntityByName(ctx, "food", "breakfast burritos")
	require.NoError(t, err, "expected the liked food to be extracted")
	place, err := store.GetEntityByName(ctx, "place", "Portland")
	require.NoError(t, err, "expected the home town to be extracted")

	likes, err := store.GetEdgeBetween(ctx, user.ID, food.ID, "likes")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, likes.Confidence, 1e-9)

	_, err = store.GetEdgeBetween(ctx, user.ID, place.ID, "lives_in")
	require.NoError(t, err)

	// Extracted facts carry the ai_inferred origin even on owner text.
	metas, err := store.ListMetaBySubject(ctx, fmt.Sprintf("entity:%d/likes", user.ID))
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, types.OriginAIInferred, metas[0].Origin)
	assert.InDelta(t, 0.75, metas[0].Confidence, 1e-9)

	// Same text again: dedup should fold everything into the same rows.
	again, err := engine.IngestMemoryText(ctx, testUser, text, "", "")
	require.NoError(t, err)
	waitForJob(t, done, again.JobID)

	food2, err := store.GetEntityByName(ctx, "food", "breakfast burritos")
	require.NoError(t, err)
	assert.Equal(t, food.ID, food2.ID)
	assert.Equal(t, 2, food2.MentionCount)

	likes2, err := store.GetEdgeBetween(ctx, user.ID, food.ID, "likes")
	require.NoError(t, err)
	assert.Equal(t, likes.ID, likes2.ID)
	assert.InDelta(t, 2.0, likes2.Weight, 1e-9)

	metas2, err := store.ListMetaBySubject(ctx, fmt.Sprintf("entity:%d/likes", user.ID))
	require.NoError(t, err)
	require.Len(t, metas2, 1, "re-assertion must reinforce, not stack records")
	assert.InDelta(t, 0.80, metas2[0].Confidence, 1e-9)
	assert.Len(t, metas2[0].PromoteHistory, 1)
}

// TestQueueFull_DropsJob verifies that a write against a full queue is
// still accepted and recorded, just without a scheduled job.
func TestQueueFull_DropsJob(t *testing.T) {
	store := newTestStore(t)
	extractor := &blockingExtractor{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}

	config := DefaultConfig()
	config.NumWorkers = 1
	config.QueueSize = 1

	engine, err := NewVaultEngineWithExtraction(staticResolver{store: store}, config, extractor, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	t.Cleanup(func() { _ = engine.Shutdown(ctx) })
	t.Cleanup(func() { close(extractor.release) })

	first, err := engine.IngestMemoryText(ctx, testUser, "first write", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, first.JobID)

	// Wait for the worker to pick up the first job so the queue is empty
	// again, then fill it.
	select {
	case <-extractor.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: worker never picked up the first job")
	}

	second, err := engine.IngestMemoryText(ctx, testUser, "second write", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, second.JobID)

	third, err := engine.IngestMemoryText(ctx, testUser, "third write", "", "")
	require.NoError(t, err)
	assert.Equal(t, types.WriteAccepted, third.Status)
	assert.Empty(t, third.JobID, "a dropped job must not appear on the receipt")

	record, err := engine.GetWriteRecord(ctx, testUser, third.WriteID)
	require.NoError(t, err)
	assert.Equal(t, types.WriteAccepted, record.Status)
	assert.Empty(t, record.JobID)

	// All three authoritative writes landed regardless.
	notes, err := engine.ListMemories(ctx, testUser, 10, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 3)
}

// TestJobFailure_FiresCallback verifies that enrichment failures reach
// the failure callback and nothing else: the write stays committed and
// the completion callback stays quiet.
func TestJobFailure_FiresCallback(t *testing.T) {
	store := newTestStore(t)

	config := DefaultConfig()
	config.NumWorkers = 1

	engine, err := NewVaultEngineWithExtraction(staticResolver{store: store}, config, failingExtractor{}, nil, nil)
	require.NoError(t, err)

	type jobFailure struct {
		jobID string
		err   error
	}
	failed := make(chan jobFailure, 1)
	completed := make(chan string, 1)
	engine.SetOnJobFailed(func(userID, jobID string, err error) {
		failed <- jobFailure{jobID: jobID, err: err}
	})
	engine.SetOnJobComplete(func(userID, jobID string) { completed <- jobID })

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	t.Cleanup(func() { _ = engine.Shutdown(ctx) })

	receipt, err := engine.IngestMemoryText(ctx, testUser, "doomed enrichment", "", "")
	require.NoError(t, err)

	select {
	case failure := <-failed:
		assert.Equal(t, receipt.JobID, failure.jobID)
		assert.Contains(t, failure.err.Error(), "extraction failed")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout: onJobFailed callback never fired")
	}

	select {
	case id := <-completed:
		t.Fatalf("Completion callback fired for failed job %s", id)
	default:
	}

	// The authoritative write survives the failed job untouched.
	record, err := engine.GetWriteRecord(ctx, testUser, receipt.WriteID)
	require.NoError(t, err)
	assert.Equal(t, types.WriteAccepted, record.Status)

	notes, err := engine.ListMemories(ctx, testUser, 10, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "doomed enrichment", notes[0].Content)
}

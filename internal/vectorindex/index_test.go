package vectorindex

import (
	"context"
	"testing"
)

func TestIndexSearchRanksBySimilarity(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	docs := []struct {
		id        int64
		content   string
		embedding []float32
	}{
		{1, "breakfast burritos", []float32{1, 0, 0}},
		{2, "morning hikes", []float32{0, 1, 0}},
		{3, "jazz records", []float32{0, 0, 1}},
	}
	for _, d := range docs {
		if err := ix.Add(ctx, "alice", d.id, d.content, d.embedding, "user_stated"); err != nil {
			t.Fatalf("Add(%d) failed: %v", d.id, err)
		}
	}

	hits, err := ix.Search(ctx, "alice", []float32{0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: got %d, want 2", len(hits))
	}
	if hits[0].NoteID != 1 {
		t.Errorf("top hit: got note %d, want 1", hits[0].NoteID)
	}
	if hits[0].Similarity <= hits[1].Similarity {
		t.Errorf("hits out of order: %f then %f", hits[0].Similarity, hits[1].Similarity)
	}
	if hits[0].Content != "breakfast burritos" {
		t.Errorf("Content: got %q", hits[0].Content)
	}
	if hits[0].Origin != "user_stated" {
		t.Errorf("Origin: got %q", hits[0].Origin)
	}
}

func TestIndexIsolatesUsers(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	if err := ix.Add(ctx, "alice", 1, "alice's note", []float32{1, 0, 0}, "user_stated"); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := ix.Add(ctx, "bob", 2, "bob's note", []float32{1, 0, 0}, "user_stated"); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	hits, err := ix.Search(ctx, "bob", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits: got %d, want 1", len(hits))
	}
	if hits[0].NoteID != 2 {
		t.Errorf("NoteID: got %d, want 2", hits[0].NoteID)
	}
}

func TestIndexClampsLimitToCollectionSize(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	// Empty collection: no hits, no error.
	hits, err := ix.Search(ctx, "alice", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search() on empty collection failed: %v", err)
	}
	if hits != nil {
		t.Errorf("hits: got %+v, want nil", hits)
	}

	if err := ix.Add(ctx, "alice", 1, "only note", []float32{1, 0, 0}, "user_stated"); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	hits, err = ix.Search(ctx, "alice", []float32{1, 0, 0}, 50)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits: got %d, want 1", len(hits))
	}
}

func TestIndexReplacesDocument(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	if err := ix.Add(ctx, "alice", 1, "old text", []float32{1, 0, 0}, "user_stated"); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := ix.Add(ctx, "alice", 1, "new text", []float32{0, 1, 0}, "ai_inferred"); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	count, err := ix.Count("alice")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count(): got %d, want 1", count)
	}

	hits, err := ix.Search(ctx, "alice", []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "new text" {
		t.Errorf("hits: got %+v, want the replacement document", hits)
	}
}

// Package vectorindex mirrors memory-note embeddings into chromem-go, a
// pure Go embedded vector database, for fast similarity search. The
// relational store stays the source of truth; the index is a disposable
// mirror that can be rebuilt from stored embeddings at any time.
package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Hit is one similarity match from the index.
type Hit struct {
	NoteID     int64
	Content    string
	Origin     string
	Similarity float32
}

// Index holds one chromem collection per user so vector search never
// crosses a namespace boundary.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// NewMemoryIndex creates an in-memory index. Contents are lost on restart
// and repopulated lazily as notes are ingested.
func NewMemoryIndex() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistentIndex creates an index backed by files under path.
func NewPersistentIndex(path string) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open %s: %w", path, err)
	}
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collection returns the per-user collection, creating it on first use.
func (ix *Index) collection(userID string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[userID]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Double-check after acquiring write lock
	if col, ok := ix.collections[userID]; ok {
		return col, nil
	}

	col, err := ix.db.GetOrCreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: collection for %s: %w", userID, err)
	}
	ix.collections[userID] = col
	return col, nil
}

// Add indexes one note embedding. Re-adding the same note id replaces the
// previous document.
func (ix *Index) Add(ctx context.Context, userID string, noteID int64, content string, embedding []float32, origin string) error {
	col, err := ix.collection(userID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        fmt.Sprintf("note-%d", noteID),
		Content:   content,
		Embedding: embedding,
		Metadata: map[string]string{
			"note_id": strconv.FormatInt(noteID, 10),
			"origin":  origin,
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vectorindex: add note %d: %w", noteID, err)
	}
	return nil
}

// Search returns up to limit hits ranked by cosine similarity. chromem
// rejects result counts above the collection size, so limit is clamped to
// the document count; an empty collection returns no hits.
func (ix *Index) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]Hit, error) {
	col, err := ix.collection(userID)
	if err != nil {
		return nil, err
	}

	if count := col.Count(); count < limit {
		limit = count
	}
	if limit <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, result := range results {
		noteID, err := strconv.ParseInt(result.Metadata["note_id"], 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{
			NoteID:     noteID,
			Content:    result.Content,
			Origin:     result.Metadata["origin"],
			Similarity: result.Similarity,
		})
	}
	return hits, nil
}

// Count reports how many documents a user's collection holds.
func (ix *Index) Count(userID string) (int, error) {
	col, err := ix.collection(userID)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

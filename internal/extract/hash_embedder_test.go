package extract

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(128)

	a, err := e.Embed(context.Background(), "I love breakfast burritos")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	b, err := e.Embed(context.Background(), "I love breakfast burritos")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	if len(a) != 128 {
		t.Fatalf("vector width: got %d, want 128", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestHashEmbedderUnitNorm(t *testing.T) {
	e := NewHashEmbedder(0) // default width

	if e.Dimensions() != 256 {
		t.Errorf("Dimensions(): got %d, want 256", e.Dimensions())
	}

	vec, err := e.Embed(context.Background(), "morning hikes with coffee")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-4 {
		t.Errorf("norm: got %f, want 1.0", norm)
	}
}

func TestHashEmbedderSimilarityOrdering(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "I love breakfast burritos with salsa")
	near, _ := e.Embed(ctx, "breakfast burritos are my favorite")
	far, _ := e.Embed(ctx, "quarterly revenue projections for the board")

	simNear := cosine(base, near)
	simFar := cosine(base, far)
	if simNear <= simFar {
		t.Errorf("overlapping text should score higher: near=%f far=%f", simNear, simFar)
	}
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder(64)

	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("empty text should produce a zero vector, index %d is %f", i, v)
		}
	}
}

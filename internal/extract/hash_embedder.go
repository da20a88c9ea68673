package extract

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder produces deterministic embeddings by feature-hashing word and
// character-trigram counts into a fixed-width vector. It has no notion of
// meaning; overlapping strings get overlapping vectors, which is enough for
// tests and for rough recall when no model backend is configured.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a hash embedder with the given vector width.
// Widths below 1 fall back to 256.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed hashes each feature into a bucket, using one hash bit as the sign
// so colliding features cancel rather than pile up, then L2-normalizes.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dimensions)
	for _, feature := range hashFeatures(text) {
		h := fnv.New32a()
		h.Write([]byte(feature))
		sum := h.Sum32()
		idx := int(sum>>1) % e.dimensions
		if sum&1 == 1 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}

	return vec, nil
}

// Dimensions returns the configured vector width.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

func hashFeatures(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var features []string
	for _, word := range words {
		features = append(features, "w:"+word)
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			features = append(features, "t:"+padded[i:i+3])
		}
	}
	return features
}

var _ Embedder = (*HashEmbedder)(nil)

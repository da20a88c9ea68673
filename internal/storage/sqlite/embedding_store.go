package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/memvault/memvault/internal/storage"
)

// maxSearchCandidates bounds how many stored vectors one similarity
// search will load into memory.
const maxSearchCandidates = 10000

// StoreEmbedding writes the vector for a ref, replacing any prior one.
func (s *VaultStore) StoreEmbedding(ctx context.Context, ref string, vector []float32) error {
	if ref == "" {
		return fmt.Errorf("%w: ref is required", storage.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: vector is empty", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (ref, embedding, dimension, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at`,
		ref, encodeVector(vector), len(vector), now, now)
	if err != nil {
		return fmt.Errorf("sqlite: StoreEmbedding: %w", err)
	}
	return nil
}

// GetEmbedding retrieves the vector stored for a ref.
func (s *VaultStore) GetEmbedding(ctx context.Context, ref string) ([]float32, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: ref is required", storage.ErrInvalidInput)
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM embeddings WHERE ref = ?`, ref).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetEmbedding: %w", err)
	}
	return decodeVector(blob)
}

// DeleteEmbedding removes the vector for a ref. Missing refs are a no-op.
func (s *VaultStore) DeleteEmbedding(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: ref is required", storage.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE ref = ?`, ref); err != nil {
		return fmt.Errorf("sqlite: DeleteEmbedding: %w", err)
	}
	return nil
}

// SearchEmbeddings ranks stored vectors by cosine similarity to the
// query vector, filtered to refs starting with refPrefix when set.
// Vectors of a different dimension are skipped.
func (s *VaultStore) SearchEmbeddings(ctx context.Context, vector []float32, limit int, minSimilarity float64, refPrefix string) ([]storage.EmbeddingMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: vector is empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ref, embedding FROM embeddings WHERE dimension = ?`
	args := []interface{}{len(vector)}
	if refPrefix != "" {
		query += ` AND ref LIKE ?`
		args = append(args, refPrefix+"%")
	}
	query += ` LIMIT ?`
	args = append(args, maxSearchCandidates)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: SearchEmbeddings: %w", err)
	}
	defer rows.Close()

	var matches []storage.EmbeddingMatch
	for rows.Next() {
		var (
			ref  string
			blob []byte
		)
		if err := rows.Scan(&ref, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: SearchEmbeddings: scan: %w", err)
		}
		candidate, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite: SearchEmbeddings: ref %s: %w", ref, err)
		}
		similarity := cosineSimilarity(vector, candidate)
		if similarity >= minSimilarity {
			matches = append(matches, storage.EmbeddingMatch{Ref: ref, Similarity: similarity})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: SearchEmbeddings: rows: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// encodeVector serializes a vector as little-endian float32 words.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector reverses encodeVector.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("malformed embedding blob: %d bytes", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors,
// 0 when either has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
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

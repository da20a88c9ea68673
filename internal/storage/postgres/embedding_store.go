package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/memvault/memvault/internal/storage"
)

// maxSearchCandidates bounds how many stored vectors the in-process
// similarity fallback will load into memory.
const maxSearchCandidates = 10000

// StoreEmbedding writes the vector for a ref, replacing any prior one.
// The byte encoding is always written; the native vector column is kept
// in step when the pgvector extension is installed.
func (s *VaultStore) StoreEmbedding(ctx context.Context, ref string, vector []float32) error {
	if ref == "" {
		return fmt.Errorf("%w: ref is required", storage.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: vector is empty", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()

	if s.pgvector {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO embeddings (ref, embedding, dimension, embedding_vec, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT(ref) DO UPDATE SET
				embedding = excluded.embedding,
				dimension = excluded.dimension,
				embedding_vec = excluded.embedding_vec,
				updated_at = excluded.updated_at`,
			ref, encodeVector(vector), len(vector), pgvector.NewVector(vector), now, now)
		if err != nil {
			return fmt.Errorf("postgres: StoreEmbedding: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (ref, embedding, dimension, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(ref) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at`,
		ref, encodeVector(vector), len(vector), now, now)
	if err != nil {
		return fmt.Errorf("postgres: StoreEmbedding: %w", err)
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
		`SELECT embedding FROM embeddings WHERE ref = $1`, ref).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: GetEmbedding: %w", err)
	}
	return decodeVector(blob)
}

// DeleteEmbedding removes the vector for a ref. Missing refs are a no-op.
func (s *VaultStore) DeleteEmbedding(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: ref is required", storage.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE ref = $1`, ref); err != nil {
		return fmt.Errorf("postgres: DeleteEmbedding: %w", err)
	}
	return nil
}

// SearchEmbeddings ranks stored vectors by cosine similarity to the
// query vector, filtered to refs starting with refPrefix when set.
// Vectors of a different dimension are skipped. With pgvector installed
// the ranking runs in the database; otherwise candidates are scanned in
// process like the sqlite backend.
func (s *VaultStore) SearchEmbeddings(ctx context.Context, vector []float32, limit int, minSimilarity float64, refPrefix string) ([]storage.EmbeddingMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: vector is empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	if s.pgvector {
		return s.searchEmbeddingsNative(ctx, vector, limit, minSimilarity, refPrefix)
	}
	return s.searchEmbeddingsScan(ctx, vector, limit, minSimilarity, refPrefix)
}

// searchEmbeddingsNative runs cosine KNN through the pgvector <=>
// operator. Rows written while the extension was missing have no native
// vector and are excluded.
func (s *VaultStore) searchEmbeddingsNative(ctx context.Context, vector []float32, limit int, minSimilarity float64, refPrefix string) ([]storage.EmbeddingMatch, error) {
	args := []interface{}{pgvector.NewVector(vector), len(vector), minSimilarity}
	query := `
		SELECT ref, 1 - (embedding_vec <=> $1::vector) AS similarity
		FROM embeddings
		WHERE dimension = $2 AND embedding_vec IS NOT NULL
		  AND 1 - (embedding_vec <=> $1::vector) >= $3`
	if refPrefix != "" {
		args = append(args, refPrefix+"%")
		query += fmt.Sprintf(` AND ref LIKE $%d`, len(args))
	}
	query += fmt.Sprintf(` ORDER BY embedding_vec <=> $1::vector LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: SearchEmbeddings: %w", err)
	}
	defer rows.Close()

	var matches []storage.EmbeddingMatch
	for rows.Next() {
		var m storage.EmbeddingMatch
		if err := rows.Scan(&m.Ref, &m.Similarity); err != nil {
			return nil, fmt.Errorf("postgres: SearchEmbeddings: scan: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: SearchEmbeddings: rows: %w", err)
	}
	return matches, nil
}

// searchEmbeddingsScan is the brute-force fallback over the byte-encoded
// column when pgvector is unavailable.
func (s *VaultStore) searchEmbeddingsScan(ctx context.Context, vector []float32, limit int, minSimilarity float64, refPrefix string) ([]storage.EmbeddingMatch, error) {
	query := `SELECT ref, embedding FROM embeddings WHERE dimension = $1`
	args := []interface{}{len(vector)}
	if refPrefix != "" {
		args = append(args, refPrefix+"%")
		query += fmt.Sprintf(` AND ref LIKE $%d`, len(args))
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, maxSearchCandidates)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: SearchEmbeddings: %w", err)
	}
	defer rows.Close()

	var matches []storage.EmbeddingMatch
	for rows.Next() {
		var (
			ref  string
			blob []byte
		)
		if err := rows.Scan(&ref, &blob); err != nil {
			return nil, fmt.Errorf("postgres: SearchEmbeddings: scan: %w", err)
		}
		candidate, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("postgres: SearchEmbeddings: ref %s: %w", ref, err)
		}
		similarity := cosineSimilarity(vector, candidate)
		if similarity >= minSimilarity {
			matches = append(matches, storage.EmbeddingMatch{Ref: ref, Similarity: similarity})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: SearchEmbeddings: rows: %w", err)
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

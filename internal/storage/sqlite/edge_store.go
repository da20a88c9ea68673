package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// edgeColumns is the SELECT list shared by every edge query.
const edgeColumns = `id, source_id, target_id, relation, weight, confidence, evidence, properties, first_seen, last_seen, deleted_at`

// UpsertEdge creates an edge or reinforces the live edge with the same
// (source, target, relation) triple. Reinforcement sums the weights,
// keeps the higher confidence, and appends evidence. Both endpoints must
// be live entities.
func (s *VaultStore) UpsertEdge(ctx context.Context, edge *types.Edge) (*types.Edge, error) {
	if edge == nil {
		return nil, storage.ErrInvalidInput
	}
	if strings.TrimSpace(edge.Relation) == "" {
		return nil, fmt.Errorf("%w: edge relation is required", storage.ErrInvalidInput)
	}
	if edge.SourceID == 0 || edge.TargetID == 0 {
		return nil, fmt.Errorf("%w: edge endpoints are required", storage.ErrInvalidInput)
	}
	if edge.Confidence < 0 || edge.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be in [0,1]", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if edge.Weight <= 0 {
		edge.Weight = 1.0
	}
	if edge.FirstSeen.IsZero() {
		edge.FirstSeen = now
	}
	if edge.LastSeen.IsZero() {
		edge.LastSeen = edge.FirstSeen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEdge: begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []int64{edge.SourceID, edge.TargetID} {
		if _, err := getEntityTx(ctx, tx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: entity %d", storage.ErrNotFound, id)
			}
			return nil, fmt.Errorf("sqlite: UpsertEdge: endpoint: %w", err)
		}
	}

	existing, err := getEdgeBetweenTx(ctx, tx, edge.SourceID, edge.TargetID, edge.Relation)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("sqlite: UpsertEdge: lookup: %w", err)
	}

	if existing != nil {
		existing.Weight += edge.Weight
		if edge.Confidence > existing.Confidence {
			existing.Confidence = edge.Confidence
		}
		existing.Evidence = append(existing.Evidence, edge.Evidence...)
		existing.LastSeen = now

		evidenceJSON, err := marshalStrings(existing.Evidence)
		if err != nil {
			return nil, fmt.Errorf("sqlite: UpsertEdge: marshal evidence: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE edges
			SET weight = ?, confidence = ?, evidence = ?, last_seen = ?
			WHERE id = ?`,
			existing.Weight, existing.Confidence, nullableBytes(evidenceJSON), existing.LastSeen, existing.ID); err != nil {
			return nil, fmt.Errorf("sqlite: UpsertEdge: reinforce: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("sqlite: UpsertEdge: commit: %w", err)
		}
		return existing, nil
	}

	evidenceJSON, err := marshalStrings(edge.Evidence)
	if err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEdge: marshal evidence: %w", err)
	}
	propsJSON, err := marshalBag(edge.Properties)
	if err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEdge: marshal properties: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO edges (source_id, target_id, relation, weight, confidence, evidence, properties, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edge.SourceID, edge.TargetID, edge.Relation,
		edge.Weight, edge.Confidence,
		nullableBytes(evidenceJSON), nullableBytes(propsJSON),
		edge.FirstSeen, edge.LastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEdge: insert: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEdge: last insert id: %w", err)
	}
	edge.ID = id

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEdge: commit: %w", err)
	}
	return edge, nil
}

// GetEdge retrieves a live edge by id.
func (s *VaultStore) GetEdge(ctx context.Context, id int64) (*types.Edge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE id = ? AND deleted_at IS NULL`, id)
	edge, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetEdge: %w", err)
	}
	return edge, nil
}

// GetEdgeBetween retrieves the live edge for an exact (source, target,
// relation) triple.
func (s *VaultStore) GetEdgeBetween(ctx context.Context, sourceID, targetID int64, relation string) (*types.Edge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges
		 WHERE source_id = ? AND target_id = ? AND relation = ? AND deleted_at IS NULL`,
		sourceID, targetID, relation)
	edge, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetEdgeBetween: %w", err)
	}
	return edge, nil
}

// getEdgeBetweenTx is GetEdgeBetween inside a transaction.
func getEdgeBetweenTx(ctx context.Context, tx *sql.Tx, sourceID, targetID int64, relation string) (*types.Edge, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges
		 WHERE source_id = ? AND target_id = ? AND relation = ? AND deleted_at IS NULL`,
		sourceID, targetID, relation)
	edge, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return edge, nil
}

// ListNeighborEdges returns the live edges touching any of the given
// entities, filtered by direction, relation, and confidence. The result
// is ordered by weight so callers that truncate keep the strongest
// connections.
func (s *VaultStore) ListNeighborEdges(ctx context.Context, entityIDs []int64, opts storage.NeighborOptions) ([]*types.Edge, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	opts.Normalize()

	idArgs := make([]interface{}, len(entityIDs))
	for i, id := range entityIDs {
		idArgs[i] = id
	}
	in := buildInClause(len(entityIDs))

	var direction string
	switch opts.Direction {
	case storage.DirectionOutgoing:
		direction = `source_id IN (` + in + `)`
	case storage.DirectionIncoming:
		direction = `target_id IN (` + in + `)`
	default:
		direction = `(source_id IN (` + in + `) OR target_id IN (` + in + `))`
		idArgs = append(idArgs, idArgs...)
	}

	where := []string{"deleted_at IS NULL", direction}
	args := idArgs

	if len(opts.Relations) > 0 {
		where = append(where, `relation IN (`+buildInClause(len(opts.Relations))+`)`)
		for _, r := range opts.Relations {
			args = append(args, r)
		}
	}
	if opts.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, opts.MinConfidence)
	}

	query := `SELECT ` + edgeColumns + ` FROM edges WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY weight DESC, id LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListNeighborEdges: %w", err)
	}
	defer rows.Close()

	var edges []*types.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: ListNeighborEdges: scan: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListNeighborEdges: rows: %w", err)
	}
	return edges, nil
}

// DeleteEdge soft-deletes an edge.
func (s *VaultStore) DeleteEdge(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE edges SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: DeleteEdge: %w", err)
	}
	return requireRowAffected(result, "sqlite: DeleteEdge")
}

// EntityDegree computes degree and weighted degree over the live edges
// touching an entity.
func (s *VaultStore) EntityDegree(ctx context.Context, entityID int64) (*storage.DegreeStats, error) {
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}

	stats := &storage.DegreeStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN source_id = ? THEN 1 END),
			COUNT(CASE WHEN target_id = ? THEN 1 END),
			COALESCE(SUM(CASE WHEN source_id = ? THEN weight END), 0),
			COALESCE(SUM(CASE WHEN target_id = ? THEN weight END), 0)
		FROM edges
		WHERE deleted_at IS NULL AND (source_id = ? OR target_id = ?)`,
		entityID, entityID, entityID, entityID, entityID, entityID,
	).Scan(&stats.OutDegree, &stats.InDegree, &stats.WeightedOutDegree, &stats.WeightedInDegree)
	if err != nil {
		return nil, fmt.Errorf("sqlite: EntityDegree: %w", err)
	}
	return stats, nil
}

// GraphStats aggregates counts and averages over the live graph.
func (s *VaultStore) GraphStats(ctx context.Context) (*storage.GraphStats, error) {
	stats := &storage.GraphStats{
		EntityTypeCounts: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE deleted_at IS NULL`).Scan(&stats.EntityCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GraphStats: entities: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(confidence), 0)
		FROM edges WHERE deleted_at IS NULL`).Scan(&stats.EdgeCount, &stats.AvgEdgeConfidence)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GraphStats: edges: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM entities
		WHERE deleted_at IS NULL GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GraphStats: types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entityType string
			count      int
		)
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, fmt.Errorf("sqlite: GraphStats: scan type: %w", err)
		}
		stats.EntityTypeCounts[entityType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: GraphStats: types rows: %w", err)
	}

	relRows, err := s.db.QueryContext(ctx, `
		SELECT relation, COUNT(*) FROM edges
		WHERE deleted_at IS NULL
		GROUP BY relation ORDER BY COUNT(*) DESC, relation LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GraphStats: relations: %w", err)
	}
	defer relRows.Close()
	for relRows.Next() {
		var rc storage.RelationCount
		if err := relRows.Scan(&rc.Relation, &rc.Count); err != nil {
			return nil, fmt.Errorf("sqlite: GraphStats: scan relation: %w", err)
		}
		stats.TopRelations = append(stats.TopRelations, rc)
	}
	if err := relRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: GraphStats: relations rows: %w", err)
	}

	// Each live edge contributes one in-degree and one out-degree.
	if stats.EntityCount > 0 {
		stats.AvgDegree = float64(2*stats.EdgeCount) / float64(stats.EntityCount)
	}
	return stats, nil
}

// scanEdge scans one edge row in edgeColumns order.
func scanEdge(row rowScanner) (*types.Edge, error) {
	var (
		edge         types.Edge
		evidenceJSON sql.NullString
		propsJSON    sql.NullString
		deletedAt    sql.NullTime
	)

	err := row.Scan(
		&edge.ID,
		&edge.SourceID,
		&edge.TargetID,
		&edge.Relation,
		&edge.Weight,
		&edge.Confidence,
		&evidenceJSON,
		&propsJSON,
		&edge.FirstSeen,
		&edge.LastSeen,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if evidenceJSON.Valid && evidenceJSON.String != "" {
		if err := json.Unmarshal([]byte(evidenceJSON.String), &edge.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	if propsJSON.Valid && propsJSON.String != "" {
		if err := json.Unmarshal([]byte(propsJSON.String), &edge.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal properties: %w", err)
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		edge.DeletedAt = &t
	}
	return &edge, nil
}

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

// entityColumns is the SELECT list shared by every entity query.
const entityColumns = `id, type, name, properties, confidence, mention_count, first_seen, last_seen, deleted_at`

// CreateEntity inserts a new entity and returns its id.
func (s *VaultStore) CreateEntity(ctx context.Context, entity *types.Entity) (int64, error) {
	if entity == nil {
		return 0, storage.ErrInvalidInput
	}
	if strings.TrimSpace(entity.Type) == "" {
		return 0, fmt.Errorf("%w: entity type is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(entity.Name) == "" {
		return 0, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	if entity.Confidence < 0 || entity.Confidence > 1 {
		return 0, fmt.Errorf("%w: confidence must be in [0,1]", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if entity.FirstSeen.IsZero() {
		entity.FirstSeen = now
	}
	if entity.LastSeen.IsZero() {
		entity.LastSeen = entity.FirstSeen
	}
	if entity.MentionCount < 1 {
		entity.MentionCount = 1
	}

	propsJSON, err := marshalBag(entity.Properties)
	if err != nil {
		return 0, fmt.Errorf("sqlite: CreateEntity: marshal properties: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (type, name, properties, confidence, mention_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entity.Type,
		entity.Name,
		nullableBytes(propsJSON),
		entity.Confidence,
		entity.MentionCount,
		entity.FirstSeen,
		entity.LastSeen,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: entity (%s, %s) already exists", storage.ErrDuplicate, entity.Type, entity.Name)
		}
		return 0, fmt.Errorf("sqlite: CreateEntity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: CreateEntity: last insert id: %w", err)
	}
	entity.ID = id
	return id, nil
}

// GetEntity retrieves a live entity by id.
func (s *VaultStore) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ? AND deleted_at IS NULL`, id)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetEntity: %w", err)
	}
	return entity, nil
}

// GetEntityByName retrieves a live entity by case-insensitive name within
// one type.
func (s *VaultStore) GetEntityByName(ctx context.Context, entityType, name string) (*types.Entity, error) {
	if entityType == "" || name == "" {
		return nil, fmt.Errorf("%w: type and name are required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE type = ? AND lower(name) = lower(?) AND deleted_at IS NULL`,
		entityType, name)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetEntityByName: %w", err)
	}
	return entity, nil
}

// ListEntities retrieves entities with pagination and filtering.
func (s *VaultStore) ListEntities(ctx context.Context, filter storage.EntityFilter) (*storage.PaginatedResult[*types.Entity], error) {
	filter.Normalize()

	where := []string{"1=1"}
	args := []interface{}{}

	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.NameContains != "" {
		where = append(where, "lower(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.NameContains)+"%")
	}
	if filter.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, filter.MinConfidence)
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM entities WHERE ` + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: ListEntities: count: %w", err)
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE ` + whereClause +
		` ORDER BY last_seen DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListEntities: %w", err)
	}
	defer rows.Close()

	items := make([]*types.Entity, 0, filter.Limit)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: ListEntities: scan: %w", err)
		}
		items = append(items, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListEntities: rows: %w", err)
	}

	return &storage.PaginatedResult[*types.Entity]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.Limit,
		HasMore:  filter.Offset()+len(items) < total,
	}, nil
}

// ListEntityNames returns the names and aliases of every live entity of
// the given type, for the deduplication resolver's matching stages.
func (s *VaultStore) ListEntityNames(ctx context.Context, entityType string) ([]storage.EntityName, error) {
	if entityType == "" {
		return nil, fmt.Errorf("%w: type is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, properties FROM entities
		 WHERE type = ? AND deleted_at IS NULL ORDER BY id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListEntityNames: %w", err)
	}
	defer rows.Close()

	var names []storage.EntityName
	for rows.Next() {
		var (
			id        int64
			name      string
			propsJSON sql.NullString
		)
		if err := rows.Scan(&id, &name, &propsJSON); err != nil {
			return nil, fmt.Errorf("sqlite: ListEntityNames: scan: %w", err)
		}
		entry := storage.EntityName{ID: id, Name: name}
		if propsJSON.Valid && propsJSON.String != "" {
			var props map[string]interface{}
			if err := json.Unmarshal([]byte(propsJSON.String), &props); err == nil {
				entry.Aliases = (&types.Entity{Properties: props}).Aliases()
			}
		}
		names = append(names, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListEntityNames: rows: %w", err)
	}
	return names, nil
}

// UpdateEntity writes the entity's mutable fields.
func (s *VaultStore) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID == 0 {
		return fmt.Errorf("%w: entity id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(entity.Name) == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	if entity.Confidence < 0 || entity.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be in [0,1]", storage.ErrInvalidInput)
	}

	propsJSON, err := marshalBag(entity.Properties)
	if err != nil {
		return fmt.Errorf("sqlite: UpdateEntity: marshal properties: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET name = ?, properties = ?, confidence = ?, mention_count = ?, last_seen = ?
		WHERE id = ? AND deleted_at IS NULL`,
		entity.Name,
		nullableBytes(propsJSON),
		entity.Confidence,
		entity.MentionCount,
		time.Now().UTC(),
		entity.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entity (%s, %s) already exists", storage.ErrDuplicate, entity.Type, entity.Name)
		}
		return fmt.Errorf("sqlite: UpdateEntity: %w", err)
	}
	return requireRowAffected(result, "sqlite: UpdateEntity")
}

// TouchEntity increments mention_count and advances last_seen.
func (s *VaultStore) TouchEntity(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET mention_count = mention_count + 1, last_seen = ?
		WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: TouchEntity: %w", err)
	}
	return requireRowAffected(result, "sqlite: TouchEntity")
}

// DeleteEntity soft-deletes an entity.
func (s *VaultStore) DeleteEntity(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: DeleteEntity: %w", err)
	}
	return requireRowAffected(result, "sqlite: DeleteEntity")
}

// MergeEntities folds the source entity into the target inside one
// transaction. A concurrent reader never observes a half-merged state; a
// second merge of an already-deleted source fails with ErrNotFound.
func (s *VaultStore) MergeEntities(ctx context.Context, sourceID, targetID int64) (*storage.MergeResult, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: cannot merge an entity into itself", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: begin: %w", err)
	}
	defer tx.Rollback()

	source, err := getEntityTx(ctx, tx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: source: %w", err)
	}
	target, err := getEntityTx(ctx, tx, targetID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: target: %w", err)
	}

	now := time.Now().UTC()

	// Soft-delete the source first so the partial unique indexes no
	// longer see it.
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET deleted_at = ? WHERE id = ?`, now, sourceID); err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: delete source: %w", err)
	}

	// Fold mention count, properties, and aliases into the target.
	// Target values win property-key conflicts; the source's display
	// name and aliases join the target's alias list.
	merged := mergeProperties(source, target)
	mergedJSON, err := marshalBag(merged)
	if err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: marshal properties: %w", err)
	}

	lastSeen := target.LastSeen
	if source.LastSeen.After(lastSeen) {
		lastSeen = source.LastSeen
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE entities
		SET mention_count = mention_count + ?, properties = ?, last_seen = ?
		WHERE id = ?`,
		source.MentionCount, nullableBytes(mergedJSON), lastSeen, targetID); err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: update target: %w", err)
	}

	// Re-point every live edge touching the source.
	rows, err := tx.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM edges
		 WHERE deleted_at IS NULL AND (source_id = ? OR target_id = ?)`,
		sourceID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: list edges: %w", err)
	}

	var sourceEdges []*types.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: MergeEntities: scan edge: %w", err)
		}
		sourceEdges = append(sourceEdges, edge)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: MergeEntities: edges: %w", err)
	}
	rows.Close()

	result := &storage.MergeResult{TargetID: targetID}

	for _, edge := range sourceEdges {
		newSource, newTarget := edge.SourceID, edge.TargetID
		if newSource == sourceID {
			newSource = targetID
		}
		if newTarget == sourceID {
			newTarget = targetID
		}

		// Merging two directly connected entities would produce a
		// self-loop; drop the edge instead.
		if newSource == newTarget {
			if _, err := tx.ExecContext(ctx,
				`UPDATE edges SET deleted_at = ? WHERE id = ?`, now, edge.ID); err != nil {
				return nil, fmt.Errorf("sqlite: MergeEntities: drop self-loop: %w", err)
			}
			continue
		}

		existing, err := getEdgeBetweenTx(ctx, tx, newSource, newTarget, edge.Relation)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("sqlite: MergeEntities: conflict lookup: %w", err)
		}

		if existing != nil {
			// The target already holds this (endpoint, relation):
			// combine weights, keep the higher confidence, append
			// evidence, and retire the source edge.
			combinedConfidence := existing.Confidence
			if edge.Confidence > combinedConfidence {
				combinedConfidence = edge.Confidence
			}
			evidence := append(existing.Evidence, edge.Evidence...)
			evidenceJSON, err := marshalStrings(evidence)
			if err != nil {
				return nil, fmt.Errorf("sqlite: MergeEntities: marshal evidence: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				UPDATE edges
				SET weight = weight + ?, confidence = ?, evidence = ?, last_seen = ?
				WHERE id = ?`,
				edge.Weight, combinedConfidence, nullableBytes(evidenceJSON), now, existing.ID); err != nil {
				return nil, fmt.Errorf("sqlite: MergeEntities: combine edge: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE edges SET deleted_at = ? WHERE id = ?`, now, edge.ID); err != nil {
				return nil, fmt.Errorf("sqlite: MergeEntities: retire edge: %w", err)
			}
			result.EdgesCombined++
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE edges SET source_id = ?, target_id = ?, last_seen = ? WHERE id = ?`,
			newSource, newTarget, now, edge.ID); err != nil {
			return nil, fmt.Errorf("sqlite: MergeEntities: retarget edge: %w", err)
		}
		result.EdgesMoved++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: MergeEntities: commit: %w", err)
	}
	return result, nil
}

// mergeProperties builds the target's post-merge property bag. Target
// values win key conflicts; aliases accumulate the source's name and
// alias list.
func mergeProperties(source, target *types.Entity) map[string]interface{} {
	merged := make(map[string]interface{})
	for k, v := range source.Properties {
		merged[k] = v
	}
	for k, v := range target.Properties {
		merged[k] = v
	}

	combined := &types.Entity{Properties: merged}
	aliases := append(target.Aliases(), source.Name)
	aliases = append(aliases, source.Aliases()...)
	combined.SetAliases(aliases)
	return combined.Properties
}

// getEntityTx loads a live entity inside a transaction.
func getEntityTx(ctx context.Context, tx *sql.Tx, id int64) (*types.Entity, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ? AND deleted_at IS NULL`, id)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return entity, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity scans one entity row in entityColumns order.
func scanEntity(row rowScanner) (*types.Entity, error) {
	var (
		entity    types.Entity
		propsJSON sql.NullString
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&entity.ID,
		&entity.Type,
		&entity.Name,
		&propsJSON,
		&entity.Confidence,
		&entity.MentionCount,
		&entity.FirstSeen,
		&entity.LastSeen,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if propsJSON.Valid && propsJSON.String != "" {
		if err := json.Unmarshal([]byte(propsJSON.String), &entity.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal properties: %w", err)
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		entity.DeletedAt = &t
	}
	return &entity, nil
}

// marshalBag marshals an open property bag, returning nil for empty maps.
func marshalBag(bag map[string]interface{}) ([]byte, error) {
	if len(bag) == 0 {
		return nil, nil
	}
	return json.Marshal(bag)
}

// marshalStrings marshals a string slice, returning nil for empty slices.
func marshalStrings(items []string) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	return json.Marshal(items)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// requireRowAffected maps zero affected rows to ErrNotFound.
func requireRowAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// metaColumns is the SELECT list shared by every memory_meta query.
const metaColumns = `id, source_type, source_ref, subject_key, origin, agent_source, confidence, status,
	access_count, last_accessed, last_reinforced, contradictions, promote_history, contextual_with,
	created_at, updated_at`

// CreateMeta inserts a quality record for a stored memory.
func (s *VaultStore) CreateMeta(ctx context.Context, meta *types.MemoryMeta) (int64, error) {
	if meta == nil {
		return 0, storage.ErrInvalidInput
	}
	if strings.TrimSpace(meta.SourceType) == "" || strings.TrimSpace(meta.SourceRef) == "" {
		return 0, fmt.Errorf("%w: source type and ref are required", storage.ErrInvalidInput)
	}
	if !types.IsValidOrigin(meta.Origin) {
		return 0, fmt.Errorf("%w: unknown origin %q", storage.ErrInvalidInput, meta.Origin)
	}
	if meta.Confidence < 0 || meta.Confidence > 1 {
		return 0, fmt.Errorf("%w: confidence must be in [0,1]", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}
	if meta.Status == "" {
		meta.Status = types.MetaActive
	}

	contradictionsJSON, promoteJSON, contextualJSON, err := marshalMetaColumns(meta)
	if err != nil {
		return 0, fmt.Errorf("postgres: CreateMeta: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO memory_meta (source_type, source_ref, subject_key, origin, agent_source, confidence, status,
			access_count, last_accessed, last_reinforced, contradictions, promote_history, contextual_with,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		meta.SourceType, meta.SourceRef, nullableString(meta.SubjectKey),
		string(meta.Origin), nullableString(meta.AgentSource),
		meta.Confidence, string(meta.Status),
		meta.AccessCount, nullableTime(meta.LastAccessed), nullableTime(meta.LastReinforced),
		nullableBytes(contradictionsJSON), nullableBytes(promoteJSON), nullableBytes(contextualJSON),
		meta.CreatedAt, meta.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: CreateMeta: %w", err)
	}

	meta.ID = id
	return id, nil
}

// GetMeta retrieves a quality record by id.
func (s *VaultStore) GetMeta(ctx context.Context, id int64) (*types.MemoryMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metaColumns+` FROM memory_meta WHERE id = $1`, id)
	meta, err := scanMeta(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: GetMeta: %w", err)
	}
	return meta, nil
}

// UpdateMeta writes the record's mutable fields.
func (s *VaultStore) UpdateMeta(ctx context.Context, meta *types.MemoryMeta) error {
	if meta == nil || meta.ID == 0 {
		return fmt.Errorf("%w: meta id is required", storage.ErrInvalidInput)
	}
	if meta.Confidence < 0 || meta.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be in [0,1]", storage.ErrInvalidInput)
	}

	contradictionsJSON, promoteJSON, contextualJSON, err := marshalMetaColumns(meta)
	if err != nil {
		return fmt.Errorf("postgres: UpdateMeta: %w", err)
	}

	meta.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_meta
		SET confidence = $1, status = $2, access_count = $3, last_accessed = $4, last_reinforced = $5,
			contradictions = $6, promote_history = $7, contextual_with = $8, updated_at = $9
		WHERE id = $10`,
		meta.Confidence, string(meta.Status),
		meta.AccessCount, nullableTime(meta.LastAccessed), nullableTime(meta.LastReinforced),
		nullableBytes(contradictionsJSON), nullableBytes(promoteJSON), nullableBytes(contextualJSON),
		meta.UpdatedAt, meta.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: UpdateMeta: %w", err)
	}
	return requireRowAffected(result, "postgres: UpdateMeta")
}

// ListMetaBySubject returns the unresolved quality records sharing a
// subject key, newest first. The newest record is the current belief;
// older ones are candidates for contradiction pairing.
func (s *VaultStore) ListMetaBySubject(ctx context.Context, subjectKey string) ([]*types.MemoryMeta, error) {
	if subjectKey == "" {
		return nil, fmt.Errorf("%w: subject key is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metaColumns+` FROM memory_meta
		 WHERE subject_key = $1 AND status != $2
		 ORDER BY created_at DESC, id DESC`,
		subjectKey, string(types.MetaResolved))
	if err != nil {
		return nil, fmt.Errorf("postgres: ListMetaBySubject: %w", err)
	}
	defer rows.Close()

	return collectMetas(rows, "postgres: ListMetaBySubject")
}

// ListContested returns contested records ordered by the detection time
// of their oldest open contradiction, oldest first. The ordering key
// lives inside the contradictions JSON, so the sort happens in process.
func (s *VaultStore) ListContested(ctx context.Context, limit int) ([]*types.MemoryMeta, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metaColumns+` FROM memory_meta WHERE status = $1`,
		string(types.MetaContested))
	if err != nil {
		return nil, fmt.Errorf("postgres: ListContested: %w", err)
	}
	defer rows.Close()

	metas, err := collectMetas(rows, "postgres: ListContested")
	if err != nil {
		return nil, err
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return contestedSince(metas[i]).Before(contestedSince(metas[j]))
	})
	if len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

// contestedSince returns the ordering timestamp for a contested record:
// the oldest open contradiction's detection time, falling back to the
// record's creation time.
func contestedSince(meta *types.MemoryMeta) time.Time {
	for _, c := range meta.Contradictions {
		if c.Resolution == "" {
			return c.DetectedAt
		}
	}
	return meta.CreatedAt
}

// ListMeta retrieves quality records with pagination and filtering.
func (s *VaultStore) ListMeta(ctx context.Context, filter storage.MetaFilter) (*storage.PaginatedResult[*types.MemoryMeta], error) {
	filter.Normalize()

	where := []string{"1=1"}
	args := []interface{}{}

	if len(filter.Statuses) > 0 {
		start := len(args) + 1
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
		where = append(where, `status IN (`+placeholderRange(start, len(filter.Statuses))+`)`)
	}
	if filter.SourceType != "" {
		args = append(args, filter.SourceType)
		where = append(where, fmt.Sprintf("source_type = $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_meta WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: ListMeta: count: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+metaColumns+` FROM memory_meta WHERE `+whereClause+
		` ORDER BY updated_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListMeta: %w", err)
	}
	defer rows.Close()

	items, err := collectMetas(rows, "postgres: ListMeta")
	if err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[*types.MemoryMeta]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.Limit,
		HasMore:  filter.Offset()+len(items) < total,
	}, nil
}

// RecordMetaAccess bumps the access counter, stamps last_accessed, and
// applies the capped confidence boost in one statement.
func (s *VaultStore) RecordMetaAccess(ctx context.Context, id int64, update storage.AccessUpdate) error {
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ceiling := update.ConfidenceCap
	if ceiling <= 0 {
		ceiling = 1.0
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_meta
		SET access_count = access_count + 1,
			last_accessed = $1,
			confidence = LEAST($2, confidence + $3),
			updated_at = $4
		WHERE id = $5`,
		at.UTC(), ceiling, update.ConfidenceBoost, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: RecordMetaAccess: %w", err)
	}
	return requireRowAffected(result, "postgres: RecordMetaAccess")
}

// marshalMetaColumns marshals the three JSON-backed slices of a meta
// record, returning nil for empty slices.
func marshalMetaColumns(meta *types.MemoryMeta) (contradictions, promote, contextual []byte, err error) {
	if len(meta.Contradictions) > 0 {
		contradictions, err = json.Marshal(meta.Contradictions)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal contradictions: %w", err)
		}
	}
	if len(meta.PromoteHistory) > 0 {
		promote, err = json.Marshal(meta.PromoteHistory)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal promote history: %w", err)
		}
	}
	if len(meta.ContextualWith) > 0 {
		contextual, err = json.Marshal(meta.ContextualWith)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal contextual_with: %w", err)
		}
	}
	return contradictions, promote, contextual, nil
}

// scanMeta scans one memory_meta row in metaColumns order.
func scanMeta(row rowScanner) (*types.MemoryMeta, error) {
	var (
		meta               types.MemoryMeta
		subjectKey         sql.NullString
		agentSource        sql.NullString
		origin             string
		status             string
		lastAccessed       sql.NullTime
		lastReinforced     sql.NullTime
		contradictionsJSON sql.NullString
		promoteJSON        sql.NullString
		contextualJSON     sql.NullString
	)

	err := row.Scan(
		&meta.ID,
		&meta.SourceType,
		&meta.SourceRef,
		&subjectKey,
		&origin,
		&agentSource,
		&meta.Confidence,
		&status,
		&meta.AccessCount,
		&lastAccessed,
		&lastReinforced,
		&contradictionsJSON,
		&promoteJSON,
		&contextualJSON,
		&meta.CreatedAt,
		&meta.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	meta.Origin = types.Origin(origin)
	meta.Status = types.MetaStatus(status)
	meta.SubjectKey = subjectKey.String
	meta.AgentSource = agentSource.String
	if lastAccessed.Valid {
		t := lastAccessed.Time
		meta.LastAccessed = &t
	}
	if lastReinforced.Valid {
		t := lastReinforced.Time
		meta.LastReinforced = &t
	}
	if contradictionsJSON.Valid && contradictionsJSON.String != "" {
		if err := json.Unmarshal([]byte(contradictionsJSON.String), &meta.Contradictions); err != nil {
			return nil, fmt.Errorf("unmarshal contradictions: %w", err)
		}
	}
	if promoteJSON.Valid && promoteJSON.String != "" {
		if err := json.Unmarshal([]byte(promoteJSON.String), &meta.PromoteHistory); err != nil {
			return nil, fmt.Errorf("unmarshal promote history: %w", err)
		}
	}
	if contextualJSON.Valid && contextualJSON.String != "" {
		if err := json.Unmarshal([]byte(contextualJSON.String), &meta.ContextualWith); err != nil {
			return nil, fmt.Errorf("unmarshal contextual_with: %w", err)
		}
	}
	return &meta, nil
}

// collectMetas drains a result set of memory_meta rows.
func collectMetas(rows *sql.Rows, op string) ([]*types.MemoryMeta, error) {
	var metas []*types.MemoryMeta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return metas, nil
}

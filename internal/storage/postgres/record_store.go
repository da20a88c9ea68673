package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// tableNamePattern restricts user-defined table names to identifiers so
// they can appear in consent resource paths without escaping.
var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// GetProfileField retrieves one profile field.
func (s *VaultStore) GetProfileField(ctx context.Context, field string) (*types.ProfileField, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: field is required", storage.ErrInvalidInput)
	}

	var (
		valueJSON string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM profile_fields WHERE field = $1`, field).
		Scan(&valueJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: GetProfileField: %w", err)
	}

	pf := &types.ProfileField{Field: field, UpdatedAt: updatedAt}
	if err := json.Unmarshal([]byte(valueJSON), &pf.Value); err != nil {
		return nil, fmt.Errorf("postgres: GetProfileField: unmarshal value: %w", err)
	}
	return pf, nil
}

// UpsertProfileField writes one profile field, replacing any prior value.
func (s *VaultStore) UpsertProfileField(ctx context.Context, field string, value interface{}, at time.Time) error {
	if field == "" {
		return fmt.Errorf("%w: field is required", storage.ErrInvalidInput)
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("postgres: UpsertProfileField: marshal value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profile_fields (field, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT(field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		field, string(valueJSON), at.UTC())
	if err != nil {
		return fmt.Errorf("postgres: UpsertProfileField: %w", err)
	}
	return nil
}

// ListProfileFields returns every profile field sorted by name.
func (s *VaultStore) ListProfileFields(ctx context.Context) ([]*types.ProfileField, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value, updated_at FROM profile_fields ORDER BY field`)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListProfileFields: %w", err)
	}
	defer rows.Close()

	var fields []*types.ProfileField
	for rows.Next() {
		var (
			pf        types.ProfileField
			valueJSON string
		)
		if err := rows.Scan(&pf.Field, &valueJSON, &pf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: ListProfileFields: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &pf.Value); err != nil {
			return nil, fmt.Errorf("postgres: ListProfileFields: unmarshal value: %w", err)
		}
		fields = append(fields, &pf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ListProfileFields: rows: %w", err)
	}
	return fields, nil
}

// EnsureTable registers a user-defined table name. Registering an
// existing name is a no-op.
func (s *VaultStore) EnsureTable(ctx context.Context, table string, at time.Time) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: invalid table name %q", storage.ErrInvalidInput, table)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_tables (name, created_at) VALUES ($1, $2)
		ON CONFLICT(name) DO NOTHING`,
		table, at.UTC())
	if err != nil {
		return fmt.Errorf("postgres: EnsureTable: %w", err)
	}
	return nil
}

// InsertTableRecord appends one row to a user-defined table.
func (s *VaultStore) InsertTableRecord(ctx context.Context, table string, data map[string]interface{}, at time.Time) (int64, error) {
	if !tableNamePattern.MatchString(table) {
		return 0, fmt.Errorf("%w: invalid table name %q", storage.ErrInvalidInput, table)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: record data is required", storage.ErrInvalidInput)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("postgres: InsertTableRecord: marshal data: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO table_records (table_name, data, created_at) VALUES ($1, $2, $3) RETURNING id`,
		table, string(dataJSON), at.UTC()).Scan(&id)
	if err != nil {
		// The foreign key fires when the table was never registered.
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("%w: table %q", storage.ErrNotFound, table)
		}
		return 0, fmt.Errorf("postgres: InsertTableRecord: %w", err)
	}
	return id, nil
}

// ListTableRecords returns rows of one user-defined table, newest first.
func (s *VaultStore) ListTableRecords(ctx context.Context, table string, limit, offset int) ([]*types.TableRecord, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", storage.ErrInvalidInput, table)
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, created_at FROM table_records
		WHERE table_name = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		table, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListTableRecords: %w", err)
	}
	defer rows.Close()

	var records []*types.TableRecord
	for rows.Next() {
		var (
			rec      types.TableRecord
			dataJSON string
		)
		if err := rows.Scan(&rec.ID, &dataJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: ListTableRecords: scan: %w", err)
		}
		rec.Table = table
		if err := json.Unmarshal([]byte(dataJSON), &rec.Data); err != nil {
			return nil, fmt.Errorf("postgres: ListTableRecords: unmarshal data: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ListTableRecords: rows: %w", err)
	}
	return records, nil
}

// ListTables returns the registered user-defined table names.
func (s *VaultStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM user_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListTables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: ListTables: scan: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ListTables: rows: %w", err)
	}
	return tables, nil
}

// InsertNote appends a free-text memory note.
func (s *VaultStore) InsertNote(ctx context.Context, note *types.MemoryNote) (int64, error) {
	if note == nil || strings.TrimSpace(note.Content) == "" {
		return 0, fmt.Errorf("%w: note content is required", storage.ErrInvalidInput)
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memory_notes (content, origin, agent_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		note.Content, string(note.Origin), nullableString(note.AgentID), note.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: InsertNote: %w", err)
	}
	note.ID = id
	return id, nil
}

// GetNote retrieves a memory note by id.
func (s *VaultStore) GetNote(ctx context.Context, id int64) (*types.MemoryNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, origin, agent_id, created_at, embedded_at
		 FROM memory_notes WHERE id = $1`, id)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: GetNote: %w", err)
	}
	return note, nil
}

// ListNotes returns memory notes, newest first.
func (s *VaultStore) ListNotes(ctx context.Context, limit, offset int) ([]*types.MemoryNote, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, origin, agent_id, created_at, embedded_at
		FROM memory_notes ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListNotes: %w", err)
	}
	defer rows.Close()

	var notes []*types.MemoryNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: ListNotes: scan: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ListNotes: rows: %w", err)
	}
	return notes, nil
}

// MarkNoteEmbedded stamps the time a note's embedding was stored.
func (s *VaultStore) MarkNoteEmbedded(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE memory_notes SET embedded_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: MarkNoteEmbedded: %w", err)
	}
	return requireRowAffected(result, "postgres: MarkNoteEmbedded")
}

// SearchNotesSubstring finds notes by case-insensitive substring match,
// the fallback when no embedder is configured.
func (s *VaultStore) SearchNotesSubstring(ctx context.Context, query string, limit int) ([]*types.MemoryNote, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, origin, agent_id, created_at, embedded_at
		FROM memory_notes
		WHERE content ILIKE $1
		ORDER BY created_at DESC, id DESC LIMIT $2`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: SearchNotesSubstring: %w", err)
	}
	defer rows.Close()

	var notes []*types.MemoryNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: SearchNotesSubstring: scan: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: SearchNotesSubstring: rows: %w", err)
	}
	return notes, nil
}

// CreateWriteRecord stores a write receipt.
func (s *VaultStore) CreateWriteRecord(ctx context.Context, record *types.WriteRecord) error {
	if record == nil || record.WriteID == "" {
		return fmt.Errorf("%w: write id is required", storage.ErrInvalidInput)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO writes (write_id, source_ref, write_status, job_id, agent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.WriteID, nullableString(record.SourceRef), string(record.Status),
		nullableString(record.JobID), nullableString(record.AgentID), record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: write %s", storage.ErrDuplicate, record.WriteID)
		}
		return fmt.Errorf("postgres: CreateWriteRecord: %w", err)
	}
	return nil
}

// GetWriteRecord retrieves a write receipt by its uuid.
func (s *VaultStore) GetWriteRecord(ctx context.Context, writeID string) (*types.WriteRecord, error) {
	if writeID == "" {
		return nil, fmt.Errorf("%w: write id is required", storage.ErrInvalidInput)
	}

	var (
		record    types.WriteRecord
		sourceRef sql.NullString
		status    string
		jobID     sql.NullString
		agentID   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT write_id, source_ref, write_status, job_id, agent_id, created_at
		FROM writes WHERE write_id = $1`, writeID).
		Scan(&record.WriteID, &sourceRef, &status, &jobID, &agentID, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: GetWriteRecord: %w", err)
	}

	record.SourceRef = sourceRef.String
	record.Status = types.WriteStatus(status)
	record.JobID = jobID.String
	record.AgentID = agentID.String
	return &record, nil
}

// scanNote scans one memory_notes row.
func scanNote(row rowScanner) (*types.MemoryNote, error) {
	var (
		note       types.MemoryNote
		origin     string
		agentID    sql.NullString
		embeddedAt sql.NullTime
	)
	err := row.Scan(&note.ID, &note.Content, &origin, &agentID, &note.CreatedAt, &embeddedAt)
	if err != nil {
		return nil, err
	}
	note.Origin = types.Origin(origin)
	note.AgentID = agentID.String
	if embeddedAt.Valid {
		t := embeddedAt.Time
		note.EmbeddedAt = &t
	}
	return &note, nil
}

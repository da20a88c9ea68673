package sqlite

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
		`SELECT value, updated_at FROM profile_fields WHERE field = ?`, field).
		Scan(&valueJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetProfileField: %w", err)
	}

	pf := &types.ProfileField{Field: field, UpdatedAt: updatedAt}
	if err := json.Unmarshal([]byte(valueJSON), &pf.Value); err != nil {
		return nil, fmt.Errorf("sqlite: GetProfileField: unmarshal value: %w", err)
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
		return fmt.Errorf("sqlite: UpsertProfileField: marshal value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profile_fields (field, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		field, string(valueJSON), at.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: UpsertProfileField: %w", err)
	}
	return nil
}

// ListProfileFields returns every profile field sorted by name.
func (s *VaultStore) ListProfileFields(ctx context.Context) ([]*types.ProfileField, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value, updated_at FROM profile_fields ORDER BY field`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListProfileFields: %w", err)
	}
	defer rows.Close()

	var fields []*types.ProfileField
	for rows.Next() {
		var (
			pf        types.ProfileField
			valueJSON string
		)
		if err := rows.Scan(&pf.Field, &valueJSON, &pf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: ListProfileFields: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &pf.Value); err != nil {
			return nil, fmt.Errorf("sqlite: ListProfileFields: unmarshal value: %w", err)
		}
		fields = append(fields, &pf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListProfileFields: rows: %w", err)
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
		INSERT INTO user_tables (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING`,
		table, at.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: EnsureTable: %w", err)
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
		return 0, fmt.Errorf("sqlite: InsertTableRecord: marshal data: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO table_records (table_name, data, created_at) VALUES (?, ?, ?)`,
		table, string(dataJSON), at.UTC())
	if err != nil {
		// The foreign key fires when the table was never registered.
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return 0, fmt.Errorf("%w: table %q", storage.ErrNotFound, table)
		}
		return 0, fmt.Errorf("sqlite: InsertTableRecord: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: InsertTableRecord: last insert id: %w", err)
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
		WHERE table_name = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		table, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListTableRecords: %w", err)
	}
	defer rows.Close()

	var records []*types.TableRecord
	for rows.Next() {
		var (
			rec      types.TableRecord
			dataJSON string
		)
		if err := rows.Scan(&rec.ID, &dataJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: ListTableRecords: scan: %w", err)
		}
		rec.Table = table
		if err := json.Unmarshal([]byte(dataJSON), &rec.Data); err != nil {
			return nil, fmt.Errorf("sqlite: ListTableRecords: unmarshal data: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListTableRecords: rows: %w", err)
	}
	return records, nil
}

// ListTables returns the registered user-defined table names.
func (s *VaultStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM user_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListTables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: ListTables: scan: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListTables: rows: %w", err)
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

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_notes (content, origin, agent_id, created_at)
		VALUES (?, ?, ?, ?)`,
		note.Content, string(note.Origin), nullableString(note.AgentID), note.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("sqlite: InsertNote: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: InsertNote: last insert id: %w", err)
	}
	note.ID = id
	return id, nil
}

// GetNote retrieves a memory note by id.
func (s *VaultStore) GetNote(ctx context.Context, id int64) (*types.MemoryNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, origin, agent_id, created_at, embedded_at
		 FROM memory_notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetNote: %w", err)
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
		FROM memory_notes ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListNotes: %w", err)
	}
	defer rows.Close()

	var notes []*types.MemoryNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: ListNotes: scan: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ListNotes: rows: %w", err)
	}
	return notes, nil
}

// MarkNoteEmbedded stamps the time a note's embedding was stored.
func (s *VaultStore) MarkNoteEmbedded(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE memory_notes SET embedded_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: MarkNoteEmbedded: %w", err)
	}
	return requireRowAffected(result, "sqlite: MarkNoteEmbedded")
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
		WHERE lower(content) LIKE ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		"%"+strings.ToLower(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: SearchNotesSubstring: %w", err)
	}
	defer rows.Close()

	var notes []*types.MemoryNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: SearchNotesSubstring: scan: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: SearchNotesSubstring: rows: %w", err)
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
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.WriteID, nullableString(record.SourceRef), string(record.Status),
		nullableString(record.JobID), nullableString(record.AgentID), record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: write %s", storage.ErrDuplicate, record.WriteID)
		}
		return fmt.Errorf("sqlite: CreateWriteRecord: %w", err)
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
		FROM writes WHERE write_id = ?`, writeID).
		Scan(&record.WriteID, &sourceRef, &status, &jobID, &agentID, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: GetWriteRecord: %w", err)
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

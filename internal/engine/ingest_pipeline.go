package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/memvault/memvault/internal/storage"
	"github.com/memvault/memvault/pkg/types"
)

// WriteReceipt is the synchronous result of an ingestion call. The
// authoritative write is committed before the receipt is returned; JobID
// is empty when the background queue was full and no job was scheduled.
type WriteReceipt struct {
	WriteID string            `json:"write_id"`
	Status  types.WriteStatus `json:"write_status"`
	JobID   string            `json:"job_id,omitempty"`
}

// IngestProfileUpdate writes one or more structured profile fields. Each
// field is upserted synchronously with a quality record seeded from the
// write's origin; a field whose established value disagrees with the new
// one raises a contradiction without blocking the write. One background
// job covering the whole call is scheduled for extraction.
func (e *VaultEngine) IngestProfileUpdate(ctx context.Context, userID string, fields map[string]interface{}, origin types.Origin, agent string) (*WriteReceipt, error) {
	if err := e.ensureAcceptingWrites(); err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: at least one profile field is required", storage.ErrInvalidInput)
	}
	for field := range fields {
		if strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%w: profile field names must be non-empty", storage.ErrInvalidInput)
		}
	}

	origin, err := resolveOrigin(origin, agent)
	if err != nil {
		return nil, err
	}

	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	writeID := uuid.NewString()
	names := sortedFieldNames(fields)

	lines := make([]string, 0, len(names))
	for _, field := range names {
		if err := e.writeProfileField(ctx, store, field, fields[field], origin, agent, now); err != nil {
			return nil, err
		}
		lines = append(lines, fmt.Sprintf("%s: %s", field, valueText(fields[field])))
	}

	sourceRef := "profile:" + strings.Join(names, ",")
	return e.finishWrite(ctx, store, userID, writeID, sourceRef, strings.Join(lines, "\n"), agent, origin, now)
}

// IngestTableRecord appends a record to a dynamic user table, registering
// the table on first use, and schedules one background extraction job.
func (e *VaultEngine) IngestTableRecord(ctx context.Context, userID string, table string, record map[string]interface{}, origin types.Origin, agent string) (*WriteReceipt, error) {
	if err := e.ensureAcceptingWrites(); err != nil {
		return nil, err
	}

	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("%w: table name is required", storage.ErrInvalidInput)
	}
	if len(record) == 0 {
		return nil, fmt.Errorf("%w: record must have at least one column", storage.ErrInvalidInput)
	}

	origin, err := resolveOrigin(origin, agent)
	if err != nil {
		return nil, err
	}

	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	writeID := uuid.NewString()

	recordID, err := store.InsertTableRecord(ctx, table, record, now)
	if err != nil {
		return nil, err
	}

	ref := fmt.Sprintf("%s#%d", table, recordID)
	meta := e.scorer.NewMeta("table", ref, "table/"+ref, origin, agent, now)
	if _, err := store.CreateMeta(ctx, meta); err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(record))
	for _, column := range sortedFieldNames(record) {
		lines = append(lines, fmt.Sprintf("%s: %s", column, valueText(record[column])))
	}

	return e.finishWrite(ctx, store, userID, writeID, "table:"+ref, strings.Join(lines, "\n"), agent, origin, now)
}

// IngestMemoryText stores a free-text memory note verbatim and schedules
// one background job that embeds the note and extracts entities and edges
// from it.
func (e *VaultEngine) IngestMemoryText(ctx context.Context, userID string, text string, origin types.Origin, agent string) (*WriteReceipt, error) {
	if err := e.ensureAcceptingWrites(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", storage.ErrInvalidInput)
	}

	origin, err := resolveOrigin(origin, agent)
	if err != nil {
		return nil, err
	}

	store, err := e.store(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	writeID := uuid.NewString()

	note := &types.MemoryNote{
		Content:   text,
		Origin:    origin,
		AgentID:   agent,
		CreatedAt: now,
	}
	noteID, err := store.InsertNote(ctx, note)
	if err != nil {
		return nil, err
	}

	ref := strconv.FormatInt(noteID, 10)
	meta := e.scorer.NewMeta("memory", ref, "memory/"+ref, origin, agent, now)
	if _, err := store.CreateMeta(ctx, meta); err != nil {
		return nil, err
	}

	return e.finishWrite(ctx, store, userID, writeID, "memory:"+ref, text, agent, origin, now)
}

// writeProfileField upserts one field, maintains its quality record, and
// runs contradiction detection against the established value.
func (e *VaultEngine) writeProfileField(ctx context.Context, store storage.Store, field string, value interface{}, origin types.Origin, agent string, now time.Time) error {
	oldField, err := store.GetProfileField(ctx, field)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if err := store.UpsertProfileField(ctx, field, value, now); err != nil {
		return err
	}

	subject := "profile/" + field
	newValue := valueString(value)

	prior, err := latestMetaForSubject(ctx, store, subject)
	if err != nil {
		return err
	}

	// Re-asserting the established value reinforces the existing record
	// instead of stacking a duplicate.
	if oldField != nil && prior != nil && valueString(oldField.Value) == newValue {
		_, err := e.scorer.Reinforce(ctx, store, prior.ID, now)
		return err
	}

	meta := e.scorer.NewMeta("profile", field, subject, origin, agent, now)
	metaID, err := store.CreateMeta(ctx, meta)
	if err != nil {
		return err
	}
	meta.ID = metaID

	if oldField == nil || prior == nil {
		return nil
	}

	// Detection must not block the write; failures are logged and dropped.
	oldValue := valueString(oldField.Value)
	if _, err := e.contradictions.Detect(ctx, store, prior, meta, subject, oldValue, newValue, agent, now); err != nil {
		log.Printf("WARNING: contradiction detection failed for %s: %v", subject, err)
	}
	return nil
}

// finishWrite schedules the background job, records the audit row, and
// builds the caller's receipt. A full queue drops the job (logged) but the
// write still succeeds with an empty job id.
func (e *VaultEngine) finishWrite(ctx context.Context, store storage.Store, userID, writeID, sourceRef, text, agent string, origin types.Origin, now time.Time) (*WriteReceipt, error) {
	job := createIngestJob(userID, writeID, sourceRef, text, agent, origin)

	jobID := ""
	if e.queueIngestJob(job) {
		jobID = job.JobID
	}

	record := &types.WriteRecord{
		WriteID:   writeID,
		SourceRef: sourceRef,
		Status:    types.WriteAccepted,
		JobID:     jobID,
		AgentID:   agent,
		CreatedAt: now,
	}
	if err := store.CreateWriteRecord(ctx, record); err != nil {
		return nil, err
	}

	return &WriteReceipt{WriteID: writeID, Status: types.WriteAccepted, JobID: jobID}, nil
}

// ensureAcceptingWrites rejects ingestion before Start and during Shutdown.
func (e *VaultEngine) ensureAcceptingWrites() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return fmt.Errorf("engine not started")
	}
	if e.shuttingDown {
		return fmt.Errorf("engine shutting down")
	}
	return nil
}

// resolveOrigin applies the write-origin default: owner writes are
// user_stated, agent writes are ai_inferred.
func resolveOrigin(origin types.Origin, agent string) (types.Origin, error) {
	if origin == "" {
		if agent == "" {
			return types.OriginUserStated, nil
		}
		return types.OriginAIInferred, nil
	}
	if !types.IsValidOrigin(origin) {
		return "", fmt.Errorf("%w: unknown origin %q", storage.ErrInvalidInput, origin)
	}
	return origin, nil
}

// latestMetaForSubject returns the newest unresolved quality record for a
// subject key, or nil when the subject has none.
func latestMetaForSubject(ctx context.Context, store storage.Store, subject string) (*types.MemoryMeta, error) {
	metas, err := store.ListMetaBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}
	return metas[0], nil
}

// valueString renders a value canonically for comparison and for
// contradiction snapshots. JSON keeps map keys sorted, so equal values
// always render equal.
func valueString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// valueText renders a value for extraction text: bare strings stay
// unquoted, everything else renders as JSON.
func valueText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return valueString(v)
}

func sortedFieldNames(m map[string]interface{}) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

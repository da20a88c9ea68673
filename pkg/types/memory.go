package types

import "time"

// MemoryNote is a free-text memory stored verbatim. The asynchronous
// pipeline embeds it for similarity search and extracts entities and
// edges from it after the write has already been acknowledged.
type MemoryNote struct {
	ID         int64      `json:"id"`
	Content    string     `json:"content"`
	Origin     Origin     `json:"origin"`
	AgentID    string     `json:"agent_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	EmbeddedAt *time.Time `json:"embedded_at,omitempty"` // Set once an embedding is stored
}

// ProfileField is one key of the user's structured profile.
type ProfileField struct {
	Field     string      `json:"field"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TableRecord is one row of a dynamic user-defined table. Rows carry an
// open JSON payload instead of per-table DDL.
type TableRecord struct {
	ID        int64                  `json:"id"`
	Table     string                 `json:"table"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
}

// WriteRecord is the audit row created once per ingestion call. The
// writeId is the client-visible idempotency key tying the synchronous
// write to any asynchronous work it scheduled.
type WriteRecord struct {
	WriteID   string      `json:"write_id"`
	SourceRef string      `json:"source_ref"`
	Status    WriteStatus `json:"write_status"`
	JobID     string      `json:"job_id,omitempty"` // Async task handle; empty when nothing was scheduled
	AgentID   string      `json:"agent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

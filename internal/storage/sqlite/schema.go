package sqlite

// Schema is the complete schema for one user's vault database. Every
// statement is idempotent so opening an existing database is safe.
//
// Uniqueness of live rows is enforced with partial indexes scoped to
// deleted_at IS NULL: soft-deleted entities and edges keep their rows (and
// ids) without blocking re-creation of the same logical record.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    type          TEXT NOT NULL,
    name          TEXT NOT NULL,
    properties    TEXT,
    confidence    REAL NOT NULL DEFAULT 0.5,
    mention_count INTEGER NOT NULL DEFAULT 1,
    first_seen    TIMESTAMP NOT NULL,
    last_seen     TIMESTAMP NOT NULL,
    deleted_at    TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_type_name_live
    ON entities(type, lower(name)) WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_entities_type_live
    ON entities(type) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS edges (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id  INTEGER NOT NULL REFERENCES entities(id),
    target_id  INTEGER NOT NULL REFERENCES entities(id),
    relation   TEXT NOT NULL,
    weight     REAL NOT NULL DEFAULT 1.0,
    confidence REAL NOT NULL DEFAULT 0.5,
    evidence   TEXT,
    properties TEXT,
    first_seen TIMESTAMP NOT NULL,
    last_seen  TIMESTAMP NOT NULL,
    deleted_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_triple_live
    ON edges(source_id, target_id, relation) WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_edges_source_live
    ON edges(source_id) WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_edges_target_live
    ON edges(target_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS memory_meta (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    source_type     TEXT NOT NULL,
    source_ref      TEXT NOT NULL,
    subject_key     TEXT NOT NULL,
    origin          TEXT NOT NULL,
    agent_source    TEXT,
    confidence      REAL NOT NULL,
    status          TEXT NOT NULL DEFAULT 'active',
    access_count    INTEGER NOT NULL DEFAULT 0,
    last_accessed   TIMESTAMP,
    last_reinforced TIMESTAMP,
    contradictions  TEXT,
    promote_history TEXT,
    contextual_with TEXT,
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meta_subject ON memory_meta(subject_key);
CREATE INDEX IF NOT EXISTS idx_meta_status ON memory_meta(status);

CREATE TABLE IF NOT EXISTS profile_fields (
    field      TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_tables (
    name       TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS table_records (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    table_name TEXT NOT NULL REFERENCES user_tables(name),
    data       TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_table_records_table ON table_records(table_name);

CREATE TABLE IF NOT EXISTS memory_notes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    content     TEXT NOT NULL,
    origin      TEXT NOT NULL,
    agent_id    TEXT,
    created_at  TIMESTAMP NOT NULL,
    embedded_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS consent_rules (
    agent_id   TEXT NOT NULL,
    resource   TEXT NOT NULL,
    permission TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (agent_id, resource)
);

CREATE TABLE IF NOT EXISTS writes (
    write_id     TEXT PRIMARY KEY,
    source_ref   TEXT NOT NULL,
    write_status TEXT NOT NULL,
    job_id       TEXT,
    agent_id     TEXT,
    created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
    ref        TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    dimension  INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

package postgres

// Schema is the complete schema for one user's vault schema. Every
// statement is idempotent so opening an existing namespace is safe. Table
// names are unqualified: the connection's search_path scopes them to the
// user's schema.
//
// Uniqueness of live rows is enforced with partial indexes scoped to
// deleted_at IS NULL, matching the sqlite backend: soft-deleted entities
// and edges keep their rows (and ids) without blocking re-creation of the
// same logical record.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id            BIGSERIAL PRIMARY KEY,
    type          TEXT NOT NULL,
    name          TEXT NOT NULL,
    properties    JSONB,
    confidence    DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    mention_count BIGINT NOT NULL DEFAULT 1,
    first_seen    TIMESTAMPTZ NOT NULL,
    last_seen     TIMESTAMPTZ NOT NULL,
    deleted_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_type_name_live
    ON entities(type, lower(name)) WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_entities_type_live
    ON entities(type) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS edges (
    id         BIGSERIAL PRIMARY KEY,
    source_id  BIGINT NOT NULL REFERENCES entities(id),
    target_id  BIGINT NOT NULL REFERENCES entities(id),
    relation   TEXT NOT NULL,
    weight     DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    evidence   JSONB,
    properties JSONB,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen  TIMESTAMPTZ NOT NULL,
    deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_triple_live
    ON edges(source_id, target_id, relation) WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_edges_source_live
    ON edges(source_id) WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_edges_target_live
    ON edges(target_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS memory_meta (
    id              BIGSERIAL PRIMARY KEY,
    source_type     TEXT NOT NULL,
    source_ref      TEXT NOT NULL,
    subject_key     TEXT NOT NULL,
    origin          TEXT NOT NULL,
    agent_source    TEXT,
    confidence      DOUBLE PRECISION NOT NULL,
    status          TEXT NOT NULL DEFAULT 'active',
    access_count    BIGINT NOT NULL DEFAULT 0,
    last_accessed   TIMESTAMPTZ,
    last_reinforced TIMESTAMPTZ,
    contradictions  JSONB,
    promote_history JSONB,
    contextual_with JSONB,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meta_subject ON memory_meta(subject_key);
CREATE INDEX IF NOT EXISTS idx_meta_status ON memory_meta(status);

CREATE TABLE IF NOT EXISTS profile_fields (
    field      TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_tables (
    name       TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS table_records (
    id         BIGSERIAL PRIMARY KEY,
    table_name TEXT NOT NULL REFERENCES user_tables(name),
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_table_records_table ON table_records(table_name);

CREATE TABLE IF NOT EXISTS memory_notes (
    id          BIGSERIAL PRIMARY KEY,
    content     TEXT NOT NULL,
    origin      TEXT NOT NULL,
    agent_id    TEXT,
    created_at  TIMESTAMPTZ NOT NULL,
    embedded_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS consent_rules (
    agent_id   TEXT NOT NULL,
    resource   TEXT NOT NULL,
    permission TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (agent_id, resource)
);

CREATE TABLE IF NOT EXISTS writes (
    write_id     TEXT PRIMARY KEY,
    source_ref   TEXT NOT NULL,
    write_status TEXT NOT NULL,
    job_id       TEXT,
    agent_id     TEXT,
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
    ref        TEXT PRIMARY KEY,
    embedding  BYTEA NOT NULL,
    dimension  INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// MigrationPgvector adds the native vector column used for cosine search
// when the pgvector extension is installed. The column is untyped (no
// fixed dimension) because vaults can hold embeddings from more than one
// model; searches filter on the dimension column first. The byte-encoded
// embedding column stays authoritative so the vault keeps working if the
// extension disappears.
const MigrationPgvector = `
ALTER TABLE embeddings ADD COLUMN IF NOT EXISTS embedding_vec vector;
`

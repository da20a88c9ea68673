// Package postgres implements the storage.Store interface over one
// PostgreSQL schema per user vault. All vaults share a single database;
// isolation comes from a dedicated schema wired into the connection's
// search_path, so query text stays identical to the sqlite backend's
// unqualified table names.
package postgres

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/memvault/memvault/internal/storage"
)

// VaultStore implements storage.Store for one user's namespace using
// PostgreSQL.
type VaultStore struct {
	db       *sql.DB
	schema   string
	pgvector bool
}

// Compile-time interface check.
var _ storage.Store = (*VaultStore)(nil)

// NewVaultStore opens (and if needed provisions) a user's vault schema.
//
// The first connection runs bootstrap DDL against the bare DSN: it creates
// the schema and tries to install the pgvector extension. The store then
// reconnects with search_path pinned to the user's schema, so every later
// query resolves tables there without qualification. A missing pgvector
// extension is not fatal; similarity search falls back to an in-process
// scan over the byte-encoded embeddings.
func NewVaultStore(dsn, userID string) (*VaultStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", storage.ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	schema := schemaName(userID)

	pgvectorAvailable, err := bootstrapSchema(dsn, schema)
	if err != nil {
		return nil, err
	}

	scopedDSN, err := dsnWithSearchPath(dsn, schema)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", scopedDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	// The pool serves a single user's namespace; the namespace manager
	// opens one store per active user, so keep it small.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create vault tables: %w", err)
	}

	if pgvectorAvailable {
		if _, err := db.Exec(MigrationPgvector); err != nil {
			log.Printf("postgres: failed to add vector column, similarity search will scan in process: %v", err)
			pgvectorAvailable = false
		}
	}

	return &VaultStore{db: db, schema: schema, pgvector: pgvectorAvailable}, nil
}

// bootstrapSchema creates the user's schema and probes for the pgvector
// extension over a short-lived connection on the bare DSN. The extension
// lands in the database's default schema so every vault shares one
// installation.
func bootstrapSchema(dsn, schema string) (pgvectorAvailable bool, err error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return false, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)); err != nil {
		return false, fmt.Errorf("postgres: failed to create schema %s: %w", schema, err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension unavailable, similarity search will scan in process: %v", err)
		return false, nil
	}
	return true, nil
}

// schemaName maps a user id to a PostgreSQL schema name. Ids that are
// already lowercase identifier characters map to a readable vault_<id>;
// anything else (uppercase, hyphens) gets a hash suffix so distinct raw
// ids can never collide after sanitisation.
func schemaName(userID string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(userID))

	name := "vault_" + mapped
	if mapped == userID && len(name) <= 63 {
		return name
	}

	sum := sha256.Sum256([]byte(userID))
	if len(mapped) > 40 {
		mapped = mapped[:40]
	}
	return "vault_" + mapped + "_" + hex.EncodeToString(sum[:4])
}

// dsnWithSearchPath returns the DSN with search_path pinned to the user's
// schema. public stays on the path so the pgvector type resolves. Both
// URL-style and key=value DSNs are handled; lib/pq forwards search_path
// to the server as a session parameter.
func dsnWithSearchPath(dsn, schema string) (string, error) {
	searchPath := schema + ",public"

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("postgres: invalid dsn: %w", err)
		}
		q := u.Query()
		q.Set("search_path", searchPath)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	return dsn + " search_path=" + searchPath, nil
}

// Close releases the connection pool.
func (s *VaultStore) Close() error {
	return s.db.Close()
}

// SchemaName returns the schema holding this vault, for backup tooling.
func (s *VaultStore) SchemaName() string {
	return s.schema
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString.
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// placeholderRange returns a "$3, $4, $5" list of n placeholders starting
// at start.
func placeholderRange(start, n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
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

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a foreign key failure.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
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

package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// AdminDB is the migration-only database handle. It is a distinct type from
// DB so a privileged connection can never be handed to request paths: the
// application role serves traffic, the admin role owns the schema. Tests
// that exercise the row-security policy must use DB, never AdminDB.
type AdminDB struct {
	db *sql.DB
}

// NewAdminDB opens the privileged connection used for migrations.
func NewAdminDB(adminDSN string) (*AdminDB, error) {
	if adminDSN == "" {
		return nil, errors.New("admin dsn required")
	}
	db, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open admin db")
	}
	db.SetMaxOpenConns(2)
	return &AdminDB{db: db}, nil
}

func (a *AdminDB) Close() error {
	return a.db.Close()
}

// Schema notes:
//   - FORCE ROW LEVEL SECURITY applies the policy even to the table owner.
//   - The policy reads the transaction-local memvault.tenant_handle setting;
//     with no scope set, current_setting(..., true) yields NULL and the
//     predicate matches nothing (fail closed).
//   - The HNSW index serves unscoped ANN ordering with the policy predicate
//     applied on top; the (tenant_handle, created_ts) btree serves scoped
//     listing and gives the planner a tenant-restricted path.
//   - The application role must be created without BYPASSRLS.
var migrationStmts = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS memory_chunk (
		id SERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		tenant_handle TEXT NOT NULL,
		doc_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		text_ciphertext BYTEA NOT NULL,
		metadata_ciphertext BYTEA NOT NULL,
		embedding VECTOR(1024) NOT NULL,
		embedding_ciphertext BYTEA NOT NULL,
		created_ts BIGINT NOT NULL
	)`,

	`ALTER TABLE memory_chunk ENABLE ROW LEVEL SECURITY`,
	`ALTER TABLE memory_chunk FORCE ROW LEVEL SECURITY`,

	`DROP POLICY IF EXISTS memory_chunk_tenant_isolation ON memory_chunk`,
	`CREATE POLICY memory_chunk_tenant_isolation ON memory_chunk
		USING (tenant_handle = current_setting('memvault.tenant_handle', true))
		WITH CHECK (tenant_handle = current_setting('memvault.tenant_handle', true))`,

	`CREATE INDEX IF NOT EXISTS idx_memory_chunk_embedding
		ON memory_chunk USING hnsw (embedding vector_cosine_ops)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_chunk_tenant_created
		ON memory_chunk (tenant_handle, created_ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_chunk_tenant_doc
		ON memory_chunk (tenant_handle, doc_id)`,

	`CREATE TABLE IF NOT EXISTS security_audit_event (
		id BIGSERIAL PRIMARY KEY,
		tenant_handle TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		resource TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_audit_tenant_time
		ON security_audit_event (tenant_handle, occurred_at DESC)`,
}

// Migrate applies the schema. Idempotent.
func (a *AdminDB) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration failed: %.60s", stmt)
		}
	}
	return nil
}

// GrantAppRole grants the application role the table privileges it needs.
// RLS still applies to every statement the role issues.
func (a *AdminDB) GrantAppRole(ctx context.Context, role string) error {
	quoted := pq.QuoteIdentifier(role)
	stmts := []string{
		// No UPDATE grant: chunk content changes are delete + reindex only.
		`GRANT SELECT, INSERT, DELETE ON memory_chunk TO ` + quoted,
		`GRANT USAGE, SELECT ON SEQUENCE memory_chunk_id_seq TO ` + quoted,
		`GRANT SELECT, INSERT ON security_audit_event TO ` + quoted,
		`GRANT USAGE, SELECT ON SEQUENCE security_audit_event_id_seq TO ` + quoted,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "grant failed for role %s", role)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/memvault/store"
)

// tenantScopeVar is the connection-local setting the row-security policy
// reads. It is set with set_config(..., true), so its lifetime is the
// transaction, never the pooled connection: commit, rollback and context
// cancellation all clear it before the connection returns to the pool.
const tenantScopeVar = "memvault.tenant_handle"

// WithTenantScope runs fn inside a transaction whose row visibility is
// restricted to tenantHandle by the memory_chunk row-security policy.
func (d *DB) WithTenantScope(ctx context.Context, tenantHandle string, fn func(store.ScopedSession) error) error {
	if tenantHandle == "" {
		return errors.New("tenant handle required")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tenant-scoped transaction")
	}
	defer func() {
		// No-op after a successful commit; guarantees the scope variable
		// dies with the transaction on every error and cancellation path.
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "SELECT set_config($1, $2, true)", tenantScopeVar, tenantHandle); err != nil {
		return errors.Wrap(err, "failed to set tenant scope")
	}

	session := &scopedSession{tx: tx, tenantHandle: tenantHandle}
	if err := fn(session); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit tenant-scoped transaction")
	}
	return nil
}

// scopedSession implements store.ScopedSession over one scoped transaction.
type scopedSession struct {
	tx           *sql.Tx
	tenantHandle string
}

var _ store.ScopedSession = (*scopedSession)(nil)

// ExplainVectorSearch returns the query plan for a tenant-scoped ANN search.
// Acceptance checks use it to verify the planner takes the vector index path
// rather than scanning and filtering.
func (d *DB) ExplainVectorSearch(ctx context.Context, tenantHandle string, vector []float32, limit int) (string, error) {
	var plan string
	err := d.WithTenantScope(ctx, tenantHandle, func(s store.ScopedSession) error {
		session := s.(*scopedSession)
		rows, err := session.tx.QueryContext(ctx, `
			EXPLAIN
			SELECT uid FROM memory_chunk
			ORDER BY embedding <=> $1
			LIMIT $2
		`, pgvector.NewVector(vector), limit)
		if err != nil {
			return errors.Wrap(err, "failed to explain vector search")
		}
		defer rows.Close()

		for rows.Next() {
			var line string
			if err := rows.Scan(&line); err != nil {
				return errors.Wrap(err, "failed to scan plan line")
			}
			plan += line + "\n"
		}
		return rows.Err()
	})
	return plan, err
}

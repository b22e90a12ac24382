package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/memvault/store"
)

const memoryChunkColumns = "id, uid, tenant_handle, doc_id, source, text_ciphertext, metadata_ciphertext, embedding, embedding_ciphertext, created_ts"

// CreateMemoryChunk inserts a chunk owned by the session's tenant. The
// row-security policy rejects any insert whose tenant_handle differs from the
// active scope, so a construction bug here cannot write into a foreign tenant.
func (s *scopedSession) CreateMemoryChunk(ctx context.Context, create *store.MemoryChunk) (*store.MemoryChunk, error) {
	if create.TenantHandle != s.tenantHandle {
		return nil, errors.WithStack(store.ErrOwnershipMismatch)
	}

	stmt := `
		INSERT INTO memory_chunk (uid, tenant_handle, doc_id, source, text_ciphertext, metadata_ciphertext, embedding, embedding_ciphertext, created_ts)
		VALUES (` + placeholders(9) + `)
		RETURNING id, created_ts
	`

	err := s.tx.QueryRowContext(ctx, stmt,
		create.UID,
		create.TenantHandle,
		create.DocID,
		create.Source,
		create.TextCiphertext,
		create.MetadataCiphertext,
		pgvector.NewVector(create.Embedding),
		create.EmbeddingCiphertext,
		create.CreatedTs,
	).Scan(&create.ID, &create.CreatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory chunk")
	}

	return create, nil
}

// GetMemoryChunk returns one chunk by UID within the tenant scope.
func (s *scopedSession) GetMemoryChunk(ctx context.Context, uid string) (*store.MemoryChunk, error) {
	query := `SELECT ` + memoryChunkColumns + ` FROM memory_chunk WHERE uid = ` + placeholder(1)

	chunk, err := scanMemoryChunk(s.tx.QueryRowContext(ctx, query, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithStack(store.ErrChunkNotFound)
		}
		return nil, errors.Wrap(err, "failed to get memory chunk")
	}
	return chunk, nil
}

// ListMemoryChunks lists chunks visible to the tenant scope.
func (s *scopedSession) ListMemoryChunks(ctx context.Context, find *store.FindMemoryChunk) ([]*store.MemoryChunk, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if len(find.UIDs) > 0 {
		where, args = append(where, "uid = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.UIDs))
	}
	if find.DocID != nil {
		where, args = append(where, "doc_id = "+placeholder(len(args)+1)), append(args, *find.DocID)
	}
	if find.Source != nil {
		where, args = append(where, "source = "+placeholder(len(args)+1)), append(args, *find.Source)
	}

	query := `
		SELECT ` + memoryChunkColumns + `
		FROM memory_chunk
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory chunks")
	}
	defer rows.Close()

	list := []*store.MemoryChunk{}
	for rows.Next() {
		chunk, err := scanMemoryChunk(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan memory chunk")
		}
		list = append(list, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteMemoryChunk deletes a chunk after an explicit ownership comparison.
// The row-security policy already hides foreign rows; the application-level
// check is an independent second layer so that a policy misconfiguration
// alone cannot allow a cross-tenant delete.
func (s *scopedSession) DeleteMemoryChunk(ctx context.Context, uid string) error {
	var owner string
	err := s.tx.QueryRowContext(ctx,
		"SELECT tenant_handle FROM memory_chunk WHERE uid = "+placeholder(1), uid,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.WithStack(store.ErrChunkNotFound)
		}
		return errors.Wrap(err, "failed to check chunk ownership")
	}
	if owner != s.tenantHandle {
		return errors.WithStack(store.ErrOwnershipMismatch)
	}

	result, err := s.tx.ExecContext(ctx,
		"DELETE FROM memory_chunk WHERE uid = "+placeholder(1)+" AND tenant_handle = "+placeholder(2),
		uid, s.tenantHandle,
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory chunk")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.WithStack(store.ErrChunkNotFound)
	}
	return nil
}

// VectorSearch performs ANN search over the tenant's rows. Isolation comes
// from the row-security predicate, not from a WHERE clause here; the
// composite (tenant_handle, created_ts) index and the HNSW vector index give
// the planner a tenant-restricted path.
func (s *scopedSession) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryChunkWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + memoryChunkColumns + `,
			1 - (embedding <=> $1) AS score
		FROM memory_chunk
		ORDER BY embedding <=> $1
		LIMIT $2
	`

	rows, err := s.tx.QueryContext(ctx, query, pgvector.NewVector(opts.Vector), opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to perform vector search")
	}
	defer rows.Close()

	list := []*store.MemoryChunkWithScore{}
	for rows.Next() {
		var chunk store.MemoryChunk
		var embedding pgvector.Vector
		var score float32
		err := rows.Scan(
			&chunk.ID,
			&chunk.UID,
			&chunk.TenantHandle,
			&chunk.DocID,
			&chunk.Source,
			&chunk.TextCiphertext,
			&chunk.MetadataCiphertext,
			&embedding,
			&chunk.EmbeddingCiphertext,
			&chunk.CreatedTs,
			&score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		chunk.Embedding = embedding.Slice()
		list = append(list, &store.MemoryChunkWithScore{Chunk: &chunk, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// RecentChunkUIDs returns the newest chunk UIDs for the tenant.
func (s *scopedSession) RecentChunkUIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.tx.QueryContext(ctx,
		"SELECT uid FROM memory_chunk ORDER BY created_ts DESC LIMIT "+placeholder(1), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent chunk uids")
	}
	defer rows.Close()

	uids := []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk uid")
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanMemoryChunk.
type scanner interface {
	Scan(dest ...any) error
}

func scanMemoryChunk(row scanner) (*store.MemoryChunk, error) {
	var chunk store.MemoryChunk
	var embedding pgvector.Vector
	err := row.Scan(
		&chunk.ID,
		&chunk.UID,
		&chunk.TenantHandle,
		&chunk.DocID,
		&chunk.Source,
		&chunk.TextCiphertext,
		&chunk.MetadataCiphertext,
		&embedding,
		&chunk.EmbeddingCiphertext,
		&chunk.CreatedTs,
	)
	if err != nil {
		return nil, err
	}
	chunk.Embedding = embedding.Slice()
	return &chunk, nil
}

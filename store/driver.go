package store

import (
	"context"
	"database/sql"
)

// ScopedSession is a unit of work scoped to exactly one tenant handle.
// Every operation is filtered by the storage engine's row-security policy;
// the session only exists for the duration of a WithTenantScope call and its
// scoping state dies with the underlying transaction on every exit path.
type ScopedSession interface {
	// CreateMemoryChunk inserts a chunk owned by the session's tenant.
	CreateMemoryChunk(ctx context.Context, create *MemoryChunk) (*MemoryChunk, error)

	// GetMemoryChunk returns one chunk by UID, or ErrChunkNotFound.
	GetMemoryChunk(ctx context.Context, uid string) (*MemoryChunk, error)

	// ListMemoryChunks lists chunks visible to the session's tenant.
	ListMemoryChunks(ctx context.Context, find *FindMemoryChunk) ([]*MemoryChunk, error)

	// DeleteMemoryChunk deletes a chunk. In addition to the row-security
	// predicate it performs an application-level ownership comparison;
	// a mismatch returns ErrOwnershipMismatch, a missing row
	// ErrChunkNotFound.
	DeleteMemoryChunk(ctx context.Context, uid string) error

	// VectorSearch performs ANN search restricted to the session's tenant.
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryChunkWithScore, error)

	// RecentChunkUIDs returns the newest chunk UIDs for the tenant.
	RecentChunkUIDs(ctx context.Context, limit int) ([]string, error)
}

// Driver is an interface for store driver.
type Driver interface {
	// WithTenantScope runs fn inside a tenant-scoped unit of work. The
	// scoping variable is connection-local to the transaction and cleared
	// on commit, rollback and cancellation alike.
	WithTenantScope(ctx context.Context, tenantHandle string, fn func(ScopedSession) error) error

	// ExplainVectorSearch returns the engine's plan for a tenant-scoped ANN
	// query, used by acceptance checks to verify the index path is taken.
	ExplainVectorSearch(ctx context.Context, tenantHandle string, vector []float32, limit int) (string, error)

	SecurityAuditStore() SecurityAuditStore

	GetDB() *sql.DB
	IsInitialized(ctx context.Context) (bool, error)
	Close() error
}

package store

import (
	"github.com/pkg/errors"
)

// MemoryChunk represents one encrypted unit of retrievable text.
//
// Text and metadata are stored as authenticated-encryption envelopes bound to
// the owning tenant. The embedding is stored in plaintext to permit ANN
// indexing; this is a documented exception compensated by row-level security,
// the encrypted shadow copy, and audit logging of all access.
type MemoryChunk struct {
	ID                 int32
	UID                string
	TenantHandle       string
	DocID              string
	Source             string
	TextCiphertext     []byte
	MetadataCiphertext []byte
	Embedding          []float32
	// EmbeddingCiphertext is the encrypted shadow copy of Embedding, kept
	// for compliance export and audit. Never used for live search.
	EmbeddingCiphertext []byte
	CreatedTs           int64
}

// FindMemoryChunk is the find condition for memory chunks. The tenant scope
// is implicit: every lookup runs inside a scoped session.
type FindMemoryChunk struct {
	UID    *string
	UIDs   []string
	DocID  *string
	Source *string
	Limit  int
}

// MemoryChunkWithScore represents a vector search result with similarity score.
type MemoryChunkWithScore struct {
	Chunk *MemoryChunk
	Score float32 // cosine similarity, 0-1, higher is more similar
}

// VectorSearchOptions represents the options for tenant-scoped ANN search.
type VectorSearchOptions struct {
	Vector []float32
	Limit  int
}

// Validate validates the VectorSearchOptions.
func (o *VectorSearchOptions) Validate() error {
	if len(o.Vector) == 0 {
		return errors.Errorf("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 24 // Default ANN candidate count
	}
	if o.Limit > 200 {
		return errors.Errorf("limit too large (max 200): %d", o.Limit)
	}
	return nil
}

var (
	// ErrChunkNotFound is returned when a chunk does not exist within the
	// caller's tenant scope. Ownership mismatches normalize to this error
	// at the API boundary so callers cannot probe for foreign chunks.
	ErrChunkNotFound = errors.New("memory chunk not found")

	// ErrOwnershipMismatch indicates the application-level ownership check
	// caught a row belonging to another tenant. Internal only: it is
	// audited, then surfaced to callers as ErrChunkNotFound.
	ErrOwnershipMismatch = errors.New("memory chunk owned by another tenant")
)

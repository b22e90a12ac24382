// Package storetest provides an in-memory store.Driver for unit tests. It
// mimics the tenant-scoping contract of the postgres driver (scope-filtered
// visibility, ownership checks, not-found normalization) without a database;
// the row-security policy itself is covered by the postgres integration tests.
package storetest

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/hrygo/memvault/store"
)

// Driver is an in-memory store.Driver.
type Driver struct {
	mu     sync.Mutex
	nextID int32
	chunks map[string]*store.MemoryChunk // by UID
	events []*store.SecurityAuditEvent

	// SearchErr, when set, makes VectorSearch fail (simulates ANN outage).
	SearchErr error
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{chunks: map[string]*store.MemoryChunk{}}
}

var _ store.Driver = (*Driver)(nil)

func (d *Driver) WithTenantScope(ctx context.Context, tenantHandle string, fn func(store.ScopedSession) error) error {
	if tenantHandle == "" {
		return errors.New("tenant handle required")
	}
	return fn(&session{driver: d, tenantHandle: tenantHandle})
}

func (d *Driver) ExplainVectorSearch(ctx context.Context, tenantHandle string, vector []float32, limit int) (string, error) {
	return "Index Scan using idx_memory_chunk_embedding (in-memory fake)", nil
}

func (d *Driver) SecurityAuditStore() store.SecurityAuditStore {
	return (*auditStore)(d)
}

func (d *Driver) GetDB() *sql.DB { return nil }

func (d *Driver) IsInitialized(ctx context.Context) (bool, error) { return true, nil }

func (d *Driver) Close() error { return nil }

// Events returns recorded audit events.
func (d *Driver) Events() []*store.SecurityAuditEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*store.SecurityAuditEvent, len(d.events))
	copy(out, d.events)
	return out
}

type session struct {
	driver       *Driver
	tenantHandle string
}

func (s *session) CreateMemoryChunk(ctx context.Context, create *store.MemoryChunk) (*store.MemoryChunk, error) {
	if create.TenantHandle != s.tenantHandle {
		return nil, errors.WithStack(store.ErrOwnershipMismatch)
	}
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	s.driver.nextID++
	create.ID = s.driver.nextID
	s.driver.chunks[create.UID] = create
	return create, nil
}

func (s *session) GetMemoryChunk(ctx context.Context, uid string) (*store.MemoryChunk, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	chunk, ok := s.driver.chunks[uid]
	if !ok || chunk.TenantHandle != s.tenantHandle {
		return nil, errors.WithStack(store.ErrChunkNotFound)
	}
	return chunk, nil
}

func (s *session) ListMemoryChunks(ctx context.Context, find *store.FindMemoryChunk) ([]*store.MemoryChunk, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()

	uidSet := map[string]bool{}
	for _, uid := range find.UIDs {
		uidSet[uid] = true
	}

	list := []*store.MemoryChunk{}
	for _, chunk := range s.driver.chunks {
		if chunk.TenantHandle != s.tenantHandle {
			continue
		}
		if find.UID != nil && chunk.UID != *find.UID {
			continue
		}
		if len(uidSet) > 0 && !uidSet[chunk.UID] {
			continue
		}
		if find.DocID != nil && chunk.DocID != *find.DocID {
			continue
		}
		if find.Source != nil && chunk.Source != *find.Source {
			continue
		}
		list = append(list, chunk)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedTs > list[j].CreatedTs })
	if find.Limit > 0 && find.Limit < len(list) {
		list = list[:find.Limit]
	}
	return list, nil
}

func (s *session) DeleteMemoryChunk(ctx context.Context, uid string) error {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	chunk, ok := s.driver.chunks[uid]
	if !ok {
		return errors.WithStack(store.ErrChunkNotFound)
	}
	if chunk.TenantHandle != s.tenantHandle {
		return errors.WithStack(store.ErrOwnershipMismatch)
	}
	delete(s.driver.chunks, uid)
	return nil
}

func (s *session) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryChunkWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	if s.driver.SearchErr != nil {
		return nil, s.driver.SearchErr
	}

	results := []*store.MemoryChunkWithScore{}
	for _, chunk := range s.driver.chunks {
		if chunk.TenantHandle != s.tenantHandle {
			continue
		}
		results = append(results, &store.MemoryChunkWithScore{
			Chunk: chunk,
			Score: cosine(opts.Vector, chunk.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if opts.Limit < len(results) {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *session) RecentChunkUIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	chunks, err := s.ListMemoryChunks(ctx, &store.FindMemoryChunk{Limit: limit})
	if err != nil {
		return nil, err
	}
	uids := make([]string, len(chunks))
	for i, chunk := range chunks {
		uids[i] = chunk.UID
	}
	return uids, nil
}

type auditStore Driver

func (a *auditStore) LogSecurityEvent(ctx context.Context, event *store.SecurityAuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	event.ID = int64(len(a.events) + 1)
	a.events = append(a.events, event)
	return nil
}

func (a *auditStore) ListSecurityEvents(ctx context.Context, tenantHandle string, limit, offset int) ([]*store.SecurityAuditEvent, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := []*store.SecurityAuditEvent{}
	for _, event := range a.events {
		if event.TenantHandle == tenantHandle {
			list = append(list, event)
		}
	}
	return list, int64(len(list)), nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

package retrieval

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/memvault/ai"
	"github.com/hrygo/memvault/crypt"
	"github.com/hrygo/memvault/internal/profile"
	"github.com/hrygo/memvault/metrics"
	"github.com/hrygo/memvault/store"
	"github.com/hrygo/memvault/store/storetest"
)

// slowReranker blocks until its delay elapses or the context is cancelled.
type slowReranker struct {
	delay time.Duration
}

func (r *slowReranker) IsEnabled() bool { return true }

func (r *slowReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]ai.RerankResult, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// Reverse order so a completed rerank is observable.
	results := make([]ai.RerankResult, len(documents))
	for i := range documents {
		results[i] = ai.RerankResult{Index: len(documents) - 1 - i, Score: float32(i + 1)}
	}
	return results, nil
}

func testEngine(t *testing.T) *crypt.Engine {
	t.Helper()
	master := make([]byte, crypt.KeySize)
	_, err := rand.Read(master)
	require.NoError(t, err)
	keyring, err := crypt.NewKeyring(map[uint8][]byte{1: master}, 1)
	require.NoError(t, err)
	return crypt.NewEngine(keyring)
}

func seedChunk(t *testing.T, driver *storetest.Driver, engine *crypt.Engine, tenant, text string, embedding []float32) *store.MemoryChunk {
	t.Helper()
	uid := uuid.NewString()
	aad := crypt.ChunkAAD(tenant, uid)

	textCt, err := engine.Seal([]byte(text), aad)
	require.NoError(t, err)
	metaCt, err := engine.Seal([]byte(`{}`), aad)
	require.NoError(t, err)
	embCt, err := engine.Seal([]byte("shadow"), aad)
	require.NoError(t, err)

	chunk := &store.MemoryChunk{
		UID:                 uid,
		TenantHandle:        tenant,
		DocID:               "d1",
		Source:              "test",
		TextCiphertext:      textCt,
		MetadataCiphertext:  metaCt,
		Embedding:           embedding,
		EmbeddingCiphertext: embCt,
		CreatedTs:           time.Now().Unix(),
	}
	require.NoError(t, driver.WithTenantScope(context.Background(), tenant, func(s store.ScopedSession) error {
		_, err := s.CreateMemoryChunk(context.Background(), chunk)
		return err
	}))
	return chunk
}

func newTestPipeline(driver *storetest.Driver, engine *crypt.Engine, reranker ai.RerankerService, timeout time.Duration) *Pipeline {
	st := store.New(driver, &profile.Profile{Mode: "dev"})
	exporter := metrics.NewExporter(metrics.Config{})
	return New(st, engine, reranker, exporter, timeout, 24)
}

func TestQueryReturnsDecryptedCandidatesInANNOrder(t *testing.T) {
	driver := storetest.New()
	engine := testEngine(t)
	tenant := "tenant-a"

	seedChunk(t, driver, engine, tenant, "closest", []float32{1, 0, 0})
	seedChunk(t, driver, engine, tenant, "farther", []float32{0.5, 0.5, 0})
	seedChunk(t, driver, engine, tenant, "farthest", []float32{0, 1, 0})

	p := newTestPipeline(driver, engine, ai.NewRerankerService(&ai.RerankerConfig{}), 250*time.Millisecond)
	result, err := p.Query(context.Background(), &Options{
		TenantHandle: tenant,
		QueryText:    "closest",
		Vector:       []float32{1, 0, 0},
		Limit:        2,
	})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "closest", result.Candidates[0].Text)
	assert.Equal(t, "farther", result.Candidates[1].Text)
	assert.False(t, result.Reranked)
	assert.GreaterOrEqual(t, result.Timings.AnnMs, int64(0))
}

func TestQueryIsTenantScoped(t *testing.T) {
	driver := storetest.New()
	engine := testEngine(t)
	seedChunk(t, driver, engine, "tenant-a", "hello", []float32{1, 0, 0})

	p := newTestPipeline(driver, engine, nil, 250*time.Millisecond)
	result, err := p.Query(context.Background(), &Options{
		TenantHandle: "tenant-b",
		QueryText:    "hello",
		Vector:       []float32{1, 0, 0},
		Limit:        5,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestQueryFailsOpenOnSlowReranker(t *testing.T) {
	driver := storetest.New()
	engine := testEngine(t)
	tenant := "tenant-a"
	seedChunk(t, driver, engine, tenant, "first", []float32{1, 0, 0})
	seedChunk(t, driver, engine, tenant, "second", []float32{0.9, 0.1, 0})

	// 1ms budget against a reranker that takes 2s: the query must still
	// complete promptly with ANN order, not an error.
	p := newTestPipeline(driver, engine, &slowReranker{delay: 2 * time.Second}, time.Millisecond)

	start := time.Now()
	result, err := p.Query(context.Background(), &Options{
		TenantHandle: tenant,
		QueryText:    "first",
		Vector:       []float32{1, 0, 0},
		Limit:        2,
		Rerank:       true,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "query must not wait for the abandoned rerank")

	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "first", result.Candidates[0].Text, "must serve ANN order on rerank timeout")
	assert.False(t, result.Reranked)
}

func TestQueryUsesRerankOrderWhenFastEnough(t *testing.T) {
	driver := storetest.New()
	engine := testEngine(t)
	tenant := "tenant-a"
	seedChunk(t, driver, engine, tenant, "first", []float32{1, 0, 0})
	seedChunk(t, driver, engine, tenant, "second", []float32{0.9, 0.1, 0})

	p := newTestPipeline(driver, engine, &slowReranker{delay: 0}, time.Second)
	result, err := p.Query(context.Background(), &Options{
		TenantHandle: tenant,
		QueryText:    "first",
		Vector:       []float32{1, 0, 0},
		Limit:        2,
		Rerank:       true,
	})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 2)
	assert.True(t, result.Reranked)
	assert.Equal(t, "second", result.Candidates[0].Text, "slowReranker reverses ANN order")
}

func TestQueryDropsUndecryptableCandidateAndAudits(t *testing.T) {
	driver := storetest.New()
	engine := testEngine(t)
	tenant := "tenant-a"
	seedChunk(t, driver, engine, tenant, "good", []float32{1, 0, 0})
	bad := seedChunk(t, driver, engine, tenant, "bad", []float32{0.9, 0.1, 0})

	// Corrupt the stored envelope after sealing.
	bad.TextCiphertext[len(bad.TextCiphertext)-1] ^= 0x01

	p := newTestPipeline(driver, engine, nil, 250*time.Millisecond)
	result, err := p.Query(context.Background(), &Options{
		TenantHandle: tenant,
		QueryText:    "good",
		Vector:       []float32{1, 0, 0},
		Limit:        5,
		RequestID:    "req-1",
	})
	require.NoError(t, err, "one corrupted row must not abort the query")

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "good", result.Candidates[0].Text)

	events := driver.Events()
	require.Len(t, events, 1)
	assert.Equal(t, store.AuditDecryptFailure, events[0].EventType)
	assert.Equal(t, bad.UID, events[0].Resource)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestQueryFatalOnSearchFailure(t *testing.T) {
	driver := storetest.New()
	driver.SearchErr = assert.AnError
	engine := testEngine(t)

	p := newTestPipeline(driver, engine, nil, 250*time.Millisecond)
	_, err := p.Query(context.Background(), &Options{
		TenantHandle: "tenant-a",
		QueryText:    "q",
		Vector:       []float32{1},
		Limit:        5,
	})
	require.ErrorIs(t, err, ErrSearchUnavailable)
}

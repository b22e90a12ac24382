// Package retrieval implements the two-stage retrieval pipeline: tenant-scoped
// ANN candidate search, envelope decryption, and optional cross-encoder
// reranking under a hard latency bound.
package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/memvault/ai"
	"github.com/hrygo/memvault/crypt"
	"github.com/hrygo/memvault/metrics"
	"github.com/hrygo/memvault/store"
)

// ErrSearchUnavailable indicates the ANN index could not serve the query.
// Unlike reranker failures this is fatal to the request.
var ErrSearchUnavailable = errors.New("vector search unavailable")

// Candidate is one decrypted, ranked result.
type Candidate struct {
	UID      string          `json:"uid"`
	DocID    string          `json:"doc_id"`
	Source   string          `json:"source"`
	Text     string          `json:"text"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Score    float32         `json:"score"`
}

// StageTimings reports time spent per pipeline stage.
type StageTimings struct {
	AnnMs     int64 `json:"ann_ms"`
	DecryptMs int64 `json:"decrypt_ms"`
	RerankMs  int64 `json:"rerank_ms"`
}

// Result is the output of one pipeline run.
type Result struct {
	Candidates []Candidate
	Timings    StageTimings
	// Reranked is false when reranking was disabled, timed out or failed;
	// candidates are then in ANN order.
	Reranked bool
}

// Options configures one pipeline run.
type Options struct {
	TenantHandle string
	QueryText    string
	Vector       []float32
	Limit        int // caller-requested result count
	Rerank       bool
	RequestID    string
	Logger       *slog.Logger
}

// Pipeline executes tenant-scoped retrieval.
type Pipeline struct {
	store          *store.Store
	engine         *crypt.Engine
	reranker       ai.RerankerService
	exporter       *metrics.Exporter
	rerankTimeout  time.Duration
	candidateLimit int
}

// New creates a Pipeline. candidateLimit is the ANN stage's top-N; zero uses
// the default of 24.
func New(st *store.Store, engine *crypt.Engine, reranker ai.RerankerService, exporter *metrics.Exporter, rerankTimeout time.Duration, candidateLimit int) *Pipeline {
	if candidateLimit <= 0 {
		candidateLimit = 24
	}
	if rerankTimeout <= 0 {
		rerankTimeout = 250 * time.Millisecond
	}
	return &Pipeline{
		store:          st,
		engine:         engine,
		reranker:       reranker,
		exporter:       exporter,
		rerankTimeout:  rerankTimeout,
		candidateLimit: candidateLimit,
	}
}

// Query runs the pipeline. ANN failure is returned as ErrSearchUnavailable;
// rerank failure degrades to ANN order and never fails the query.
func (p *Pipeline) Query(ctx context.Context, opts *Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Stage 1: tenant-scoped ANN candidate search.
	annStart := time.Now()
	var scored []*store.MemoryChunkWithScore
	err := p.store.WithTenantScope(ctx, opts.TenantHandle, func(s store.ScopedSession) error {
		var err error
		scored, err = s.VectorSearch(ctx, &store.VectorSearchOptions{
			Vector: opts.Vector,
			Limit:  p.candidateLimit,
		})
		return err
	})
	annElapsed := time.Since(annStart)
	p.exporter.ObserveStage("ann", annElapsed.Seconds())
	if err != nil {
		return nil, errors.Wrap(ErrSearchUnavailable, err.Error())
	}

	// Stage 2: decrypt candidates. A single bad envelope drops that
	// candidate only, but is security-relevant: it means corruption or an
	// isolation breach, so it is audited rather than silently skipped.
	decryptStart := time.Now()
	candidates := make([]Candidate, 0, len(scored))
	for _, sc := range scored {
		candidate, err := p.decryptCandidate(sc)
		if err != nil {
			p.exporter.IncDecryptFailure()
			logger.Error("candidate decryption failed",
				"chunk_uid", sc.Chunk.UID,
				"request_id", opts.RequestID,
				"error", err,
			)
			p.auditDecryptFailure(ctx, opts, sc.Chunk.UID)
			continue
		}
		candidates = append(candidates, candidate)
	}
	decryptElapsed := time.Since(decryptStart)
	p.exporter.ObserveStage("decrypt", decryptElapsed.Seconds())

	// Stage 3: optional rerank with fail-open circuit breaker.
	var rerankElapsed time.Duration
	reranked := false
	if opts.Rerank && p.reranker != nil && p.reranker.IsEnabled() && len(candidates) > 1 {
		rerankStart := time.Now()
		if ordered, ok := p.rerankBounded(ctx, opts.QueryText, candidates); ok {
			candidates = ordered
			reranked = true
		} else {
			p.exporter.IncRerankSkipped()
			logger.Warn("rerank skipped, serving ANN order",
				"request_id", opts.RequestID,
				"budget", p.rerankTimeout,
			)
		}
		rerankElapsed = time.Since(rerankStart)
		p.exporter.ObserveStage("rerank", rerankElapsed.Seconds())
	}

	if opts.Limit > 0 && opts.Limit < len(candidates) {
		candidates = candidates[:opts.Limit]
	}
	p.exporter.ObserveCandidates(len(candidates))

	return &Result{
		Candidates: candidates,
		Reranked:   reranked,
		Timings: StageTimings{
			AnnMs:     annElapsed.Milliseconds(),
			DecryptMs: decryptElapsed.Milliseconds(),
			RerankMs:  rerankElapsed.Milliseconds(),
		},
	}, nil
}

func (p *Pipeline) decryptCandidate(sc *store.MemoryChunkWithScore) (Candidate, error) {
	chunk := sc.Chunk
	aad := crypt.ChunkAAD(chunk.TenantHandle, chunk.UID)

	text, err := p.engine.Open(chunk.TextCiphertext, aad)
	if err != nil {
		return Candidate{}, err
	}
	metadata, err := p.engine.Open(chunk.MetadataCiphertext, aad)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{
		UID:      chunk.UID,
		DocID:    chunk.DocID,
		Source:   chunk.Source,
		Text:     string(text),
		Metadata: json.RawMessage(metadata),
		Score:    sc.Score,
	}, nil
}

// rerankBounded runs the reranker under the configured budget. On timeout
// the in-flight call is abandoned; a late result is discarded.
func (p *Pipeline) rerankBounded(ctx context.Context, query string, candidates []Candidate) ([]Candidate, bool) {
	rerankCtx, cancel := context.WithTimeout(ctx, p.rerankTimeout)
	defer cancel()

	type rerankOutcome struct {
		results []ai.RerankResult
		err     error
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	outcome := make(chan rerankOutcome, 1)
	go func() {
		results, err := p.reranker.Rerank(rerankCtx, query, documents, len(documents))
		outcome <- rerankOutcome{results: results, err: err}
	}()

	select {
	case o := <-outcome:
		if o.err != nil {
			return nil, false
		}
		ordered := make([]Candidate, 0, len(candidates))
		for _, r := range o.results {
			if r.Index < 0 || r.Index >= len(candidates) {
				continue
			}
			c := candidates[r.Index]
			c.Score = r.Score
			ordered = append(ordered, c)
		}
		if len(ordered) == 0 {
			return nil, false
		}
		return ordered, true
	case <-rerankCtx.Done():
		return nil, false
	}
}

func (p *Pipeline) auditDecryptFailure(ctx context.Context, opts *Options, chunkUID string) {
	event := &store.SecurityAuditEvent{
		TenantHandle: opts.TenantHandle,
		RequestID:    opts.RequestID,
		EventType:    store.AuditDecryptFailure,
		Resource:     chunkUID,
		Detail:       "envelope authentication failed during retrieval",
	}
	if err := p.store.SecurityAuditStore.LogSecurityEvent(ctx, event); err != nil {
		slog.Error("failed to record security audit event", "error", err)
	}
}

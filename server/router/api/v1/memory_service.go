package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/memvault/ai"
	"github.com/hrygo/memvault/crypt"
	"github.com/hrygo/memvault/metrics"
	"github.com/hrygo/memvault/retrieval"
	"github.com/hrygo/memvault/store"
)

// Input bounds enforced before anything touches storage or models.
const (
	maxTextBytes     = 8 * 1024
	maxQueryBytes    = 4 * 1024
	maxLabelBytes    = 256
	maxResultCount   = 50
	maxSummaryChunks = 50
	defaultQueryK    = 8
	recentChunkCount = 10
)

// MemoryService implements the four memory operations plus chunk delete.
// Every handler follows the same chain: the middleware has already verified
// the caller and derived the tenant handle; the handler validates input,
// enters a tenant-scoped session, and seals/opens envelopes as needed.
type MemoryService struct {
	Store      *store.Store
	Engine     *crypt.Engine
	Embedding  ai.EmbeddingService
	Summarizer ai.SummarizerService
	Entities   ai.EntityService
	Pipeline   *retrieval.Pipeline
	Exporter   *metrics.Exporter
}

type indexRequest struct {
	Text     string         `json:"text"`
	DocID    string         `json:"doc_id"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

type indexResponse struct {
	ChunkID string `json:"chunk_id"`
	Status  string `json:"status"`
}

// Index embeds, encrypts and stores one text chunk for the caller's tenant.
func (s *MemoryService) Index(c echo.Context) error {
	var req indexRequest
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "malformed request body")
	}
	if req.Text == "" {
		return validationFailed(c, "text is required")
	}
	if len(req.Text) > maxTextBytes {
		return validationFailed(c, "text exceeds the maximum chunk size")
	}
	if len(req.DocID) > maxLabelBytes || len(req.Source) > maxLabelBytes {
		return validationFailed(c, "doc_id or source too long")
	}

	ctx := c.Request().Context()
	handle := tenantHandle(c)

	embedding, err := s.Embedding.Embed(ctx, req.Text)
	if err != nil {
		slog.Error("embedding failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}

	chunk, err := s.sealChunk(handle, &req, embedding)
	if err != nil {
		slog.Error("sealing failed", "request_id", requestID(c), "error", err)
		return internalError(c)
	}

	err = s.Store.WithTenantScope(ctx, handle, func(session store.ScopedSession) error {
		_, err := session.CreateMemoryChunk(ctx, chunk)
		return err
	})
	if err != nil {
		slog.Error("chunk creation failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}

	return c.JSON(http.StatusOK, &indexResponse{ChunkID: chunk.UID, Status: "indexed"})
}

func (s *MemoryService) sealChunk(handle string, req *indexRequest, embedding []float32) (*store.MemoryChunk, error) {
	uid := uuid.NewString()
	aad := crypt.ChunkAAD(handle, uid)

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode metadata")
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding shadow")
	}

	textCt, err := s.Engine.Seal([]byte(req.Text), aad)
	if err != nil {
		return nil, err
	}
	metadataCt, err := s.Engine.Seal(metadataJSON, aad)
	if err != nil {
		return nil, err
	}
	embeddingCt, err := s.Engine.Seal(embeddingJSON, aad)
	if err != nil {
		return nil, err
	}

	return &store.MemoryChunk{
		UID:                 uid,
		TenantHandle:        handle,
		DocID:               req.DocID,
		Source:              req.Source,
		TextCiphertext:      textCt,
		MetadataCiphertext:  metadataCt,
		Embedding:           embedding,
		EmbeddingCiphertext: embeddingCt,
		CreatedTs:           time.Now().Unix(),
	}, nil
}

type queryRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	Rerank bool   `json:"rerank"`
}

type queryResponse struct {
	Results  []retrieval.Candidate  `json:"results"`
	Timings  retrieval.StageTimings `json:"timings"`
	Reranked bool                   `json:"reranked"`
}

// Query runs the two-stage retrieval pipeline for the caller's tenant.
func (s *MemoryService) Query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "malformed request body")
	}
	if req.Query == "" {
		return validationFailed(c, "query is required")
	}
	if len(req.Query) > maxQueryBytes {
		return validationFailed(c, "query too long")
	}
	if req.K == 0 {
		req.K = defaultQueryK
	}
	if req.K < 1 || req.K > maxResultCount {
		return validationFailed(c, "k must be between 1 and 50")
	}

	ctx := c.Request().Context()

	vector, err := s.Embedding.Embed(ctx, req.Query)
	if err != nil {
		slog.Error("query embedding failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}

	result, err := s.Pipeline.Query(ctx, &retrieval.Options{
		TenantHandle: tenantHandle(c),
		QueryText:    req.Query,
		Vector:       vector,
		Limit:        req.K,
		Rerank:       req.Rerank,
		RequestID:    requestID(c),
	})
	if err != nil {
		slog.Error("retrieval failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}

	return c.JSON(http.StatusOK, &queryResponse{
		Results:  result.Candidates,
		Timings:  result.Timings,
		Reranked: result.Reranked,
	})
}

type summarizeRequest struct {
	ChunkIDs []string `json:"chunk_ids"`
	Style    string   `json:"style"`
}

type summarizeResponse struct {
	Summary    string      `json:"summary"`
	Entities   []ai.Entity `json:"entities"`
	TokensUsed int         `json:"tokens_used"`
}

// Summarize summarizes a chunk-id set, or the tenant's most recent chunks
// when no ids are given.
func (s *MemoryService) Summarize(c echo.Context) error {
	var req summarizeRequest
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "malformed request body")
	}
	style := ai.SummaryStyle(req.Style)
	if req.Style == "" {
		style = ai.SummaryStyleConcise
	}
	if !style.IsValid() {
		return validationFailed(c, "style must be one of concise, detailed, bullets")
	}
	if len(req.ChunkIDs) > maxSummaryChunks {
		return validationFailed(c, "too many chunk ids")
	}

	ctx := c.Request().Context()
	texts, err := s.collectTexts(ctx, c, req.ChunkIDs)
	if err != nil {
		slog.Error("chunk collection failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}
	if len(texts) == 0 {
		return c.JSON(http.StatusOK, &summarizeResponse{Entities: []ai.Entity{}})
	}

	summary, err := s.Summarizer.Summarize(ctx, texts, style)
	if err != nil {
		slog.Error("summarization failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}

	// Entity extraction enriches the summary; its failure degrades to an
	// empty list rather than failing a summarize that already succeeded.
	entities, err := s.Entities.Extract(ctx, texts, ai.EntityTypeAny)
	if err != nil {
		slog.Warn("entity extraction degraded", "request_id", requestID(c), "error", err)
		entities = []ai.Entity{}
	}

	return c.JSON(http.StatusOK, &summarizeResponse{
		Summary:    summary.Summary,
		Entities:   entities,
		TokensUsed: summary.TokensUsed,
	})
}

type entitiesRequest struct {
	Text       string   `json:"text"`
	ChunkIDs   []string `json:"chunk_ids"`
	TypeFilter string   `json:"type_filter"`
}

type entitiesResponse struct {
	Entities []ai.Entity `json:"entities"`
}

// EntitiesOp extracts named entities from free text or a chunk-id set.
func (s *MemoryService) EntitiesOp(c echo.Context) error {
	var req entitiesRequest
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "malformed request body")
	}
	filter := ai.EntityType(req.TypeFilter)
	if !filter.IsValid() {
		return validationFailed(c, "type_filter must be one of person, org, location, date, other")
	}
	if req.Text == "" && len(req.ChunkIDs) == 0 {
		return validationFailed(c, "text or chunk_ids is required")
	}
	if len(req.Text) > maxTextBytes {
		return validationFailed(c, "text exceeds the maximum size")
	}
	if len(req.ChunkIDs) > maxSummaryChunks {
		return validationFailed(c, "too many chunk ids")
	}

	ctx := c.Request().Context()

	var texts []string
	if req.Text != "" {
		texts = []string{req.Text}
	} else {
		var err error
		texts, err = s.collectTexts(ctx, c, req.ChunkIDs)
		if err != nil {
			slog.Error("chunk collection failed", "request_id", requestID(c), "error", err)
			return dependencyUnavailable(c)
		}
	}
	if len(texts) == 0 {
		return c.JSON(http.StatusOK, &entitiesResponse{Entities: []ai.Entity{}})
	}

	entities, err := s.Entities.Extract(ctx, texts, filter)
	if err != nil {
		slog.Error("entity extraction failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}

	return c.JSON(http.StatusOK, &entitiesResponse{Entities: entities})
}

type deleteResponse struct {
	Status string `json:"status"`
}

// DeleteChunk removes one chunk. Content changes are delete + reindex; no
// update path exists. A chunk owned by another tenant and a chunk that does
// not exist produce byte-identical responses.
func (s *MemoryService) DeleteChunk(c echo.Context) error {
	uid := c.Param("id")
	if uid == "" {
		return validationFailed(c, "chunk id is required")
	}

	ctx := c.Request().Context()
	handle := tenantHandle(c)

	err := s.Store.WithTenantScope(ctx, handle, func(session store.ScopedSession) error {
		return session.DeleteMemoryChunk(ctx, uid)
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, &deleteResponse{Status: "deleted"})
	case errors.Is(err, store.ErrOwnershipMismatch):
		// Audit the true reason, answer as if the chunk did not exist.
		s.auditEvent(ctx, handle, requestID(c), store.AuditOwnershipMismatch, uid,
			"delete attempted on chunk owned by another tenant")
		return notFound(c)
	case errors.Is(err, store.ErrChunkNotFound):
		return notFound(c)
	default:
		slog.Error("chunk delete failed", "request_id", requestID(c), "error", err)
		return dependencyUnavailable(c)
	}
}

// collectTexts loads and decrypts chunk texts inside the caller's tenant
// scope. Unknown ids are skipped; an undecryptable chunk is dropped and
// audited, matching the retrieval pipeline's blast-radius rule.
func (s *MemoryService) collectTexts(ctx context.Context, c echo.Context, uids []string) ([]string, error) {
	handle := tenantHandle(c)

	var chunks []*store.MemoryChunk
	err := s.Store.WithTenantScope(ctx, handle, func(session store.ScopedSession) error {
		var err error
		if len(uids) == 0 {
			uids, err = session.RecentChunkUIDs(ctx, recentChunkCount)
			if err != nil {
				return err
			}
		}
		if len(uids) == 0 {
			return nil
		}
		chunks, err = session.ListMemoryChunks(ctx, &store.FindMemoryChunk{UIDs: uids})
		return err
	})
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		text, err := s.Engine.Open(chunk.TextCiphertext, crypt.ChunkAAD(chunk.TenantHandle, chunk.UID))
		if err != nil {
			s.Exporter.IncDecryptFailure()
			slog.Error("chunk decryption failed", "request_id", requestID(c), "chunk_uid", chunk.UID)
			s.auditEvent(ctx, handle, requestID(c), store.AuditDecryptFailure, chunk.UID,
				"envelope authentication failed during collection")
			continue
		}
		texts = append(texts, string(text))
	}
	return texts, nil
}

func (s *MemoryService) auditEvent(ctx context.Context, handle, reqID, eventType, resource, detail string) {
	event := &store.SecurityAuditEvent{
		TenantHandle: handle,
		RequestID:    reqID,
		EventType:    eventType,
		Resource:     resource,
		Detail:       detail,
	}
	if err := s.Store.SecurityAuditStore.LogSecurityEvent(ctx, event); err != nil {
		slog.Error("failed to record security audit event", "error", err)
	}
}

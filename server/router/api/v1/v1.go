package v1

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/memvault/ai"
	"github.com/hrygo/memvault/crypt"
	"github.com/hrygo/memvault/internal/profile"
	"github.com/hrygo/memvault/metrics"
	"github.com/hrygo/memvault/retrieval"
	"github.com/hrygo/memvault/server/auth"
	"github.com/hrygo/memvault/server/ratelimit"
	"github.com/hrygo/memvault/store"
)

// annCandidateLimit is the first-stage retrieval width. The rerank stage
// narrows it down to the caller's k.
const annCandidateLimit = 24

// APIV1Service wires verification, crypto, rate limiting and the memory
// operations onto the /api/v1 route group.
type APIV1Service struct {
	MemoryService *MemoryService

	Profile  *profile.Profile
	Store    *store.Store
	Exporter *metrics.Exporter

	verifier auth.IdentityVerifier
	deriver  *crypt.TenantDeriver
	limiter  ratelimit.Limiter
}

func NewAPIV1Service(p *profile.Profile, st *store.Store, exporter *metrics.Exporter) (*APIV1Service, error) {
	keyring, err := crypt.NewKeyring(p.EncryptionKeyBytes(), p.ActiveKeyVersion)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build keyring")
	}
	engine := crypt.NewEngine(keyring)

	deriver, err := crypt.NewTenantDeriver(p.DerivationKeyBytes())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tenant deriver")
	}

	verifier, err := auth.NewVerifierFromProfile(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select identity verifier")
	}

	aiConfig := ai.NewConfigFromProfile(p)
	embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize embedding service")
	}
	summarizerService, err := ai.NewSummarizerService(&aiConfig.LLM)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize summarizer service")
	}
	entityService, err := ai.NewEntityService(&aiConfig.LLM)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize entity service")
	}

	var rerankerService ai.RerankerService
	if p.RerankEnabled {
		rerankerService = ai.NewRerankerService(&aiConfig.Reranker)
	} else {
		slog.Info("reranking disabled, results follow vector order")
	}

	pipeline := retrieval.New(st, engine, rerankerService, exporter, p.RerankTimeout, annCandidateLimit)

	return &APIV1Service{
		MemoryService: &MemoryService{
			Store:      st,
			Engine:     engine,
			Embedding:  embeddingService,
			Summarizer: summarizerService,
			Entities:   entityService,
			Pipeline:   pipeline,
			Exporter:   exporter,
		},
		Profile:  p,
		Store:    st,
		Exporter: exporter,
		verifier: verifier,
		deriver:  deriver,
		limiter:  ratelimit.NewWindowLimiter(p.RateLimitPerWindow, p.RateLimitWindow),
	}, nil
}

// RegisterRoutes mounts the memory API. Ordering matters: the request id
// exists for every response, authentication precedes rate limiting so the
// window is keyed by verified subject, and handlers run last.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	group := e.Group("/api/v1",
		RequestIDMiddleware(),
		AuthMiddleware(s.verifier, s.deriver),
		RateLimitMiddleware(s.limiter, s.Exporter),
	)

	group.POST("/memory/index", s.observed("index", s.MemoryService.Index))
	group.POST("/memory/query", s.observed("query", s.MemoryService.Query))
	group.POST("/memory/summarize", s.observed("summarize", s.MemoryService.Summarize))
	group.POST("/memory/entities", s.observed("entities", s.MemoryService.EntitiesOp))
	group.DELETE("/memory/chunks/:id", s.observed("delete", s.MemoryService.DeleteChunk))
}

// observed records per-operation latency and status for a handler.
func (s *APIV1Service) observed(operation string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		status := "ok"
		if c.Response().Status >= 400 {
			status = "error"
		}
		s.Exporter.ObserveRequest(operation, status, time.Since(start).Seconds())
		return err
	}
}

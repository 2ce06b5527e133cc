package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pseudonym/internal/platform/metrics"
	"pseudonym/internal/platform/middleware"
	"pseudonym/internal/pseudonym/models"
	"pseudonym/pkg/platform/httputil"
	"pseudonym/pkg/requestcontext"
)

// Service resolves identifiers to pseudonyms.
type Service interface {
	Resolve(ctx context.Context, identifier []byte) (models.Pseudonym, error)
	ResolveMany(ctx context.Context, identifiers [][]byte, concurrency int) ([]models.Pseudonym, error)
	Digest(identifier []byte) models.Digest
}

// Handler serves the resolve API.
type Handler struct {
	logger       *slog.Logger
	service      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	rateLimit    func(http.Handler) http.Handler
	batchLimit   int
}

type Option func(*Handler)

// WithRateLimit installs a limiter that runs after authentication.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.rateLimit = mw
	}
}

// WithBatchConcurrency bounds parallel resolutions within one batch.
func WithBatchConcurrency(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.batchLimit = n
		}
	}
}

// New creates a resolve Handler. metrics may be nil.
func New(
	service Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator,
	opts ...Option) *Handler {
	h := &Handler{
		logger:       logger,
		service:      service,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		batchLimit:   8,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the resolve routes behind bearer authentication.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	if h.rateLimit != nil {
		router.Use(h.rateLimit)
	}
	router.Post("/v1/pseudonyms", h.HandleResolve)
	router.Post("/v1/pseudonyms/batch", h.HandleBatchResolve)

	r.Mount("/", router)
}

// HandleResolve handles POST /v1/pseudonyms.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	identifier := []byte(req.Identifier)
	digest := h.service.Digest(identifier)
	name, err := h.service.Resolve(ctx, identifier)
	if err != nil {
		h.writeResolveError(ctx, w, requestID, digest, err)
		return
	}

	h.logger.InfoContext(ctx, "pseudonym resolved",
		"request_id", requestID,
		"client_id", requestcontext.ClientID(ctx),
		"subject", middleware.GetSubject(ctx),
		"digest", digest.Short(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromPseudonym(name, digest))
}

// HandleBatchResolve handles POST /v1/pseudonyms/batch. The first failure
// aborts the batch.
func (h *Handler) HandleBatchResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[BatchResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	identifiers := make([][]byte, len(req.Identifiers))
	for i, id := range req.Identifiers {
		identifiers[i] = []byte(id)
	}
	names, err := h.service.ResolveMany(ctx, identifiers, h.batchLimit)
	if err != nil {
		var resolveErr *models.ResolveError
		var digest models.Digest
		if errors.As(err, &resolveErr) {
			digest = resolveErr.Digest
		}
		h.writeResolveError(ctx, w, requestID, digest, err)
		return
	}

	results := make([]ResolveResponse, len(names))
	for i, name := range names {
		results[i] = FromPseudonym(name, h.service.Digest(identifiers[i]))
	}

	h.logger.InfoContext(ctx, "pseudonym batch resolved",
		"request_id", requestID,
		"client_id", requestcontext.ClientID(ctx),
		"count", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, BatchResolveResponse{Results: results})
}

func (h *Handler) writeResolveError(ctx context.Context, w http.ResponseWriter, requestID string, digest models.Digest, err error) {
	h.logger.ErrorContext(ctx, "pseudonym resolution failed",
		"request_id", requestID,
		"digest", digest.Short(),
		"error", err,
	)
	switch {
	case errors.Is(err, models.ErrBackendFailure):
		httputil.WriteError(w, httputil.NewError(http.StatusServiceUnavailable, "backend_unavailable", "pseudonym store unavailable"))
	case errors.Is(err, models.ErrDecodeCorruption):
		httputil.WriteError(w, httputil.NewError(http.StatusInternalServerError, "record_corrupt", "stored record corrupt"))
	default:
		httputil.WriteError(w, err)
	}
}

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/config"
	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/hash/sha256"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
)

const (
	enqueueTimeout   = 5 * time.Second
	maxPrefetchItems = 500
)

// ContentLoader loads one article through the retry chain.
type ContentLoader interface {
	LoadWithRetries(ctx context.Context, itemID, username string) (content.ArticleContent, error)
}

// Enqueuer accepts prefetch batches.
type Enqueuer interface {
	Enqueue(ctx context.Context, req content.PrefetchRequest) error
}

// Server wires HTTP handlers to the loader and the prefetch queue.
type Server struct {
	router   chi.Router
	loader   ContentLoader
	enqueuer Enqueuer
	idGen    content.IDGenerator
	hasher   content.Hasher
	cfg      config.Config
	logger   *zap.Logger
	ready    atomic.Bool

	// requestTimeout bounds each /v1 request; see config.Config.RequestTimeout.
	requestTimeout time.Duration
}

// NewServer constructs a Server with middleware and routes. The server starts ready.
func NewServer(
	loader ContentLoader,
	enqueuer Enqueuer,
	idGen content.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		loader:   loader,
		enqueuer: enqueuer,
		idGen:    idGen,
		hasher:   sha256.New(),
		cfg:      cfg,
		logger:   logger,

		requestTimeout: cfg.RequestTimeout(),
	}
	s.ready.Store(true)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.deadlineMiddleware)
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/users/{username}", func(r chi.Router) {
			r.Get("/items/{item_id}/content", s.getContent)
			r.Post("/prefetch", s.prefetch)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness probe, e.g. to drain traffic before shutdown.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	itemID := chi.URLParam(r, "item_id")
	if strings.TrimSpace(username) == "" || strings.TrimSpace(itemID) == "" {
		s.writeError(w, http.StatusBadRequest, "username and item_id are required")
		return
	}

	article, err := s.loader.LoadWithRetries(r.Context(), itemID, username)
	if err != nil {
		status := statusForLoadError(err)
		s.logger.Info("content load failed",
			zap.String("item_id", itemID),
			zap.String("username", username),
			zap.Int("status", status),
			zap.Error(err),
		)
		s.writeError(w, status, err.Error())
		return
	}
	s.writeContent(w, r, article)
}

// writeContent sends article with a strong ETag and answers a matching If-None-Match with 304.
func (s *Server) writeContent(w http.ResponseWriter, r *http.Request, article content.ArticleContent) {
	body, err := json.Marshal(article)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "encode content")
		return
	}
	body = append(body, '\n')

	digest, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Warn("content digest failed", zap.Error(err))
	}
	if digest != "" {
		etag := `"` + digest + `"`
		w.Header().Set("ETag", etag)
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("write content failed", zap.Error(err))
	}
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func statusForLoadError(err error) int {
	switch {
	case errors.Is(err, content.ErrBadData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type prefetchRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type prefetchResponse struct {
	BatchID string `json:"batch_id"`
	Items   int    `json:"items"`
}

func (s *Server) prefetch(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req prefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	itemIDs := cleanItemIDs(req.ItemIDs)
	if len(itemIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "item_ids required")
		return
	}
	if len(itemIDs) > maxPrefetchItems {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d item_ids per batch", maxPrefetchItems))
		return
	}

	batchID, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate batch id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	batch := content.PrefetchRequest{BatchID: batchID, Username: username, ItemIDs: itemIDs}
	if err := s.enqueuer.Enqueue(ctx, batch); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, content.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("enqueue prefetch batch failed", zap.String("batch_id", batchID), zap.Error(err))
		s.writeError(w, status, "prefetch queue unavailable")
		return
	}
	metrics.ObserveQueueMessage("api", "enqueued")
	s.writeJSON(w, http.StatusAccepted, prefetchResponse{BatchID: batchID, Items: len(itemIDs)})
}

// cleanItemIDs trims, drops empty values and removes duplicates, keeping order.
func cleanItemIDs(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// deadlineMiddleware bounds the request context. Handlers observe the deadline through it and
// answer with their own error mapping (504 for an expired content read).
func (s *Server) deadlineMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.requestTimeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Package kvserver is a small HTTP object store. Objects are opaque byte
// strings addressed by path. A PUT carrying If-None-Match: * only succeeds
// when the object does not exist yet, which is enough to give remote
// clients an atomic put-if-absent.
package kvserver

import (
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"pseudonym/internal/platform/middleware"
)

// MaxObjectSize bounds request bodies.
const MaxObjectSize = 4 << 20

var validKey = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*(/[a-zA-Z0-9][a-zA-Z0-9._-]*)*$`)

type Server struct {
	logger *slog.Logger

	mu      sync.RWMutex
	objects map[string][]byte
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger, objects: make(map[string][]byte)}
}

// Register mounts the object routes on r.
func (s *Server) Register(r chi.Router) {
	objects := chi.NewRouter()
	objects.Use(middleware.Recovery(s.logger))
	objects.Use(middleware.RequestID)
	objects.Use(middleware.Logger(s.logger))
	objects.Use(middleware.Timeout(10 * time.Second))
	objects.Get("/*", s.handleGet)
	objects.Put("/*", s.handlePut)

	r.Mount("/v1/objects", objects)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Handler returns a router serving only this server's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	value, found := s.objects[key]
	s.mu.RUnlock()
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := objectKey(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxObjectSize))
	if err != nil {
		s.logger.WarnContext(ctx, "object body rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	ifNoneMatch := r.Header.Get("If-None-Match")
	if ifNoneMatch != "" && ifNoneMatch != "*" {
		http.Error(w, "only If-None-Match: * is supported", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, exists := s.objects[key]
	if exists && ifNoneMatch == "*" {
		s.mu.Unlock()
		http.Error(w, "object exists", http.StatusPreconditionFailed)
		return
	}
	s.objects[key] = body
	s.mu.Unlock()

	if exists {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Len returns the number of stored objects.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func objectKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	if len(key) > 512 || !validKey.MatchString(key) {
		http.Error(w, "invalid object key", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

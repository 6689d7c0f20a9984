// Package server exposes the HTTP surface: pyramid ingestion and
// inspection, and blob streaming for level and tile images.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/zoomtile/internal/blobstore"
	"github.com/MeKo-Tech/zoomtile/internal/ingest"
	"github.com/MeKo-Tech/zoomtile/internal/registry"
)

// Config holds the request-surface knobs.
type Config struct {
	MaxBodyBytes   int64
	IngestDeadline time.Duration
	CacheControl   string
}

// Server binds the pipeline services to HTTP handlers.
type Server struct {
	ingest *ingest.Service
	reg    registry.Registry
	blobs  blobstore.Store
	cfg    Config
	logger *slog.Logger
}

func New(svc *ingest.Service, reg registry.Registry, blobs blobstore.Store, cfg Config, logger *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 20
	}
	if cfg.IngestDeadline <= 0 {
		cfg.IngestDeadline = 2 * time.Minute
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-store"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ingest: svc, reg: reg, blobs: blobs, cfg: cfg, logger: logger}
}

// Handler returns the complete route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /pyramid", s.handlePostPyramid)
	mux.Handle("GET /pyramid/{uuid}", withCORS(http.HandlerFunc(s.handleGetPyramid)))
	mux.Handle("GET /pyramids", withCORS(http.HandlerFunc(s.handleListPyramids)))
	mux.HandleFunc("DELETE /pyramid/{uuid}", s.handleDeletePyramid)
	mux.Handle("GET /image/{name}", withCORS(http.HandlerFunc(s.handleGetImage)))
	mux.Handle("GET /tile/{name}", withCORS(http.HandlerFunc(s.handleGetTile)))

	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// notFoundOr500 maps registry and blob lookups to 404 for missing
// entities and 500 for backend failures.
func (s *Server) notFoundOr500(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, blobstore.ErrNotFound) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	s.logger.Error("backend failure", "error", err)
	http.Error(w, "storage failure", http.StatusInternalServerError)
}

// withCORS allows browser viewers hosted elsewhere to read pyramids and
// tiles.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

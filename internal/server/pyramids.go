package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/MeKo-Tech/zoomtile/internal/codec"
	"github.com/MeKo-Tech/zoomtile/internal/ingest"
	"github.com/MeKo-Tech/zoomtile/internal/registry"
	"github.com/MeKo-Tech/zoomtile/internal/tiling"
)

func (s *Server) handlePostPyramid(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		http.Error(w, "missing Content-Type; pass an image body and declare its MIME type", http.StatusBadRequest)
		return
	}
	mimeType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		http.Error(w, "malformed Content-Type", http.StatusBadRequest)
		return
	}
	if !codec.Supported(mimeType) {
		http.Error(w, "unsupported image format "+mimeType, http.StatusNotAcceptable)
		return
	}

	filename := ""
	if cd := r.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = params["filename"]
		}
	}

	// The body cap applies before any decode work.
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload exceeds the configured size limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestDeadline)
	defer cancel()

	d, err := s.ingest.Ingest(ctx, data, mimeType, filename)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusCreated, d)
	case errors.Is(err, codec.ErrUnsupportedFormat):
		http.Error(w, err.Error(), http.StatusNotAcceptable)
	case errors.Is(err, ingest.ErrScheduling):
		// The descriptor exists but tiling never starts; the caller may
		// re-submit the image.
		if errors.Is(err, tiling.ErrQueueFull) {
			s.writeJSON(w, http.StatusServiceUnavailable, d)
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, d)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "ingest deadline exceeded", http.StatusGatewayTimeout)
	default:
		s.logger.Error("ingest failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleGetPyramid(w http.ResponseWriter, r *http.Request) {
	d, err := s.reg.Find(r.Context(), r.PathValue("uuid"))
	if err != nil {
		s.notFoundOr500(w, err, "pyramid")
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListPyramids(w http.ResponseWriter, r *http.Request) {
	all, err := s.reg.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list pyramids", "error", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	if all == nil {
		all = []*registry.Descriptor{}
	}
	s.writeJSON(w, http.StatusOK, all)
}

// handleDeletePyramid removes the descriptor and tears down every level
// and tile blob it references.
func (s *Server) handleDeletePyramid(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	d, err := s.reg.Delete(r.Context(), uuid)
	if err != nil {
		s.notFoundOr500(w, err, "pyramid")
		return
	}

	for _, lvl := range d.Levels {
		if err := s.blobs.Delete(r.Context(), lvl.BlobID); err != nil {
			s.logger.Warn("failed to delete level blob", "uuid", uuid, "blob", lvl.BlobID, "error", err)
		}
	}
	for _, lt := range d.Tiles.Levels {
		for _, tile := range lt.Tiles {
			if err := s.blobs.Delete(r.Context(), tile.BlobID); err != nil {
				s.logger.Warn("failed to delete tile blob", "uuid", uuid, "blob", tile.BlobID, "error", err)
			}
		}
	}

	s.logger.Info("pyramid deleted", "uuid", uuid)
	w.WriteHeader(http.StatusNoContent)
}

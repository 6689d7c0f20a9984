package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/zoomtile/internal/codec"
	"github.com/MeKo-Tech/zoomtile/internal/pyramid"
	"github.com/MeKo-Tech/zoomtile/internal/registry"
)

// parseLevelName splits a public level handle "{uuid}_L{k}".
func parseLevelName(name string) (uuid string, level int, ok bool) {
	i := strings.LastIndex(name, "_L")
	if i < 1 {
		return "", 0, false
	}
	level, err := strconv.Atoi(name[i+2:])
	if err != nil || level < 0 {
		return "", 0, false
	}
	return name[:i], level, true
}

// parseTileName splits a public tile handle "{uuid}_L{k}_T{t}".
func parseTileName(name string) (uuid string, level, tile int, ok bool) {
	i := strings.LastIndex(name, "_T")
	if i < 1 {
		return "", 0, 0, false
	}
	tile, err := strconv.Atoi(name[i+2:])
	if err != nil || tile < 0 {
		return "", 0, 0, false
	}
	uuid, level, ok = parseLevelName(name[:i])
	return uuid, level, tile, ok
}

// reEncodeTarget returns the MIME the client asked to transcode to, or ""
// when the stored bytes should be served as-is. Only an exact supported
// MIME in Accept triggers re-encoding.
func reEncodeTarget(r *http.Request, stored string) string {
	accept := r.Header.Get("Accept")
	if accept == "" || accept == stored || !codec.Supported(accept) {
		return ""
	}
	return accept
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	uuid, level, ok := parseLevelName(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	d, err := s.reg.Find(r.Context(), uuid)
	if err != nil {
		s.notFoundOr500(w, err, "image")
		return
	}
	if level >= len(d.Levels) {
		http.NotFound(w, r)
		return
	}

	data, err := s.readBlob(r, d.Levels[level].BlobID)
	if err != nil {
		s.notFoundOr500(w, err, "image")
		return
	}

	if target := reEncodeTarget(r, d.MimeType); target != "" {
		img, err := codec.Decode(data, d.MimeType)
		if err != nil {
			s.logger.Error("stored level does not decode", "name", name, "error", err)
			http.Error(w, "stored image is corrupt", http.StatusInternalServerError)
			return
		}
		out, err := codec.Encode(img, target)
		if err != nil {
			http.Error(w, "re-encoding failed", http.StatusInternalServerError)
			return
		}
		s.serveBytes(w, out, target, false)
		return
	}
	s.serveBytes(w, data, d.MimeType, false)
}

func (s *Server) handleGetTile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	uuid, level, tile, ok := parseTileName(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	d, err := s.reg.Find(r.Context(), uuid)
	if err != nil {
		s.notFoundOr500(w, err, "tile")
		return
	}

	entry, ok := findTile(d, level, tile)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := s.readBlob(r, entry.BlobID)
	if err != nil {
		s.notFoundOr500(w, err, "tile")
		return
	}

	// Stored tile bytes are the encoded image, Brotli-compressed.
	// Re-encoding unpacks them and returns raw bytes in the new format;
	// the default path streams them as-is with Content-Encoding: br.
	if target := reEncodeTarget(r, d.MimeType); target != "" {
		encoded, err := pyramid.Decompress(data)
		if err != nil {
			s.logger.Error("stored tile does not decompress", "name", name, "error", err)
			http.Error(w, "stored tile is corrupt", http.StatusInternalServerError)
			return
		}
		img, err := codec.Decode(encoded, d.MimeType)
		if err != nil {
			s.logger.Error("stored tile does not decode", "name", name, "error", err)
			http.Error(w, "stored tile is corrupt", http.StatusInternalServerError)
			return
		}
		out, err := codec.Encode(img, target)
		if err != nil {
			http.Error(w, "re-encoding failed", http.StatusInternalServerError)
			return
		}
		s.serveBytes(w, out, target, false)
		return
	}
	s.serveBytes(w, data, d.MimeType, true)
}

func findTile(d *registry.Descriptor, level, tile int) (registry.TileEntry, bool) {
	if d.Tiles.State != registry.TileDone {
		return registry.TileEntry{}, false
	}
	for _, lt := range d.Tiles.Levels {
		if lt.Index != level {
			continue
		}
		if tile < len(lt.Tiles) {
			return lt.Tiles[tile], true
		}
		return registry.TileEntry{}, false
	}
	return registry.TileEntry{}, false
}

func (s *Server) readBlob(r *http.Request, id string) ([]byte, error) {
	rc, err := s.blobs.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Server) serveBytes(w http.ResponseWriter, data []byte, mimeType string, brotliFramed bool) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	if brotliFramed {
		w.Header().Set("Content-Encoding", "br")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

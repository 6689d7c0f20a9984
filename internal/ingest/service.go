// Package ingest runs the synchronous phase of the pipeline: decode an
// upload, build the mip pyramid, persist every level, publish the
// descriptor, and hand the uuid to the background tiler.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/zoomtile/internal/blobstore"
	"github.com/MeKo-Tech/zoomtile/internal/codec"
	"github.com/MeKo-Tech/zoomtile/internal/metrics"
	"github.com/MeKo-Tech/zoomtile/internal/pyramid"
	"github.com/MeKo-Tech/zoomtile/internal/registry"
)

// ErrScheduling wraps a failure to hand the tiling job off after the
// descriptor was already published. The descriptor stays visible; the
// caller reports a server error.
var ErrScheduling = errors.New("ingest: failed to schedule tiling job")

// Scheduler accepts tiling jobs by pyramid uuid. Enqueue fails when the
// job queue is saturated.
type Scheduler interface {
	Enqueue(uuid string) error
}

// Service orchestrates ingest. All stores are process-wide singletons
// owned by the caller.
type Service struct {
	blobs  blobstore.Store
	reg    registry.Registry
	sched  Scheduler
	logger *slog.Logger
}

func NewService(blobs blobstore.Store, reg registry.Registry, sched Scheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{blobs: blobs, reg: reg, sched: sched, logger: logger}
}

// Ingest validates and decodes the upload, builds the pyramid, persists
// each level blob, publishes the descriptor with tiles=pending, and
// schedules the tiling job. Any failure before the descriptor write
// leaves the registry untouched; level blobs written before such a
// failure are orphaned, which is acceptable. A scheduling failure after
// the write returns both the created descriptor and ErrScheduling.
func (s *Service) Ingest(ctx context.Context, data []byte, mime, filename string) (*registry.Descriptor, error) {
	start := time.Now()

	if !codec.Supported(mime) {
		metrics.IngestsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %q", codec.ErrUnsupportedFormat, mime)
	}

	src, err := codec.Decode(data, mime)
	if err != nil {
		metrics.IngestsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	id := uuid.NewString()
	levels, err := pyramid.Build(src)
	if err != nil {
		metrics.IngestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	d := &registry.Descriptor{
		UUID:             id,
		MimeType:         mime,
		OriginalFilename: filename,
		Levels:           make([]registry.Level, 0, len(levels)),
		Tiles:            registry.Pending(),
		CreatedAt:        time.Now().UTC(),
	}

	for k, lvl := range levels {
		if err := ctx.Err(); err != nil {
			metrics.IngestsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}

		encoded, err := codec.Encode(lvl, mime)
		if err != nil {
			metrics.IngestsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("encode level %d: %w", k, err)
		}

		blobID, err := s.blobs.Put(ctx, bytes.NewReader(encoded), mime)
		if err != nil {
			metrics.IngestsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("store level %d: %w", k, err)
		}

		b := lvl.Bounds()
		d.Levels = append(d.Levels, registry.Level{
			Index:  k,
			Width:  b.Dx(),
			Height: b.Dy(),
			BlobID: blobID,
			URL:    registry.LevelURL(id, k),
		})
	}

	if err := s.reg.Create(ctx, d); err != nil {
		metrics.IngestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	s.logger.Info("pyramid ingested",
		"uuid", id,
		"mime", mime,
		"levels", len(d.Levels),
		"ms", time.Since(start).Milliseconds(),
	)
	metrics.IngestsTotal.WithLabelValues("created").Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if err := s.sched.Enqueue(id); err != nil {
		s.logger.Error("tiling job not scheduled", "uuid", id, "error", err)
		return d, fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	return d, nil
}

// Package tiling runs the asynchronous phase of the pipeline: per level,
// cut the raster into a tile grid, encode and compress every tile,
// persist the tile blobs, and publish the manifest with a single atomic
// descriptor update.
package tiling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/zoomtile/internal/blobstore"
	"github.com/MeKo-Tech/zoomtile/internal/codec"
	"github.com/MeKo-Tech/zoomtile/internal/metrics"
	"github.com/MeKo-Tech/zoomtile/internal/pyramid"
	"github.com/MeKo-Tech/zoomtile/internal/registry"
	"github.com/MeKo-Tech/zoomtile/internal/worker"
)

var (
	ErrQueueFull = errors.New("tiling: job queue full")
	ErrClosed    = errors.New("tiling: worker shut down")
)

// Config wires the tiling worker to its collaborators.
type Config struct {
	Blobs      blobstore.Store
	Registry   registry.Registry
	Pool       *worker.Pool
	Compressor *pyramid.Compressor
	TileWidth  int
	TileHeight int
	QueueSize  int // pending jobs accepted before Enqueue fails
	Runners    int // concurrent tiling jobs
	Logger     *slog.Logger
}

// Worker consumes tiling jobs from a bounded queue. Jobs are claimed via
// the registry's conditional pending -> processing transition, so a job
// enqueued twice (or raced by another instance) runs exactly once.
type Worker struct {
	blobs  blobstore.Store
	reg    registry.Registry
	pool   *worker.Pool
	comp   *pyramid.Compressor
	tileW  int
	tileH  int
	logger *slog.Logger

	jobs    chan string
	handles *HandleRegistry
	runners int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func New(cfg Config) *Worker {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 16
	}
	if cfg.Runners < 1 {
		cfg.Runners = 1
	}
	if cfg.TileWidth < 1 {
		cfg.TileWidth = 512
	}
	if cfg.TileHeight < 1 {
		cfg.TileHeight = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		blobs:   cfg.Blobs,
		reg:     cfg.Registry,
		pool:    cfg.Pool,
		comp:    cfg.Compressor,
		tileW:   cfg.TileWidth,
		tileH:   cfg.TileHeight,
		logger:  cfg.Logger,
		jobs:    make(chan string, cfg.QueueSize),
		handles: NewHandleRegistry(),
		runners: cfg.Runners,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the job runners.
func (w *Worker) Start() {
	for i := 0; i < w.runners; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for uuid := range w.jobs {
				w.run(uuid)
			}
		}()
	}
}

// Handles exposes the in-flight job registry.
func (w *Worker) Handles() *HandleRegistry { return w.handles }

// Enqueue schedules a tiling job. It never blocks: a full queue is a hard
// failure surfaced to the ingest caller.
func (w *Worker) Enqueue(uuid string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	w.handles.Add(uuid)
	select {
	case w.jobs <- uuid:
		return nil
	default:
		w.handles.Done(uuid)
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for in-flight work until ctx
// expires, at which point remaining jobs are aborted and their pyramids
// stay in processing.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.cancel()
		for _, uuid := range w.handles.Active() {
			w.logger.Warn("tiling job abandoned by shutdown; pyramid stays in processing", "uuid", uuid)
		}
		return ctx.Err()
	}
}

// run executes one job to its terminal state.
func (w *Worker) run(uuid string) {
	defer w.handles.Done(uuid)
	start := time.Now()
	ctx := w.ctx

	if err := w.reg.Claim(ctx, uuid); err != nil {
		// A concurrent worker owns the job, or the pyramid is gone.
		w.logger.Debug("tiling job not claimed", "uuid", uuid, "error", err)
		metrics.TilingJobsTotal.WithLabelValues("skipped").Inc()
		return
	}

	manifest, err := w.generate(ctx, uuid)
	if err != nil {
		w.logger.Error("tiling failed", "uuid", uuid, "error", err)
		metrics.TilingJobsTotal.WithLabelValues("failed").Inc()
		// Best effort: the descriptor is the only user-visible channel
		// for tiling errors. Tile blobs already written are orphaned.
		if serr := w.reg.SetTiles(ctx, uuid, registry.Failed(err.Error())); serr != nil {
			w.logger.Error("failed to record tiling failure", "uuid", uuid, "error", serr)
		}
		return
	}

	// Publication barrier: every tile blob in the manifest is readable
	// before this update makes the manifest visible.
	if err := w.reg.SetTiles(ctx, uuid, registry.Done(manifest)); err != nil {
		w.logger.Error("failed to publish tile manifest", "uuid", uuid, "error", err)
		metrics.TilingJobsTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.TilingJobsTotal.WithLabelValues("done").Inc()
	metrics.TilingDuration.Observe(time.Since(start).Seconds())
	w.logger.Info("pyramid tiled",
		"uuid", uuid,
		"levels", len(manifest),
		"ms", time.Since(start).Milliseconds(),
	)
}

// generate produces the full per-level manifest. Levels are processed in
// parallel, tiles within a level in parallel on the shared CPU pool; each
// goroutine writes only its own pre-sized slot, and the errgroup join is
// the sole synchronization point before publication.
func (w *Worker) generate(ctx context.Context, uuid string) ([]registry.LevelTiles, error) {
	d, err := w.reg.Find(ctx, uuid)
	if err != nil {
		return nil, err
	}

	rasters := make([]image.Image, len(d.Levels))
	for k, lvl := range d.Levels {
		raster, err := w.loadLevel(ctx, lvl.BlobID, d.MimeType)
		if err != nil {
			return nil, fmt.Errorf("load level %d: %w", k, err)
		}
		rasters[k] = raster
	}

	grids := make([]*pyramid.Grid, len(rasters))
	compressed := make([][][]byte, len(rasters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.pool.Size())
	for k := range rasters {
		g.Go(func() error {
			grid, err := pyramid.Split(rasters[k], w.tileW, w.tileH)
			if err != nil {
				return fmt.Errorf("tile level %d: %w", k, err)
			}
			grids[k] = grid

			out := make([][]byte, len(grid.Tiles))
			tasks := make([]worker.Task, len(grid.Tiles))
			for t := range grid.Tiles {
				tasks[t] = worker.Task{
					Label: registry.TileName(uuid, k, t),
					Fn: func(ctx context.Context) error {
						data, err := w.comp.EncodeAndCompress(grid.Tiles[t].Image, d.MimeType)
						if err != nil {
							return fmt.Errorf("compress tile %d of level %d: %w", t, k, err)
						}
						out[t] = data
						return nil
					},
				}
			}
			if err := worker.FirstError(w.pool.Run(gctx, tasks)); err != nil {
				return err
			}
			compressed[k] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifest := make([]registry.LevelTiles, len(grids))
	for k, grid := range grids {
		entries := make([]registry.TileEntry, len(grid.Tiles))
		for t, tile := range grid.Tiles {
			blobID, err := w.blobs.Put(ctx, bytes.NewReader(compressed[k][t]), d.MimeType)
			if err != nil {
				return nil, fmt.Errorf("store tile %d of level %d: %w", t, k, err)
			}
			entries[t] = registry.TileEntry{
				Index:  tile.Index,
				X:      tile.X,
				Y:      tile.Y,
				Width:  tile.Width,
				Height: tile.Height,
				BlobID: blobID,
				Name:   registry.TileName(uuid, k, tile.Index),
			}
			metrics.TilesGenerated.Inc()
		}
		manifest[k] = registry.LevelTiles{
			Index:  k,
			Width:  grid.Width,
			Height: grid.Height,
			Tiles:  entries,
		}
	}
	return manifest, nil
}

func (w *Worker) loadLevel(ctx context.Context, blobID, mime string) (image.Image, error) {
	r, err := w.blobs.Get(ctx, blobID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blobstore.ErrStorage, err)
	}
	return codec.Decode(data, mime)
}

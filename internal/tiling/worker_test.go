package tiling

import (
	"context"
	"image"
	"image/color"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/zoomtile/internal/blobstore"
	"github.com/MeKo-Tech/zoomtile/internal/codec"
	"github.com/MeKo-Tech/zoomtile/internal/ingest"
	"github.com/MeKo-Tech/zoomtile/internal/pyramid"
	"github.com/MeKo-Tech/zoomtile/internal/registry"
	"github.com/MeKo-Tech/zoomtile/internal/worker"
)

type env struct {
	blobs *blobstore.MemStore
	reg   *registry.MemRegistry
	w     *Worker
}

func newEnv(t *testing.T, tileW, tileH int) *env {
	t.Helper()
	comp, err := pyramid.NewCompressor(5, 22)
	require.NoError(t, err)

	blobs := blobstore.NewMemStore()
	reg := registry.NewMemRegistry()
	w := New(Config{
		Blobs:      blobs,
		Registry:   reg,
		Pool:       worker.New(4),
		Compressor: comp,
		TileWidth:  tileW,
		TileHeight: tileH,
		QueueSize:  8,
		Runners:    2,
	})
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Shutdown(ctx)
	})
	return &env{blobs: blobs, reg: reg, w: w}
}

// seed ingests a PNG of the given size through the real ingest service
// (with a no-op scheduler) so the worker starts from a realistic pending
// descriptor.
func (e *env) seed(t *testing.T, w, h int) string {
	t.Helper()
	data, err := codec.Encode(testImage(w, h), codec.MimePNG)
	require.NoError(t, err)

	svc := ingest.NewService(e.blobs, e.reg, schedulerFunc(func(string) error { return nil }), nil)
	d, err := svc.Ingest(context.Background(), data, codec.MimePNG, "")
	require.NoError(t, err)
	return d.UUID
}

func (e *env) await(t *testing.T, uuid string) *registry.Descriptor {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		d, err := e.reg.Find(context.Background(), uuid)
		require.NoError(t, err)
		if d.Tiles.State.Terminal() {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pyramid %s did not reach a terminal state", uuid)
	return nil
}

type schedulerFunc func(uuid string) error

func (f schedulerFunc) Enqueue(uuid string) error { return f(uuid) }

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func TestWorkerProducesManifest(t *testing.T) {
	e := newEnv(t, 4, 4)
	uuid := e.seed(t, 8, 8)

	require.NoError(t, e.w.Enqueue(uuid))
	d := e.await(t, uuid)

	require.Equal(t, registry.TileDone, d.Tiles.State)
	require.Len(t, d.Tiles.Levels, 4) // 8 -> 4 -> 2 -> 1

	wantCounts := []int{4, 1, 1, 1}
	wantDims := []int{8, 4, 2, 1}
	for k, lt := range d.Tiles.Levels {
		require.Equal(t, k, lt.Index)
		require.Equal(t, wantDims[k], lt.Width)
		require.Equal(t, wantDims[k], lt.Height)
		require.Len(t, lt.Tiles, wantCounts[k], "level %d", k)
	}
}

func TestWorkerManifestOrderAndBlobs(t *testing.T) {
	e := newEnv(t, 3, 3)
	uuid := e.seed(t, 10, 7)

	require.NoError(t, e.w.Enqueue(uuid))
	d := e.await(t, uuid)
	require.Equal(t, registry.TileDone, d.Tiles.State)

	lvl0 := d.Tiles.Levels[0]
	require.Equal(t, 10, lvl0.Width)
	require.Equal(t, 7, lvl0.Height)
	require.Len(t, lvl0.Tiles, 4*3)

	for n, entry := range lvl0.Tiles {
		require.Equal(t, n, entry.Index, "manifest order must be row-major")
		require.Equal(t, registry.TileName(uuid, 0, n), entry.Name)

		// Every referenced blob must be readable, decompress, and decode
		// to the declared dimensions.
		r, err := e.blobs.Get(context.Background(), entry.BlobID)
		require.NoError(t, err)
		compressed, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())

		encoded, err := pyramid.Decompress(compressed)
		require.NoError(t, err)
		img, err := codec.Decode(encoded, codec.MimePNG)
		require.NoError(t, err)
		require.Equal(t, entry.Width, img.Bounds().Dx())
		require.Equal(t, entry.Height, img.Bounds().Dy())
	}
}

func TestWorkerSinglePixelPyramid(t *testing.T) {
	e := newEnv(t, 512, 512)
	uuid := e.seed(t, 1, 1)

	require.NoError(t, e.w.Enqueue(uuid))
	d := e.await(t, uuid)

	require.Equal(t, registry.TileDone, d.Tiles.State)
	require.Len(t, d.Tiles.Levels, 1)
	require.Len(t, d.Tiles.Levels[0].Tiles, 1)
	require.Equal(t, 1, d.Tiles.Levels[0].Tiles[0].Width)
	require.Equal(t, 1, d.Tiles.Levels[0].Tiles[0].Height)
}

func TestWorkerFailureIsTerminal(t *testing.T) {
	e := newEnv(t, 4, 4)
	uuid := e.seed(t, 8, 8)

	// Corrupt the pyramid: point level 0 at a missing blob.
	d, err := e.reg.Find(context.Background(), uuid)
	require.NoError(t, err)
	require.NoError(t, e.blobs.Delete(context.Background(), d.Levels[0].BlobID))

	require.NoError(t, e.w.Enqueue(uuid))
	got := e.await(t, uuid)

	require.Equal(t, registry.TileFailed, got.Tiles.State)
	require.NotEmpty(t, got.Tiles.Reason)

	// failed is terminal: re-enqueueing must not restart the job.
	require.NoError(t, e.w.Enqueue(uuid))
	time.Sleep(100 * time.Millisecond)
	again, err := e.reg.Find(context.Background(), uuid)
	require.NoError(t, err)
	require.Equal(t, registry.TileFailed, again.Tiles.State)
	require.Equal(t, got.Tiles.Reason, again.Tiles.Reason)
}

func TestWorkerSkipsClaimedJob(t *testing.T) {
	e := newEnv(t, 4, 4)
	uuid := e.seed(t, 8, 8)

	// Simulate another worker owning the job.
	require.NoError(t, e.reg.Claim(context.Background(), uuid))

	require.NoError(t, e.w.Enqueue(uuid))
	time.Sleep(200 * time.Millisecond)

	d, err := e.reg.Find(context.Background(), uuid)
	require.NoError(t, err)
	require.Equal(t, registry.TileProcessing, d.Tiles.State)
}

func TestWorkerQueueFull(t *testing.T) {
	comp, err := pyramid.NewCompressor(5, 22)
	require.NoError(t, err)

	// Not started: jobs stay queued, so the bounded queue fills up.
	w := New(Config{
		Blobs:      blobstore.NewMemStore(),
		Registry:   registry.NewMemRegistry(),
		Pool:       worker.New(1),
		Compressor: comp,
		QueueSize:  2,
		Runners:    1,
	})

	require.NoError(t, w.Enqueue("a"))
	require.NoError(t, w.Enqueue("b"))
	require.ErrorIs(t, w.Enqueue("c"), ErrQueueFull)
}

func TestWorkerEnqueueAfterShutdown(t *testing.T) {
	e := newEnv(t, 4, 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.w.Shutdown(ctx))
	require.ErrorIs(t, e.w.Enqueue("x"), ErrClosed)
}

func TestWorkerShutdownDrainsJobs(t *testing.T) {
	e := newEnv(t, 4, 4)
	uuid := e.seed(t, 64, 64)
	require.NoError(t, e.w.Enqueue(uuid))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.w.Shutdown(ctx))

	d, err := e.reg.Find(context.Background(), uuid)
	require.NoError(t, err)
	require.Equal(t, registry.TileDone, d.Tiles.State)
	require.Empty(t, e.w.Handles().Active())
}

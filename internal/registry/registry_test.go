package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newDescriptor(uuid string) *Descriptor {
	return &Descriptor{
		UUID:      uuid,
		MimeType:  "image/png",
		Levels:    []Level{{Index: 0, Width: 8, Height: 8, BlobID: "b", URL: LevelURL(uuid, 0)}},
		Tiles:     Pending(),
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemRegistryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	r := NewMemRegistry()

	require.NoError(t, r.Create(ctx, newDescriptor("a")))

	d, err := r.Find(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", d.UUID)
	require.Equal(t, TilePending, d.Tiles.State)

	_, err = r.Find(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemRegistryDuplicate(t *testing.T) {
	ctx := context.Background()
	r := NewMemRegistry()

	require.NoError(t, r.Create(ctx, newDescriptor("a")))
	require.ErrorIs(t, r.Create(ctx, newDescriptor("a")), ErrDuplicateUUID)
}

func TestMemRegistryList(t *testing.T) {
	ctx := context.Background()
	r := NewMemRegistry()

	first := newDescriptor("first")
	first.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, r.Create(ctx, first))
	require.NoError(t, r.Create(ctx, newDescriptor("second")))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "first", all[0].UUID)
}

func TestMemRegistrySetTiles(t *testing.T) {
	ctx := context.Background()
	r := NewMemRegistry()
	require.NoError(t, r.Create(ctx, newDescriptor("a")))

	require.NoError(t, r.SetTiles(ctx, "a", Failed("boom")))

	d, err := r.Find(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, TileFailed, d.Tiles.State)
	require.Equal(t, "boom", d.Tiles.Reason)

	require.ErrorIs(t, r.SetTiles(ctx, "missing", Pending()), ErrNotFound)
}

func TestMemRegistryClaim(t *testing.T) {
	ctx := context.Background()
	r := NewMemRegistry()
	require.NoError(t, r.Create(ctx, newDescriptor("a")))

	require.NoError(t, r.Claim(ctx, "a"))

	d, err := r.Find(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, TileProcessing, d.Tiles.State)

	// A second claim must lose: the job is already owned.
	require.ErrorIs(t, r.Claim(ctx, "a"), ErrNotFound)
	require.ErrorIs(t, r.Claim(ctx, "missing"), ErrNotFound)
}

func TestMemRegistryDelete(t *testing.T) {
	ctx := context.Background()
	r := NewMemRegistry()
	require.NoError(t, r.Create(ctx, newDescriptor("a")))

	d, err := r.Delete(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", d.UUID)

	_, err = r.Find(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Delete(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemRegistryCopiesOnRead(t *testing.T) {
	ctx := context.Background()
	r := NewMemRegistry()
	require.NoError(t, r.Create(ctx, newDescriptor("a")))

	d, err := r.Find(ctx, "a")
	require.NoError(t, err)
	d.MimeType = "image/bmp"

	again, err := r.Find(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "image/png", again.MimeType)
}

package tiling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleRegistryLifecycle(t *testing.T) {
	h := NewHandleRegistry()
	require.Empty(t, h.Active())

	h.Add("a")
	h.Add("b")
	require.ElementsMatch(t, []string{"a", "b"}, h.Active())

	h.Done("a")
	require.Equal(t, []string{"b"}, h.Active())

	// Done on an unknown uuid is a no-op.
	h.Done("missing")
	h.Done("b")
	require.Empty(t, h.Active())
}

func TestHandleRegistryAddIsIdempotent(t *testing.T) {
	h := NewHandleRegistry()
	h.Add("a")
	h.Add("a")
	require.Len(t, h.Active(), 1)
	h.Done("a")
	require.Empty(t, h.Active())
}

func TestHandleRegistryWait(t *testing.T) {
	h := NewHandleRegistry()
	h.Add("a")

	go func() {
		time.Sleep(30 * time.Millisecond)
		h.Done("a")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func TestHandleRegistryWaitTimeout(t *testing.T) {
	h := NewHandleRegistry()
	h.Add("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
	require.Equal(t, []string{"stuck"}, h.Active())
}

package tiling

import (
	"context"
	"sync"
)

// HandleRegistry tracks in-flight background jobs by pyramid uuid so the
// server can drain them on shutdown. Writers are the job-schedule and
// job-completion paths only.
type HandleRegistry struct {
	mu      sync.RWMutex
	handles map[string]chan struct{}
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{handles: make(map[string]chan struct{})}
}

// Add registers a scheduled job.
func (h *HandleRegistry) Add(uuid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.handles[uuid]; !ok {
		h.handles[uuid] = make(chan struct{})
	}
}

// Done marks a job finished and releases anyone waiting on it.
func (h *HandleRegistry) Done(uuid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.handles[uuid]; ok {
		close(ch)
		delete(h.handles, uuid)
	}
}

// Active returns the uuids of jobs not yet finished.
func (h *HandleRegistry) Active() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.handles))
	for uuid := range h.handles {
		out = append(out, uuid)
	}
	return out
}

// Wait blocks until every currently registered job has finished or ctx
// expires. Jobs still running at expiry leave their pyramids in the
// processing state; they do not recover.
func (h *HandleRegistry) Wait(ctx context.Context) error {
	h.mu.RLock()
	waiting := make([]chan struct{}, 0, len(h.handles))
	for _, ch := range h.handles {
		waiting = append(waiting, ch)
	}
	h.mu.RUnlock()

	for _, ch := range waiting {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

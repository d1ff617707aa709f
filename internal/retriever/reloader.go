// Package retriever serves hybrid (vector + keyword) retrieval over a
// vector-store handle that a separate process mutates. The handle is
// hot-swapped on reload; readiness gates traffic while no handle is live.
package retriever

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efebarandurmaz/corpusd/internal/vector"
)

// BuildFunc constructs and validates a fresh vector-store handle.
type BuildFunc func(ctx context.Context) (vector.Store, error)

// Reloader owns the live vector-store handle. The handle is replaced, never
// mutated: readers load the current pointer and finish their query against
// whichever handle they picked up, so reloads never disturb in-flight
// requests. Reload is the only writer.
type Reloader struct {
	build      BuildFunc
	drainDelay time.Duration
	log        *slog.Logger

	mu        sync.Mutex // serializes reloads
	handle    atomic.Pointer[vector.Store]
	reloading atomic.Bool
}

// NewReloader creates a reloader around the given handle builder. The state
// starts at Reloading: not ready until the first successful Reload.
// drainDelay is how long a replaced handle stays open for in-flight queries.
func NewReloader(build BuildFunc, drainDelay time.Duration, log *slog.Logger) *Reloader {
	if log == nil {
		log = slog.Default()
	}
	return &Reloader{build: build, drainDelay: drainDelay, log: log}
}

// Reload builds a complete new handle and swaps it in atomically. On build
// failure the previous handle stays live and the state returns to Ready
// unchanged; a failed reload never leaves the service permanently unready.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reloading.Store(true)
	defer r.reloading.Store(false)

	store, err := r.build(ctx)
	if err != nil {
		r.log.Error("reload failed, keeping current handle", "error", err)
		return err
	}

	old := r.handle.Swap(&store)
	r.log.Info("vector store handle reloaded")
	if old != nil {
		r.retire(*old)
	}
	return nil
}

// Store returns the current handle. ok is false before the first successful
// reload.
func (r *Reloader) Store() (vector.Store, bool) {
	p := r.handle.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Ready reports whether traffic should be served: a handle is live and no
// reload is in flight.
func (r *Reloader) Ready() bool {
	return !r.reloading.Load() && r.handle.Load() != nil
}

// Close releases the live handle.
func (r *Reloader) Close() error {
	p := r.handle.Swap(nil)
	if p == nil {
		return nil
	}
	return (*p).Close()
}

// retire closes a replaced handle after the drain delay, giving queries that
// picked it up before the swap time to finish.
func (r *Reloader) retire(old vector.Store) {
	if r.drainDelay <= 0 {
		if err := old.Close(); err != nil {
			r.log.Error("closing retired handle", "error", err)
		}
		return
	}
	time.AfterFunc(r.drainDelay, func() {
		if err := old.Close(); err != nil {
			r.log.Error("closing retired handle", "error", err)
		}
	})
}

// Package registry holds the set of workers currently reachable by id.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lazyd/internal/worker"
)

// Entry is one registered worker.
type Entry struct {
	ID            string
	Handler       worker.Handle
	ModelType     string
	ContextLength int
	ModelPath     string
	// IdleTimeout is the declared idle limit in seconds; <= 0 disables idle unloads.
	IdleTimeout  int
	RegisteredAt time.Time
}

type duplicateError struct{ id string }

func (e duplicateError) Error() string { return "worker already registered: " + e.id }

// Registry maps worker ids to handlers. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds e. It fails if the id is already present.
func (r *Registry) Register(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("register: empty worker id")
	}
	if e.Handler == nil {
		return fmt.Errorf("register %s: nil handler", e.ID)
	}
	if e.RegisteredAt.IsZero() {
		e.RegisteredAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return duplicateError{id: e.ID}
	}
	r.entries[e.ID] = e
	return nil
}

// Unregister removes id and cleans up its handler. It reports whether the
// id was present; the cleanup error is returned as-is.
func (r *Registry) Unregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, e.Handler.Cleanup(ctx)
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// List returns a snapshot sorted by id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CleanupAll unregisters every worker and returns the first cleanup error.
func (r *Registry) CleanupAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Entry)
	r.mu.Unlock()
	var first error
	for id, e := range entries {
		if err := e.Handler.Cleanup(ctx); err != nil && first == nil {
			first = fmt.Errorf("cleanup %s: %w", id, err)
		}
	}
	return first
}

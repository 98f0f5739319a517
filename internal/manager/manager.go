package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"lazyd/internal/config"
	"lazyd/internal/lazy"
	"lazyd/internal/registry"
	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

type Manager struct {
	reg          *registry.Registry
	src          config.Source
	factory      worker.Factory
	defaultModel string
	autoLoad     bool
	publisher    EventPublisher
	log          zerolog.Logger
	now          func() time.Time
	startedAt    time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	lastErr string

	ready   atomic.Bool
	loads   atomic.Uint64
	unloads atomic.Uint64
}

// lockFor returns the mutex serializing Load/Unload for id.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) setLastErr(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Ready reports whether Bootstrap completed.
func (m *Manager) Ready() bool { return m.ready.Load() }

// ListModels returns every registered worker. It has no side effects: a cold
// lazy worker is reported as not loaded and is not activated.
func (m *Manager) ListModels() []types.ModelEntry {
	entries := m.reg.List()
	out := make([]types.ModelEntry, 0, len(entries))
	for _, e := range entries {
		me := types.ModelEntry{
			WorkerID:      e.ID,
			ModelType:     e.ModelType,
			ContextLength: e.ContextLength,
			IdleTimeout:   e.IdleTimeout,
			Loaded:        true,
		}
		if lh, ok := e.Handler.(*lazy.Handle); ok {
			me.Lazy = true
			me.Loaded = lh.IsLoaded()
			if t := lh.LastActivity(); !t.IsZero() {
				me.LastUsed = t.Unix()
			}
		}
		out = append(out, me)
	}
	return out
}

// Stats returns the queue statistics of a registered worker verbatim.
func (m *Manager) Stats(ctx context.Context, id string) (types.StatsResponse, error) {
	e, ok := m.reg.Get(id)
	if !ok {
		return types.StatsResponse{}, ErrNotFound(id)
	}
	st, err := e.Handler.QueueStats(ctx)
	if err != nil {
		return types.StatsResponse{}, err
	}
	return types.StatsResponse{WorkerID: id, QueueStats: st}, nil
}

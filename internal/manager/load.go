package manager

import (
	"context"
	"fmt"
	"time"

	"lazyd/internal/config"
	"lazyd/internal/lazy"
	"lazyd/internal/registry"
	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

// Bootstrap registers every configured worker. Eager workers are started,
// lazy workers are registered cold. On any failure everything registered so
// far is cleaned up and the error is returned.
func (m *Manager) Bootstrap(ctx context.Context) error {
	workers, err := m.src.Workers()
	if err != nil {
		return fmt.Errorf("read worker config: %w", err)
	}
	for _, wc := range workers {
		l := m.lockFor(wc.ModelID)
		l.Lock()
		err := m.register(ctx, wc, !wc.Lazy)
		l.Unlock()
		if err != nil {
			m.publisher.Publish(Event{Name: EventBootstrapError, WorkerID: wc.ModelID, Fields: map[string]any{"error": err.Error()}})
			m.log.Error().Str("event", EventBootstrapError).Str("worker_id", wc.ModelID).Err(err).Msg("bootstrap failed")
			m.setLastErr(err)
			if cerr := m.reg.CleanupAll(context.WithoutCancel(ctx)); cerr != nil {
				m.log.Warn().Err(cerr).Msg("cleanup after failed bootstrap")
			}
			return err
		}
		m.log.Info().Str("worker_id", wc.ModelID).Bool("lazy", wc.Lazy).Msg("worker registered")
	}
	m.ready.Store(true)
	m.publisher.Publish(Event{Name: EventBootstrapDone, Fields: map[string]any{"workers": len(workers)}})
	return nil
}

// Load registers a worker from the current configuration and activates it.
// Loading a registered worker is a no-op reporting already_loaded.
func (m *Manager) Load(ctx context.Context, id string) (types.LoadResponse, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if m.reg.Has(id) {
		return types.LoadResponse{Status: types.StatusAlreadyLoaded, WorkerID: id}, nil
	}
	wc, err := m.src.Lookup(id)
	if err != nil {
		if config.IsNotConfigured(err) {
			return types.LoadResponse{}, ErrNotFound(id)
		}
		m.setLastErr(err)
		return types.LoadResponse{}, fmt.Errorf("read worker config: %w", err)
	}

	m.publisher.Publish(Event{Name: EventLoadStart, WorkerID: id, Fields: map[string]any{"lazy": wc.Lazy}})
	t0 := time.Now()
	if err := m.register(ctx, wc, true); err != nil {
		m.publisher.Publish(Event{Name: EventLoadError, WorkerID: id, Fields: map[string]any{"error": err.Error()}})
		m.log.Warn().Str("event", EventLoadError).Str("worker_id", id).Err(err).Msg("load failed")
		m.setLastErr(err)
		return types.LoadResponse{}, err
	}
	m.loads.Add(1)
	m.publisher.Publish(Event{Name: EventLoadDone, WorkerID: id, Fields: map[string]any{"dur_ms": time.Since(t0).Milliseconds()}})
	m.log.Info().Str("event", EventLoadDone).Str("worker_id", id).Dur("dur", time.Since(t0)).Msg("worker loaded")
	return types.LoadResponse{Status: types.StatusLoaded, WorkerID: id, ModelPath: wc.ModelPath}, nil
}

// register builds a handle for wc, optionally activates it, and adds it to
// the registry. Caller holds the id lock.
func (m *Manager) register(ctx context.Context, wc config.WorkerConfig, activate bool) error {
	h, err := m.build(ctx, wc, activate)
	if err != nil {
		return err
	}
	err = m.reg.Register(registry.Entry{
		ID:            wc.ModelID,
		Handler:       h,
		ModelType:     wc.ModelType,
		ContextLength: wc.ContextLength,
		ModelPath:     wc.ModelPath,
		IdleTimeout:   wc.IdleTimeout,
		RegisteredAt:  m.now(),
	})
	if err != nil {
		_ = h.Cleanup(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (m *Manager) build(ctx context.Context, wc config.WorkerConfig, activate bool) (worker.Handle, error) {
	if m.factory == nil {
		return nil, fmt.Errorf("no worker factory configured")
	}
	qc := worker.QueueConfigFrom(wc)
	if wc.Lazy {
		lh := lazy.New(lazy.Config{
			WorkerID: wc.ModelID,
			Queue:    qc,
			Build:    func() worker.Handle { return m.factory(wc) },
			Logger:   &m.log,
			Now:      m.now,
		})
		if activate {
			if err := lh.EnsureStarted(ctx); err != nil {
				return nil, err
			}
		}
		return lh, nil
	}
	h := m.factory(wc)
	if err := h.Start(ctx, qc); err != nil {
		_ = h.Cleanup(context.WithoutCancel(ctx))
		return nil, activationFailureError{id: wc.ModelID, err: err}
	}
	return h, nil
}

package manager

import (
	"context"
	"fmt"

	"lazyd/pkg/types"
)

// Unload removes a registered worker and releases its resources. It is
// refused with a conflict error while the worker reports active requests.
// A failing stats read does not block the unload.
func (m *Manager) Unload(ctx context.Context, id string) (types.UnloadResponse, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	e, ok := m.reg.Get(id)
	if !ok {
		return types.UnloadResponse{}, ErrNotFound(id)
	}
	st, err := e.Handler.QueueStats(ctx)
	switch {
	case err != nil:
		m.log.Warn().Str("worker_id", id).Err(err).Msg("stats unavailable, unloading anyway")
	case st.ActiveRequests > 0:
		m.publisher.Publish(Event{Name: EventUnloadConflict, WorkerID: id, Fields: map[string]any{"active_requests": st.ActiveRequests}})
		m.log.Info().Str("event", EventUnloadConflict).Str("worker_id", id).Int("active_requests", st.ActiveRequests).Msg("unload refused")
		return types.UnloadResponse{}, conflictError{id: id, active: st.ActiveRequests}
	}

	_, cerr := m.reg.Unregister(ctx, id)
	m.unloads.Add(1)
	m.publisher.Publish(Event{Name: EventUnloadDone, WorkerID: id})
	if cerr != nil {
		m.setLastErr(cerr)
		m.log.Warn().Str("worker_id", id).Err(cerr).Msg("worker unregistered but cleanup failed")
		return types.UnloadResponse{}, fmt.Errorf("cleanup %s: %w", id, cerr)
	}
	m.log.Info().Str("event", EventUnloadDone).Str("worker_id", id).Msg("worker unloaded")
	return types.UnloadResponse{Status: types.StatusUnloaded, WorkerID: id, Timestamp: m.now().Unix()}, nil
}

// Shutdown cleans up every registered worker.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.ready.Store(false)
	return m.reg.CleanupAll(ctx)
}

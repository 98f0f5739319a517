package manager

import (
	"lazyd/internal/lazy"
	"lazyd/pkg/types"
)

// ServingModels lists the workers currently reachable by the serving path.
func (m *Manager) ServingModels() types.ServingModelsResponse {
	entries := m.reg.List()
	resp := types.ServingModelsResponse{Object: "list", Data: make([]types.ServingModel, 0, len(entries))}
	for _, e := range entries {
		resp.Data = append(resp.Data, types.ServingModel{ID: e.ID, Object: "model", OwnedBy: "lazyd"})
	}
	return resp
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	now := m.now()
	entries := m.reg.List()
	resp := types.StatusResponse{
		Workers:        make([]types.WorkerStatus, 0, len(entries)),
		UptimeSeconds:  int64(now.Sub(m.startedAt).Seconds()),
		ServerTimeUnix: now.Unix(),
		LoadsTotal:     m.loads.Load(),
		UnloadsTotal:   m.unloads.Load(),
	}
	m.mu.Lock()
	resp.LastError = m.lastErr
	m.mu.Unlock()
	for _, e := range entries {
		ws := types.WorkerStatus{
			WorkerID:     e.ID,
			State:        lazy.Loaded.String(),
			IdleTimeout:  e.IdleTimeout,
			RegisteredAt: e.RegisteredAt.Unix(),
		}
		if lh, ok := e.Handler.(*lazy.Handle); ok {
			ws.Lazy = true
			ws.State = lh.State().String()
			ws.Generation = lh.Generation()
			if t := lh.LastActivity(); !t.IsZero() {
				ws.LastUsed = t.Unix()
			}
		}
		resp.Workers = append(resp.Workers, ws)
	}
	return resp
}

package watchdog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EntryStatus is the JSON view of an Entry.
type EntryStatus struct {
	WorkerID           string `json:"worker_id"`
	IdleTimeoutSeconds int64  `json:"idle_timeout_seconds"`
	AlwaysLoaded       bool   `json:"always_loaded"`
	Loaded             bool   `json:"loaded"`
	ActiveRequests     int    `json:"active_requests"`
	LastUsed           int64  `json:"last_used_unix"`
	IdleSeconds        int64  `json:"idle_seconds"`
}

// StatusResponse is served at GET /status.
type StatusResponse struct {
	Entries       []EntryStatus `json:"entries"`
	LastTick      int64         `json:"last_tick_unix,omitempty"`
	LastTickError string        `json:"last_tick_error,omitempty"`
}

// Status builds the current status snapshot.
func (w *Watchdog) Status() StatusResponse {
	now := w.now()
	entries := w.Entries()
	resp := StatusResponse{Entries: make([]EntryStatus, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EntryStatus{
			WorkerID:           e.WorkerID,
			IdleTimeoutSeconds: int64(e.IdleTimeout.Seconds()),
			AlwaysLoaded:       e.AlwaysLoaded,
			Loaded:             e.Loaded,
			ActiveRequests:     e.ActiveRequests,
			LastUsed:           e.LastUsed.Unix(),
			IdleSeconds:        int64(e.Idle(now).Seconds()),
		})
	}
	if t, msg := w.LastTick(); !t.IsZero() {
		resp.LastTick = t.Unix()
		resp.LastTickError = msg
	}
	return resp
}

// NewStatusMux exposes /healthz, /metrics and /status for the watchdog.
func NewStatusMux(w *Watchdog) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/status", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(w.Status())
	})
	return r
}

package watchdog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"lazyd/internal/config"
	"lazyd/pkg/types"
)

// fakeControlPlane mimics the lazyd lifecycle API.
type fakeControlPlane struct {
	mu           sync.Mutex
	loaded       map[string]bool
	active       map[string]int
	token        string
	listFail     bool
	loadFail     bool
	statsMissing bool
	// unloadStatus forces a response code for unload when non-zero.
	unloadStatus int
	unloadActive int

	lists      int
	statsCalls int
	loads      []string
	unloads    []string
}

func newFakeControlPlane(loaded ...string) *fakeControlPlane {
	f := &fakeControlPlane{loaded: map[string]bool{}, active: map[string]int{}}
	for _, id := range loaded {
		f.loaded[id] = true
	}
	return f
}

func (f *fakeControlPlane) set(fn func(f *fakeControlPlane)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeControlPlane) get(fn func(f *fakeControlPlane)) { f.set(fn) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeControlPlane) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lists++
		if f.listFail {
			writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: "boom", Code: 500})
			return
		}
		ids := make([]string, 0, len(f.loaded))
		for id := range f.loaded {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		resp := types.ServingModelsResponse{Object: "list"}
		for _, id := range ids {
			resp.Data = append(resp.Data, types.ServingModel{ID: id, Object: "model", OwnedBy: "lazyd"})
		}
		writeJSON(w, http.StatusOK, resp)
	})
	r.Route("/v1/admin/models/{id}", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if f.token != "" && r.Header.Get("Authorization") != "Bearer "+f.token {
					writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: "unauthorized", Code: 401})
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			f.mu.Lock()
			defer f.mu.Unlock()
			f.statsCalls++
			if !f.loaded[id] || f.statsMissing {
				writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "worker not found: " + id, Code: 404})
				return
			}
			writeJSON(w, http.StatusOK, types.StatsResponse{WorkerID: id, QueueStats: types.QueueStats{ActiveRequests: f.active[id]}})
		})
		r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.unloadStatus != 0 {
				writeJSON(w, f.unloadStatus, types.ErrorResponse{Error: "forced", Code: f.unloadStatus, ActiveRequests: f.unloadActive})
				return
			}
			if !f.loaded[id] {
				writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "worker not found: " + id, Code: 404})
				return
			}
			if n := f.active[id]; n > 0 {
				writeJSON(w, http.StatusConflict, types.ErrorResponse{Error: "busy", Code: 409, ActiveRequests: n})
				return
			}
			delete(f.loaded, id)
			f.unloads = append(f.unloads, id)
			writeJSON(w, http.StatusOK, types.UnloadResponse{Status: types.StatusUnloaded, WorkerID: id, Timestamp: 1})
		})
		r.Post("/load", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.loadFail {
				writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: "activation failed", Code: 503})
				return
			}
			if f.loaded[id] {
				writeJSON(w, http.StatusOK, types.LoadResponse{Status: types.StatusAlreadyLoaded, WorkerID: id})
				return
			}
			f.loaded[id] = true
			f.loads = append(f.loads, id)
			writeJSON(w, http.StatusOK, types.LoadResponse{Status: types.StatusLoaded, WorkerID: id})
		})
	})
	return r
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	wd    *Watchdog
	cp    *fakeControlPlane
	clock *fakeClock
	srv   *httptest.Server
}

func newFixture(t *testing.T, cp *fakeControlPlane, models ...config.WatchedModel) *fixture {
	t.Helper()
	srv := httptest.NewServer(cp.handler())
	t.Cleanup(srv.Close)
	clock := newFakeClock()
	wd, err := New(Config{
		Client:      NewClient(srv.URL, cp.token, 5*time.Second),
		Models:      models,
		Interval:    time.Hour,
		Parallelism: 2,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{wd: wd, cp: cp, clock: clock, srv: srv}
}

func (fx *fixture) entry(t *testing.T, id string) Entry {
	t.Helper()
	e, ok := fx.wd.Entry(id)
	if !ok {
		t.Fatalf("no entry %q", id)
	}
	return e
}

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lazyd/internal/config"
	"lazyd/internal/httpapi"
	"lazyd/internal/manager"
	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

// gatedHandle is an in-memory worker whose generations can be held open so
// tests can observe real admission counters.
type gatedHandle struct {
	f   *gatedFactory
	cfg config.WorkerConfig
	id  string

	mu      sync.Mutex
	adm     *worker.Admission
	started bool
	closed  bool
}

func (h *gatedHandle) InstanceID() string { return h.id }

func (h *gatedHandle) Start(_ context.Context, qc worker.QueueConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return worker.ErrHandleClosed
	}
	if h.started {
		return nil
	}
	h.f.starts.Add(1)
	h.adm = worker.NewAdmission(qc)
	h.started = true
	return nil
}

func (h *gatedHandle) Cleanup(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.f.cleanups.Add(1)
	}
	h.closed = true
	h.started = false
	return nil
}

func (h *gatedHandle) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error) {
	return h.GenerateStream(ctx, req, nil)
}

func (h *gatedHandle) GenerateStream(ctx context.Context, req types.GenerateRequest, onChunk func(string) error) (types.GenerateResult, error) {
	h.mu.Lock()
	adm, closed, started := h.adm, h.closed, h.started
	h.mu.Unlock()
	if closed {
		return types.GenerateResult{}, worker.ErrHandleClosed
	}
	if !started {
		return types.GenerateResult{}, worker.ErrNotStarted
	}
	release, err := adm.Acquire(ctx)
	if err != nil {
		return types.GenerateResult{}, err
	}
	defer release()
	if onChunk != nil {
		if err := onChunk("echo:" + req.Prompt); err != nil {
			return types.GenerateResult{}, err
		}
	}
	select {
	case <-h.f.gate(h.cfg.ModelID):
	case <-ctx.Done():
		return types.GenerateResult{}, ctx.Err()
	}
	return types.GenerateResult{Content: "echo:" + req.Prompt, FinishReason: "stop", Usage: types.Usage{CompletionTokens: 1, TotalTokens: 1}}, nil
}

func (h *gatedHandle) QueueStats(context.Context) (types.QueueStats, error) {
	h.mu.Lock()
	adm := h.adm
	h.mu.Unlock()
	st := types.QueueStats{InstanceID: h.id}
	if adm != nil {
		active, queued, total := adm.Stats()
		st.ActiveRequests, st.QueuedRequests, st.TotalRequests = active, queued, total
		st.MaxConcurrency, st.QueueSize = adm.Capacity()
	}
	return st, nil
}

var closedGate = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

type gatedFactory struct {
	starts   atomic.Int32
	cleanups atomic.Int32
	seq      atomic.Int32

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedFactory() *gatedFactory {
	return &gatedFactory{gates: map[string]chan struct{}{}}
}

func (f *gatedFactory) Build(cfg config.WorkerConfig) worker.Handle {
	return &gatedHandle{f: f, cfg: cfg, id: fmt.Sprintf("%s-%d", cfg.ModelID, f.seq.Add(1))}
}

// hold makes generations on id block until release is called.
func (f *gatedFactory) hold(id string) {
	f.mu.Lock()
	f.gates[id] = make(chan struct{})
	f.mu.Unlock()
}

func (f *gatedFactory) release(id string) {
	f.mu.Lock()
	if c, ok := f.gates[id]; ok {
		close(c)
		delete(f.gates, id)
	}
	f.mu.Unlock()
}

func (f *gatedFactory) gate(id string) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.gates[id]; ok {
		return c
	}
	return closedGate
}

type stack struct {
	srv *httptest.Server
	mgr *manager.Manager
	ff  *gatedFactory
	src *config.StaticSource
}

func newStack(t *testing.T, ws ...config.WorkerConfig) *stack {
	t.Helper()
	ff := newGatedFactory()
	src := config.NewStaticSource(ws...)
	mgr := manager.NewWithConfig(manager.ManagerConfig{Source: src, Factory: ff.Build, AutoLoad: true})
	if err := mgr.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Shutdown(context.Background())
	})
	return &stack{srv: srv, mgr: mgr, ff: ff, src: src}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	return do(t, req)
}

func httpPost(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	return do(t, req)
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// inferAsync posts /infer in the background and reports the status code.
func inferAsync(t *testing.T, base, model string) <-chan int {
	t.Helper()
	out := make(chan int, 1)
	payload := []byte(`{"model":"` + model + `","prompt":"hi"}`)
	go func() {
		req, err := http.NewRequest(http.MethodPost, base+"/infer", bytes.NewReader(payload))
		if err != nil {
			out <- -1
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			out <- -1
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		out <- resp.StatusCode
	}()
	return out
}

func queueStats(t *testing.T, base, id string) (int, types.QueueStats) {
	t.Helper()
	resp, body := httpGet(t, base+"/v1/admin/models/"+id+"/stats")
	var sr types.StatsResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &sr); err != nil {
			t.Fatalf("decode stats: %v", err)
		}
	}
	return resp.StatusCode, sr.QueueStats
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// parseNDJSON returns the streamed tokens and the final done line.
func parseNDJSON(t *testing.T, body []byte) ([]string, map[string]any) {
	t.Helper()
	var toks []string
	var final map[string]any
	for _, ln := range strings.Split(string(body), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			t.Fatalf("bad ndjson line %q: %v", ln, err)
		}
		if tok, ok := m["token"].(string); ok {
			toks = append(toks, tok)
		}
		if done, _ := m["done"].(bool); done {
			final = m
		}
	}
	return toks, final
}

func modelEntry(t *testing.T, base, id string) (types.ModelEntry, bool) {
	t.Helper()
	_, body := httpGet(t, base+"/v1/admin/models")
	var mr types.ModelsResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	for _, e := range mr.Models {
		if e.WorkerID == id {
			return e, true
		}
	}
	return types.ModelEntry{}, false
}

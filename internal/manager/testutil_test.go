package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"lazyd/internal/config"
	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

// fakeHandle is an in-memory worker used by manager tests.
type fakeHandle struct {
	f   *fakeFactory
	cfg config.WorkerConfig
	id  string

	mu       sync.Mutex
	started  bool
	closed   bool
	active   int
	statsErr error
	genErr   error
}

func (h *fakeHandle) InstanceID() string { return h.id }

func (h *fakeHandle) Start(ctx context.Context, _ worker.QueueConfig) error {
	h.f.starts.Add(1)
	if err := h.f.startErrFor(h.cfg.ModelID); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return worker.ErrHandleClosed
	}
	h.started = true
	return nil
}

func (h *fakeHandle) Cleanup(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.f.cleanups.Add(1)
	}
	h.closed = true
	h.started = false
	return nil
}

func (h *fakeHandle) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error) {
	return h.GenerateStream(ctx, req, nil)
}

func (h *fakeHandle) GenerateStream(_ context.Context, req types.GenerateRequest, onChunk func(string) error) (types.GenerateResult, error) {
	h.mu.Lock()
	started, closed, genErr := h.started, h.closed, h.genErr
	h.mu.Unlock()
	if closed {
		return types.GenerateResult{}, worker.ErrHandleClosed
	}
	if !started {
		return types.GenerateResult{}, worker.ErrNotStarted
	}
	if genErr != nil {
		return types.GenerateResult{}, genErr
	}
	toks := []string{"Hello", ",", " world"}
	for _, t := range toks {
		if onChunk != nil {
			if err := onChunk(t); err != nil {
				return types.GenerateResult{}, err
			}
		}
	}
	return types.GenerateResult{Content: "Hello, world", FinishReason: "stop", Usage: types.Usage{CompletionTokens: 3, TotalTokens: 3}}, nil
}

func (h *fakeHandle) QueueStats(context.Context) (types.QueueStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.statsErr != nil {
		return types.QueueStats{}, h.statsErr
	}
	return types.QueueStats{ActiveRequests: h.active, InstanceID: h.id}, nil
}

func (h *fakeHandle) setActive(n int) {
	h.mu.Lock()
	h.active = n
	h.mu.Unlock()
}

// fakeFactory builds fakeHandles and records them per worker id.
type fakeFactory struct {
	starts   atomic.Int32
	cleanups atomic.Int32
	seq      atomic.Int32

	mu        sync.Mutex
	startErrs map[string]error
	built     map[string][]*fakeHandle
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{startErrs: map[string]error{}, built: map[string][]*fakeHandle{}}
}

func (f *fakeFactory) Build(cfg config.WorkerConfig) worker.Handle {
	h := &fakeHandle{f: f, cfg: cfg, id: fmt.Sprintf("%s-%d", cfg.ModelID, f.seq.Add(1))}
	f.mu.Lock()
	f.built[cfg.ModelID] = append(f.built[cfg.ModelID], h)
	f.mu.Unlock()
	return h
}

func (f *fakeFactory) failStart(id string, err error) {
	f.mu.Lock()
	f.startErrs[id] = err
	f.mu.Unlock()
}

func (f *fakeFactory) startErrFor(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startErrs[id]
}

// latest returns the most recently built handle for id.
func (f *fakeFactory) latest(id string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.built[id]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

var errBoom = errors.New("boom")

func newTestManager(ws ...config.WorkerConfig) (*Manager, *fakeFactory, *config.StaticSource, *MemoryPublisher) {
	ff := newFakeFactory()
	src := config.NewStaticSource(ws...)
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{Source: src, Factory: ff.Build, AutoLoad: true, Publisher: pub})
	return m, ff, src, pub
}

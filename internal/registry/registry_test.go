package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

type stubHandle struct {
	cleanups int
	err      error
}

func (s *stubHandle) Start(context.Context, worker.QueueConfig) error { return nil }
func (s *stubHandle) Cleanup(context.Context) error                   { s.cleanups++; return s.err }
func (s *stubHandle) Generate(context.Context, types.GenerateRequest) (types.GenerateResult, error) {
	return types.GenerateResult{}, nil
}
func (s *stubHandle) GenerateStream(context.Context, types.GenerateRequest, func(string) error) (types.GenerateResult, error) {
	return types.GenerateResult{}, nil
}
func (s *stubHandle) QueueStats(context.Context) (types.QueueStats, error) {
	return types.QueueStats{}, nil
}
func (s *stubHandle) InstanceID() string { return "stub" }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	h := &stubHandle{}
	if err := r.Register(Entry{ID: "b", Handler: h, ModelType: "lm"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Entry{ID: "a", Handler: &stubHandle{}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.Has("b") || r.Has("c") || r.Len() != 2 {
		t.Fatalf("unexpected membership")
	}
	e, ok := r.Get("b")
	if !ok || e.ModelType != "lm" || e.RegisteredAt.IsZero() {
		t.Fatalf("get: %+v %v", e, ok)
	}
	l := r.List()
	if len(l) != 2 || l[0].ID != "a" || l[1].ID != "b" {
		t.Fatalf("list not sorted: %+v", l)
	}
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	r := New()
	_ = r.Register(Entry{ID: "a", Handler: &stubHandle{}})
	if err := r.Register(Entry{ID: "a", Handler: &stubHandle{}}); err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := r.Register(Entry{Handler: &stubHandle{}}); err == nil {
		t.Fatalf("expected empty id error")
	}
	if err := r.Register(Entry{ID: "x"}); err == nil {
		t.Fatalf("expected nil handler error")
	}
}

func TestUnregisterCleansUp(t *testing.T) {
	r := New()
	h := &stubHandle{}
	_ = r.Register(Entry{ID: "a", Handler: h})
	ok, err := r.Unregister(context.Background(), "a")
	if !ok || err != nil || h.cleanups != 1 || r.Has("a") {
		t.Fatalf("unregister: ok=%v err=%v cleanups=%d", ok, err, h.cleanups)
	}
	ok, err = r.Unregister(context.Background(), "a")
	if ok || err != nil {
		t.Fatalf("second unregister: ok=%v err=%v", ok, err)
	}
}

func TestUnregisterCleanupErrorStillRemoves(t *testing.T) {
	r := New()
	boom := errors.New("stuck")
	_ = r.Register(Entry{ID: "a", Handler: &stubHandle{err: boom}})
	ok, err := r.Unregister(context.Background(), "a")
	if !ok || !errors.Is(err, boom) || r.Has("a") {
		t.Fatalf("ok=%v err=%v has=%v", ok, err, r.Has("a"))
	}
}

func TestCleanupAll(t *testing.T) {
	r := New()
	a, b := &stubHandle{}, &stubHandle{err: errors.New("x")}
	_ = r.Register(Entry{ID: "a", Handler: a})
	_ = r.Register(Entry{ID: "b", Handler: b})
	if err := r.CleanupAll(context.Background()); err == nil {
		t.Fatalf("expected first cleanup error")
	}
	if a.cleanups != 1 || b.cleanups != 1 || r.Len() != 0 {
		t.Fatalf("cleanup counts a=%d b=%d len=%d", a.cleanups, b.cleanups, r.Len())
	}
}

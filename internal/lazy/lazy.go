// Package lazy defers worker start-up until first use and lets a worker be
// unloaded and later rebuilt behind the same identifier.
package lazy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"lazyd/internal/worker"
	"lazyd/pkg/types"
)

// State is the activation state of a lazy handle.
type State int32

const (
	Unloaded State = iota
	Starting
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Starting:
		return "starting"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type activationError struct {
	id  string
	err error
}

func (e activationError) Error() string {
	return fmt.Sprintf("activate %s: %v", e.id, e.err)
}

func (e activationError) Unwrap() error { return e.err }

// IsActivationError reports whether err came from a failed activation.
func IsActivationError(err error) bool {
	var e activationError
	return errors.As(err, &e)
}

// Config describes how to build the wrapped worker.
type Config struct {
	WorkerID string
	Queue    worker.QueueConfig
	// Build returns a fresh, unstarted handle. Called once at construction
	// and again after every unload or failed start.
	Build  func() worker.Handle
	Logger *zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handle wraps one worker.Handle and starts it on first use.
// A *Handle is itself a worker.Handle; Start and Cleanup map to
// EnsureStarted and Unload and never make the wrapper terminal.
type Handle struct {
	id    string
	qc    worker.QueueConfig
	build func() worker.Handle
	log   zerolog.Logger
	now   func() time.Time

	// gate serializes activation and unload.
	gate sync.Mutex
	sf   singleflight.Group

	mu    sync.RWMutex
	inner worker.Handle
	state State
	last  time.Time
	gen   uint64

	// afterStart runs between activation and delegation; tests only.
	afterStart func()
}

// New returns a cold handle. It does not start anything.
func New(cfg Config) *Handle {
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handle{
		id:    cfg.WorkerID,
		qc:    cfg.Queue,
		build: cfg.Build,
		log:   l.With().Str("worker_id", cfg.WorkerID).Logger(),
		now:   now,
		inner: cfg.Build(),
		state: Unloaded,
		gen:   1,
	}
}

func (h *Handle) WorkerID() string { return h.id }

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handle) IsLoaded() bool { return h.State() == Loaded }

// LastActivity is the time the last request was routed through the handle.
// Zero if it never served.
func (h *Handle) LastActivity() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Generation counts wrapped handles built so far, starting at 1.
func (h *Handle) Generation() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gen
}

// InstanceID identifies the currently wrapped handle.
func (h *Handle) InstanceID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inner.InstanceID()
}

// EnsureStarted activates the worker if it is not loaded. Concurrent callers
// share one underlying Start and observe the same outcome.
func (h *Handle) EnsureStarted(ctx context.Context) error {
	if h.IsLoaded() {
		return nil
	}
	_, err, _ := h.sf.Do("activate", func() (any, error) {
		return nil, h.activate(ctx)
	})
	return err
}

func (h *Handle) activate(ctx context.Context) error {
	h.gate.Lock()
	defer h.gate.Unlock()

	h.mu.Lock()
	if h.state == Loaded {
		h.mu.Unlock()
		return nil
	}
	h.state = Starting
	inner := h.inner
	h.mu.Unlock()

	h.log.Info().Str("event", "activate_start").Uint64("generation", h.Generation()).Msg("activating worker")
	t0 := time.Now()
	if err := inner.Start(ctx, h.qc); err != nil {
		// A failed start may leave a half-initialised handle behind.
		_ = inner.Cleanup(context.WithoutCancel(ctx))
		h.mu.Lock()
		h.inner = h.build()
		h.gen++
		h.state = Unloaded
		h.mu.Unlock()
		activationsTotal.WithLabelValues("error").Inc()
		h.log.Warn().Str("event", "activate_error").Err(err).Dur("dur", time.Since(t0)).Msg("activation failed")
		return activationError{id: h.id, err: err}
	}

	h.mu.Lock()
	h.state = Loaded
	h.mu.Unlock()
	activationsTotal.WithLabelValues("ok").Inc()
	h.log.Info().Str("event", "activate_done").Dur("dur", time.Since(t0)).Msg("worker activated")
	return nil
}

// Unload cleans up the wrapped worker and replaces it with a cold one. No-op
// when not loaded. The state is Unloaded afterwards even if cleanup failed.
func (h *Handle) Unload(ctx context.Context) error {
	h.gate.Lock()
	defer h.gate.Unlock()

	h.mu.RLock()
	state, inner := h.state, h.inner
	h.mu.RUnlock()
	if state == Unloaded {
		return nil
	}

	err := inner.Cleanup(ctx)
	h.mu.Lock()
	h.inner = h.build()
	h.gen++
	h.state = Unloaded
	h.mu.Unlock()
	unloadsTotal.Inc()
	if err != nil {
		h.log.Warn().Str("event", "unload_error").Err(err).Msg("worker cleanup failed")
		return fmt.Errorf("unload %s: %w", h.id, err)
	}
	h.log.Info().Str("event", "unload_done").Msg("worker unloaded")
	return nil
}

// Start satisfies worker.Handle.
func (h *Handle) Start(ctx context.Context, _ worker.QueueConfig) error {
	return h.EnsureStarted(ctx)
}

// Cleanup satisfies worker.Handle.
func (h *Handle) Cleanup(ctx context.Context) error { return h.Unload(ctx) }

// acquire activates the worker, stamps activity and returns the started
// handle. An unload landing after activation sends it back to EnsureStarted.
func (h *Handle) acquire(ctx context.Context) (worker.Handle, error) {
	for {
		if err := h.EnsureStarted(ctx); err != nil {
			return nil, err
		}
		if h.afterStart != nil {
			h.afterStart()
		}
		h.mu.Lock()
		if h.state == Loaded {
			h.last = h.now()
			inner := h.inner
			h.mu.Unlock()
			return inner, nil
		}
		h.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Generate retries once when the handle it was given is closed by an unload
// before the request reached it.
func (h *Handle) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error) {
	for attempt := 0; ; attempt++ {
		inner, err := h.acquire(ctx)
		if err != nil {
			return types.GenerateResult{}, err
		}
		res, err := inner.Generate(ctx, req)
		if retryable(err) && attempt == 0 {
			continue
		}
		return res, err
	}
}

// GenerateStream stamps activity before the first chunk is produced. Like
// Generate it retries once on a closed handle, but only if nothing was streamed.
func (h *Handle) GenerateStream(ctx context.Context, req types.GenerateRequest, onChunk func(string) error) (types.GenerateResult, error) {
	for attempt := 0; ; attempt++ {
		inner, err := h.acquire(ctx)
		if err != nil {
			return types.GenerateResult{}, err
		}
		res, err := inner.GenerateStream(ctx, req, onChunk)
		if retryable(err) && attempt == 0 && res.Content == "" {
			continue
		}
		return res, err
	}
}

func retryable(err error) bool {
	return errors.Is(err, worker.ErrHandleClosed) || errors.Is(err, worker.ErrNotStarted)
}

// QueueStats delegates when loaded. A cold worker reports zero activity and
// is not woken up.
func (h *Handle) QueueStats(ctx context.Context) (types.QueueStats, error) {
	h.mu.RLock()
	state, inner := h.state, h.inner
	h.mu.RUnlock()
	if state != Loaded {
		return types.QueueStats{
			InstanceID:     inner.InstanceID(),
			MaxConcurrency: h.qc.MaxConcurrency,
			QueueSize:      h.qc.QueueSize,
		}, nil
	}
	return inner.QueueStats(ctx)
}

var _ worker.Handle = (*Handle)(nil)

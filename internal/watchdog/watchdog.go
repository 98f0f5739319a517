// Package watchdog polls the lifecycle control API and unloads workers that
// have been idle for longer than their configured timeout.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lazyd/internal/config"
)

// Config configures a Watchdog.
type Config struct {
	Client      ControlPlane
	Models      []config.WatchedModel
	Interval    time.Duration
	Parallelism int
	Logger      *zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Watchdog is a single polling loop. Per-entry decisions of one tick run
// concurrently but never overlap the next tick.
type Watchdog struct {
	client   ControlPlane
	interval time.Duration
	par      int
	log      zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	order       []string
	entries     map[string]*Entry
	lastTick    time.Time
	lastTickErr string
}

// New builds a Watchdog. Every entry starts believed loaded with a fresh
// idle timer.
func New(cfg Config) (*Watchdog, error) {
	if cfg.Client == nil {
		return nil, errors.New("watchdog: nil control plane client")
	}
	w := &Watchdog{
		client:   cfg.Client,
		interval: cfg.Interval,
		par:      cfg.Parallelism,
		log:      zerolog.Nop(),
		now:      cfg.Now,
		entries:  make(map[string]*Entry, len(cfg.Models)),
	}
	if w.interval <= 0 {
		w.interval = time.Duration(config.DefaultCheckInterval) * time.Second
	}
	if w.par <= 0 {
		w.par = config.DefaultWatchdogParallelism
	}
	if cfg.Logger != nil {
		w.log = *cfg.Logger
	}
	if w.now == nil {
		w.now = time.Now
	}
	start := w.now()
	for _, m := range cfg.Models {
		if _, dup := w.entries[m.ModelID]; dup {
			return nil, fmt.Errorf("watchdog: duplicate model_id %q", m.ModelID)
		}
		w.order = append(w.order, m.ModelID)
		w.entries[m.ModelID] = &Entry{
			WorkerID:     m.ModelID,
			IdleTimeout:  m.IdleTimeoutDuration(),
			AlwaysLoaded: m.AlwaysLoaded,
			LastUsed:     start,
			Loaded:       true,
		}
		setLoaded(m.ModelID, true)
	}
	return w, nil
}

// Run ticks immediately and then every interval until ctx is canceled.
// A failed tick is logged and never stops the loop.
func (w *Watchdog) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Int("models", len(w.order)).Msg("watchdog started")
	w.runTick(ctx)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watchdog stopped")
			return nil
		case <-t.C:
			w.runTick(ctx)
		}
	}
}

func (w *Watchdog) runTick(ctx context.Context) {
	err := w.Tick(ctx)
	w.mu.Lock()
	w.lastTick = w.now()
	w.lastTickErr = ""
	if err != nil {
		w.lastTickErr = err.Error()
	}
	w.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("watchdog tick failed")
	}
}

// Tick runs one reconcile-and-decide pass. It returns an error only when the
// loaded listing could not be fetched; per-entry failures are logged.
func (w *Watchdog) Tick(ctx context.Context) error {
	loaded, err := w.client.ListLoaded(ctx)
	if err != nil {
		ticksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("list loaded workers: %w", err)
	}
	w.reconcile(loaded)

	var g errgroup.Group
	g.SetLimit(w.par)
	for _, id := range w.order {
		id := id
		g.Go(func() error {
			w.check(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	ticksTotal.WithLabelValues("ok").Inc()
	return nil
}

// reconcile overwrites every entry's Loaded belief with the listing. An entry
// that reappears gets its idle timer reset.
func (w *Watchdog) reconcile(ids []string) {
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.order {
		e := w.entries[id]
		_, ok := present[id]
		switch {
		case ok && !e.Loaded:
			e.LastUsed = now
			w.log.Info().Str("worker_id", id).Str("event", "reappeared").Msg("worker loaded externally")
		case !ok && e.Loaded:
			w.log.Info().Str("worker_id", id).Str("event", "vanished").Msg("worker no longer listed")
		}
		e.Loaded = ok
		setLoaded(id, ok)
	}
}

func (w *Watchdog) snapshot(id string) Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.entries[id]
}

func (w *Watchdog) update(id string, fn func(e *Entry)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.entries[id]
	fn(e)
	setLoaded(id, e.Loaded)
}

func (w *Watchdog) check(ctx context.Context, id string) {
	e := w.snapshot(id)
	log := w.log.With().Str("worker_id", id).Logger()

	if e.AlwaysLoaded {
		if e.Loaded {
			return
		}
		log.Info().Str("event", "reload").Msg("always-loaded worker missing, loading")
		if _, err := w.client.Load(ctx, id); err != nil {
			actionsTotal.WithLabelValues("load", "error").Inc()
			log.Warn().Err(err).Msg("load failed")
			return
		}
		actionsTotal.WithLabelValues("load", "ok").Inc()
		now := w.now()
		w.update(id, func(e *Entry) {
			e.Loaded = true
			e.LastUsed = now
		})
		log.Info().Msg("reloaded")
		return
	}
	if e.IdleTimeout <= 0 || !e.Loaded {
		return
	}

	st, err := w.client.Stats(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		w.update(id, func(e *Entry) { e.Loaded = false })
		log.Info().Msg("not registered, treating as unloaded")
		return
	case err != nil:
		log.Warn().Err(err).Msg("stats failed")
		return
	}

	now := w.now()
	if st.ActiveRequests > 0 {
		w.update(id, func(e *Entry) {
			e.ActiveRequests = st.ActiveRequests
			e.LastUsed = now
		})
		log.Debug().Int("active_requests", st.ActiveRequests).Msg("busy, idle timer reset")
		return
	}
	w.update(id, func(e *Entry) { e.ActiveRequests = 0 })

	idle := e.Idle(now)
	if idle < e.IdleTimeout {
		log.Debug().Dur("idle", idle).Dur("timeout", e.IdleTimeout).Msg("idle")
		return
	}
	log.Info().Dur("idle", idle).Dur("timeout", e.IdleTimeout).Str("event", "unload").Msg("idle timeout reached, unloading")
	if _, err := w.client.Unload(ctx, id); err != nil {
		result := "error"
		var ce *ConflictError
		if errors.As(err, &ce) {
			result = "conflict"
		}
		actionsTotal.WithLabelValues("unload", result).Inc()
		log.Warn().Err(err).Msg("unload failed")
		return
	}
	actionsTotal.WithLabelValues("unload", "ok").Inc()
	w.update(id, func(e *Entry) { e.Loaded = false })
	log.Info().Msg("unloaded")
}

// Entries returns a copy of every entry in configuration order.
func (w *Watchdog) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.entries[id])
	}
	return out
}

// Entry returns a copy of one entry.
func (w *Watchdog) Entry(id string) (Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LastTick returns when the last tick finished and its error, if any.
func (w *Watchdog) LastTick() (time.Time, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTick, w.lastTickErr
}

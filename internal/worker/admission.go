package worker

import (
	"context"
	"sync/atomic"
	"time"
)

// Admission bounds concurrent requests into a worker. A request first takes a
// queue slot (capacity MaxConcurrency+QueueSize) and then one of MaxConcurrency
// in-flight slots, each step bounded by Timeout.
type Admission struct {
	queueCh chan struct{}
	genCh   chan struct{}
	maxWait time.Duration

	active atomic.Int64
	queued atomic.Int64
	total  atomic.Uint64
}

// NewAdmission builds an admission controller. Non-positive sizes fall back to
// one in-flight slot and no waiting room.
func NewAdmission(qc QueueConfig) *Admission {
	conc := qc.MaxConcurrency
	if conc <= 0 {
		conc = 1
	}
	qs := qc.QueueSize
	if qs < 0 {
		qs = 0
	}
	return &Admission{
		queueCh: make(chan struct{}, conc+qs),
		genCh:   make(chan struct{}, conc),
		maxWait: qc.Timeout,
	}
}

// Acquire reserves a slot. The returned release func must be called exactly
// once when the request (including any stream) has finished.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	var timeout <-chan time.Time
	if a.maxWait > 0 {
		timer := time.NewTimer(a.maxWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case a.queueCh <- struct{}{}:
	default:
		// Waiting room is full: reject immediately.
		return func() {}, ErrBusy
	}
	a.queued.Add(1)

	select {
	case a.genCh <- struct{}{}:
		a.queued.Add(-1)
		a.active.Add(1)
		a.total.Add(1)
		var released atomic.Bool
		return func() {
			if !released.CompareAndSwap(false, true) {
				return
			}
			a.active.Add(-1)
			<-a.genCh
			<-a.queueCh
		}, nil
	case <-ctx.Done():
		a.queued.Add(-1)
		<-a.queueCh
		return func() {}, ctx.Err()
	case <-timeout:
		a.queued.Add(-1)
		<-a.queueCh
		return func() {}, ErrBusy
	}
}

// Stats returns active and queued request counts plus admissions since creation.
func (a *Admission) Stats() (active, queued int, total uint64) {
	return int(a.active.Load()), int(a.queued.Load()), a.total.Load()
}

// Capacity reports the configured in-flight and waiting-room sizes.
func (a *Admission) Capacity() (maxConcurrency, queueSize int) {
	return cap(a.genCh), cap(a.queueCh) - cap(a.genCh)
}

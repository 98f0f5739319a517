// Package worker defines the capability set of one inference worker and a
// subprocess-backed implementation that spawns an OpenAI-compatible server.
package worker

import (
	"context"
	"errors"
	"time"

	"lazyd/internal/config"
	"lazyd/pkg/types"
)

// ErrHandleClosed is returned by Start once a handle has been cleaned up.
// Handles are single-use; build a fresh one instead.
var ErrHandleClosed = errors.New("worker handle closed")

// ErrNotStarted is returned when a request reaches a handle that was never started.
var ErrNotStarted = errors.New("worker not started")

// ErrBusy signals that the admission queue is full or the wait timed out.
var ErrBusy = errors.New("worker busy")

// QueueConfig bounds admission into one worker.
type QueueConfig struct {
	MaxConcurrency int
	QueueSize      int
	Timeout        time.Duration
}

// QueueConfigFrom extracts the queue parameters of a worker declaration.
func QueueConfigFrom(c config.WorkerConfig) QueueConfig {
	return QueueConfig{
		MaxConcurrency: c.MaxConcurrency,
		QueueSize:      c.QueueSize,
		Timeout:        c.QueueTimeoutDuration(),
	}
}

// Handle is one worker instance. Implementations must be safe for concurrent
// use once started.
type Handle interface {
	// Start makes the worker ready to serve. Blocking; honours ctx.
	Start(ctx context.Context, qc QueueConfig) error
	// Cleanup releases the worker. After Cleanup the handle is terminal.
	Cleanup(ctx context.Context) error
	// Generate runs one request to completion.
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error)
	// GenerateStream runs one request, invoking onChunk for every fragment.
	// The returned result carries the concatenated content.
	GenerateStream(ctx context.Context, req types.GenerateRequest, onChunk func(string) error) (types.GenerateResult, error)
	// QueueStats reports admission state. A handle that has not been
	// started reports zero activity.
	QueueStats(ctx context.Context) (types.QueueStats, error)
	// InstanceID is unique per constructed handle.
	InstanceID() string
}

// Factory builds a fresh, unstarted handle for a worker declaration.
type Factory func(cfg config.WorkerConfig) Handle

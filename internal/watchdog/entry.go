package watchdog

import "time"

// Entry is the watchdog's local belief about one worker. It caches remote
// truth and is reconciled against the control plane every tick.
type Entry struct {
	WorkerID     string
	IdleTimeout  time.Duration
	AlwaysLoaded bool
	// LastUsed is a local estimate: reset whenever requests are observed in
	// flight or the worker (re)appears as loaded.
	LastUsed       time.Time
	Loaded         bool
	ActiveRequests int
}

// Idle returns how long the entry has been idle at now.
func (e Entry) Idle(now time.Time) time.Duration { return now.Sub(e.LastUsed) }

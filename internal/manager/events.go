package manager

// Event is a lifecycle event: name, worker id and optional fields.
type Event struct {
	Name     string
	WorkerID string
	Fields   map[string]any
}

// Event names.
const (
	EventLoadStart      = "load_start"
	EventLoadDone       = "load_done"
	EventLoadError      = "load_error"
	EventUnloadDone     = "unload_done"
	EventUnloadConflict = "unload_conflict"
	EventBootstrapDone  = "bootstrap_done"
	EventBootstrapError = "bootstrap_error"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

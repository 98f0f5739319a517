// Package manager is the lifecycle control plane for workers. It is
// structured into small files by concern:
//
//   - manager.go: Manager type, constructor, listing and stats.
//   - config.go: ManagerConfig and NewWithConfig.
//   - load.go: Bootstrap and Load, building eager and lazy handles.
//   - unload.go: guarded Unload and Shutdown.
//   - inference.go: serving-path Infer with auto-load and NDJSON streaming.
//   - status_report.go: Status and ServingModels.
//   - errors.go: error types and predicates (IsNotFound, IsConflict, ...).
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//
// Load and Unload on the same worker id are serialized. Unload is refused
// while the worker reports active requests; the window between that check
// and the unregister is not closed.
package manager

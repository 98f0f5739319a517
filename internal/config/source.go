package config

import (
	"errors"
	"fmt"
	"sync"
)

// Source yields worker declarations. Lookup is called on every load so
// implementations backed by a file must re-read it each time.
type Source interface {
	Lookup(id string) (WorkerConfig, error)
	Workers() ([]WorkerConfig, error)
}

type notConfiguredError struct{ id string }

func (e notConfiguredError) Error() string {
	return fmt.Sprintf("worker not configured: %s", e.id)
}

// ErrNotConfigured builds the error returned when a worker ID is absent from
// the configuration.
func ErrNotConfigured(id string) error { return notConfiguredError{id: id} }

// IsNotConfigured reports whether err (or a wrapped error) is a not-configured error.
func IsNotConfigured(err error) bool {
	var e notConfiguredError
	return errors.As(err, &e)
}

// FileSource reads the server config file on every call, so edits made
// between an unload and the next load take effect.
type FileSource struct {
	Path string
}

// Workers returns all declared workers with defaults applied.
func (s FileSource) Workers() ([]WorkerConfig, error) {
	cfg, err := Load(s.Path)
	if err != nil {
		return nil, err
	}
	return cfg.Models, nil
}

// Lookup returns the current declaration of id.
func (s FileSource) Lookup(id string) (WorkerConfig, error) {
	ws, err := s.Workers()
	if err != nil {
		return WorkerConfig{}, err
	}
	return find(ws, id)
}

// StaticSource serves a fixed set of declarations. Replace swaps them
// atomically, which tests use to simulate a config edit.
type StaticSource struct {
	mu      sync.RWMutex
	workers []WorkerConfig
}

// NewStaticSource copies ws and applies defaults to each entry.
func NewStaticSource(ws ...WorkerConfig) *StaticSource {
	s := &StaticSource{}
	s.Replace(ws...)
	return s
}

// Replace sets the declarations returned by subsequent calls.
func (s *StaticSource) Replace(ws ...WorkerConfig) {
	cp := make([]WorkerConfig, len(ws))
	copy(cp, ws)
	for i := range cp {
		cp[i].applyDefaults()
	}
	s.mu.Lock()
	s.workers = cp
	s.mu.Unlock()
}

func (s *StaticSource) Workers() ([]WorkerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]WorkerConfig, len(s.workers))
	copy(cp, s.workers)
	return cp, nil
}

func (s *StaticSource) Lookup(id string) (WorkerConfig, error) {
	ws, _ := s.Workers()
	return find(ws, id)
}

func find(ws []WorkerConfig, id string) (WorkerConfig, error) {
	for _, w := range ws {
		if w.ModelID == id {
			return w, nil
		}
	}
	return WorkerConfig{}, ErrNotConfigured(id)
}

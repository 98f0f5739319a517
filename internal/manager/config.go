package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lazyd/internal/config"
	"lazyd/internal/registry"
	"lazyd/internal/worker"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Source is consulted on every Load and once by Bootstrap.
	Source config.Source
	// Factory builds fresh worker handles.
	Factory worker.Factory
	// Registry defaults to an empty registry.
	Registry *registry.Registry
	// DefaultModel is used by Infer when a request names no model.
	DefaultModel string
	// AutoLoad lets Infer load a configured but unregistered worker.
	AutoLoad  bool
	Publisher EventPublisher
	Logger    *zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewWithConfig builds a Manager, applying defaults.
func NewWithConfig(cfg ManagerConfig) *Manager {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		reg:          reg,
		src:          cfg.Source,
		factory:      cfg.Factory,
		defaultModel: cfg.DefaultModel,
		autoLoad:     cfg.AutoLoad,
		publisher:    pub,
		log:          l,
		now:          now,
		startedAt:    now(),
		locks:        make(map[string]*sync.Mutex),
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"lazyd/internal/common/fsutil"
)

// Defaults applied by ApplyDefaults when the corresponding field is unset.
const (
	DefaultAddr           = ":8787"
	DefaultModelType      = "lm"
	DefaultIdleTimeout    = 1800 // seconds
	DefaultMaxConcurrency = 1
	DefaultQueueSize      = 32
	DefaultQueueTimeout   = 300 // seconds
	DefaultReadyTimeout   = 120 // seconds
	DefaultWorkerHost     = "127.0.0.1"
)

// WorkerConfig declares one worker. It is the source of truth consulted by
// the control plane when a worker is (re)loaded.
type WorkerConfig struct {
	ModelID        string   `json:"model_id" yaml:"model_id" toml:"model_id"`
	ModelPath      string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	ModelType      string   `json:"model_type" yaml:"model_type" toml:"model_type"`
	ContextLength  int      `json:"context_length" yaml:"context_length" toml:"context_length"`
	MaxConcurrency int      `json:"max_concurrency" yaml:"max_concurrency" toml:"max_concurrency"`
	QueueTimeout   int      `json:"queue_timeout" yaml:"queue_timeout" toml:"queue_timeout"`
	QueueSize      int      `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	Lazy           bool     `json:"lazy" yaml:"lazy" toml:"lazy"`
	IdleTimeout    int      `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`
	Args           []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
}

// QueueTimeoutDuration returns QueueTimeout as a duration.
func (w WorkerConfig) QueueTimeoutDuration() time.Duration {
	return time.Duration(w.QueueTimeout) * time.Second
}

// RuntimeConfig describes how worker processes are spawned.
// Args may reference {model_path}, {host}, {port} and {context_length}.
type RuntimeConfig struct {
	Command      string   `json:"command" yaml:"command" toml:"command"`
	Args         []string `json:"args" yaml:"args" toml:"args"`
	Host         string   `json:"host" yaml:"host" toml:"host"`
	PortStart    int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd      int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	ReadyTimeout int      `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout"`
}

// CORSConfig enables the optional CORS middleware.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// ServerConfig holds runtime parameters for lazyd.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type ServerConfig struct {
	Addr            string         `json:"addr" yaml:"addr" toml:"addr"`
	AdminToken      string         `json:"admin_token" yaml:"admin_token" toml:"admin_token"`
	DefaultModel    string         `json:"default_model" yaml:"default_model" toml:"default_model"`
	ModelsDir       string         `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DisableAutoLoad bool           `json:"disable_auto_load" yaml:"disable_auto_load" toml:"disable_auto_load"`
	Runtime         RuntimeConfig  `json:"runtime" yaml:"runtime" toml:"runtime"`
	CORS            CORSConfig     `json:"cors" yaml:"cors" toml:"cors"`
	Models          []WorkerConfig `json:"models" yaml:"models" toml:"models"`
}

// Load reads a server configuration file, resolves relative model paths
// against the file's directory, merges models_dir discovery and applies
// defaults. Supports: .yaml/.yml, .json, .toml
func Load(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	base := filepath.Dir(path)
	for i := range cfg.Models {
		p, err := fsutil.ResolvePath(base, cfg.Models[i].ModelPath)
		if err != nil {
			return cfg, fmt.Errorf("model %q: %w", cfg.Models[i].ModelID, err)
		}
		cfg.Models[i].ModelPath = p
	}
	if cfg.ModelsDir != "" {
		dir, err := fsutil.ResolvePath(base, cfg.ModelsDir)
		if err != nil {
			return cfg, err
		}
		found, err := DiscoverGGUF(dir)
		if err != nil {
			return cfg, err
		}
		cfg.Models = mergeDiscovered(cfg.Models, found)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *ServerConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Runtime.Host == "" {
		c.Runtime.Host = DefaultWorkerHost
	}
	if c.Runtime.ReadyTimeout <= 0 {
		c.Runtime.ReadyTimeout = DefaultReadyTimeout
	}
	for i := range c.Models {
		c.Models[i].applyDefaults()
	}
}

func (w *WorkerConfig) applyDefaults() {
	if w.ModelType == "" {
		w.ModelType = DefaultModelType
	}
	if w.MaxConcurrency <= 0 {
		w.MaxConcurrency = DefaultMaxConcurrency
	}
	if w.QueueSize <= 0 {
		w.QueueSize = DefaultQueueSize
	}
	if w.QueueTimeout <= 0 {
		w.QueueTimeout = DefaultQueueTimeout
	}
	if w.IdleTimeout == 0 {
		w.IdleTimeout = DefaultIdleTimeout
	}
}

// Validate rejects configs the control plane cannot serve.
func (c ServerConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Models))
	for i, m := range c.Models {
		id := strings.TrimSpace(m.ModelID)
		if id == "" {
			return fmt.Errorf("models[%d]: model_id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("models[%d]: duplicate model_id %q", i, id)
		}
		seen[id] = struct{}{}
	}
	if c.DefaultModel != "" {
		if _, ok := seen[c.DefaultModel]; !ok {
			return fmt.Errorf("default_model %q is not declared in models", c.DefaultModel)
		}
	}
	if c.Runtime.PortStart > 0 && c.Runtime.PortEnd < c.Runtime.PortStart {
		return fmt.Errorf("runtime: port_end %d is below port_start %d", c.Runtime.PortEnd, c.Runtime.PortStart)
	}
	return nil
}

// decodeFile unmarshals path into out based on its extension.
func decodeFile(path string, out any) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, out); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, out); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	return nil
}

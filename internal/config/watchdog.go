package config

import (
	"fmt"
	"strings"
	"time"
)

// Watchdog defaults.
const (
	DefaultWatchdogBaseURL     = "http://127.0.0.1:8787"
	DefaultCheckInterval       = 60 // seconds
	DefaultWatchdogCallTimeout = 30 // seconds
	DefaultWatchdogParallelism = 4
)

// WatchedModel declares one worker the watchdog manages.
// IdleTimeout <= 0 leaves the worker unmanaged unless AlwaysLoaded is set.
type WatchedModel struct {
	ModelID      string `json:"model_id" yaml:"model_id" toml:"model_id"`
	IdleTimeout  int    `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`
	AlwaysLoaded bool   `json:"always_loaded" yaml:"always_loaded" toml:"always_loaded"`
}

// IdleTimeoutDuration returns IdleTimeout as a duration.
func (m WatchedModel) IdleTimeoutDuration() time.Duration {
	return time.Duration(m.IdleTimeout) * time.Second
}

// WatchdogConfig holds runtime parameters for idlewatch.
type WatchdogConfig struct {
	BaseURL        string         `json:"base_url" yaml:"base_url" toml:"base_url"`
	CheckInterval  int            `json:"check_interval" yaml:"check_interval" toml:"check_interval"`
	AdminToken     string         `json:"admin_token" yaml:"admin_token" toml:"admin_token"`
	RequestTimeout int            `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	Parallelism    int            `json:"parallelism" yaml:"parallelism" toml:"parallelism"`
	MetricsAddr    string         `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`
	Models         []WatchedModel `json:"models" yaml:"models" toml:"models"`
}

// LoadWatchdog reads a watchdog configuration file and applies defaults.
// Supports: .yaml/.yml, .json, .toml
func LoadWatchdog(path string) (WatchdogConfig, error) {
	var cfg WatchdogConfig
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *WatchdogConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultWatchdogBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultWatchdogCallTimeout
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultWatchdogParallelism
	}
}

func (c WatchdogConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Models))
	for i, m := range c.Models {
		if strings.TrimSpace(m.ModelID) == "" {
			return fmt.Errorf("models[%d]: model_id is required", i)
		}
		if _, dup := seen[m.ModelID]; dup {
			return fmt.Errorf("models[%d]: duplicate model_id %q", i, m.ModelID)
		}
		seen[m.ModelID] = struct{}{}
	}
	return nil
}

// Interval returns CheckInterval as a duration.
func (c WatchdogConfig) Interval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// CallTimeout returns RequestTimeout as a duration.
func (c WatchdogConfig) CallTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

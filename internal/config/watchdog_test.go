package config

import (
	"testing"
	"time"
)

func TestLoadWatchdogYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "wd.yaml", `base_url: http://host:9000/
check_interval: 5
admin_token: tok
models:
  - model_id: w1
    idle_timeout: 60
  - model_id: w2
    always_loaded: true
`)
	cfg, err := LoadWatchdog(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "http://host:9000" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.BaseURL)
	}
	if cfg.Interval() != 5*time.Second || cfg.CallTimeout() != 30*time.Second || cfg.Parallelism != DefaultWatchdogParallelism {
		t.Fatalf("unexpected timing: %+v", cfg)
	}
	if len(cfg.Models) != 2 || cfg.Models[0].IdleTimeoutDuration() != time.Minute || !cfg.Models[1].AlwaysLoaded {
		t.Fatalf("unexpected models: %+v", cfg.Models)
	}
}

func TestLoadWatchdogDefaults(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "wd.json", `{}`)
	cfg, err := LoadWatchdog(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != DefaultWatchdogBaseURL || cfg.CheckInterval != 60 || cfg.RequestTimeout != 30 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadWatchdogDuplicate(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "wd.toml", "[[models]]\nmodel_id=\"a\"\n[[models]]\nmodel_id=\"a\"\n")
	if _, err := LoadWatchdog(p); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

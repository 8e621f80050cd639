package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServePort != 8787 {
		t.Errorf("ServePort = %d, want 8787", cfg.ServePort)
	}
	if cfg.DefaultWorkers != 8 || cfg.DefaultRetries != 3 {
		t.Errorf("unexpected worker/retry defaults: %+v", cfg)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poicollector.yaml")
	body := "serve_port: 9000\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServePort != 9000 {
		t.Errorf("ServePort = %d, want 9000 from config file", cfg.ServePort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.DefaultWorkers != 8 {
		t.Errorf("expected un-overridden default_workers to stay at 8, got %d", cfg.DefaultWorkers)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Errorf("expected a missing config file to fall back to defaults, got %v", err)
	}
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv("POICOLLECTOR_SERVE_PORT", "9191")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServePort != 9191 {
		t.Errorf("ServePort = %d, want 9191 from env", cfg.ServePort)
	}
}

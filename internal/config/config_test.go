package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv(ServerURLEnv, "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Polling.IdleMS = 20000
	cfg.Email.ToAddr = "me@example.com"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("config should be private, got %v", info.Mode().Perm())
	}
	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Polling.Idle() != 20*time.Second {
		t.Fatalf("idle = %v", loaded.Polling.Idle())
	}
	if loaded.Email.ToAddr != "me@example.com" {
		t.Fatalf("email lost: %+v", loaded.Email)
	}
}

func TestMissingKeysKeepDefaults(t *testing.T) {
	t.Setenv(ServerURLEnv, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[polling]\nactive_ms = 1000\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Polling.Active() != time.Second {
		t.Fatalf("active = %v", cfg.Polling.Active())
	}
	if cfg.Polling.Idle() != 15*time.Second || cfg.Polling.Status() != 30*time.Second || cfg.Polling.Logs() != 5*time.Second {
		t.Fatalf("defaults lost: %+v", cfg.Polling)
	}
	if cfg.Server.BaseURL != "http://127.0.0.1:5000/api" {
		t.Fatalf("base url = %q", cfg.Server.BaseURL)
	}
}

func TestServerURLEnvOverride(t *testing.T) {
	t.Setenv(ServerURLEnv, "http://backend:9000/api")
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Default().SaveTo(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BaseURL != "http://backend:9000/api" {
		t.Fatalf("env override ignored: %q", cfg.Server.BaseURL)
	}
}

func TestZeroIntervalsFallBack(t *testing.T) {
	var p PollingConfig
	if p.Active() != 3*time.Second || p.Idle() != 15*time.Second {
		t.Fatalf("zero intervals should fall back to defaults")
	}
}

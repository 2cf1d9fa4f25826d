package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8090 {
		t.Errorf("Port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Engine.TickInterval() != time.Minute {
		t.Errorf("TickInterval = %s, want 1m", cfg.Engine.TickInterval())
	}
	if cfg.DataDir == "" {
		t.Error("DataDir is empty")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("Port = %d, want default", cfg.Server.Port)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Server.Port = 9999
	cfg.Engine.MaxConcurrentScans = 3
	cfg.LogLevel = "DEBUG"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", loaded.Server.Port)
	}
	if loaded.Engine.MaxConcurrentScans != 3 {
		t.Errorf("MaxConcurrentScans = %d, want 3", loaded.Engine.MaxConcurrentScans)
	}
	if loaded.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q", loaded.LogLevel)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/beacon"

	if cfg.DatabasePath() != filepath.Join("/var/lib/beacon", "beacon.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath())
	}
	if cfg.SaltPath() != filepath.Join("/var/lib/beacon", "salt") {
		t.Errorf("SaltPath = %q", cfg.SaltPath())
	}
}

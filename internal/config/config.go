// Package config handles Beacon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Engine
	Engine EngineConfig `json:"engine"`

	// Logging
	LogLevel string `json:"log_level"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// EngineConfig tunes the proactive control loop
type EngineConfig struct {
	TickIntervalSeconds int `json:"tick_interval_seconds"`
	MaxConcurrentScans  int `json:"max_concurrent_scans"`
}

// TickInterval returns the tick cadence as a duration.
func (e EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalSeconds) * time.Second
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".beacon"),
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Engine: EngineConfig{
			TickIntervalSeconds: 60,
			MaxConcurrentScans:  5,
		},
		LogLevel: "INFO",
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DatabasePath is where the SQLite database lives under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "beacon.db")
}

// SaltPath is where the key-derivation salt lives under the data dir.
func (c *Config) SaltPath() string {
	return filepath.Join(c.DataDir, "salt")
}

// Package config loads and persists the service configuration from
// <home>/config/enclaved.json, filling defaults for anything unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	configSubdir   = "config"
	configFileName = "enclaved.json"

	// BackendMemory keeps shards in process memory; nothing survives restart.
	BackendMemory = "memory"
	// BackendFile seals shards to disk and keeps metadata in SQLite.
	BackendFile = "file"
)

// Config is the on-disk JSON configuration.
type Config struct {
	ListenAddress string `json:"listen_address,omitempty"`
	DebugAddr     string `json:"debug_addr,omitempty"`

	SessionTimeoutSeconds int `json:"session_timeout_seconds,omitempty"`
	SweepIntervalSeconds  int `json:"sweep_interval_seconds,omitempty"`
	MaxRequestBytes       int `json:"max_request_bytes,omitempty"`

	KeystoreBackend string `json:"keystore_backend,omitempty"`
	KeystorePath    string `json:"keystore_path,omitempty"`

	LogLevel   string `json:"log_level,omitempty"`
	LogFormat  string `json:"log_format,omitempty"`
	LogSampler bool   `json:"log_sampler,omitempty"`
}

// SessionTimeout returns the fixed session expiry window.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// SweepInterval returns the background sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func validateConfig(cfg *Config) error {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:7310"
	}
	if cfg.SessionTimeoutSeconds == 0 {
		cfg.SessionTimeoutSeconds = 300
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = 60
	}
	if cfg.MaxRequestBytes == 0 {
		cfg.MaxRequestBytes = 100_000
	}
	if cfg.KeystoreBackend == "" {
		cfg.KeystoreBackend = BackendMemory
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}

	if cfg.KeystoreBackend != BackendMemory && cfg.KeystoreBackend != BackendFile {
		return fmt.Errorf("keystore backend must be %q or %q", BackendMemory, BackendFile)
	}
	if cfg.KeystoreBackend == BackendFile && cfg.KeystorePath == "" {
		return fmt.Errorf("keystore path is required for the file backend")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}
	if cfg.SessionTimeoutSeconds < 0 || cfg.SweepIntervalSeconds < 0 || cfg.MaxRequestBytes < 0 {
		return fmt.Errorf("timeouts and sizes must not be negative")
	}
	return nil
}

// Load reads the config file under basePath, returning validated defaults
// if no file exists yet.
func Load(basePath string) (*Config, error) {
	cfg := &Config{}

	path := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to <basePath>/config/enclaved.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(configDir, configFileName)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

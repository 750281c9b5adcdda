// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads the jukebox configuration from a YAML file and
// JUKEBOX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables that override the
// configuration file.
const EnvPrefix = "jukebox"

// Store backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// Config holds the engine configuration.
type Config struct {
	DataDir        string `yaml:"dataDir"        envconfig:"DATA_DIR"`
	Backend        string `yaml:"backend"        envconfig:"BACKEND"`
	Hash           string `yaml:"hash"           envconfig:"HASH"`
	LogLevel       string `yaml:"logLevel"       envconfig:"LOG_LEVEL"`
	PlatformFeeBps uint32 `yaml:"platformFeeBps" envconfig:"PLATFORM_FEE_BPS"`
	AccrueOnly     bool   `yaml:"accrueOnly"     envconfig:"ACCRUE_ONLY"`
	MetricsAddr    string `yaml:"metricsAddr"    envconfig:"METRICS_ADDR"`
	DNSUpstream    string `yaml:"dnsUpstream"    envconfig:"DNS_UPSTREAM"`
	EventBuffer    int    `yaml:"eventBuffer"    envconfig:"EVENT_BUFFER"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		DataDir:        defaultDataDir(),
		Backend:        BackendBolt,
		Hash:           "sha256",
		LogLevel:       "info",
		PlatformFeeBps: 250,
	}
}

// defaultDataDir returns ~/.jukebox, or .jukebox if the home directory is
// unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jukebox"
	}
	return filepath.Join(home, ".jukebox")
}

// ConfigPath returns the configuration file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// StorePath returns the database location of the configured backend, or ""
// for the memory backend.
func StorePath(cfg Config) string {
	switch cfg.Backend {
	case BackendBolt:
		return filepath.Join(cfg.DataDir, "jukebox.db")
	case BackendBadger:
		return filepath.Join(cfg.DataDir, "badger")
	default:
		return ""
	}
}

// LoadConfig reads the YAML file at path over the defaults. Keys absent from
// the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfigFile, path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the file at path
// (skipped when path is empty), then JUKEBOX_* environment variables. The
// result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidEnv, err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	data := append([]byte("# jukebox configuration\n"), body...)
	return os.WriteFile(path, data, 0o600)
}

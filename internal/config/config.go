// Package config loads the iMCP host's own operating configuration — distinct
// from the Token Store, which is a separate hot-swappable snapshot (spec
// SPEC_FULL.md §2.2). Modeled on the teacher's rcfile/settings merge: a YAML
// file with environment-variable overrides, highest-priority source wins.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/imcphost/imcp/internal/appdir"
)

// Config is the server's own operating configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Watcher WatcherConfig `yaml:"watcher"`
}

// LogConfig controls internal/logging.Initialize.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	FilePath   string `yaml:"filePath"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// WatcherConfig controls the optional Message Watcher subsystem. Enabled
// defaults to false: the Watcher is an optional subsystem per spec §4.I.
type WatcherConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DBPath     string `yaml:"dbPath"`
	ScriptPath string `yaml:"scriptPath"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads and merges configuration from path (if it exists) over the
// defaults, then applies environment-variable overrides. A missing file is
// not an error — a fresh install runs on defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over both the file and
// the defaults, the way the teacher's settings loader layers rcfile over
// settings over built-in defaults (highest priority source wins per key).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IMCP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("IMCP_WATCHER_DB_PATH"); v != "" {
		cfg.Watcher.DBPath = v
		cfg.Watcher.Enabled = true
	}
	if v := os.Getenv("IMCP_WATCHER_SCRIPT_PATH"); v != "" {
		cfg.Watcher.ScriptPath = v
	}
}

// DefaultPath returns the conventional on-disk location for the config
// file, under the same iMCP directory as the Port File and Token Store.
func DefaultPath() (string, error) {
	return appdir.ConfigFilePath()
}

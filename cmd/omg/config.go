// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/omglabs/omg/internal/errors"
)

const configVersion = "1"

// Config represents the config.yaml configuration file.
type Config struct {
	Version    string      `yaml:"version"`
	SocketPath string      `yaml:"socket_path,omitempty"` // default: $XDG_RUNTIME_DIR/omg.sock
	DataDir    string      `yaml:"data_dir,omitempty"`    // default: $XDG_DATA_HOME/omg
	Backend    string      `yaml:"backend"`               // auto, arch, debian, mock
	Cache      CacheConfig `yaml:"cache"`
	Refresh    RefreshConf `yaml:"refresh"`
	Daemon     DaemonConf  `yaml:"daemon"`
	Runtimes   []string    `yaml:"runtimes,omitempty"` // runtime names probed on refresh
}

// CacheConfig bounds the daemon's response cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"` // entries
	TTLSecs  int `yaml:"ttl_secs"`
}

// RefreshConf controls the background refresh worker.
type RefreshConf struct {
	IntervalSecs int `yaml:"interval_secs"`
}

// DaemonConf holds connection handling settings.
type DaemonConf struct {
	MaxConnections      int `yaml:"max_connections"`
	BackendDeadlineSecs int `yaml:"backend_deadline_secs"`
}

// DefaultConfig returns a config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: configVersion,
		Backend: "auto",
		Cache: CacheConfig{
			Capacity: 1000,
			TTLSecs:  300,
		},
		Refresh: RefreshConf{
			IntervalSecs: 300,
		},
		Daemon: DaemonConf{
			MaxConnections:      512,
			BackendDeadlineSecs: 5,
		},
		Runtimes: []string{"node", "python", "go"},
	}
}

// LoadConfig loads configuration from the given path, OMG_CONFIG_PATH, or
// the default location. A missing file yields the defaults; a malformed
// one is a user error.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("OMG_CONFIG_PATH")
	}
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: path comes from user config or discovery
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", configPath),
			"Check file permissions and ensure the file exists",
			err,
		)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or run 'omg init --force' to recreate", configPath),
			err,
		)
	}

	if cfg.Version != configVersion {
		return nil, errors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version '%s' is not supported (expected '%s')", cfg.Version, configVersion),
			"Run 'omg init --force' to regenerate the configuration file",
			nil,
		)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0640) //nolint:gosec // G306
}

// defaultConfigPath is $XDG_CONFIG_HOME/omg/config.yaml with the usual
// ~/.config fallback.
func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "omg", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "omg", "config.yaml")
}

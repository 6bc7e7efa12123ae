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

	flag "github.com/spf13/pflag"

	"github.com/omglabs/omg/internal/errors"
	"github.com/omglabs/omg/internal/ui"
)

// runInit executes the 'init' command, writing the default configuration.
func runInit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: omg init [options]

Description:
  Create the configuration file with defaults. The file is only needed
  to override defaults; the daemon runs without one.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := configPath
	if path == "" {
		path = os.Getenv("OMG_CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !*force {
		errors.FatalError(errors.NewConfigError(
			"Configuration already exists",
			fmt.Sprintf("%s is present", path),
			"Pass --force to overwrite it",
			nil,
		), globals.JSON)
	}

	if err := SaveConfig(DefaultConfig(), path); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot write configuration",
			fmt.Sprintf("Failed to write %s", path),
			"Check permissions on the config directory",
			err,
		), globals.JSON)
	}

	if globals.JSON {
		printJSON(map[string]string{"config_path": path})
		return
	}
	_, _ = ui.Green.Printf("Wrote %s\n", path)
}

// runConfigCmd executes the 'config' command, showing the effective
// configuration and resolved paths.
func runConfigCmd(args []string, configPath string, globals GlobalFlags) {
	_ = args
	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if globals.JSON {
		printJSON(map[string]any{
			"backend":               cfg.Backend,
			"socket_path":           socketPath(cfg, globals),
			"snapshot_path":         snapshotPath(),
			"data_dir":              dataRoot(cfg),
			"store_path":            storePath(cfg),
			"catalog_dir":           catalogDir(cfg),
			"cache_capacity":        cfg.Cache.Capacity,
			"cache_ttl_secs":        cfg.Cache.TTLSecs,
			"refresh_interval_secs": cfg.Refresh.IntervalSecs,
			"max_connections":       cfg.Daemon.MaxConnections,
			"backend_deadline_secs": cfg.Daemon.BackendDeadlineSecs,
			"runtimes":              cfg.Runtimes,
		})
		return
	}

	ui.Header("Configuration")
	fmt.Printf("%s %s\n", ui.Label("Backend:"), cfg.Backend)
	fmt.Printf("%s %s\n", ui.Label("Socket:"), socketPath(cfg, globals))
	fmt.Printf("%s %s\n", ui.Label("Snapshot:"), snapshotPath())
	fmt.Printf("%s %s\n", ui.Label("Data dir:"), dataRoot(cfg))
	fmt.Printf("%s %d entries, %ds TTL\n", ui.Label("Cache:"), cfg.Cache.Capacity, cfg.Cache.TTLSecs)
	fmt.Printf("%s every %ds\n", ui.Label("Refresh:"), cfg.Refresh.IntervalSecs)
	fmt.Printf("%s %d\n", ui.Label("Max connections:"), cfg.Daemon.MaxConnections)
	fmt.Printf("%s %ds\n", ui.Label("Backend deadline:"), cfg.Daemon.BackendDeadlineSecs)
	fmt.Printf("%s %v\n", ui.Label("Runtimes:"), cfg.Runtimes)
}

// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
)

// socketPath resolves the daemon socket with precedence:
// --socket > OMG_SOCKET > config > $XDG_RUNTIME_DIR/omg.sock > /tmp/omg.sock.
func socketPath(cfg *Config, globals GlobalFlags) string {
	if globals.Socket != "" {
		return globals.Socket
	}
	if env := os.Getenv("OMG_SOCKET"); env != "" {
		return env
	}
	if cfg != nil && cfg.SocketPath != "" {
		return cfg.SocketPath
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "omg.sock")
	}
	return "/tmp/omg.sock"
}

// snapshotPath is the prompt counters file, next to the socket in the
// runtime directory.
func snapshotPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "omg.status")
	}
	return filepath.Join(os.TempDir(), "omg.status")
}

// dataRoot resolves the storage root with precedence:
// OMG_DATA_DIR > config data_dir > $XDG_DATA_HOME/omg > ~/.local/share/omg.
func dataRoot(cfg *Config) string {
	if env := os.Getenv("OMG_DATA_DIR"); env != "" {
		return env
	}
	if cfg != nil && cfg.DataDir != "" {
		return cfg.DataDir
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "omg")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "omg-data"
	}
	return filepath.Join(home, ".local", "share", "omg")
}

// storePath is the persistent KV database file.
func storePath(cfg *Config) string {
	return filepath.Join(dataRoot(cfg), "cache.bolt")
}

// catalogDir holds the memory-mapped *.archive catalogs.
func catalogDir(cfg *Config) string {
	return filepath.Join(dataRoot(cfg), "catalogs")
}

// runtimeRoot holds one <name>/current version symlink per managed
// runtime.
func runtimeRoot(cfg *Config) string {
	return filepath.Join(dataRoot(cfg), "runtimes")
}

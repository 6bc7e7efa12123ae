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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/omglabs/omg/internal/errors"
	"github.com/omglabs/omg/pkg/daemon"
	"github.com/omglabs/omg/pkg/pm"
)

// runDaemon executes the 'daemon' command: it builds the DaemonState from
// configuration and serves the socket until SIGINT or SIGTERM.
//
// Flags:
//   - --debug: Enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
func runDaemon(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: omg daemon [options]

Description:
  Run the omg background daemon. It serves package queries over a local
  unix socket, keeps a fuzzy-searchable catalog in memory, and refreshes
  system status counters in the background, publishing them to the
  response cache, the state store, and the prompt snapshot file.

  SIGINT and SIGTERM trigger a graceful shutdown: the listener stops
  accepting, in-flight requests get a grace period to complete, and the
  socket file is removed. SIGHUP is ignored.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Run in the foreground
  omg daemon

  # With debug logging and a metrics endpoint
  omg daemon --debug --metrics-addr :9090

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	backend, scanner := newBackend(cfg, logger)

	d, err := daemon.New(daemon.Config{
		SocketPath:      socketPath(cfg, globals),
		SnapshotPath:    snapshotPath(),
		StorePath:       storePath(cfg),
		CatalogDir:      catalogDir(cfg),
		CacheCapacity:   cfg.Cache.Capacity,
		CacheTTL:        time.Duration(cfg.Cache.TTLSecs) * time.Second,
		RefreshInterval: time.Duration(cfg.Refresh.IntervalSecs) * time.Second,
		MaxConnections:  cfg.Daemon.MaxConnections,
		BackendDeadline: time.Duration(cfg.Daemon.BackendDeadlineSecs) * time.Second,
		Runtimes:        cfg.Runtimes,
		RuntimeRoot:     runtimeRoot(cfg),
	}, backend, scanner, logger)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot start daemon",
			"Failed to open the state store or build the cache",
			"Check permissions on the data directory, or remove cache.bolt if another daemon holds it",
			err,
		), globals.JSON)
	}
	defer func() { _ = d.Close() }()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", d.MetricsHandler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Ignore(syscall.SIGHUP)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	if err := d.Run(ctx); err != nil {
		errors.FatalError(errors.NewInternalError(
			"Daemon exited with an error",
			err.Error(),
			"Check the log above; the socket path may be unusable",
			err,
		), globals.JSON)
	}
}

// newBackend selects the PackageManager implementation. The Arch and
// Debian backends are external plugins; this binary ships the mock, which
// pairs with catalog archives built by 'omg archive build'.
func newBackend(cfg *Config, logger *slog.Logger) (pm.PackageManager, pm.VulnerabilityScanner) {
	switch cfg.Backend {
	case "mock", "auto", "":
		if cfg.Backend != "mock" {
			logger.Info("backend.mock", "reason", "no platform backend linked in this build")
		}
		m := pm.NewMock(nil)
		return m, m
	default:
		logger.Warn("backend.unknown", "backend", cfg.Backend)
		m := pm.NewMock(nil)
		return m, m
	}
}

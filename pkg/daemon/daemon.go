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

// Package daemon implements the omg background service: the unix-socket
// request engine, the response cache, the searchable package index, and
// the periodic refresh worker that publishes SystemStatus to the cache,
// the state store, and the prompt snapshot file.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/omglabs/omg/pkg/cache"
	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/pm"
	"github.com/omglabs/omg/pkg/statestore"
)

// Config carries every tunable the daemon recognizes. Zero values are
// replaced by the documented defaults.
type Config struct {
	SocketPath   string
	SnapshotPath string
	StorePath    string
	CatalogDir   string

	CacheCapacity   int           // default 1000 entries
	CacheTTL        time.Duration // default 300s
	RefreshInterval time.Duration // default 300s
	MaxConnections  int           // default 512
	BackendDeadline time.Duration // default 5s
	GracePeriod     time.Duration // default 5s, shutdown drain

	// Runtimes to probe during refresh; RuntimeRoot holds one
	// <name>/current version symlink per managed runtime.
	Runtimes    []string
	RuntimeRoot string
}

const (
	defaultCacheCapacity   = 1000
	defaultCacheTTL        = 300 * time.Second
	defaultRefreshInterval = 300 * time.Second
	defaultMaxConnections  = 512
	defaultBackendDeadline = 5 * time.Second
	defaultGracePeriod     = 5 * time.Second
)

func (c *Config) withDefaults() {
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = defaultCacheCapacity
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.BackendDeadline <= 0 {
		c.BackendDeadline = defaultBackendDeadline
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
}

// Daemon owns the shared state every connection task and the refresh
// worker operate on. It is constructed once in main and injected
// everywhere; there are no package-level singletons.
type Daemon struct {
	cfg     Config
	log     *slog.Logger
	cache   *cache.Cache
	index   *catalog.Index
	store   *statestore.Store
	backend pm.PackageManager
	scanner pm.VulnerabilityScanner
	metrics *metrics

	refresher *refresher

	// archivePath, archiveSize and archiveMod remember the mapped
	// archive's identity so rebuilds
	// can skip remapping an unchanged file.
	archiveMu   sync.Mutex
	archivePath string
	archiveSize int64
	archiveMod  time.Time
}

// New wires a daemon from its collaborators. The state store is opened
// here; Run owns the rest of the startup.
func New(cfg Config, backend pm.PackageManager, scanner pm.VulnerabilityScanner, logger *slog.Logger) (*Daemon, error) {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		return nil, fmt.Errorf("daemon: backend is required")
	}

	c, err := cache.New(cfg.CacheCapacity, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("daemon: build cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0750); err != nil {
		return nil, fmt.Errorf("daemon: create data dir: %w", err)
	}
	store, err := statestore.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open state store: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		log:     logger,
		cache:   c,
		index:   catalog.NewIndex(),
		store:   store,
		backend: backend,
		scanner: scanner,
	}
	d.metrics = newMetrics(c)
	d.refresher = &refresher{d: d}
	return d, nil
}

// Close releases resources not owned by Run.
func (d *Daemon) Close() error {
	return d.store.Close()
}

// backendCtx derives the deadline context used for every backend call.
func (d *Daemon) backendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.cfg.BackendDeadline)
}

// bootstrapIndex populates the in-memory catalog: a prebuilt archive when
// one is available and valid, otherwise a full rebuild from the backend.
func (d *Daemon) bootstrapIndex(ctx context.Context) {
	if path, ok := d.findArchive(); ok {
		if d.loadArchive(path) {
			return
		}
	}
	if err := d.rebuildFromBackend(ctx); err != nil {
		d.log.Warn("index.bootstrap.failed", "err", err)
	}
}

// findArchive picks the catalog archive to map: the backend's own, else
// the first *.archive under the catalog directory.
func (d *Daemon) findArchive() (string, bool) {
	if path, ok := d.backend.ArchivePath(); ok {
		return path, true
	}
	if d.cfg.CatalogDir == "" {
		return "", false
	}
	matches, err := filepath.Glob(filepath.Join(d.cfg.CatalogDir, "*.archive"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// loadArchive maps, validates, and installs path. A corrupt archive is
// logged and reported false so the caller falls back to the backend.
func (d *Daemon) loadArchive(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}

	d.archiveMu.Lock()
	unchanged := d.archivePath == path && d.archiveSize == fi.Size() && d.archiveMod.Equal(fi.ModTime())
	d.archiveMu.Unlock()
	if unchanged && d.index.Len() > 0 {
		// Same file the current mapping came from; keep the mmap.
		return true
	}

	arch, err := catalog.OpenArchive(path)
	if err != nil {
		d.log.Error("archive corrupt", "path", path, "err", err)
		return false
	}
	d.index.RebuildFromArchive(arch)

	d.archiveMu.Lock()
	d.archivePath, d.archiveSize, d.archiveMod = path, fi.Size(), fi.ModTime()
	d.archiveMu.Unlock()

	d.log.Info("index.archive.loaded", "path", path, "packages", arch.Len())
	return true
}

// rebuildFromBackend replaces the index with the backend's full catalog.
func (d *Daemon) rebuildFromBackend(ctx context.Context) error {
	bctx, cancel := d.backendCtx(ctx)
	defer cancel()
	records, err := d.backend.ListAll(bctx)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	d.index.Rebuild(records)
	d.log.Info("index.rebuilt", "source", "backend", "packages", len(records))
	return nil
}

// rebuildIndex refreshes the catalog, reusing the current mapping when the
// underlying archive file has not changed.
func (d *Daemon) rebuildIndex(ctx context.Context) {
	if path, ok := d.findArchive(); ok && d.loadArchive(path) {
		return
	}
	if err := d.rebuildFromBackend(ctx); err != nil {
		d.log.Warn("index.rebuild.failed", "err", err)
	}
}

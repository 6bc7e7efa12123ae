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

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omglabs/omg/pkg/cache"
	"github.com/omglabs/omg/pkg/pm"
	"github.com/omglabs/omg/pkg/protocol"
	"github.com/omglabs/omg/pkg/snapshot"
	"github.com/omglabs/omg/pkg/statestore"
)

// refresher recomputes SystemStatus and publishes it to the cache, the
// state store, and the snapshot file, in that order. Runs are coalesced:
// a trigger while a run is in flight is a no-op.
type refresher struct {
	d        *Daemon
	inFlight atomic.Bool
}

// run fires once at startup and then on every interval tick until ctx is
// done. A failed run does not back off; the next tick retries.
func (r *refresher) run(ctx context.Context) {
	r.runOnce(ctx)
	ticker := time.NewTicker(r.d.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.d.rebuildIndex(ctx)
			r.runOnce(ctx)
		}
	}
}

// trigger starts an ad-hoc refresh unless one is already in flight.
func (r *refresher) trigger(ctx context.Context) {
	if r.inFlight.Load() {
		return
	}
	go r.runOnce(context.WithoutCancel(ctx))
}

// runOnce performs one refresh. Any failure before publication leaves the
// previously published status intact in every tier.
func (r *refresher) runOnce(ctx context.Context) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer r.inFlight.Store(false)

	d := r.d
	start := time.Now()

	bctx, cancel := d.backendCtx(ctx)
	defer cancel()

	var (
		counts   pm.Counts
		runtimes map[string]string
		vulns    uint32
	)
	g, gctx := errgroup.WithContext(bctx)
	g.Go(func() error {
		var err error
		counts, err = d.backend.SyncCounts(gctx)
		return err
	})
	g.Go(func() error {
		runtimes = probeRuntimes(d.cfg.RuntimeRoot, d.cfg.Runtimes)
		return nil
	})
	if d.scanner != nil {
		g.Go(func() error {
			rep, err := d.scanner.Scan(gctx, "")
			if err != nil {
				return err
			}
			vulns = rep.Total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.metrics.refreshErrs.Inc()
		d.log.Warn("refresh.failed", "err", err, "elapsed", time.Since(start))
		return
	}

	st := composeStatus(counts, runtimes, vulns, d)

	// Publish LRU -> KV -> snapshot. The order is a contract: a snapshot
	// reader may assume the KV record is at least as new, so a failed KV
	// write also skips the snapshot.
	d.cache.Put(cache.StatusKey, protocol.StatusResult{Status: *st})
	if err := d.store.SaveStatus(st); err != nil {
		d.metrics.refreshErrs.Inc()
		d.log.Warn("refresh.store.write_failed", "err", err)
		return
	}
	if err := snapshot.Write(d.cfg.SnapshotPath, snapshot.Counters{
		Total:    st.TotalPackages,
		Explicit: st.Explicit,
		Orphans:  st.Orphans,
		Updates:  st.UpdatesAvailable,
	}); err != nil {
		d.metrics.refreshErrs.Inc()
		d.log.Warn("refresh.snapshot.write_failed", "err", err)
		return
	}

	d.metrics.refreshRuns.Inc()
	d.log.Info("refresh.complete",
		"total", st.TotalPackages,
		"explicit", st.Explicit,
		"updates", st.UpdatesAvailable,
		"vulnerabilities", st.VulnerabilityCount,
		"elapsed", time.Since(start),
	)
}

// composeStatus builds the new status, clamping counters so the published
// value always satisfies total >= explicit and orphans+updates <= total.
func composeStatus(counts pm.Counts, runtimes map[string]string, vulns uint32, d *Daemon) *statestore.SystemStatus {
	if counts.Explicit > counts.Total {
		d.log.Warn("refresh.counts.clamped", "field", "explicit", "value", counts.Explicit, "total", counts.Total)
		counts.Explicit = counts.Total
	}
	if counts.Orphans > counts.Total {
		d.log.Warn("refresh.counts.clamped", "field", "orphans", "value", counts.Orphans, "total", counts.Total)
		counts.Orphans = counts.Total
	}
	if counts.Orphans+counts.Updates > counts.Total {
		d.log.Warn("refresh.counts.clamped", "field", "updates", "value", counts.Updates, "total", counts.Total)
		counts.Updates = counts.Total - counts.Orphans
	}
	return &statestore.SystemStatus{
		TotalPackages:      counts.Total,
		Explicit:           counts.Explicit,
		Orphans:            counts.Orphans,
		UpdatesAvailable:   counts.Updates,
		RuntimeVersions:    runtimes,
		VulnerabilityCount: vulns,
		GeneratedAt:        time.Now().UTC(),
	}
}

// probeRuntimes reads each managed runtime's current-version symlink. A
// missing or unreadable link means the runtime is not managed here; it is
// skipped, not an error.
func probeRuntimes(root string, names []string) map[string]string {
	out := make(map[string]string, len(names))
	if root == "" {
		return out
	}
	for _, name := range names {
		target, err := os.Readlink(filepath.Join(root, name, "current"))
		if err != nil {
			continue
		}
		out[name] = filepath.Base(target)
	}
	return out
}

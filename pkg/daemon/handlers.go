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

	"github.com/omglabs/omg/pkg/cache"
	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/protocol"
	"github.com/omglabs/omg/pkg/snapshot"
	"github.com/omglabs/omg/pkg/statestore"
)

// dispatch routes a validated request to its handler. Every path is
// total: backend failures and deadlines surface as Error responses, never
// as a dropped connection.
func (d *Daemon) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	method := methodName(req)
	resp := d.handle(ctx, req)
	outcome := "ok"
	if _, isErr := resp.(protocol.ErrorResponse); isErr {
		outcome = "error"
	}
	d.metrics.requests.WithLabelValues(method, outcome).Inc()
	return resp
}

func (d *Daemon) handle(ctx context.Context, req protocol.Request) protocol.Response {
	switch r := req.(type) {
	case protocol.SearchRequest:
		return d.handleSearch(ctx, r)
	case protocol.InfoRequest:
		return d.handleInfo(ctx, r)
	case protocol.StatusRequest:
		return d.handleStatus(ctx, r)
	case protocol.ExplicitRequest:
		return d.handleExplicit(ctx, r)
	case protocol.SecurityAuditRequest:
		return d.handleAudit(ctx, r)
	case protocol.CacheClearRequest:
		cleared := d.cache.Clear()
		// The catalog refreshes too, reusing the mapping when the
		// archive file is unchanged. The mmap index and the KV store
		// are never invalidated here.
		go d.rebuildIndex(context.WithoutCancel(ctx))
		return protocol.SuccessResponse{ID: r.ID, Result: protocol.CacheClearResult{Cleared: uint32(cleared)}}
	case protocol.CacheStatsRequest:
		s := d.cache.Stats()
		return protocol.SuccessResponse{ID: r.ID, Result: protocol.CacheStatsResult{
			Size:     uint32(s.Size),
			Capacity: uint32(s.Capacity),
			Hits:     s.Hits,
			Misses:   s.Misses,
		}}
	case protocol.PingRequest:
		return protocol.SuccessResponse{ID: r.ID, Result: protocol.PongResult{}}
	default:
		return protocol.ErrorResponse{ID: req.RequestID(), Code: protocol.CodeMethodNotFound, Message: "method not found"}
	}
}

func (d *Daemon) handleSearch(ctx context.Context, r protocol.SearchRequest) protocol.Response {
	key := cache.SearchKey(catalog.Fold(r.Query), int(r.Limit))
	artifact, err := d.cache.GetOrBuild(ctx, key, func(ctx context.Context) (any, error) {
		if d.index.Len() > 0 {
			return protocol.SearchResult{Items: d.index.Search(r.Query, int(r.Limit)).Items}, nil
		}
		// No index yet: fall through to the backend's own search.
		bctx, cancel := d.backendCtx(ctx)
		defer cancel()
		records, err := d.backend.NativeSearch(bctx, r.Query, int(r.Limit))
		if err != nil {
			return nil, err
		}
		items := make([]catalog.SearchItem, len(records))
		for i, rec := range records {
			items[i] = catalog.SearchItem{
				Name:        rec.Name,
				Version:     rec.Version,
				Description: rec.Description,
				Repo:        rec.Repo,
				Installed:   rec.Installed,
			}
		}
		return protocol.SearchResult{Items: items}, nil
	})
	if err != nil {
		return internalError(r.ID, err)
	}
	return protocol.SuccessResponse{ID: r.ID, Result: artifact.(protocol.SearchResult)}
}

func (d *Daemon) handleInfo(ctx context.Context, r protocol.InfoRequest) protocol.Response {
	key := cache.InfoKey(r.Name)
	artifact, err := d.cache.GetOrBuild(ctx, key, func(ctx context.Context) (any, error) {
		if rec, ok := d.index.Info(r.Name); ok {
			return protocol.InfoResult{Record: rec}, nil
		}
		bctx, cancel := d.backendCtx(ctx)
		defer cancel()
		rec, err := d.backend.Info(bctx, r.Name)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, errNotFound
		}
		return protocol.InfoResult{Record: *rec}, nil
	})
	if err == errNotFound {
		return protocol.ErrorResponse{ID: r.ID, Code: protocol.CodePackageNotFound, Message: "package not found: " + r.Name}
	}
	if err != nil {
		return internalError(r.ID, err)
	}
	return protocol.SuccessResponse{ID: r.ID, Result: artifact.(protocol.InfoResult)}
}

// handleStatus serves the freshest status available without ever blocking
// on a full refresh: cache, then state store, then the prompt snapshot,
// triggering a background refresh when the warm tiers are cold.
func (d *Daemon) handleStatus(ctx context.Context, r protocol.StatusRequest) protocol.Response {
	if v, ok := d.cache.Get(cache.StatusKey); ok {
		return protocol.SuccessResponse{ID: r.ID, Result: v.(protocol.StatusResult)}
	}

	if st, err := d.store.LoadStatus(); err == nil && st != nil {
		result := protocol.StatusResult{Status: *st}
		d.cache.Put(cache.StatusKey, result)
		return protocol.SuccessResponse{ID: r.ID, Result: result}
	} else if err != nil {
		d.log.Warn("status.store.read_failed", "err", err)
	}

	// All warm tiers cold; kick a refresh and answer with whatever the
	// snapshot file still holds. The insert is left to the refresher so
	// a stale tuple never outlives the next publish.
	d.refresher.trigger(ctx)
	if c, ok, err := snapshot.Read(d.cfg.SnapshotPath); err == nil && ok {
		return protocol.SuccessResponse{ID: r.ID, Result: protocol.StatusResult{Status: statestore.SystemStatus{
			TotalPackages:    c.Total,
			Explicit:         c.Explicit,
			Orphans:          c.Orphans,
			UpdatesAvailable: c.Updates,
		}}}
	}
	return protocol.SuccessResponse{ID: r.ID, Result: protocol.StatusResult{}}
}

func (d *Daemon) handleExplicit(ctx context.Context, r protocol.ExplicitRequest) protocol.Response {
	artifact, err := d.cache.GetOrBuild(ctx, cache.ExplicitKey, func(ctx context.Context) (any, error) {
		bctx, cancel := d.backendCtx(ctx)
		defer cancel()
		records, err := d.backend.ExplicitList(bctx)
		if err != nil {
			if d.index.Len() > 0 {
				d.log.Warn("explicit.backend_failed", "err", err)
				return protocol.ExplicitResult{Packages: d.index.ListExplicit().Packages}, nil
			}
			return nil, err
		}
		return protocol.ExplicitResult{Packages: records}, nil
	})
	if err != nil {
		return internalError(r.ID, err)
	}
	return protocol.SuccessResponse{ID: r.ID, Result: artifact.(protocol.ExplicitResult)}
}

// handleAudit is a passthrough to the vulnerability scanner; its results
// are never cached here.
func (d *Daemon) handleAudit(ctx context.Context, r protocol.SecurityAuditRequest) protocol.Response {
	if d.scanner == nil {
		return protocol.ErrorResponse{ID: r.ID, Code: protocol.CodeInternalError, Message: "no vulnerability scanner configured"}
	}
	bctx, cancel := d.backendCtx(ctx)
	defer cancel()
	rep, err := d.scanner.Scan(bctx, r.Package)
	if err != nil {
		return internalError(r.ID, err)
	}
	return protocol.SuccessResponse{ID: r.ID, Result: protocol.AuditResult{Report: *rep}}
}

func internalError(id uint32, err error) protocol.ErrorResponse {
	return protocol.ErrorResponse{ID: id, Code: protocol.CodeInternalError, Message: err.Error()}
}

var errNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

func methodName(req protocol.Request) string {
	switch req.(type) {
	case protocol.SearchRequest:
		return "search"
	case protocol.InfoRequest:
		return "info"
	case protocol.StatusRequest:
		return "status"
	case protocol.ExplicitRequest:
		return "explicit"
	case protocol.SecurityAuditRequest:
		return "security_audit"
	case protocol.CacheClearRequest:
		return "cache_clear"
	case protocol.CacheStatsRequest:
		return "cache_stats"
	case protocol.PingRequest:
		return "ping"
	default:
		return "unknown"
	}
}

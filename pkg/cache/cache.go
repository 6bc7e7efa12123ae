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

// Package cache holds the daemon's bounded response cache: an LRU of
// shared immutable artifacts keyed by request fingerprint, with per-entry
// TTL and single-flight deduplication of cold-miss builds.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Fingerprint construction. The fingerprint is the canonical identity of a
// query; identical queries map to identical keys across connections.
// Components are joined with NUL. Package names cannot contain NUL, and
// the search limit is always the last component, so keys stay unambiguous.
func SearchKey(foldedQuery string, limit int) string {
	return "search\x00" + foldedQuery + "\x00" + strconv.Itoa(limit)
}

func InfoKey(name string) string { return "info\x00" + name }

const (
	StatusKey   = "status"
	ExplicitKey = "explicit"
)

// Stats is the observable state of the cache.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
}

type entry struct {
	value      any
	insertedAt time.Time
}

// Cache is safe for concurrent use. Values are shared by reference and
// must never be mutated after insertion; updates replace the entry.
type Cache struct {
	lru      *lru.Cache[string, *entry]
	capacity int
	ttl      time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64

	group singleflight.Group

	now func() time.Time // overridable in tests
}

// New builds a cache with the given entry capacity and TTL.
func New(capacity int, ttl time.Duration) (*Cache, error) {
	inner, err := lru.New[string, *entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner, capacity: capacity, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached artifact for key. An entry past its TTL is
// evicted and reported as a miss; the cache never returns stale data.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.lru.Remove(key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Put inserts or replaces the artifact for key.
func (c *Cache) Put(key string, value any) {
	c.lru.Add(key, &entry{value: value, insertedAt: c.now()})
}

// GetOrBuild returns the cached artifact for key, or computes it with
// build. At most one build per fingerprint is in flight: concurrent
// callers for the same key block on the winner and share its artifact. A
// build error is returned to every waiter and nothing is inserted.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build func(context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: a racing winner may have populated the entry
		// between our miss and acquiring the flight.
		if e, ok := c.lru.Get(key); ok && c.now().Sub(e.insertedAt) <= c.ttl {
			return e.value, nil
		}
		value, err := build(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, value)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate drops one fingerprint.
func (c *Cache) Invalidate(key string) {
	c.lru.Remove(key)
}

// Clear drops every entry and returns how many were dropped. Hit and miss
// counters are preserved.
func (c *Cache) Clear() int {
	n := c.lru.Len()
	c.lru.Purge()
	return n
}

// Stats reports size, capacity, and cumulative hit/miss counts.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:     c.lru.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

// KeyMethod extracts the method component of a fingerprint, for metrics.
func KeyMethod(key string) string {
	if i := strings.IndexByte(key, 0); i >= 0 {
		return key[:i]
	}
	return key
}

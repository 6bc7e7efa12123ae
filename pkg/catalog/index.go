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

package catalog

import (
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sahilm/fuzzy"
)

// MaxSearchLimit caps how many items a single search may return.
const MaxSearchLimit = 5000

// Index is the searchable in-memory catalog. Lookups never block rebuilds:
// readers load an immutable snapshot pointer, and Rebuild installs a new
// snapshot atomically before the old one is dropped.
type Index struct {
	snap atomic.Pointer[indexSnapshot]

	rebuildMu sync.Mutex // serializes Rebuild
}

// indexSnapshot is one immutable generation of the catalog. Strings may
// borrow the archive mapping, so the mapping is owned by the snapshot and
// closed only when the snapshot is replaced.
type indexSnapshot struct {
	records     []PackageRecord // sorted by name
	byName      map[string]int
	foldedNames []string
	foldedDescs []string
	arch        *Archive // non-nil when archive-backed
}

// NewIndex returns an empty index. Rebuild must run before searches return
// anything.
func NewIndex() *Index {
	idx := &Index{}
	idx.snap.Store(buildSnapshot(nil, nil))
	return idx
}

func buildSnapshot(records []PackageRecord, arch *Archive) *indexSnapshot {
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	s := &indexSnapshot{
		records:     records,
		byName:      make(map[string]int, len(records)),
		foldedNames: make([]string, len(records)),
		foldedDescs: make([]string, len(records)),
		arch:        arch,
	}
	for i, r := range records {
		s.byName[r.Name] = i
		s.foldedNames[i] = Fold(r.Name)
		s.foldedDescs[i] = Fold(r.Description)
	}
	return s
}

// Rebuild atomically replaces the catalog with records. The previous
// snapshot's archive mapping, if any, is unmapped only after the new
// snapshot is installed and no reader holds the old one.
func (x *Index) Rebuild(records []PackageRecord) {
	x.install(buildSnapshot(records, nil))
}

// RebuildFromArchive atomically replaces the catalog with the contents of a
// validated archive. The index takes ownership of the mapping.
func (x *Index) RebuildFromArchive(a *Archive) {
	records := make([]PackageRecord, a.Len())
	for i := range records {
		records[i] = a.Record(i)
	}
	x.install(buildSnapshot(records, a))
}

func (x *Index) install(s *indexSnapshot) {
	x.rebuildMu.Lock()
	old := x.snap.Swap(s)
	x.rebuildMu.Unlock()
	if old != nil && old.arch != nil && old.arch != s.arch {
		// A concurrent reader may still hold the old snapshot, whose
		// record strings borrow the mapping. Unmap only once the
		// snapshot itself is unreachable.
		runtime.SetFinalizer(old, func(o *indexSnapshot) { _ = o.arch.Close() })
	}
}

// Len returns the number of indexed records.
func (x *Index) Len() int {
	return len(x.snap.Load().records)
}

// ArchivePath returns the backing archive file, if the current snapshot is
// archive-backed.
func (x *Index) ArchivePath() (string, bool) {
	s := x.snap.Load()
	if s.arch == nil {
		return "", false
	}
	return s.arch.Path(), true
}

// stringSource adapts a folded string slice to the fuzzy matcher.
type stringSource []string

func (s stringSource) String(i int) string { return s[i] }
func (s stringSource) Len() int            { return len(s) }

// Search ranks records against query, case-folded, matching the name with
// weight 2 and the description with weight 1. Ties break by ascending name.
// limit is clamped to MaxSearchLimit; an empty query returns the first
// limit records in name order.
func (x *Index) Search(query string, limit int) SearchResult {
	s := x.snap.Load()
	if limit <= 0 {
		limit = 1
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	folded := Fold(strings.TrimSpace(query))
	if folded == "" {
		n := min(limit, len(s.records))
		items := make([]SearchItem, n)
		for i := 0; i < n; i++ {
			items[i] = itemFrom(s.records[i], 0)
		}
		return SearchResult{Items: items}
	}

	scores := make(map[int]int)
	for _, m := range fuzzy.FindFrom(folded, stringSource(s.foldedNames)) {
		scores[m.Index] += 2 * m.Score
	}
	for _, m := range fuzzy.FindFrom(folded, stringSource(s.foldedDescs)) {
		scores[m.Index] += m.Score
	}
	if len(scores) == 0 {
		return SearchResult{Items: []SearchItem{}}
	}

	order := make([]int, 0, len(scores))
	for i := range scores {
		order = append(order, i)
	}
	sort.Slice(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return s.records[order[a]].Name < s.records[order[b]].Name
	})
	if len(order) > limit {
		order = order[:limit]
	}

	items := make([]SearchItem, len(order))
	for i, idx := range order {
		items[i] = itemFrom(s.records[idx], scores[idx])
	}
	return SearchResult{Items: items}
}

// Info returns the record for name, with strings owned by the caller.
func (x *Index) Info(name string) (PackageRecord, bool) {
	s := x.snap.Load()
	i, ok := s.byName[name]
	if !ok {
		return PackageRecord{}, false
	}
	return ownedRecord(s.records[i]), true
}

// ListExplicit returns the explicitly installed packages in name order.
func (x *Index) ListExplicit() ExplicitList {
	s := x.snap.Load()
	var out []PackageRecord
	for _, r := range s.records {
		if r.Explicit {
			out = append(out, ownedRecord(r))
		}
	}
	return ExplicitList{Packages: out}
}

// itemFrom copies record fields into a SearchItem the caller may retain
// past the snapshot's lifetime. Archive-backed snapshots borrow the mmap,
// so retained artifacts must not alias it.
func itemFrom(r PackageRecord, score int) SearchItem {
	return SearchItem{
		Name:        strings.Clone(r.Name),
		Version:     strings.Clone(r.Version),
		Description: strings.Clone(r.Description),
		Repo:        strings.Clone(r.Repo),
		Installed:   r.Installed,
		Score:       score,
	}
}

func ownedRecord(r PackageRecord) PackageRecord {
	out := r
	out.Name = strings.Clone(r.Name)
	out.Version = strings.Clone(r.Version)
	out.Description = strings.Clone(r.Description)
	out.Repo = strings.Clone(r.Repo)
	if len(r.Dependencies) > 0 {
		out.Dependencies = make([]string, len(r.Dependencies))
		for i, d := range r.Dependencies {
			out.Dependencies[i] = strings.Clone(d)
		}
	}
	return out
}

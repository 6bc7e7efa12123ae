// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/omglabs/omg/pkg/catalog"
)

// Mock is an in-memory PackageManager and VulnerabilityScanner for tests
// and the mock backend mode. Call counters let tests assert cache
// behavior.
type Mock struct {
	mu       sync.RWMutex
	packages []catalog.PackageRecord
	counts   Counts
	archive  string
	reports  map[string]*VulnerabilityReport
	err      error

	SyncCountsCalls   atomic.Int64
	InfoCalls         atomic.Int64
	ListAllCalls      atomic.Int64
	NativeSearchCalls atomic.Int64
	ScanCalls         atomic.Int64
}

// NewMock builds a mock backend over the given records. Counters are
// derived from the records unless overridden with SetCounts.
func NewMock(records []catalog.PackageRecord) *Mock {
	m := &Mock{reports: make(map[string]*VulnerabilityReport)}
	m.SetPackages(records)
	return m
}

// SetPackages replaces the backing records and rederives counters.
func (m *Mock) SetPackages(records []catalog.PackageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages = append([]catalog.PackageRecord(nil), records...)
	sort.Slice(m.packages, func(i, j int) bool { return m.packages[i].Name < m.packages[j].Name })
	c := Counts{Total: uint32(len(m.packages))}
	for _, r := range m.packages {
		if r.Explicit {
			c.Explicit++
		}
	}
	m.counts = c
}

// SetCounts overrides the derived counters.
func (m *Mock) SetCounts(c Counts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = c
}

// SetArchivePath makes ArchivePath return path.
func (m *Mock) SetArchivePath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archive = path
}

// SetErr makes every capability call fail with err (nil to recover).
func (m *Mock) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetReport registers a vulnerability report for pkg ("" for the
// whole-system report).
func (m *Mock) SetReport(pkg string, r *VulnerabilityReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[pkg] = r
}

func (m *Mock) SyncCounts(ctx context.Context) (Counts, error) {
	m.SyncCountsCalls.Add(1)
	if err := m.failure(ctx); err != nil {
		return Counts{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts, nil
}

func (m *Mock) ExplicitList(ctx context.Context) ([]catalog.PackageRecord, error) {
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []catalog.PackageRecord
	for _, r := range m.packages {
		if r.Explicit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Mock) Info(ctx context.Context, name string) (*catalog.PackageRecord, error) {
	m.InfoCalls.Add(1)
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.packages {
		if m.packages[i].Name == name {
			r := m.packages[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Mock) ListAll(ctx context.Context) ([]catalog.PackageRecord, error) {
	m.ListAllCalls.Add(1)
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]catalog.PackageRecord(nil), m.packages...), nil
}

func (m *Mock) ArchivePath() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.archive, m.archive != ""
}

func (m *Mock) NativeSearch(ctx context.Context, query string, limit int) ([]catalog.PackageRecord, error) {
	m.NativeSearchCalls.Add(1)
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	var out []catalog.PackageRecord
	for _, r := range m.packages {
		if len(out) >= limit {
			break
		}
		if q == "" || strings.Contains(strings.ToLower(r.Name), q) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Mock) Scan(ctx context.Context, pkg string) (*VulnerabilityReport, error) {
	m.ScanCalls.Add(1)
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.reports[pkg]; ok {
		cp := *r
		return &cp, nil
	}
	return &VulnerabilityReport{Package: pkg}, nil
}

func (m *Mock) failure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

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

// Package pm declares the capabilities the daemon consumes from a
// distribution-specific package manager backend, plus the mock used in
// tests. The real Arch and Debian backends live outside this module and
// plug in through these interfaces.
package pm

import (
	"context"

	"github.com/omglabs/omg/pkg/catalog"
)

// Counts is the backend's summary of the installed system.
type Counts struct {
	Total    uint32
	Explicit uint32
	Orphans  uint32
	Updates  uint32
}

// PackageManager is the capability set a backend exposes. All methods may
// block on disk or database I/O; the daemon invokes them from blocking
// contexts with a deadline context.
type PackageManager interface {
	// SyncCounts returns package counters for the system.
	SyncCounts(ctx context.Context) (Counts, error)

	// ExplicitList returns the explicitly installed packages.
	ExplicitList(ctx context.Context) ([]catalog.PackageRecord, error)

	// Info returns the record for name, or (nil, nil) when unknown.
	Info(ctx context.Context, name string) (*catalog.PackageRecord, error)

	// ListAll returns every package known to the backend's sync
	// databases, for index rebuilds.
	ListAll(ctx context.Context) ([]catalog.PackageRecord, error)

	// ArchivePath returns the path of a prebuilt catalog archive, if the
	// backend maintains one. The daemon maps and validates it itself.
	ArchivePath() (string, bool)

	// NativeSearch searches the backend's own databases. Used as the
	// fallback when neither the archive nor the in-memory index is
	// available.
	NativeSearch(ctx context.Context, query string, limit int) ([]catalog.PackageRecord, error)
}

// Finding is one vulnerability affecting a package.
type Finding struct {
	ID       string
	Package  string
	Severity string
	Summary  string
}

// VulnerabilityReport is the outcome of a security audit.
type VulnerabilityReport struct {
	Package  string // empty for a whole-system audit
	Total    uint32
	Findings []Finding
}

// VulnerabilityScanner is consumed by the SecurityAudit handler. Its
// results are never cached by the daemon.
type VulnerabilityScanner interface {
	Scan(ctx context.Context, pkg string) (*VulnerabilityReport, error)
}

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

// Package catalog holds the package metadata model, the memory-mapped
// catalog archive, and the in-memory searchable index.
package catalog

import (
	"regexp"

	"golang.org/x/text/cases"
)

// MaxNameLen is the longest accepted package name in bytes.
const MaxNameLen = 255

var nameRE = regexp.MustCompile(`^[A-Za-z0-9._+@/-]{1,255}$`)

// ValidName reports whether s is an acceptable package name.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}

// PackageRecord describes one package as known to a backend. Records are
// immutable once built into an index.
type PackageRecord struct {
	Name         string
	Version      string
	Description  string
	Repo         string
	Installed    bool
	Explicit     bool
	Dependencies []string
	SizeBytes    uint64
}

// SearchItem is one ranked hit of a search.
type SearchItem struct {
	Name        string
	Version     string
	Description string
	Repo        string
	Installed   bool
	Score       int
}

// SearchResult is the ordered outcome of one search query.
type SearchResult struct {
	Items []SearchItem
}

// ExplicitList holds the explicitly installed packages, ordered by name.
type ExplicitList struct {
	Packages []PackageRecord
}

// Fold case-folds s for matching and fingerprinting. The same folding is
// applied to indexed text and to incoming queries so that ranking is
// deterministic for unicode input. A fresh caser per call: casers are
// stateful and not safe to share across goroutines.
func Fold(s string) string {
	return cases.Fold().String(s)
}

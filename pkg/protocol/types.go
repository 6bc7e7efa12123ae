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

// Package protocol defines the daemon's wire protocol: the request and
// response unions, a deterministic binary codec for them, and the
// length-delimited framing.
//
// The encoding transmits no field names. Each message starts with a
// one-byte variant tag followed by the client-assigned u32 id; integers are
// big-endian, strings are u16-length-prefixed UTF-8, and lists carry an
// explicit count. Unknown variant tags are rejected, never skipped.
package protocol

import (
	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/pm"
	"github.com/omglabs/omg/pkg/statestore"
)

// Stable error codes surfaced to clients.
const (
	CodeMethodNotFound  int32 = -32601
	CodeInvalidParams   int32 = -32602
	CodeInternalError   int32 = -32603
	CodeParseError      int32 = -32700
	CodePackageNotFound int32 = -1001
)

// Request variant tags. New variants get new tags; tags are never reused.
const (
	tagSearch        byte = 1
	tagInfo          byte = 2
	tagStatus        byte = 3
	tagExplicit      byte = 4
	tagSecurityAudit byte = 5
	tagCacheClear    byte = 6
	tagCacheStats    byte = 7
	tagPing          byte = 8
)

// Response variant tags.
const (
	tagSuccess byte = 0
	tagError   byte = 1
)

// Request is one variant of the client request union. The id is assigned
// by the client and echoed verbatim in the response.
type Request interface {
	RequestID() uint32
	requestTag() byte
}

// SearchRequest asks for a ranked fuzzy search.
type SearchRequest struct {
	ID    uint32
	Query string
	Limit uint32
}

// InfoRequest asks for one package's record.
type InfoRequest struct {
	ID   uint32
	Name string
}

// StatusRequest asks for the current SystemStatus.
type StatusRequest struct {
	ID uint32
}

// ExplicitRequest asks for the explicitly installed packages.
type ExplicitRequest struct {
	ID uint32
}

// SecurityAuditRequest asks for a vulnerability scan of one package, or of
// the whole system when Package is empty.
type SecurityAuditRequest struct {
	ID      uint32
	Package string
}

// CacheClearRequest empties the daemon's response cache.
type CacheClearRequest struct {
	ID uint32
}

// CacheStatsRequest reads cache statistics.
type CacheStatsRequest struct {
	ID uint32
}

// PingRequest checks liveness.
type PingRequest struct {
	ID uint32
}

func (r SearchRequest) RequestID() uint32        { return r.ID }
func (r InfoRequest) RequestID() uint32          { return r.ID }
func (r StatusRequest) RequestID() uint32        { return r.ID }
func (r ExplicitRequest) RequestID() uint32      { return r.ID }
func (r SecurityAuditRequest) RequestID() uint32 { return r.ID }
func (r CacheClearRequest) RequestID() uint32    { return r.ID }
func (r CacheStatsRequest) RequestID() uint32    { return r.ID }
func (r PingRequest) RequestID() uint32          { return r.ID }

func (SearchRequest) requestTag() byte        { return tagSearch }
func (InfoRequest) requestTag() byte          { return tagInfo }
func (StatusRequest) requestTag() byte        { return tagStatus }
func (ExplicitRequest) requestTag() byte      { return tagExplicit }
func (SecurityAuditRequest) requestTag() byte { return tagSecurityAudit }
func (CacheClearRequest) requestTag() byte    { return tagCacheClear }
func (CacheStatsRequest) requestTag() byte    { return tagCacheStats }
func (PingRequest) requestTag() byte          { return tagPing }

// Response is either a Success carrying a result or an Error.
type Response interface {
	ResponseID() uint32
	responseTag() byte
}

// SuccessResponse answers a request with its result. The result tag equals
// the request tag it answers.
type SuccessResponse struct {
	ID     uint32
	Result Result
}

// ErrorResponse answers a request with a stable code and a message.
type ErrorResponse struct {
	ID      uint32
	Code    int32
	Message string
}

func (r SuccessResponse) ResponseID() uint32 { return r.ID }
func (r ErrorResponse) ResponseID() uint32   { return r.ID }

func (SuccessResponse) responseTag() byte { return tagSuccess }
func (ErrorResponse) responseTag() byte   { return tagError }

// Result is one variant of the response payload union.
type Result interface {
	resultTag() byte
}

// SearchResult carries ranked search items.
type SearchResult struct {
	Items []catalog.SearchItem
}

// InfoResult carries one package record.
type InfoResult struct {
	Record catalog.PackageRecord
}

// StatusResult carries the system status.
type StatusResult struct {
	Status statestore.SystemStatus
}

// ExplicitResult carries the explicit package list.
type ExplicitResult struct {
	Packages []catalog.PackageRecord
}

// AuditResult carries a vulnerability report.
type AuditResult struct {
	Report pm.VulnerabilityReport
}

// CacheClearResult reports how many entries were dropped.
type CacheClearResult struct {
	Cleared uint32
}

// CacheStatsResult mirrors the cache's stats() operation.
type CacheStatsResult struct {
	Size     uint32
	Capacity uint32
	Hits     uint64
	Misses   uint64
}

// PongResult answers a ping.
type PongResult struct{}

func (SearchResult) resultTag() byte     { return tagSearch }
func (InfoResult) resultTag() byte       { return tagInfo }
func (StatusResult) resultTag() byte     { return tagStatus }
func (ExplicitResult) resultTag() byte   { return tagExplicit }
func (AuditResult) resultTag() byte      { return tagSecurityAudit }
func (CacheClearResult) resultTag() byte { return tagCacheClear }
func (CacheStatsResult) resultTag() byte { return tagCacheStats }
func (PongResult) resultTag() byte       { return tagPing }

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

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/pm"
	"github.com/omglabs/omg/pkg/statestore"
)

// ErrProtocol marks any decode failure: truncation, unknown tags, trailing
// bytes. The connection handling layer maps it to CodeParseError and
// closes the connection.
var ErrProtocol = errors.New("protocol error")

// EncodeRequest serializes req into a fresh buffer.
func EncodeRequest(req Request) ([]byte, error) {
	e := &encoder{}
	e.u8(req.requestTag())
	e.u32(req.RequestID())
	switch r := req.(type) {
	case SearchRequest:
		e.str(r.Query)
		e.u32(r.Limit)
	case InfoRequest:
		e.str(r.Name)
	case StatusRequest, ExplicitRequest, CacheClearRequest, CacheStatsRequest, PingRequest:
	case SecurityAuditRequest:
		e.str(r.Package)
	default:
		return nil, fmt.Errorf("%w: unencodable request %T", ErrProtocol, req)
	}
	return e.finish()
}

// DecodeRequest parses one request message. Unknown tags and trailing
// bytes are rejected.
func DecodeRequest(data []byte) (Request, error) {
	d := &decoder{data: data}
	tag := d.u8()
	id := d.u32()
	var req Request
	switch tag {
	case tagSearch:
		req = SearchRequest{ID: id, Query: d.str(), Limit: d.u32()}
	case tagInfo:
		req = InfoRequest{ID: id, Name: d.str()}
	case tagStatus:
		req = StatusRequest{ID: id}
	case tagExplicit:
		req = ExplicitRequest{ID: id}
	case tagSecurityAudit:
		req = SecurityAuditRequest{ID: id, Package: d.str()}
	case tagCacheClear:
		req = CacheClearRequest{ID: id}
	case tagCacheStats:
		req = CacheStatsRequest{ID: id}
	case tagPing:
		req = PingRequest{ID: id}
	default:
		return nil, fmt.Errorf("%w: unknown request tag %d", ErrProtocol, tag)
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeResponse serializes resp into a fresh buffer.
func EncodeResponse(resp Response) ([]byte, error) {
	e := &encoder{}
	e.u8(resp.responseTag())
	e.u32(resp.ResponseID())
	switch r := resp.(type) {
	case SuccessResponse:
		e.u8(r.Result.resultTag())
		if err := encodeResult(e, r.Result); err != nil {
			return nil, err
		}
	case ErrorResponse:
		e.u32(uint32(r.Code))
		e.str(r.Message)
	default:
		return nil, fmt.Errorf("%w: unencodable response %T", ErrProtocol, resp)
	}
	return e.finish()
}

// DecodeResponse parses one response message.
func DecodeResponse(data []byte) (Response, error) {
	d := &decoder{data: data}
	tag := d.u8()
	id := d.u32()
	var resp Response
	switch tag {
	case tagSuccess:
		result, err := decodeResult(d)
		if err != nil {
			return nil, err
		}
		resp = SuccessResponse{ID: id, Result: result}
	case tagError:
		resp = ErrorResponse{ID: id, Code: int32(d.u32()), Message: d.str()}
	default:
		return nil, fmt.Errorf("%w: unknown response tag %d", ErrProtocol, tag)
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return resp, nil
}

func encodeResult(e *encoder, result Result) error {
	switch r := result.(type) {
	case SearchResult:
		e.u32(uint32(len(r.Items)))
		for _, it := range r.Items {
			e.str(it.Name)
			e.str(it.Version)
			e.str(it.Description)
			e.str(it.Repo)
			e.bool(it.Installed)
			e.u32(uint32(int32(it.Score)))
		}
	case InfoResult:
		encodeRecord(e, r.Record)
	case StatusResult:
		encodeStatus(e, r.Status)
	case ExplicitResult:
		e.u32(uint32(len(r.Packages)))
		for _, rec := range r.Packages {
			encodeRecord(e, rec)
		}
	case AuditResult:
		e.str(r.Report.Package)
		e.u32(r.Report.Total)
		e.u16(uint16(len(r.Report.Findings)))
		for _, f := range r.Report.Findings {
			e.str(f.ID)
			e.str(f.Package)
			e.str(f.Severity)
			e.str(f.Summary)
		}
	case CacheClearResult:
		e.u32(r.Cleared)
	case CacheStatsResult:
		e.u32(r.Size)
		e.u32(r.Capacity)
		e.u64(r.Hits)
		e.u64(r.Misses)
	case PongResult:
	default:
		return fmt.Errorf("%w: unencodable result %T", ErrProtocol, result)
	}
	return nil
}

func decodeResult(d *decoder) (Result, error) {
	tag := d.u8()
	switch tag {
	case tagSearch:
		n := int(d.u32())
		items := make([]catalog.SearchItem, 0, min(n, 4096))
		for i := 0; i < n && d.err == nil; i++ {
			items = append(items, catalog.SearchItem{
				Name:        d.str(),
				Version:     d.str(),
				Description: d.str(),
				Repo:        d.str(),
				Installed:   d.bool(),
				Score:       int(int32(d.u32())),
			})
		}
		return SearchResult{Items: items}, d.err
	case tagInfo:
		return InfoResult{Record: decodeRecord(d)}, d.err
	case tagStatus:
		return StatusResult{Status: decodeStatus(d)}, d.err
	case tagExplicit:
		n := int(d.u32())
		pkgs := make([]catalog.PackageRecord, 0, min(n, 4096))
		for i := 0; i < n && d.err == nil; i++ {
			pkgs = append(pkgs, decodeRecord(d))
		}
		return ExplicitResult{Packages: pkgs}, d.err
	case tagSecurityAudit:
		rep := pm.VulnerabilityReport{Package: d.str(), Total: d.u32()}
		n := int(d.u16())
		for i := 0; i < n && d.err == nil; i++ {
			rep.Findings = append(rep.Findings, pm.Finding{
				ID:       d.str(),
				Package:  d.str(),
				Severity: d.str(),
				Summary:  d.str(),
			})
		}
		return AuditResult{Report: rep}, d.err
	case tagCacheClear:
		return CacheClearResult{Cleared: d.u32()}, d.err
	case tagCacheStats:
		return CacheStatsResult{Size: d.u32(), Capacity: d.u32(), Hits: d.u64(), Misses: d.u64()}, d.err
	case tagPing:
		return PongResult{}, d.err
	default:
		return nil, fmt.Errorf("%w: unknown result tag %d", ErrProtocol, tag)
	}
}

func encodeRecord(e *encoder, r catalog.PackageRecord) {
	e.str(r.Name)
	e.str(r.Version)
	e.str(r.Description)
	e.str(r.Repo)
	e.bool(r.Installed)
	e.bool(r.Explicit)
	e.u16(uint16(len(r.Dependencies)))
	for _, dep := range r.Dependencies {
		e.str(dep)
	}
	e.u64(r.SizeBytes)
}

func decodeRecord(d *decoder) catalog.PackageRecord {
	r := catalog.PackageRecord{
		Name:        d.str(),
		Version:     d.str(),
		Description: d.str(),
		Repo:        d.str(),
		Installed:   d.bool(),
		Explicit:    d.bool(),
	}
	n := int(d.u16())
	for i := 0; i < n && d.err == nil; i++ {
		r.Dependencies = append(r.Dependencies, d.str())
	}
	r.SizeBytes = d.u64()
	return r
}

func encodeStatus(e *encoder, st statestore.SystemStatus) {
	e.u32(st.TotalPackages)
	e.u32(st.Explicit)
	e.u32(st.Orphans)
	e.u32(st.UpdatesAvailable)
	e.u32(st.VulnerabilityCount)
	e.u64(uint64(st.GeneratedAt.Unix()))
	names := make([]string, 0, len(st.RuntimeVersions))
	for n := range st.RuntimeVersions {
		names = append(names, n)
	}
	sort.Strings(names)
	e.u16(uint16(len(names)))
	for _, n := range names {
		e.str(n)
		e.str(st.RuntimeVersions[n])
	}
}

func decodeStatus(d *decoder) statestore.SystemStatus {
	st := statestore.SystemStatus{
		TotalPackages:    d.u32(),
		Explicit:         d.u32(),
		Orphans:          d.u32(),
		UpdatesAvailable: d.u32(),
	}
	st.VulnerabilityCount = d.u32()
	st.GeneratedAt = time.Unix(int64(d.u64()), 0).UTC()
	n := int(d.u16())
	st.RuntimeVersions = make(map[string]string, n)
	for i := 0; i < n && d.err == nil; i++ {
		name := d.str()
		st.RuntimeVersions[name] = d.str()
	}
	return st
}

// encoder appends big-endian primitives to a growing buffer.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(v byte)    { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	if len(s) > int(^uint16(0)) {
		if e.err == nil {
			e.err = fmt.Errorf("%w: string of %d bytes exceeds field limit", ErrProtocol, len(s))
		}
		return
	}
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// decoder consumes big-endian primitives, latching the first error. All
// reads after an error return zero values, so call sites stay linear.
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.data) < n {
		d.err = fmt.Errorf("%w: truncated message", ErrProtocol)
		return nil
	}
	out := d.data[:n]
	d.data = d.data[n:]
	return out
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) str() string {
	n := int(d.u16())
	b := d.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.data) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrProtocol, len(d.data))
	}
	return nil
}

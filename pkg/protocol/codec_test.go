// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/pm"
	"github.com/omglabs/omg/pkg/statestore"
)

func TestRequest_RoundTrip(t *testing.T) {
	requests := []Request{
		SearchRequest{ID: 1, Query: "fire", Limit: 10},
		SearchRequest{ID: 2, Query: "", Limit: 0},
		InfoRequest{ID: 3, Name: "firefox"},
		StatusRequest{ID: 4},
		ExplicitRequest{ID: 5},
		SecurityAuditRequest{ID: 6, Package: "openssl"},
		SecurityAuditRequest{ID: 7},
		CacheClearRequest{ID: 8},
		CacheStatsRequest{ID: 9},
		PingRequest{ID: 4294967295},
	}
	for _, req := range requests {
		data, err := EncodeRequest(req)
		require.NoError(t, err)
		got, err := DecodeRequest(data)
		require.NoError(t, err)
		assert.Equal(t, req, got)
	}
}

func TestResponse_RoundTrip(t *testing.T) {
	responses := []Response{
		SuccessResponse{ID: 1, Result: SearchResult{Items: []catalog.SearchItem{
			{Name: "firefox", Version: "128.0-1", Description: "browser", Repo: "extra", Installed: true, Score: 120},
			{Name: "firewalld", Version: "2.1.2-1", Description: "daemon", Repo: "extra", Score: -3},
		}}},
		SuccessResponse{ID: 2, Result: SearchResult{Items: []catalog.SearchItem{}}},
		SuccessResponse{ID: 3, Result: InfoResult{Record: catalog.PackageRecord{
			Name: "zsh", Version: "5.9-5", Description: "shell", Repo: "extra",
			Installed: true, Explicit: true, Dependencies: []string{"pcre2", "gdbm"}, SizeBytes: 7340032,
		}}},
		SuccessResponse{ID: 4, Result: StatusResult{Status: statestore.SystemStatus{
			TotalPackages: 1847, Explicit: 423, Orphans: 12, UpdatesAvailable: 5,
			RuntimeVersions:    map[string]string{"node": "v22.1.0", "go": "1.24.0"},
			VulnerabilityCount: 2,
			GeneratedAt:        time.Unix(1700000000, 0).UTC(),
		}}},
		SuccessResponse{ID: 5, Result: ExplicitResult{Packages: []catalog.PackageRecord{
			{Name: "bat", Version: "0.24.0-2"},
		}}},
		SuccessResponse{ID: 6, Result: AuditResult{Report: pm.VulnerabilityReport{
			Package: "openssl", Total: 1,
			Findings: []pm.Finding{{ID: "CVE-2024-0001", Package: "openssl", Severity: "high", Summary: "overflow"}},
		}}},
		SuccessResponse{ID: 7, Result: CacheClearResult{Cleared: 17}},
		SuccessResponse{ID: 8, Result: CacheStatsResult{Size: 3, Capacity: 1000, Hits: 99, Misses: 7}},
		SuccessResponse{ID: 9, Result: PongResult{}},
		ErrorResponse{ID: 10, Code: CodePackageNotFound, Message: "package not found: nope"},
		ErrorResponse{ID: 0, Code: CodeParseError, Message: "truncated"},
	}
	for _, resp := range responses {
		data, err := EncodeResponse(resp)
		require.NoError(t, err)
		got, err := DecodeResponse(data)
		require.NoError(t, err)
		assert.Equal(t, resp, got)
	}
}

func TestDecode_UnknownRequestTagRejected(t *testing.T) {
	data, err := EncodeRequest(PingRequest{ID: 1})
	require.NoError(t, err)
	data[0] = 0xEE

	_, err = DecodeRequest(data)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestDecode_UnknownResultTagRejected(t *testing.T) {
	data, err := EncodeResponse(SuccessResponse{ID: 1, Result: PongResult{}})
	require.NoError(t, err)
	data[5] = 0xEE // result tag follows the response tag and id

	_, err = DecodeResponse(data)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestDecode_TrailingBytesRejected(t *testing.T) {
	data, err := EncodeRequest(PingRequest{ID: 1})
	require.NoError(t, err)
	data = append(data, 0x00)

	_, err = DecodeRequest(data)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestDecode_TruncatedRejected(t *testing.T) {
	data, err := EncodeRequest(SearchRequest{ID: 1, Query: "firefox", Limit: 10})
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		_, err := DecodeRequest(data[:n])
		assert.Error(t, err, "prefix of %d bytes decoded", n)
	}
}

func TestDecode_NeverPanicsOnGarbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{1},
		{1, 0, 0},
		bytes.Repeat([]byte{0xFF}, 64),
		append([]byte{1, 0, 0, 0, 1, 0xFF, 0xFF}, bytes.Repeat([]byte{'x'}, 10)...), // string length lies
	}
	for _, in := range inputs {
		_, err := DecodeRequest(in)
		assert.Error(t, err)
		_, err = DecodeResponse(in)
		assert.Error(t, err)
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	payload, err := EncodeRequest(SearchRequest{ID: 7, Query: "fire", Limit: 10})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload, MaxRequestFrame))

	// The prefix and body go out as one buffer.
	require.Equal(t, 4+len(payload), buf.Len())
	require.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	got, err := ReadFrame(&buf, MaxRequestFrame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrame_OversizeRejectedBeforeAllocation(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxRequestFrame+1)

	_, err := ReadFrame(bytes.NewReader(prefix[:]), MaxRequestFrame)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrame_WriteOversizeRejected(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxRequestFrame+1), MaxRequestFrame)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	require.Zero(t, buf.Len())
}

func TestFrame_EOFBetweenFrames(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), MaxRequestFrame)
	require.ErrorIs(t, err, io.EOF)
}

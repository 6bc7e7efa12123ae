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
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/client"
	"github.com/omglabs/omg/pkg/pm"
	"github.com/omglabs/omg/pkg/protocol"
	"github.com/omglabs/omg/pkg/snapshot"
)

func testPackages() []catalog.PackageRecord {
	return []catalog.PackageRecord{
		{Name: "firefox", Version: "128.0-1", Description: "Standalone web browser from mozilla.org", Repo: "extra", Installed: true, Explicit: true},
		{Name: "firewalld", Version: "2.1.2-1", Description: "Zone-based network control daemon (D-Bus)", Repo: "extra", Installed: true},
		{Name: "zsh", Version: "5.9-5", Description: "A very advanced and programmable command interpreter", Repo: "extra", Installed: true, Explicit: true},
	}
}

type testDaemon struct {
	d    *Daemon
	mock *pm.Mock
	sock string
	snap string

	cancel context.CancelFunc
	done   chan error
}

func startTestDaemon(t *testing.T, mock *pm.Mock, tweak func(*Config)) *testDaemon {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		SocketPath:      filepath.Join(dir, "omg.sock"),
		SnapshotPath:    filepath.Join(dir, "omg.status"),
		StorePath:       filepath.Join(dir, "cache.bolt"),
		CatalogDir:      filepath.Join(dir, "catalogs"),
		CacheCapacity:   128,
		CacheTTL:        time.Minute,
		RefreshInterval: time.Hour, // only the startup refresh fires in tests
		MaxConnections:  16,
		BackendDeadline: 2 * time.Second,
		GracePeriod:     time.Second,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := New(cfg, mock, mock, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitForSocket(t, cfg.SocketPath)

	td := &testDaemon{d: d, mock: mock, sock: cfg.SocketPath, snap: cfg.SnapshotPath, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
		_ = d.Close()
	})
	return td
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("daemon socket %s never came up", path)
}

func waitForSnapshot(t *testing.T, path string) snapshot.Counters {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c, ok, err := snapshot.Read(path); err == nil && ok {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot %s never published", path)
	return snapshot.Counters{}
}

func dialTest(t *testing.T, td *testDaemon) *client.Client {
	t.Helper()
	c, err := client.Dial(td.sock, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDaemon_ColdAndWarmSearch(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)
	c := dialTest(t, td)

	items, err := c.Search("fire", 10)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "firefox", items[0].Name)
	assert.Equal(t, "firewalld", items[1].Name)

	statsBefore, err := c.CacheStats()
	require.NoError(t, err)

	again, err := c.Search("fire", 10)
	require.NoError(t, err)
	assert.Equal(t, items, again)

	statsAfter, err := c.CacheStats()
	require.NoError(t, err)
	assert.Equal(t, statsBefore.Hits+1, statsAfter.Hits, "warm search must hit the cache")
	assert.Zero(t, mock.NativeSearchCalls.Load(), "index-backed search must not call the backend")
}

func TestDaemon_SearchLimitBoundaries(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)
	c := dialTest(t, td)

	// limit 0 uses the server default, not "no results".
	items, err := c.Search("", 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	// absurd limits are clamped server-side, not rejected.
	items, err = c.Search("", 100000)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestDaemon_Info(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)
	c := dialTest(t, td)

	rec, err := c.Info("zsh")
	require.NoError(t, err)
	assert.Equal(t, "5.9-5", rec.Version)

	_, err = c.Info("does-not-exist")
	var re *client.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, protocol.CodePackageNotFound, re.Code)

	// The connection stays open after a NotFound.
	require.NoError(t, c.Ping())
}

func TestDaemon_InvalidParamsKeepsConnectionOpen(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)
	c := dialTest(t, td)

	longName := make([]byte, 256)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err := c.Info(string(longName))
	var re *client.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, protocol.CodeInvalidParams, re.Code)

	require.NoError(t, c.Ping())
}

func TestDaemon_StatusAndSnapshotPublish(t *testing.T) {
	mock := pm.NewMock(testPackages())
	mock.SetCounts(pm.Counts{Total: 1847, Explicit: 423, Orphans: 12, Updates: 5})
	td := startTestDaemon(t, mock, nil)

	counters := waitForSnapshot(t, td.snap)
	assert.Equal(t, snapshot.Counters{Total: 1847, Explicit: 423, Orphans: 12, Updates: 5}, counters)

	// The snapshot file is exactly 16 bytes, little-endian.
	raw, err := os.ReadFile(td.snap)
	require.NoError(t, err)
	require.Len(t, raw, snapshot.Size)
	assert.Equal(t, uint32(1847), binary.LittleEndian.Uint32(raw[0:4]))
	assert.Equal(t, uint32(423), binary.LittleEndian.Uint32(raw[4:8]))

	c := dialTest(t, td)
	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, uint32(1847), st.TotalPackages)
	assert.Equal(t, uint32(423), st.Explicit)
}

func TestDaemon_FailedRefreshKeepsPreviousStatus(t *testing.T) {
	mock := pm.NewMock(testPackages())
	mock.SetCounts(pm.Counts{Total: 100, Explicit: 10})
	td := startTestDaemon(t, mock, nil)
	waitForSnapshot(t, td.snap)

	// Make the backend fail, then force another refresh.
	mock.SetErr(os.ErrDeadlineExceeded)
	td.d.refresher.runOnce(context.Background())

	counters, ok, err := snapshot.Read(td.snap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(100), counters.Total, "failed refresh must not clobber the snapshot")

	st, err := td.d.store.LoadStatus()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, uint32(100), st.TotalPackages, "failed refresh must not clobber the store")
}

func TestDaemon_ExplicitList(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)
	c := dialTest(t, td)

	pkgs, err := c.Explicit()
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "firefox", pkgs[0].Name)
	assert.Equal(t, "zsh", pkgs[1].Name)
}

func TestDaemon_CacheClear(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)
	// Let the startup refresh publish before clearing, so its insert
	// cannot land between the clear and the stats read.
	waitForSnapshot(t, td.snap)
	c := dialTest(t, td)

	_, err := c.Search("fire", 10)
	require.NoError(t, err)

	cleared, err := c.CacheClear()
	require.NoError(t, err)
	assert.NotZero(t, cleared)

	stats, err := c.CacheStats()
	require.NoError(t, err)
	assert.Zero(t, stats.Size, "CacheClear followed by CacheStats must report size 0")
}

func TestDaemon_Audit(t *testing.T) {
	mock := pm.NewMock(testPackages())
	mock.SetReport("openssl", &pm.VulnerabilityReport{
		Package: "openssl", Total: 1,
		Findings: []pm.Finding{{ID: "CVE-2024-0001", Package: "openssl", Severity: "high", Summary: "overflow"}},
	})
	td := startTestDaemon(t, mock, nil)
	c := dialTest(t, td)

	rep, err := c.Audit("openssl")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rep.Total)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "CVE-2024-0001", rep.Findings[0].ID)
}

func TestDaemon_PipelinedRequestsAnswerInOrder(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)

	conn, err := net.Dial("unix", td.sock)
	require.NoError(t, err)
	defer conn.Close()

	// Two requests before reading any response.
	for _, id := range []uint32{11, 22} {
		body, err := protocol.EncodeRequest(protocol.PingRequest{ID: id})
		require.NoError(t, err)
		require.NoError(t, protocol.WriteFrame(conn, body, protocol.MaxRequestFrame))
	}
	for _, id := range []uint32{11, 22} {
		payload, err := protocol.ReadFrame(conn, protocol.MaxResponseFrame)
		require.NoError(t, err)
		resp, err := protocol.DecodeResponse(payload)
		require.NoError(t, err)
		assert.Equal(t, id, resp.ResponseID(), "responses must come back in receipt order")
	}
}

func TestDaemon_OversizeFrameRejected(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)

	conn, err := net.Dial("unix", td.sock)
	require.NoError(t, err)
	defer conn.Close()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], protocol.MaxRequestFrame+1)
	_, err = conn.Write(prefix[:])
	require.NoError(t, err)

	payload, err := protocol.ReadFrame(conn, protocol.MaxResponseFrame)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(payload)
	require.NoError(t, err)
	errResp, ok := resp.(protocol.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeParseError, errResp.Code)
	assert.Zero(t, errResp.ID)

	// The daemon closes the connection after a protocol violation.
	_, err = protocol.ReadFrame(conn, protocol.MaxResponseFrame)
	assert.Error(t, err)
}

func TestDaemon_GarbageFrameRejected(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)

	conn, err := net.Dial("unix", td.sock)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteFrame(conn, []byte{0xEE, 0xBA, 0xD0}, protocol.MaxRequestFrame))

	payload, err := protocol.ReadFrame(conn, protocol.MaxResponseFrame)
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(payload)
	require.NoError(t, err)
	errResp, ok := resp.(protocol.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeParseError, errResp.Code)
}

func TestDaemon_CorruptArchiveFallsBackToBackend(t *testing.T) {
	mock := pm.NewMock(testPackages())
	dir := t.TempDir()
	catalogs := filepath.Join(dir, "catalogs")
	require.NoError(t, os.MkdirAll(catalogs, 0750))

	archPath := filepath.Join(catalogs, "official.archive")
	require.NoError(t, catalog.WriteArchive(archPath, testPackages()))
	raw, err := os.ReadFile(archPath)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip one byte
	require.NoError(t, os.WriteFile(archPath, raw, 0640))

	td := startTestDaemon(t, mock, func(cfg *Config) {
		cfg.CatalogDir = catalogs
	})
	c := dialTest(t, td)

	items, err := c.Search("fire", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, items, "search must work via backend fallback")
	assert.NotZero(t, mock.ListAllCalls.Load(), "index must have been rebuilt from the backend")
}

func TestDaemon_ValidArchiveIsMapped(t *testing.T) {
	mock := pm.NewMock(nil) // backend knows nothing; the archive is the source
	dir := t.TempDir()
	catalogs := filepath.Join(dir, "catalogs")
	require.NoError(t, os.MkdirAll(catalogs, 0750))
	require.NoError(t, catalog.WriteArchive(filepath.Join(catalogs, "official.archive"), testPackages()))

	td := startTestDaemon(t, mock, func(cfg *Config) {
		cfg.CatalogDir = catalogs
	})
	c := dialTest(t, td)

	rec, err := c.Info("firefox")
	require.NoError(t, err)
	assert.Equal(t, "128.0-1", rec.Version)
	assert.Zero(t, mock.ListAllCalls.Load())
}

func TestDaemon_GracefulShutdownRemovesSocket(t *testing.T) {
	mock := pm.NewMock(testPackages())
	td := startTestDaemon(t, mock, nil)
	c := dialTest(t, td)
	require.NoError(t, c.Ping())

	td.cancel()
	select {
	case err := <-td.done:
		require.NoError(t, err)
		td.done <- err // let the cleanup observe the exit too
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not drain within the grace period")
	}

	_, err := os.Stat(td.sock)
	assert.True(t, os.IsNotExist(err), "socket file must be removed on shutdown")
}

func TestProbeRuntimes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node"), 0750))
	require.NoError(t, os.Symlink("/opt/runtimes/node/v22.1.0", filepath.Join(root, "node", "current")))

	got := probeRuntimes(root, []string{"node", "python"})
	assert.Equal(t, map[string]string{"node": "v22.1.0"}, got)
}

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

// Package client is the thin synchronous client for the omg daemon. One
// request is written, one response is read; the daemon's id echo is
// verified on every exchange and a mismatch closes the connection.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/pm"
	"github.com/omglabs/omg/pkg/protocol"
	"github.com/omglabs/omg/pkg/statestore"
)

// ErrIDMismatch reports a response whose id does not match the request.
// The connection is closed when this is returned; the client must not be
// reused.
var ErrIDMismatch = errors.New("response id does not match request: protocol violation")

// RemoteError is a daemon-reported error, carrying the stable wire code.
type RemoteError struct {
	Code    int32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// Client is not safe for concurrent use; callers serialize or hold one
// client per goroutine.
type Client struct {
	conn   net.Conn
	nextID uint32
}

// Dial connects to the daemon's socket.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends req and returns the matching success result. An error
// response becomes a *RemoteError; an id mismatch closes the connection.
func (c *Client) roundTrip(req protocol.Request) (protocol.Result, error) {
	if c.conn == nil {
		return nil, errors.New("client is closed")
	}
	body, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(c.conn, body, protocol.MaxRequestFrame); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	payload, err := protocol.ReadFrame(c.conn, protocol.MaxResponseFrame)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp, err := protocol.DecodeResponse(payload)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if resp.ResponseID() != req.RequestID() {
		_ = c.Close()
		return nil, ErrIDMismatch
	}
	switch r := resp.(type) {
	case protocol.SuccessResponse:
		return r.Result, nil
	case protocol.ErrorResponse:
		return nil, &RemoteError{Code: r.Code, Message: r.Message}
	default:
		_ = c.Close()
		return nil, protocol.ErrProtocol
	}
}

func (c *Client) id() uint32 {
	c.nextID++
	return c.nextID
}

// Search runs a fuzzy search. limit 0 uses the daemon default.
func (c *Client) Search(query string, limit uint32) ([]catalog.SearchItem, error) {
	result, err := c.roundTrip(protocol.SearchRequest{ID: c.id(), Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	r, ok := result.(protocol.SearchResult)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return r.Items, nil
}

// Info fetches one package record.
func (c *Client) Info(name string) (catalog.PackageRecord, error) {
	result, err := c.roundTrip(protocol.InfoRequest{ID: c.id(), Name: name})
	if err != nil {
		return catalog.PackageRecord{}, err
	}
	r, ok := result.(protocol.InfoResult)
	if !ok {
		return catalog.PackageRecord{}, fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return r.Record, nil
}

// Status fetches the current system status.
func (c *Client) Status() (statestore.SystemStatus, error) {
	result, err := c.roundTrip(protocol.StatusRequest{ID: c.id()})
	if err != nil {
		return statestore.SystemStatus{}, err
	}
	r, ok := result.(protocol.StatusResult)
	if !ok {
		return statestore.SystemStatus{}, fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return r.Status, nil
}

// Explicit lists the explicitly installed packages.
func (c *Client) Explicit() ([]catalog.PackageRecord, error) {
	result, err := c.roundTrip(protocol.ExplicitRequest{ID: c.id()})
	if err != nil {
		return nil, err
	}
	r, ok := result.(protocol.ExplicitResult)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return r.Packages, nil
}

// Audit requests a vulnerability scan of pkg, or of the whole system when
// pkg is empty.
func (c *Client) Audit(pkg string) (pm.VulnerabilityReport, error) {
	result, err := c.roundTrip(protocol.SecurityAuditRequest{ID: c.id(), Package: pkg})
	if err != nil {
		return pm.VulnerabilityReport{}, err
	}
	r, ok := result.(protocol.AuditResult)
	if !ok {
		return pm.VulnerabilityReport{}, fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return r.Report, nil
}

// CacheClear empties the daemon's response cache.
func (c *Client) CacheClear() (uint32, error) {
	result, err := c.roundTrip(protocol.CacheClearRequest{ID: c.id()})
	if err != nil {
		return 0, err
	}
	r, ok := result.(protocol.CacheClearResult)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return r.Cleared, nil
}

// CacheStats reads the daemon's cache statistics.
func (c *Client) CacheStats() (protocol.CacheStatsResult, error) {
	result, err := c.roundTrip(protocol.CacheStatsRequest{ID: c.id()})
	if err != nil {
		return protocol.CacheStatsResult{}, err
	}
	r, ok := result.(protocol.CacheStatsResult)
	if !ok {
		return protocol.CacheStatsResult{}, fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return r, nil
}

// Ping checks the daemon is alive.
func (c *Client) Ping() error {
	result, err := c.roundTrip(protocol.PingRequest{ID: c.id()})
	if err != nil {
		return err
	}
	if _, ok := result.(protocol.PongResult); !ok {
		return fmt.Errorf("%w: unexpected result variant", protocol.ErrProtocol)
	}
	return nil
}

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
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/omglabs/omg/pkg/protocol"
)

// Run starts the daemon: bootstraps the index, launches the refresh
// worker, and serves the socket until ctx is cancelled. On shutdown the
// listener stops accepting, in-flight connections get the grace period to
// drain, and the socket file is removed.
func (d *Daemon) Run(ctx context.Context) error {
	d.bootstrapIndex(ctx)

	if err := os.MkdirAll(filepath.Dir(d.cfg.SocketPath), 0750); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	// A stale socket from a crashed daemon would make Listen fail.
	if err := os.Remove(d.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.SocketPath, err)
	}
	if err := os.Chmod(d.cfg.SocketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	d.log.Info("daemon.listening", "socket", d.cfg.SocketPath)

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		d.refresher.run(refreshCtx)
	}()

	sem := make(chan struct{}, d.cfg.MaxConnections)
	var (
		connWG sync.WaitGroup
		connMu sync.Mutex
		conns  = make(map[net.Conn]struct{})
	)

	// Close the listener as soon as draining begins so Accept unblocks.
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			d.log.Warn("daemon.accept.error", "err", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			// Over the concurrency cap: tell the client and close.
			d.metrics.rejected.Inc()
			d.writeRejection(conn)
			_ = conn.Close()
			continue
		}

		connMu.Lock()
		conns[conn] = struct{}{}
		connMu.Unlock()
		d.metrics.activeConns.Inc()

		connWG.Add(1)
		go func(c net.Conn) {
			defer func() {
				_ = c.Close()
				connMu.Lock()
				delete(conns, c)
				connMu.Unlock()
				d.metrics.activeConns.Dec()
				<-sem
				connWG.Done()
			}()
			d.serveConn(ctx, c)
		}(conn)
	}

	d.log.Info("daemon.draining", "grace", d.cfg.GracePeriod)
	drained := make(chan struct{})
	go func() {
		connWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(d.cfg.GracePeriod):
		d.log.Warn("daemon.drain.timeout")
		connMu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		connMu.Unlock()
		<-drained
	}

	stopRefresh()
	workerWG.Wait()

	if err := os.Remove(d.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		d.log.Warn("daemon.socket.remove_failed", "err", err)
	}
	d.log.Info("daemon.stopped")
	return nil
}

// serveConn runs one connection's request loop. Requests are answered
// strictly in receipt order; the client may pipeline. A protocol
// violation closes the connection after a best-effort parse error; a
// validation failure keeps it open.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := protocol.ReadFrame(conn, protocol.MaxRequestFrame)
		if err != nil {
			if err == io.EOF {
				return
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				d.writeError(conn, protocol.ErrorResponse{Code: protocol.CodeParseError, Message: err.Error()})
			}
			return
		}

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			d.writeError(conn, protocol.ErrorResponse{Code: protocol.CodeParseError, Message: err.Error()})
			return
		}

		var resp protocol.Response
		if validated, verr := validate(req); verr != nil {
			resp = *verr
		} else {
			resp = d.dispatch(ctx, validated)
		}

		body, err := protocol.EncodeResponse(resp)
		if err != nil {
			d.log.Error("daemon.encode.failed", "err", err)
			return
		}
		if err := protocol.WriteFrame(conn, body, protocol.MaxResponseFrame); err != nil {
			return
		}
	}
}

// writeRejection answers an over-cap connection with a generic internal
// error addressed to id 0.
func (d *Daemon) writeRejection(conn net.Conn) {
	d.writeError(conn, protocol.ErrorResponse{Code: protocol.CodeInternalError, Message: "connection limit reached"})
}

func (d *Daemon) writeError(conn net.Conn, resp protocol.ErrorResponse) {
	body, err := protocol.EncodeResponse(resp)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = protocol.WriteFrame(conn, body, protocol.MaxResponseFrame)
}

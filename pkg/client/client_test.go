// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/omglabs/omg/pkg/protocol"
)

// fakeServer answers every request with respond(req). It serves a single
// connection, which is all these tests need.
func fakeServer(t *testing.T, respond func(protocol.Request) protocol.Response) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "omg.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			payload, err := protocol.ReadFrame(conn, protocol.MaxRequestFrame)
			if err != nil {
				return
			}
			req, err := protocol.DecodeRequest(payload)
			if err != nil {
				return
			}
			body, err := protocol.EncodeResponse(respond(req))
			if err != nil {
				return
			}
			if err := protocol.WriteFrame(conn, body, protocol.MaxResponseFrame); err != nil {
				return
			}
		}
	}()
	return sock
}

func TestClient_PingEcho(t *testing.T) {
	sock := fakeServer(t, func(req protocol.Request) protocol.Response {
		return protocol.SuccessResponse{ID: req.RequestID(), Result: protocol.PongResult{}}
	})

	c, err := Dial(sock, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestClient_IDMismatchClosesConnection(t *testing.T) {
	sock := fakeServer(t, func(req protocol.Request) protocol.Response {
		// A hostile or broken daemon echoing the wrong id.
		return protocol.SuccessResponse{ID: req.RequestID() + 1000, Result: protocol.PongResult{}}
	})

	c, err := Dial(sock, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := c.Ping(); !errors.Is(err, ErrIDMismatch) {
		t.Fatalf("Ping() error = %v, want ErrIDMismatch", err)
	}

	// The client must refuse further use of the poisoned connection.
	if err := c.Ping(); err == nil {
		t.Fatal("Ping() succeeded after an id mismatch")
	}
}

func TestClient_RemoteErrorSurfaced(t *testing.T) {
	sock := fakeServer(t, func(req protocol.Request) protocol.Response {
		return protocol.ErrorResponse{ID: req.RequestID(), Code: protocol.CodePackageNotFound, Message: "package not found: ghost"}
	})

	c, err := Dial(sock, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	_, err = c.Info("ghost")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Info() error = %v, want RemoteError", err)
	}
	if re.Code != protocol.CodePackageNotFound {
		t.Fatalf("Code = %d, want %d", re.Code, protocol.CodePackageNotFound)
	}
}

func TestClient_ResultVariantMismatchRejected(t *testing.T) {
	sock := fakeServer(t, func(req protocol.Request) protocol.Response {
		// Correct id, wrong payload variant for a ping.
		return protocol.SuccessResponse{ID: req.RequestID(), Result: protocol.CacheClearResult{Cleared: 1}}
	})

	c, err := Dial(sock, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := c.Ping(); !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("Ping() error = %v, want protocol error", err)
	}
}

func TestClient_DialFailure(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "nothing-here.sock"), 100*time.Millisecond)
	if err == nil {
		t.Fatal("Dial() succeeded against a missing socket")
	}
}

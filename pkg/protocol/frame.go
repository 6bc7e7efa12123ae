// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame size ceilings. Requests are small by construction; responses may
// carry large result lists.
const (
	MaxRequestFrame  = 1 << 20  // 1 MiB
	MaxResponseFrame = 16 << 20 // 16 MiB
)

// ErrFrameTooLarge reports a frame whose declared length exceeds the
// ceiling. The body is never allocated or read.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes payload prefixed by its 4-byte big-endian length. The
// prefix and body go out in a single write so the common case costs one
// syscall.
func WriteFrame(w io.Writer, payload []byte, maxSize uint32) error {
	if uint64(len(payload)) > uint64(maxSize) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(payload), maxSize)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-delimited frame. A declared length above
// maxSize is rejected before any body allocation. io.EOF is returned
// unwrapped when the peer closed cleanly between frames.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, n, maxSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

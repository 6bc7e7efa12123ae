// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omg.status")
	want := Counters{Total: 12345, Explicit: 678, Orphans: 9, Updates: 42}

	if err := Write(path, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, ok, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !ok {
		t.Fatal("Read() ok = false, want true")
	}
	if got != want {
		t.Fatalf("Read() = %+v, want %+v", got, want)
	}
}

func TestWrite_ExactBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omg.status")
	if err := Write(path, Counters{Total: 1847, Explicit: 423, Orphans: 12, Updates: 5}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := []byte{
		0x37, 0x07, 0, 0,
		0xA7, 0x01, 0, 0,
		0x0C, 0, 0, 0,
		0x05, 0, 0, 0,
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("snapshot bytes = %x, want %x", data, want)
	}
}

func TestRead_Absent(t *testing.T) {
	_, ok, err := Read(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ok {
		t.Fatal("Read() ok = true for missing file")
	}
}

func TestRead_ShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omg.status")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v, want transient no-data", err)
	}
	if ok {
		t.Fatal("Read() ok = true for short file")
	}
}

func TestWrite_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "omg.status")
	if err := Write(path, Counters{Total: 1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestWrite_ReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omg.status")
	if err := Write(path, Counters{Total: 1, Explicit: 1}); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, Counters{Total: 2, Explicit: 2}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := Read(path)
	if err != nil || !ok {
		t.Fatalf("Read() = %v, %v", ok, err)
	}
	if got.Total != 2 || got.Explicit != 2 {
		t.Fatalf("Read() = %+v, want the second write", got)
	}
}

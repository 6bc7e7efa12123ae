// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testRecords() []PackageRecord {
	return []PackageRecord{
		{
			Name: "firefox", Version: "128.0-1", Description: "Standalone web browser from mozilla.org",
			Repo: "extra", Installed: true, Explicit: true,
			Dependencies: []string{"gtk3", "libpulse", "nss"}, SizeBytes: 245000000,
		},
		{
			Name: "firewalld", Version: "2.1.2-1", Description: "Zone-based network control daemon (D-Bus)",
			Repo: "extra", Installed: true, Dependencies: []string{"python", "iptables"}, SizeBytes: 12000000,
		},
		{Name: "zsh", Version: "5.9-5", Description: "A very advanced and programmable command interpreter", Repo: "extra"},
		{Name: "bat", Version: "0.24.0-2", Description: "Cat clone with syntax highlighting and git integration", Repo: "extra", Installed: true, Explicit: true},
	}
}

func writeTestArchive(t *testing.T, records []PackageRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "official.archive")
	if err := WriteArchive(path, records); err != nil {
		t.Fatalf("WriteArchive() error = %v", err)
	}
	return path
}

func TestArchive_RoundTrip(t *testing.T) {
	path := writeTestArchive(t, testRecords())

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer a.Close()

	if a.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", a.Len())
	}

	// Records iterate in name order regardless of input order.
	wantOrder := []string{"bat", "firefox", "firewalld", "zsh"}
	for i, name := range wantOrder {
		if got := a.Record(i).Name; got != name {
			t.Fatalf("Record(%d).Name = %q, want %q", i, got, name)
		}
	}

	rec, ok := a.Lookup("firefox")
	if !ok {
		t.Fatal("Lookup(firefox) not found")
	}
	if rec.Version != "128.0-1" || rec.Repo != "extra" || !rec.Installed || !rec.Explicit {
		t.Fatalf("Lookup(firefox) = %+v", rec)
	}
	if len(rec.Dependencies) != 3 || rec.Dependencies[0] != "gtk3" {
		t.Fatalf("Dependencies = %v", rec.Dependencies)
	}
	if rec.SizeBytes != 245000000 {
		t.Fatalf("SizeBytes = %d", rec.SizeBytes)
	}

	if _, ok := a.Lookup("nonexistent"); ok {
		t.Fatal("Lookup(nonexistent) found")
	}
}

func TestArchive_CorruptByteRejected(t *testing.T) {
	path := writeTestArchive(t, testRecords())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip one byte in the record section; the checksum must catch it.
	data[headerSize+7] ^= 0xFF
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatal(err)
	}

	_, err = OpenArchive(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("OpenArchive() error = %v, want ErrCorrupt", err)
	}
}

func TestArchive_TruncatedRejected(t *testing.T) {
	path := writeTestArchive(t, testRecords())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-10], 0640); err != nil {
		t.Fatal(err)
	}

	_, err = OpenArchive(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("OpenArchive() error = %v, want ErrCorrupt", err)
	}
}

func TestArchive_BadMagicRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.archive")
	if err := os.WriteFile(path, make([]byte, 128), 0640); err != nil {
		t.Fatal(err)
	}
	_, err := OpenArchive(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("OpenArchive() error = %v, want ErrCorrupt", err)
	}
}

func TestArchive_TooSmallRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.archive")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0640); err != nil {
		t.Fatal(err)
	}
	_, err := OpenArchive(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("OpenArchive() error = %v, want ErrCorrupt", err)
	}
}

func TestWriteArchive_InvalidNameRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.archive")
	err := WriteArchive(path, []PackageRecord{{Name: "not ok!"}})
	if err == nil {
		t.Fatal("WriteArchive() accepted an invalid name")
	}
}

func TestWriteArchive_DuplicateKeepsLast(t *testing.T) {
	path := writeTestArchive(t, []PackageRecord{
		{Name: "dup", Version: "1"},
		{Name: "dup", Version: "2"},
	})
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer a.Close()
	if a.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.Len())
	}
	rec, _ := a.Lookup("dup")
	if rec.Version != "2" {
		t.Fatalf("Version = %q, want the later entry", rec.Version)
	}
}

func TestWriteArchive_Empty(t *testing.T) {
	path := writeTestArchive(t, nil)
	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer a.Close()
	if a.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", a.Len())
	}
}

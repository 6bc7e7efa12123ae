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

package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"
)

// Archive file layout, all integers little-endian:
//
//	header   64 bytes: magic "OMGA", version u16, reserved u16,
//	         record_count u32, dep_count u32, strings_len u64,
//	         checksum u64 (xxhash64 of everything after the header), pad
//	records  record_count fixed 48-byte slots
//	deps     dep_count 8-byte (str_off u32, str_len u32) entries
//	strings  strings_len bytes, referenced by (offset, length)
//
// Records are sorted by name so iteration yields natural order. Every
// (offset, length) pair is bounds-checked against the strings section
// before any record is exposed.
const (
	archiveMagic   = "OMGA"
	archiveVersion = 1

	headerSize  = 64
	recordSize  = 48
	depSize     = 8
	flagInstall = 1 << 0
	flagExplic  = 1 << 1
)

// ErrCorrupt marks an archive that failed structural validation.
var ErrCorrupt = errors.New("archive corrupt")

// Archive is a read-only memory-mapped catalog. Any number of goroutines
// may read from it. Strings returned by Record and Lookup borrow the
// mapping and are only valid until Close.
type Archive struct {
	data    []byte
	records []byte
	deps    []byte
	strs    []byte
	count   int
	byName  map[string]int
	path    string
	closed  bool
}

// OpenArchive maps path read-only and validates it. The returned Archive
// exposes no record unless validation passed in full.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path) //nolint:gosec // G304: archive path comes from config
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < headerSize {
		return nil, fmt.Errorf("%w: file is %d bytes, smaller than header", ErrCorrupt, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	a := &Archive{data: data, path: path}
	if err := a.validate(); err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	return a, nil
}

// validate checks the header, section bounds, checksum, and every record's
// string references. On success the section slices and the name map are
// populated.
func (a *Archive) validate() error {
	h := a.data[:headerSize]
	if string(h[0:4]) != archiveMagic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(h[4:6]); v != archiveVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	recordCount := int(binary.LittleEndian.Uint32(h[8:12]))
	depCount := int(binary.LittleEndian.Uint32(h[12:16]))
	stringsLen := binary.LittleEndian.Uint64(h[16:24])
	sum := binary.LittleEndian.Uint64(h[24:32])

	recordsLen := int64(recordCount) * recordSize
	depsLen := int64(depCount) * depSize
	want := headerSize + recordsLen + depsLen + int64(stringsLen)
	if want != int64(len(a.data)) {
		return fmt.Errorf("%w: size mismatch, header implies %d bytes, file has %d", ErrCorrupt, want, len(a.data))
	}

	body := a.data[headerSize:]
	if xxhash.Sum64(body) != sum {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	a.records = body[:recordsLen]
	a.deps = body[recordsLen : recordsLen+depsLen]
	a.strs = body[recordsLen+depsLen:]
	a.count = recordCount

	byName := make(map[string]int, recordCount)
	prev := ""
	for i := 0; i < recordCount; i++ {
		slot := a.records[i*recordSize : (i+1)*recordSize]
		for _, f := range [][2]uint32{
			{binary.LittleEndian.Uint32(slot[0:4]), binary.LittleEndian.Uint32(slot[4:8])},
			{binary.LittleEndian.Uint32(slot[8:12]), binary.LittleEndian.Uint32(slot[12:16])},
			{binary.LittleEndian.Uint32(slot[16:20]), binary.LittleEndian.Uint32(slot[20:24])},
			{binary.LittleEndian.Uint32(slot[24:28]), binary.LittleEndian.Uint32(slot[28:32])},
		} {
			if int64(f[0])+int64(f[1]) > int64(len(a.strs)) {
				return fmt.Errorf("%w: record %d string reference out of bounds", ErrCorrupt, i)
			}
		}
		depIdx := int(binary.LittleEndian.Uint32(slot[40:44]))
		depN := int(binary.LittleEndian.Uint16(slot[44:46]))
		if depIdx+depN > depCount {
			return fmt.Errorf("%w: record %d dependency reference out of bounds", ErrCorrupt, i)
		}
		name := a.str(binary.LittleEndian.Uint32(slot[0:4]), binary.LittleEndian.Uint32(slot[4:8]))
		if !ValidName(name) {
			return fmt.Errorf("%w: record %d has invalid name", ErrCorrupt, i)
		}
		if name <= prev && i > 0 {
			return fmt.Errorf("%w: records not sorted at %d", ErrCorrupt, i)
		}
		prev = name
		byName[name] = i
	}
	for i := 0; i < depCount; i++ {
		off := binary.LittleEndian.Uint32(a.deps[i*depSize : i*depSize+4])
		n := binary.LittleEndian.Uint32(a.deps[i*depSize+4 : i*depSize+8])
		if int64(off)+int64(n) > int64(len(a.strs)) {
			return fmt.Errorf("%w: dependency %d string reference out of bounds", ErrCorrupt, i)
		}
	}
	a.byName = byName
	return nil
}

// Close unmaps the archive. Strings previously returned become invalid.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return unix.Munmap(a.data)
}

// Path returns the file the archive was mapped from.
func (a *Archive) Path() string { return a.path }

// Len returns the number of records.
func (a *Archive) Len() int { return a.count }

// Record returns record i. Strings borrow the mapping.
func (a *Archive) Record(i int) PackageRecord {
	slot := a.records[i*recordSize : (i+1)*recordSize]
	rec := PackageRecord{
		Name:        a.str(binary.LittleEndian.Uint32(slot[0:4]), binary.LittleEndian.Uint32(slot[4:8])),
		Version:     a.str(binary.LittleEndian.Uint32(slot[8:12]), binary.LittleEndian.Uint32(slot[12:16])),
		Description: a.str(binary.LittleEndian.Uint32(slot[16:20]), binary.LittleEndian.Uint32(slot[20:24])),
		Repo:        a.str(binary.LittleEndian.Uint32(slot[24:28]), binary.LittleEndian.Uint32(slot[28:32])),
		SizeBytes:   binary.LittleEndian.Uint64(slot[32:40]),
	}
	flags := slot[46]
	rec.Installed = flags&flagInstall != 0
	rec.Explicit = flags&flagExplic != 0
	depIdx := int(binary.LittleEndian.Uint32(slot[40:44]))
	depN := int(binary.LittleEndian.Uint16(slot[44:46]))
	if depN > 0 {
		rec.Dependencies = make([]string, depN)
		for j := 0; j < depN; j++ {
			e := a.deps[(depIdx+j)*depSize : (depIdx+j+1)*depSize]
			rec.Dependencies[j] = a.str(binary.LittleEndian.Uint32(e[0:4]), binary.LittleEndian.Uint32(e[4:8]))
		}
	}
	return rec
}

// Lookup returns the record with the given name.
func (a *Archive) Lookup(name string) (PackageRecord, bool) {
	i, ok := a.byName[name]
	if !ok {
		return PackageRecord{}, false
	}
	return a.Record(i), true
}

// str builds a string view over the strings section without copying.
func (a *Archive) str(off, n uint32) string {
	if n == 0 {
		return ""
	}
	return unsafe.String(&a.strs[off], int(n))
}

// WriteArchive serializes records into an archive at path. The write is
// atomic: a sibling temp file is written, fsynced, and renamed over path.
// Records are sorted by name; duplicate names keep the last occurrence.
func WriteArchive(path string, records []PackageRecord) error {
	sorted := make([]PackageRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	// Drop duplicates, keeping the later entry.
	out := sorted[:0]
	for i, r := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Name == r.Name {
			continue
		}
		if !ValidName(r.Name) {
			return fmt.Errorf("invalid package name %q", r.Name)
		}
		out = append(out, r)
	}
	sorted = out

	var strs []byte
	interned := make(map[string][2]uint32)
	intern := func(s string) [2]uint32 {
		if ref, ok := interned[s]; ok {
			return ref
		}
		ref := [2]uint32{uint32(len(strs)), uint32(len(s))}
		strs = append(strs, s...)
		interned[s] = ref
		return ref
	}

	recBuf := make([]byte, 0, len(sorted)*recordSize)
	var depBuf []byte
	depCount := 0
	for _, r := range sorted {
		slot := make([]byte, recordSize)
		put := func(at int, ref [2]uint32) {
			binary.LittleEndian.PutUint32(slot[at:], ref[0])
			binary.LittleEndian.PutUint32(slot[at+4:], ref[1])
		}
		put(0, intern(r.Name))
		put(8, intern(r.Version))
		put(16, intern(r.Description))
		put(24, intern(r.Repo))
		binary.LittleEndian.PutUint64(slot[32:], r.SizeBytes)
		binary.LittleEndian.PutUint32(slot[40:], uint32(depCount))
		if len(r.Dependencies) > int(^uint16(0)) {
			return fmt.Errorf("package %s has too many dependencies", r.Name)
		}
		binary.LittleEndian.PutUint16(slot[44:], uint16(len(r.Dependencies)))
		var flags byte
		if r.Installed {
			flags |= flagInstall
		}
		if r.Explicit {
			flags |= flagExplic
		}
		slot[46] = flags
		recBuf = append(recBuf, slot...)

		for _, d := range r.Dependencies {
			ref := intern(d)
			e := make([]byte, depSize)
			binary.LittleEndian.PutUint32(e[0:], ref[0])
			binary.LittleEndian.PutUint32(e[4:], ref[1])
			depBuf = append(depBuf, e...)
			depCount++
		}
	}

	body := make([]byte, 0, len(recBuf)+len(depBuf)+len(strs))
	body = append(body, recBuf...)
	body = append(body, depBuf...)
	body = append(body, strs...)

	header := make([]byte, headerSize)
	copy(header[0:4], archiveMagic)
	binary.LittleEndian.PutUint16(header[4:], archiveVersion)
	binary.LittleEndian.PutUint32(header[8:], uint32(len(sorted)))
	binary.LittleEndian.PutUint32(header[12:], uint32(depCount))
	binary.LittleEndian.PutUint64(header[16:], uint64(len(strs)))
	binary.LittleEndian.PutUint64(header[24:], xxhash.Sum64(body))

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640) //nolint:gosec // G302
	if err != nil {
		return err
	}
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // G304
	if err != nil {
		return nil // best effort
	}
	_ = d.Sync()
	return d.Close()
}

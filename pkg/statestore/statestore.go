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

// Package statestore persists the last computed SystemStatus across daemon
// restarts in an embedded bbolt database, so the first status read after a
// restart does not have to wait for a full refresh.
package statestore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// SystemStatus is the refresh worker's aggregate view of the system. It is
// a logical singleton: readers always see a complete value, writers replace
// it wholesale.
type SystemStatus struct {
	TotalPackages      uint32
	Explicit           uint32
	Orphans            uint32
	UpdatesAvailable   uint32
	RuntimeVersions    map[string]string
	VulnerabilityCount uint32
	GeneratedAt        time.Time
}

const (
	bucketStatus = "status"
	keyCurrent   = "current"

	// schemaVersion prefixes every stored value. Loaders that see a
	// different version discard the value and report absence.
	schemaVersion uint16 = 1
)

// Store wraps the bbolt database holding the status record.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketStatus))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create status bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveStatus replaces the stored status. The write is transactional.
func (s *Store) SaveStatus(st *SystemStatus) error {
	data := encodeStatus(st)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketStatus))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", bucketStatus)
		}
		return b.Put([]byte(keyCurrent), data)
	})
}

// LoadStatus returns the stored status, or (nil, nil) when absent or when
// the value carries an unknown schema version. A decode failure is treated
// the same way: the daemon overwrites the slot on the next publish.
func (s *Store) LoadStatus() (*SystemStatus, error) {
	var st *SystemStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketStatus))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(keyCurrent))
		if data == nil {
			return nil
		}
		st = decodeStatus(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	return st, nil
}

// encodeStatus serializes st, prefixed with the schema version. Runtime
// versions are written sorted by name so encoding is deterministic.
func encodeStatus(st *SystemStatus) []byte {
	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint16(buf, schemaVersion)
	buf = binary.BigEndian.AppendUint32(buf, st.TotalPackages)
	buf = binary.BigEndian.AppendUint32(buf, st.Explicit)
	buf = binary.BigEndian.AppendUint32(buf, st.Orphans)
	buf = binary.BigEndian.AppendUint32(buf, st.UpdatesAvailable)
	buf = binary.BigEndian.AppendUint32(buf, st.VulnerabilityCount)
	buf = binary.BigEndian.AppendUint64(buf, uint64(st.GeneratedAt.Unix()))

	names := make([]string, 0, len(st.RuntimeVersions))
	for n := range st.RuntimeVersions {
		names = append(names, n)
	}
	sort.Strings(names)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(names)))
	for _, n := range names {
		buf = appendString(buf, n)
		buf = appendString(buf, st.RuntimeVersions[n])
	}
	return buf
}

// decodeStatus returns nil for any value it cannot fully decode.
func decodeStatus(data []byte) *SystemStatus {
	if len(data) < 2 || binary.BigEndian.Uint16(data) != schemaVersion {
		return nil
	}
	data = data[2:]
	if len(data) < 4*5+8+2 {
		return nil
	}
	st := &SystemStatus{
		TotalPackages:    binary.BigEndian.Uint32(data[0:4]),
		Explicit:         binary.BigEndian.Uint32(data[4:8]),
		Orphans:          binary.BigEndian.Uint32(data[8:12]),
		UpdatesAvailable: binary.BigEndian.Uint32(data[12:16]),
	}
	st.VulnerabilityCount = binary.BigEndian.Uint32(data[16:20])
	st.GeneratedAt = time.Unix(int64(binary.BigEndian.Uint64(data[20:28])), 0).UTC()
	n := int(binary.BigEndian.Uint16(data[28:30]))
	data = data[30:]
	st.RuntimeVersions = make(map[string]string, n)
	for i := 0; i < n; i++ {
		var name, ver string
		var ok bool
		name, data, ok = readString(data)
		if !ok {
			return nil
		}
		ver, data, ok = readString(data)
		if !ok {
			return nil
		}
		st.RuntimeVersions[name] = ver
	}
	return st
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, bool) {
	if len(data) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return "", nil, false
	}
	return string(data[2 : 2+n]), data[2+n:], true
}

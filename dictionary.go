// CLP - Compressed Log Processor
// Copyright (C) 2024 CLP Authors

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package clp

import (
	"sync"
)

// Dictionary is the append-only interned string table behind both the
// log-type and variable dictionaries: same shape, two instances per
// archive. Ids are dense, assigned in first-seen order, and never reused.
type Dictionary struct {
	mu sync.Mutex

	entries [][]byte
	index   map[string]uint64

	// snapshotted is the count of entries already persisted by a prior
	// WriteSnapshot call, so snapshotting only ever emits the new tail.
	snapshotted int
}

func NewDictionary() *Dictionary {
	return &Dictionary{index: make(map[string]uint64)}
}

// AddEntry interns bytes, returning its dense id and whether this call
// created a new entry (O(1) expected, via the hash index).
func (d *Dictionary) AddEntry(b []byte) (id uint64, wasNew bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := string(b)
	if id, found := d.index[key]; found {
		return id, false
	}

	id = uint64(len(d.entries))
	d.entries = append(d.entries, append([]byte(nil), b...))
	d.index[key] = id
	return id, true
}

// GetEntry returns the interned bytes for id.
func (d *Dictionary) GetEntry(id uint64) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id >= uint64(len(d.entries)) {
		return nil, false
	}
	return d.entries[id], true
}

func (d *Dictionary) Len() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(len(d.entries))
}

// DataSize is the sum of persisted payload bytes, used by the archive to
// account for how much a dictionary is contributing toward segment sizing.
func (d *Dictionary) DataSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := 0
	for _, e := range d.entries {
		size += len(e)
	}
	return size
}

// WriteSnapshot emits only the entries appended since the previous
// snapshot (incremental; idempotent when there is no new tail), framed as
// a section via writeSection. prevOfs lets a reader walk the chain of
// snapshots written across an archive's dictionary file.
func (d *Dictionary) WriteSnapshot(sectionID byte, prevOfs uint32, encrypt bool) ([]byte, error) {
	d.mu.Lock()
	tail := d.entries[d.snapshotted:]
	numAdded := len(tail)
	d.snapshotted = len(d.entries)
	d.mu.Unlock()

	content := make([]byte, 0, dict_snapshot_header_len+numAdded*32)
	addMultibyteToData(&content, uint64(prevOfs), 4)
	addMultibyteToData(&content, uint64(numAdded), 4)

	for _, e := range tail {
		addStringToData(&content, string(e))
	}

	return writeSection(sectionID, content, encrypt)
}

// SnapshotCount returns how many entries prior WriteSnapshot calls have
// already persisted -- equivalently, the id the next snapshot's first new
// entry will carry.
func (d *Dictionary) SnapshotCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotted
}

func (d *Dictionary) Close() error {
	return nil
}

// EOF

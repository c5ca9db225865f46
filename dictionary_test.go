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

import "testing"

func TestAddEntryDenseIds(t *testing.T) {
	d := NewDictionary()

	id0, isNew := d.AddEntry([]byte("foo"))
	if id0 != 0 || !isNew {
		t.Fatalf("AddEntry(foo) = (%d, %v), want (0, true)", id0, isNew)
	}

	id1, isNew := d.AddEntry([]byte("bar"))
	if id1 != 1 || !isNew {
		t.Fatalf("AddEntry(bar) = (%d, %v), want (1, true)", id1, isNew)
	}

	id0again, isNew := d.AddEntry([]byte("foo"))
	if id0again != id0 || isNew {
		t.Fatalf("AddEntry(foo) second time = (%d, %v), want (%d, false)", id0again, isNew, id0)
	}

	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
}

func TestGetEntry(t *testing.T) {
	d := NewDictionary()
	id, _ := d.AddEntry([]byte("snarf"))

	b, ok := d.GetEntry(id)
	if !ok || string(b) != "snarf" {
		t.Fatalf("GetEntry(%d) = (%q, %v), want (snarf, true)", id, b, ok)
	}

	if _, ok := d.GetEntry(id + 1); ok {
		t.Fatalf("GetEntry(%d) ok = true, want false", id+1)
	}
}

func TestDataSize(t *testing.T) {
	d := NewDictionary()
	d.AddEntry([]byte("ab"))
	d.AddEntry([]byte("cde"))
	d.AddEntry([]byte("ab")) // dup, shouldn't add to size

	if got, want := d.DataSize(), 5; got != want {
		t.Fatalf("DataSize() = %d, want %d", got, want)
	}
}

// WriteSnapshot is incremental: a second call with no new entries between
// calls must still produce a well-formed (if empty-tail) section.
func TestWriteSnapshotIncremental(t *testing.T) {
	d := NewDictionary()
	d.AddEntry([]byte("first"))

	data1, err := d.WriteSnapshot(section_dict_snapshot, 0, false)
	if err != nil {
		t.Fatalf("WriteSnapshot #1: %v", err)
	}
	_, content1, _, err := readSection(data1, 0, "")
	if err != nil {
		t.Fatalf("readSection #1: %v", err)
	}
	numAdded1 := getMultibyteFromData(content1, 4, 4)
	if numAdded1 != 1 {
		t.Fatalf("first snapshot numAdded = %d, want 1", numAdded1)
	}

	// No new entries: a second snapshot should report zero new additions.
	data2, err := d.WriteSnapshot(section_dict_snapshot, 1234, false)
	if err != nil {
		t.Fatalf("WriteSnapshot #2: %v", err)
	}
	_, content2, _, err := readSection(data2, 0, "")
	if err != nil {
		t.Fatalf("readSection #2: %v", err)
	}
	prevOfs2 := getMultibyteFromData(content2, 0, 4)
	numAdded2 := getMultibyteFromData(content2, 4, 4)
	if prevOfs2 != 1234 || numAdded2 != 0 {
		t.Fatalf("second snapshot (prevOfs, numAdded) = (%d, %d), want (1234, 0)", prevOfs2, numAdded2)
	}

	d.AddEntry([]byte("second"))
	data3, err := d.WriteSnapshot(section_dict_snapshot, 0, false)
	if err != nil {
		t.Fatalf("WriteSnapshot #3: %v", err)
	}
	_, content3, _, err := readSection(data3, 0, "")
	if err != nil {
		t.Fatalf("readSection #3: %v", err)
	}
	numAdded3 := getMultibyteFromData(content3, 4, 4)
	if numAdded3 != 1 {
		t.Fatalf("third snapshot numAdded = %d, want 1 (only the new tail)", numAdded3)
	}
}

// EOF

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
	"testing"

	"github.com/google/uuid"
)

func TestWriterPoolAssignsDenseCreationNums(t *testing.T) {
	pool := NewWriterPool()
	creatorID := uuid.New()
	dir := t.TempDir()

	var writers []*ArchiveWriter
	for i := 0; i < 3; i++ {
		w, err := pool.Spawn(UserConfig{
			ID:                            uuid.New(),
			CreatorID:                     creatorID,
			OutputDir:                     dir,
			TargetSegmentUncompressedSize: 1 << 30,
			CompressionLevel:              6,
		})
		if err != nil {
			t.Fatalf("Spawn #%d: %v", i, err)
		}
		writers = append(writers, w)
	}

	for i, w := range writers {
		if got := w.Archive().cfg.CreationNum; got != uint64(i) {
			t.Errorf("writer %d creation_num = %d, want %d", i, got, i)
		}
	}

	// A different creator gets its own dense sequence starting at 0.
	other, err := pool.Spawn(UserConfig{
		ID:                            uuid.New(),
		CreatorID:                     uuid.New(),
		OutputDir:                     dir,
		TargetSegmentUncompressedSize: 1 << 30,
		CompressionLevel:              6,
	})
	if err != nil {
		t.Fatalf("Spawn (other creator): %v", err)
	}
	if got := other.Archive().cfg.CreationNum; got != 0 {
		t.Errorf("other creator's first creation_num = %d, want 0", got)
	}

	if err := pool.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
}

func TestWriterFlushSealsUnderTargetSegment(t *testing.T) {
	pool := NewWriterPool()
	w, err := pool.Spawn(UserConfig{
		ID:                            uuid.New(),
		CreatorID:                     uuid.New(),
		OutputDir:                     t.TempDir(),
		TargetSegmentUncompressedSize: 1 << 30,
		CompressionLevel:              6,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	a := w.Archive()

	f, err := a.CreateOnDiskFile("flush.log", 0, uuid.New(), 0)
	if err != nil {
		t.Fatalf("CreateOnDiskFile: %v", err)
	}
	if err := a.WriteMessage(f, 1234, "flushed early", 14); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := a.CloseFile(f); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if err := a.MarkFileReadyForSegment(f); err != nil {
		t.Fatalf("MarkFileReadyForSegment: %v", err)
	}

	w.FlushSegment()

	a.mu.Lock()
	pending := len(a.pendingTs)
	a.mu.Unlock()
	if pending != 0 {
		t.Fatalf("pendingTs has %d files after FlushSegment, want 0", pending)
	}

	if err := pool.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
}

// EOF

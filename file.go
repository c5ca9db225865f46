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
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/google/uuid"
)

// storageMode tags which of the two storage variants a File currently is.
// A File's storage mode never changes after it is released -- in-memory
// files are materialized to disk at release, never the other way.
type storageMode uint8

const (
	storageInMemory storageMode = iota
	storageOnDisk
)

// tsPatternChange records a (message-offset, pattern) pair so a reader
// can reconstruct the textual timestamp form that was active for each
// range of messages within the file.
type tsPatternChange struct {
	messageOffset int
	pattern       TimestampPattern
}

// File is one logical input file's buffered encoded stream. The two
// storage variants share one struct with a mode tag, because the mutating
// operations differ only in where bytes land (memory vs a scratch file).
type File struct {
	mu sync.Mutex

	id         uuid.UUID
	origPath   string
	groupID    uint64
	origFileID uuid.UUID // shared across splits of one logical input file
	splitIx    uint32

	mode storageMode

	messages []EncodedMessage // storageInMemory

	scratchPath string   // storageOnDisk / after release
	scratchFile *os.File // storageOnDisk, open while writing

	tsPatternChanges []tsPatternChange

	beginTs              int64
	endTs                int64
	numUncompressedBytes uint64
	numMessages          uint64

	open bool
}

// OpenInMemoryFile creates a File buffered entirely in RAM until release.
func OpenInMemoryFile(origPath string, groupID uint64, origFileID uuid.UUID, splitIx uint32) *File {
	return &File{
		id:         uuid.New(),
		origPath:   origPath,
		groupID:    groupID,
		origFileID: origFileID,
		splitIx:    splitIx,
		mode:       storageInMemory,
		messages:   make([]EncodedMessage, 0, cap_initial),
		beginTs:    NoTimestamp,
		endTs:      NoTimestamp,
		open:       true,
	}
}

// OpenOnDiskFile creates a File that streams straight to a scratch file
// under the archive's logs directory.
func OpenOnDiskFile(origPath string, groupID uint64, origFileID uuid.UUID, splitIx uint32, scratchPath string) (*File, error) {
	f, err := os.OpenFile(scratchPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, NewFilePermissions)
	if err != nil {
		return nil, NewError(ErrorCodeIOError, err)
	}
	return &File{
		id:          uuid.New(),
		origPath:    origPath,
		groupID:     groupID,
		origFileID:  origFileID,
		splitIx:     splitIx,
		mode:        storageOnDisk,
		scratchPath: scratchPath,
		scratchFile: f,
		beginTs:     NoTimestamp,
		endTs:       NoTimestamp,
		open:        true,
	}, nil
}

func (f *File) WriteMessage(msg EncodedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return NewError(ErrorCodeNotInit, fmt.Errorf("write to closed file %s", f.origPath))
	}

	switch f.mode {
	case storageInMemory:
		f.messages = append(f.messages, msg)
	case storageOnDisk:
		buf := encodeMessage(msg)
		if _, err := f.scratchFile.Write(buf); err != nil {
			return NewError(ErrorCodeIOError, err)
		}
	}

	if msg.Timestamp != NoTimestamp {
		if f.beginTs == NoTimestamp || msg.Timestamp < f.beginTs {
			f.beginTs = msg.Timestamp
		}
		if f.endTs == NoTimestamp || msg.Timestamp > f.endTs {
			f.endTs = msg.Timestamp
		}
	}
	f.numMessages++
	f.numUncompressedBytes += uint64(msg.NumUncompressedBytes)

	return nil
}

// ChangeTsPattern records the pattern now active as of the file's current
// message offset.
func (f *File) ChangeTsPattern(p TimestampPattern) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tsPatternChanges = append(f.tsPatternChanges, tsPatternChange{
		messageOffset: int(f.numMessages),
		pattern:       p,
	})
}

// Close marks the file as done accepting writes; it does not release
// storage (that's ReleaseInMemoryFileToDisk, driven by Archive.CloseFile).
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.open = false
	if f.mode == storageOnDisk && f.scratchFile != nil {
		err := f.scratchFile.Sync()
		if closeErr := f.scratchFile.Close(); err == nil {
			err = closeErr
		}
		f.scratchFile = nil
		if err != nil {
			return NewError(ErrorCodeIOError, err)
		}
	}
	return nil
}

// ReleaseInMemoryFileToDisk materializes an in-memory file's buffered
// messages to a scratch file, after which it behaves identically to an
// on-disk file for the remainder of its life.
func (f *File) ReleaseInMemoryFileToDisk(scratchPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode != storageInMemory {
		return NewError(ErrorCodeUnsupported, fmt.Errorf("file %s is not in-memory", f.origPath))
	}

	out, err := os.OpenFile(scratchPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, NewFilePermissions)
	if err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	for _, msg := range f.messages {
		if _, err := out.Write(encodeMessage(msg)); err != nil {
			out.Close()
			return NewError(ErrorCodeIOError, err)
		}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return NewError(ErrorCodeIOError, err)
	}
	if err := out.Close(); err != nil {
		return NewError(ErrorCodeIOError, err)
	}

	f.scratchPath = scratchPath
	f.mode = storageOnDisk
	f.messages = nil

	return nil
}

func (f *File) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *File) GetID() uuid.UUID          { return f.id }
func (f *File) GetGroupID() uint64        { return f.groupID }
func (f *File) GetOrigPath() string       { return f.origPath }
func (f *File) GetOrigFileID() uuid.UUID  { return f.origFileID }
func (f *File) GetSplitIx() uint32        { return f.splitIx }
func (f *File) GetBeginTs() int64         { return f.beginTs }
func (f *File) GetEndTs() int64           { return f.endTs }
func (f *File) GetNumMessages() uint64    { return f.numMessages }
func (f *File) GetNumUncompressedBytes() uint64 {
	return f.numUncompressedBytes
}

// HasTimestamp reports whether this file is routed to the timestamped
// segment or the non-timestamped one.
func (f *File) HasTimestamp() bool {
	return f.endTs != NoTimestamp
}

// encodeMessage is the column-free per-message wire form used for a
// file's own scratch stream (Segment.go re-derives the column-oriented
// per-file streams from this when it appends a file).
func encodeMessage(msg EncodedMessage) []byte {
	buf := make([]byte, 0, 32+len(msg.Variables)*9)

	addMultibyteToData(&buf, uint64(msg.Timestamp), 8)
	addMultibyteToData(&buf, msg.LogTypeID, 8)
	addMultibyteToData(&buf, uint64(msg.NumUncompressedBytes), 4)
	addMultibyteToData(&buf, uint64(len(msg.Variables)), 4)

	for _, v := range msg.Variables {
		addByteToData(&buf, byte(v.kind))
		switch v.kind {
		case varkind_int:
			addMultibyteToData(&buf, uint64(v.intval), 8)
		case varkind_float:
			addMultibyteToData(&buf, math.Float64bits(v.fltval), 8)
		case varkind_dict:
			addMultibyteToData(&buf, v.dictval, 8)
		}
	}

	return buf
}

// EOF

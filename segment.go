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

	"github.com/google/uuid"
)

// ReadAllMessages returns every encoded message written to the file so
// far, regardless of storage mode -- used when a file is appended to a
// segment, since by then it has always been released (on disk).
func (f *File) ReadAllMessages() ([]EncodedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == storageInMemory {
		out := make([]EncodedMessage, len(f.messages))
		copy(out, f.messages)
		return out, nil
	}

	data, err := os.ReadFile(f.scratchPath)
	if err != nil {
		return nil, NewError(ErrorCodeIOError, err)
	}
	return decodeMessages(data)
}

func decodeMessages(data []byte) ([]EncodedMessage, error) {
	var out []EncodedMessage
	offset := 0
	for offset < len(data) {
		if offset+24 > len(data) {
			return nil, NewError(ErrorCodeCorruptArchive, fmt.Errorf("truncated message record"))
		}
		msg := EncodedMessage{
			Timestamp:            int64(getMultibyteFromData(data, offset, 8)),
			LogTypeID:            getMultibyteFromData(data, offset+8, 8),
			NumUncompressedBytes: uint32(getMultibyteFromData(data, offset+16, 4)),
		}
		numVars := int(getMultibyteFromData(data, offset+20, 4))
		offset += 24

		vars := make([]Variable, 0, numVars)
		for i := 0; i < numVars; i++ {
			if offset+9 > len(data) {
				return nil, NewError(ErrorCodeCorruptArchive, fmt.Errorf("truncated variable record"))
			}
			var v Variable
			kind := VarKind(data[offset])
			raw := getMultibyteFromData(data, offset+1, 8)
			switch kind {
			case varkind_int:
				v.SetInt(int64(raw))
			case varkind_float:
				v.SetFloat(math.Float64frombits(raw))
			case varkind_dict:
				v.SetDictID(raw)
			}
			vars = append(vars, v)
			offset += 9
		}
		msg.Variables = vars
		out = append(out, msg)
	}
	return out, nil
}

// Segment is the length-prefixed, compressed container of many files'
// encoded byte streams. Contents are the concatenation of each appended
// file's column-oriented streams (log-type ids, timestamps, variable
// values), passed through bzip2 when sealed.
type Segment struct {
	id uint64

	buf []byte

	logTypeIDs map[uint64]struct{}
	varIDs     map[uint64]struct{}

	fileIDs     []uuid.UUID
	fileOffsets []uint64 // byte offset of each file's stream within buf

	uncompressedSize uint64

	sealed bool
}

func NewSegment(id uint64) *Segment {
	return &Segment{
		id:         id,
		logTypeIDs: make(map[uint64]struct{}),
		varIDs:     make(map[uint64]struct{}),
	}
}

func (s *Segment) ID() uint64 { return s.id }

func (s *Segment) UncompressedSize() uint64 { return s.uncompressedSize }

func (s *Segment) FileIDs() []uuid.UUID { return s.fileIDs }

// FileOffsets returns, parallel to FileIDs, the byte offset inside the
// uncompressed segment at which each file's stream starts.
func (s *Segment) FileOffsets() []uint64 { return s.fileOffsets }

// AppendFile concatenates a released file's encoded streams into the
// segment buffer and unions its referenced logtype/variable ids into the
// segment's id sets (used by a reader to prefilter which segments to open).
func (s *Segment) AppendFile(f *File) error {
	if s.sealed {
		return NewError(ErrorCodeUnsupported, fmt.Errorf("segment %d already sealed", s.id))
	}

	messages, err := f.ReadAllMessages()
	if err != nil {
		return err
	}

	offset := uint64(len(s.buf))

	id := f.GetID()
	s.buf = append(s.buf, id[:]...)
	addMultibyteToData(&s.buf, uint64(len(messages)), 4)

	// timestamp-pattern changes, so a reader can reconstruct the exact
	// textual timestamp form active for each message range
	addMultibyteToData(&s.buf, uint64(len(f.tsPatternChanges)), 4)
	for _, change := range f.tsPatternChanges {
		addMultibyteToData(&s.buf, uint64(change.messageOffset), 4)
		addByteToData(&s.buf, change.pattern.NumSpacesBeforeTs)
		addStringToData(&s.buf, change.pattern.FormatStr)
	}

	// log-type id column
	for _, m := range messages {
		addMultibyteToData(&s.buf, m.LogTypeID, 8)
		s.logTypeIDs[m.LogTypeID] = struct{}{}
	}
	// timestamp column
	for _, m := range messages {
		addMultibyteToData(&s.buf, uint64(m.Timestamp), 8)
	}
	// variable column (count-prefixed per message, kind-tagged per value)
	for _, m := range messages {
		addMultibyteToData(&s.buf, uint64(len(m.Variables)), 4)
		for _, v := range m.Variables {
			addByteToData(&s.buf, byte(v.kind))
			switch v.kind {
			case varkind_int:
				addMultibyteToData(&s.buf, uint64(v.intval), 8)
			case varkind_float:
				addMultibyteToData(&s.buf, math.Float64bits(v.fltval), 8)
			case varkind_dict:
				addMultibyteToData(&s.buf, v.dictval, 8)
				s.varIDs[v.dictval] = struct{}{}
			}
		}
	}

	size := uint64(0)
	for _, m := range messages {
		size += uint64(m.NumUncompressedBytes)
	}
	s.uncompressedSize += size
	s.fileIDs = append(s.fileIDs, id)
	s.fileOffsets = append(s.fileOffsets, offset)

	return nil
}

// Seal compresses the accumulated buffer and frames it as a section,
// per writeSection's signature+id+lens+crc preamble. Sealing is one-shot:
// a sealed segment's id and contents are thereafter immutable.
func (s *Segment) Seal(encrypt bool) ([]byte, error) {
	if s.sealed {
		return nil, NewError(ErrorCodeUnsupported, fmt.Errorf("segment %d already sealed", s.id))
	}
	s.sealed = true

	return writeSection(section_segment, s.buf, encrypt)
}

func (s *Segment) IsSealed() bool { return s.sealed }

// EOF

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

const (
	// Max_memsize is the advised ceiling on an in-memory file's buffered
	// bytes; callers expecting more input than this should open the file
	// on-disk instead.
	Max_memsize = 512 * 1024 * 1024

	cap_initial = 1024 // initial slice capacity for a file's message stream
)

// EncodedMessage is one factored log line: a timestamp, the id of its
// log-type template in the log-type dictionary, and the ordered sequence
// of its variables (inlined ints/floats, or dictionary ids).
type EncodedMessage struct {
	Timestamp            int64 // epoch ms, or NoTimestamp
	LogTypeID            uint64
	Variables            []Variable
	NumUncompressedBytes uint32
}

// EOF

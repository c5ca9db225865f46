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
	"os"
	"path/filepath"
)

// writeMetadataHeader writes the per-archive "metadata" file: version,
// archive id, creator_id, creation_num, begin_ts, end_ts, sizes, compression
// level, codec id, and the encryption flag with (when encryption is on) the
// active key's uuid, so a reader can recognize a codec/key mismatch before
// trying to open any segment.
func writeMetadataHeader(a *Archive) error {
	// writeSection compresses every section with bzip2, the only codec.
	const codecBzip2 = 1

	content := make([]byte, 0, 128)

	addByteToData(&content, version_major)
	addByteToData(&content, version_minor)

	idBytes, _ := a.cfg.ID.MarshalBinary()
	content = append(content, idBytes...)

	creatorBytes, _ := a.cfg.CreatorID.MarshalBinary()
	content = append(content, creatorBytes...)

	addMultibyteToData(&content, a.cfg.CreationNum, 8)
	addMultibyteToData(&content, uint64(a.beginTs), 8)
	addMultibyteToData(&content, uint64(a.endTs), 8)
	addMultibyteToData(&content, a.stableUncompressedSize, 8)
	addMultibyteToData(&content, a.stableSize, 8)
	addMultibyteToData(&content, uint64(a.cfg.CompressionLevel), 4)
	addByteToData(&content, codecBzip2)

	if a.cfg.Encrypt {
		addByteToData(&content, 1)
		addStringToData(&content, config.aes_keystore_cur_uuid)
	} else {
		addByteToData(&content, 0)
	}

	// The header itself is never encrypted -- the decision of which key
	// to use to decrypt everything else lives inside it (chicken & egg).
	data, err := writeSection(section_metadata_header, content, false)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(a.path, "metadata"), data, NewFilePermissions)
}

// EOF

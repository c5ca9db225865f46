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
	"bytes"
	"testing"
)

func TestMultibyteRoundTrip(t *testing.T) {
	var buf []byte
	addMultibyteToData(&buf, 0x1122334455, 5)
	got := getMultibyteFromData(buf, 0, 5)
	if got != 0x1122334455 {
		t.Fatalf("getMultibyteFromData = 0x%x, want 0x1122334455", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	var buf []byte
	addStringToData(&buf, "hello, CLP")
	s, consumed, err := getStringFromData(buf, 0)
	if err != nil {
		t.Fatalf("getStringFromData: %v", err)
	}
	if s != "hello, CLP" || consumed != len(buf) {
		t.Fatalf("got (%q, %d), want (%q, %d)", s, consumed, "hello, CLP", len(buf))
	}
}

func TestGetStringFromDataTruncated(t *testing.T) {
	if _, _, err := getStringFromData([]byte{1, 2}, 0); err == nil {
		t.Fatalf("getStringFromData on truncated buffer succeeded, want an error")
	}
}

func TestWriteReadSectionRoundTrip(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog, repeated many times to give bzip2 something to chew on. " +
		"the quick brown fox jumps over the lazy dog, repeated many times to give bzip2 something to chew on.")

	data, err := writeSection(section_segment, content, false)
	if err != nil {
		t.Fatalf("writeSection: %v", err)
	}

	h, got, next, err := readSection(data, 0, "")
	if err != nil {
		t.Fatalf("readSection: %v", err)
	}
	if h.id != section_segment {
		t.Fatalf("section id = %d, want %d", h.id, section_segment)
	}
	if next != len(data) {
		t.Fatalf("readSection consumed %d of %d bytes", next, len(data))
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round-tripped content mismatch")
	}
}

func TestWriteReadSectionEncryptedRoundTrip(t *testing.T) {
	origArray := config.aes_keystore_array
	origUUID := config.aes_keystore_cur_uuid
	defer func() {
		config.aes_keystore_array = origArray
		config.aes_keystore_cur_uuid = origUUID
	}()

	key := make([]byte, AES_key_byte_len)
	for i := range key {
		key[i] = byte(i)
	}
	config.aes_keystore_array = map[string][]byte{"test-uuid": key}
	config.aes_keystore_cur_uuid = "test-uuid"

	content := []byte("secret archive content")
	data, err := writeSection(section_metadata_header, content, true)
	if err != nil {
		t.Fatalf("writeSection (encrypted): %v", err)
	}

	_, got, next, err := readSection(data, 0, "test-uuid")
	if err != nil {
		t.Fatalf("readSection (encrypted): %v", err)
	}
	if next != len(data) {
		t.Fatalf("readSection consumed %d of %d bytes", next, len(data))
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round-tripped encrypted content mismatch")
	}

	// Tampering with a single byte of the sealed section must fail AEAD
	// verification rather than silently returning corrupted plaintext.
	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-1] ^= 0xff
	if _, _, _, err := readSection(tampered, 0, "test-uuid"); err == nil {
		t.Fatalf("readSection accepted a tampered sealed section")
	}
}

func TestReadSectionRejectsBadSignature(t *testing.T) {
	data, err := writeSection(section_segment, []byte("x"), false)
	if err != nil {
		t.Fatalf("writeSection: %v", err)
	}
	data[0] ^= 0xff
	if _, _, _, err := readSection(data, 0, ""); err == nil {
		t.Fatalf("readSection accepted a bad signature")
	}
}

func TestReadSectionRejectsCRCMismatch(t *testing.T) {
	// Content short enough that compressBzip2 leaves it uncompressed, so
	// flipping a content byte is guaranteed to change what's read back.
	data, err := writeSection(section_segment, []byte("ab"), false)
	if err != nil {
		t.Fatalf("writeSection: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if _, _, _, err := readSection(data, 0, ""); err == nil {
		t.Fatalf("readSection accepted content with a bad CRC")
	}
}

// EOF

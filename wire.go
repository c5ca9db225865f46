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

/*
	Low-level binary marshalling shared by the dictionaries, segments, and
	the per-archive metadata header: a section is always
	signature(3) + id(1) + uncompressed_len(4) + compressed_len(4) + crc(4)
	followed by its (optionally bzip2-compressed, optionally AES-256-GCM
	sealed) content. See disk_structure.go for the constants.
*/

package clp

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/dsnet/compress/bzip2"
)

func addByteToData(buf *[]byte, b byte) {
	*buf = append(*buf, b)
}

func addMultibyteToData(buf *[]byte, v uint64, length int) {
	for i := 0; i < length; i++ {
		addByteToData(buf, byte(v&0xff))
		v >>= 8
	}
}

func getMultibyteFromData(buf []byte, offset int, length int) uint64 {
	var v uint64
	for i := length - 1; i >= 0; i-- {
		v = (v << 8) | uint64(buf[offset+i])
	}
	return v
}

// Stores the length (uint32, LSB first) followed by the raw bytes, no
// terminator.
func addStringToData(buf *[]byte, s string) {
	addMultibyteToData(buf, uint64(len(s)), 4)
	*buf = append(*buf, s...)
}

func getStringFromData(buf []byte, offset int) (string, int, error) {
	if offset+4 > len(buf) {
		return "", 0, NewError(ErrorCodeCorruptArchive, fmt.Errorf("truncated string length"))
	}
	length := int(getMultibyteFromData(buf, offset, 4))
	offset += 4
	if offset+length > len(buf) {
		return "", 0, NewError(ErrorCodeCorruptArchive, fmt.Errorf("truncated string content"))
	}
	return string(buf[offset : offset+length]), 4 + length, nil
}

var (
	aesgcmNonce     = make([]byte, aesgcm_nonce_byte_len)
	aesgcmNonceLock sync.Mutex
)

func init() {
	if _, err := io.ReadFull(rand.Reader, aesgcmNonce); err != nil {
		panic(err)
	}
}

// incNonce increments the 96-bit nonce by hand (it's wider than any
// integer type we'd otherwise reach for); caller must hold aesgcmNonceLock.
func incNonce() {
	for i := 0; i < aesgcm_nonce_byte_len; i++ {
		aesgcmNonce[i]++
		if aesgcmNonce[i] != 0 {
			break
		}
	}
}

// compressBzip2 returns content bzip2-compressed at best-compression, or
// the original bytes unchanged if compression didn't actually shrink it.
func compressBzip2(content []byte) ([]byte, error) {
	var cfg bzip2.WriterConfig
	cfg.Level = bzip2.BestCompression

	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &cfg)
	if err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	w.Close()

	if w.OutputOffset > 0 && w.OutputOffset < w.InputOffset {
		return buf.Bytes(), nil
	}
	return content, nil
}

func decompressBzip2(content []byte, uncompressedLen int) ([]byte, error) {
	if len(content) == uncompressedLen {
		return content, nil // wasn't compressed (didn't shrink)
	}
	r, err := bzip2.NewReader(bytes.NewReader(content), nil)
	if err != nil {
		return nil, fmt.Errorf("bzip2 decompress: %w", err)
	}
	defer r.Close()
	out := make([]byte, uncompressedLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("bzip2 decompress: %w", err)
	}
	return out, nil
}

// sealAESGCM encrypts plaintext with the active keystore key, using aad
// (the section's signature+length+crc header) as AEAD associated data.
// The key always comes from the loaded keystore, never a literal.
func sealAESGCM(plaintext []byte, aad []byte) ([]byte, error) {
	key, ok := config.aes_keystore_array[config.aes_keystore_cur_uuid]
	if !ok {
		return nil, NewError(ErrorCodeNotInit, fmt.Errorf("no active encryption key configured"))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM mode: %w", err)
	}

	aesgcmNonceLock.Lock()
	nonce := make([]byte, len(aesgcmNonce))
	copy(nonce, aesgcmNonce)
	incNonce()
	aesgcmNonceLock.Unlock()

	sealed := aesgcm.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func openAESGCM(sealed []byte, aad []byte, keyUUID string) ([]byte, error) {
	key, ok := config.aes_keystore_array[keyUUID]
	if !ok {
		return nil, NewError(ErrorCodeNotInit, fmt.Errorf("encryption key %s not present in keystore", keyUUID))
	}
	if len(sealed) < aesgcm_nonce_byte_len {
		return nil, NewError(ErrorCodeCorruptArchive, fmt.Errorf("truncated sealed section"))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM mode: %w", err)
	}

	nonce := sealed[:aesgcm_nonce_byte_len]
	ciphertext := sealed[aesgcm_nonce_byte_len:]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, NewError(ErrorCodeCorruptArchive, fmt.Errorf("AEAD open: %w", err))
	}
	return plaintext, nil
}

// writeSection frames content as signature+id+unc_len+com_len+crc, bzip2
// compressing it and, if encrypt is true, sealing it with the active
// keystore key using the framed header as AEAD associated data.
func writeSection(sectionID byte, content []byte, encrypt bool) ([]byte, error) {
	data := make([]byte, 0, min_sectionlen+len(content))

	addMultibyteToData(&data, uint64(signature), 3)
	addByteToData(&data, sectionID)

	uncLen := len(content)
	crc := crc32.ChecksumIEEE(content)

	compressed, err := compressBzip2(content)
	if err != nil {
		return nil, err
	}

	addMultibyteToData(&data, uint64(uncLen), 4)
	addMultibyteToData(&data, uint64(len(compressed)), 4)
	addMultibyteToData(&data, uint64(crc), 4)

	if encrypt {
		sealed, err := sealAESGCM(compressed, data)
		if err != nil {
			return nil, err
		}
		data = append(data, sealed...)
	} else {
		data = append(data, compressed...)
	}

	return data, nil
}

type sectionHeader struct {
	id     byte
	uncLen int
	comLen int
	crc    uint32
}

// readSectionHeader parses the fixed preamble of a section starting at
// offset, returning the header and the offset its content begins at.
func readSectionHeader(buf []byte, offset int) (sectionHeader, int, error) {
	if offset+min_sectionlen > len(buf) {
		return sectionHeader{}, 0, NewError(ErrorCodeCorruptArchive, fmt.Errorf("truncated section header"))
	}
	sig := getMultibyteFromData(buf, offset, 3)
	if sig != signature {
		return sectionHeader{}, 0, NewError(ErrorCodeCorruptArchive, fmt.Errorf("bad section signature 0x%x", sig))
	}
	h := sectionHeader{
		id:     buf[offset+3],
		uncLen: int(getMultibyteFromData(buf, offset+4, 4)),
		comLen: int(getMultibyteFromData(buf, offset+8, 4)),
		crc:    uint32(getMultibyteFromData(buf, offset+12, 4)),
	}
	return h, offset + min_sectionlen, nil
}

// readSection reads and validates one section (optionally AES-GCM sealed,
// identified by keyUUID != ""), returning its decompressed content and the
// offset immediately after it.
func readSection(buf []byte, offset int, keyUUID string) (sectionHeader, []byte, int, error) {
	h, contentOffset, err := readSectionHeader(buf, offset)
	if err != nil {
		return sectionHeader{}, nil, 0, err
	}

	sealedLen := h.comLen
	if keyUUID != "" {
		sealedLen += aesgcm_block_additional
	}
	if contentOffset+sealedLen > len(buf) {
		return sectionHeader{}, nil, 0, NewError(ErrorCodeCorruptArchive, fmt.Errorf("truncated section content"))
	}
	raw := buf[contentOffset : contentOffset+sealedLen]

	compressed := raw
	if keyUUID != "" {
		compressed, err = openAESGCM(raw, buf[offset:contentOffset], keyUUID)
		if err != nil {
			return sectionHeader{}, nil, 0, err
		}
	}

	content, err := decompressBzip2(compressed, h.uncLen)
	if err != nil {
		return sectionHeader{}, nil, 0, err
	}

	if crc32.ChecksumIEEE(content) != h.crc {
		return sectionHeader{}, nil, 0, NewError(ErrorCodeCorruptArchive, fmt.Errorf("CRC mismatch in section %d", h.id))
	}

	return h, content, contentOffset + sealedLen, nil
}

// EOF

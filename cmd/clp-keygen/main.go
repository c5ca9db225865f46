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

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"clp.dev/archiver"
)

func main() {
	fmt.Fprintln(os.Stderr, "clp-keygen - generate an encryption keystore entry")
	fmt.Fprintln(os.Stderr)

	comment := ""
	if len(os.Args) > 1 {
		comment = os.Args[1]
	}

	id := uuid.New()

	key := make([]byte, clp.AES_key_byte_len)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		os.Exit(1)
	}
	keyStr := base64.StdEncoding.EncodeToString(key)

	// Printed in the same CSV shape ConfigureEncryptionKeystore reads
	// (uuid, base64 key, comment) -- append this line to the keystore file.
	fmt.Printf("%s,%s,%s\n", id.String(), keyStr, comment)
}

// EOF

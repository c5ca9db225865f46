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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"clp.dev/archiver"
)

func main() {
	fmt.Fprintln(os.Stderr, "clp-archive - compressed log archiver")
	fmt.Fprintln(os.Stderr, "Copyright (C) 2024 CLP Authors")
	fmt.Fprintln(os.Stderr, "Licenced under the Affero General Public Licence (AGPL) v3(+)")
	fmt.Fprintln(os.Stderr)

	viper.SetConfigFile("./testdata/clp.conf")
	viper.SetConfigType("ini")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading configuration: %v\n", err)
		os.Exit(1)
	}

	if errs := clp.ConfigureVariables(); errs > 0 {
		fmt.Fprintf(os.Stderr, "%d errors reading configuration\n", errs)
		os.Exit(1)
	}
	if errs := clp.ValidateConfiguration(); errs > 0 {
		fmt.Fprintf(os.Stderr, "%d errors validating configuration\n", errs)
		os.Exit(1)
	}

	globalDB, err := clp.OpenGlobalMetadataDB(filepath.Join(clp.ConfiguredDatastoreDir(), "metadata.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening global metadata DB: %v\n", err)
		os.Exit(1)
	}

	pool := clp.NewWriterPool()
	var action bool
	jsonMode := false

	for curarg := 1; curarg < len(os.Args); curarg++ {
		switch os.Args[curarg] {
		case "-j": // subsequent -i ingests are treated as JSON-lines
			jsonMode = true

		case "-i":
			if curarg+1 >= len(os.Args) {
				fmt.Fprintf(os.Stderr, "Missing option for -i (requires a filename)\n")
				break
			}
			curarg++
			fname := os.Args[curarg]
			if err := ingestFile(pool, globalDB, fname, jsonMode); err != nil {
				fmt.Fprintf(os.Stderr, "Error ingesting %s: %v\n", fname, err)
				os.Exit(1)
			}
			action = true
		}
	}

	if err := pool.CloseAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing archives: %v\n", err)
		os.Exit(1)
	}
	if err := globalDB.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing global metadata DB: %v\n", err)
		os.Exit(1)
	}

	if !action {
		fmt.Fprintf(os.Stderr, "Usage: %s [-j] -i <file> [-i <file> ...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, " -j          treat subsequent -i files as one-JSON-object-per-line\n")
		fmt.Fprintf(os.Stderr, " -i <file>   ingest <file>, each line becoming one message\n")
	}
}

// ingestFile spawns a new Archive, reads fname line by line (flattening
// JSON first when jsonMode is set), encodes each line against the known
// timestamp catalog, and seals the archive's pending segments when done
// (the archive itself is closed later by pool.CloseAll).
func ingestFile(pool *clp.WriterPool, globalDB *clp.GlobalMetadataDB, fname string, jsonMode bool) error {
	fmt.Fprintf(os.Stderr, "Ingesting file '%s'\n", fname)

	creatorID := uuid.New()
	writer, err := pool.Spawn(clp.UserConfig{
		ID:                            uuid.New(),
		CreatorID:                     creatorID,
		OutputDir:                     clp.ConfiguredDatastoreDir(),
		TargetSegmentUncompressedSize: uint64(clp.ConfiguredTargetSegmentSize()),
		CompressionLevel:              clp.ConfiguredCompressionLevel(),
		Encrypt:                       clp.EncryptionEnabled(),
		GlobalMetadataDB:              globalDB,
	})
	if err != nil {
		return err
	}
	archive := writer.Archive()

	in, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer in.Close()

	file, err := archive.CreateOnDiskFile(fname, 0, uuid.New(), 0)
	if err != nil {
		return err
	}

	start := time.Now()
	clp.InitTimestampPatternCatalog()

	scanner := bufio.NewScanner(in)
	var lineNum int
	var curPattern clp.TimestampPattern
	havePattern := false

	for scanner.Scan() {
		line := scanner.Text()
		lineNum++

		if jsonMode {
			flattened, err := clp.FlattenJSONLine([]byte(line))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Skipping invalid JSON on line %d: %v\n", lineNum, err)
				continue
			}
			line = flattened
		}

		// The stored message body is the line with its timestamp text cut
		// out; the pattern recorded via ChangeTsPattern is what lets a
		// reader splice the exact textual form back in.
		ts := clp.NoTimestamp
		body := line
		if havePattern {
			if epochMs, begin, end, ok := curPattern.Parse(line); ok {
				ts, body = epochMs, line[:begin]+line[end:]
			} else if pattern, epochMs, begin, end, ok := clp.SearchKnownPatterns(line); ok {
				archive.ChangeTsPattern(file, pattern)
				curPattern = pattern
				ts, body = epochMs, line[:begin]+line[end:]
			}
		} else if pattern, epochMs, begin, end, ok := clp.SearchKnownPatterns(line); ok {
			archive.ChangeTsPattern(file, pattern)
			curPattern, havePattern = pattern, true
			ts, body = epochMs, line[:begin]+line[end:]
		}

		if err := archive.WriteMessage(file, ts, body, uint32(len(line))+1); err != nil {
			return err
		}

		if lineNum%1000 == 0 {
			fmt.Fprintf(os.Stderr, "%d000 lines\r", lineNum/1000)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := archive.CloseFile(file); err != nil {
		return err
	}
	if err := archive.MarkFileReadyForSegment(file); err != nil {
		return err
	}

	writer.FlushSegment()

	fmt.Fprintf(os.Stderr, "Ingested %d lines from '%s' into archive %s, duration: %v\n",
		lineNum, fname, archive.GetID(), time.Since(start))
	return nil
}

// EOF

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
	JSON log-line ingestion front-end. A JSON log pipeline emits one
	object per line; we flatten it to dotted key=value pairs and prefix a
	recognizable timestamp, so the result is just another text line fed
	through the ordinary tokenize/encode path.
*/

package clp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/nqd/flat" // Third party library
)

const jsonTimestampKey = "_timestamp"

// scientificNotationRegex cleans up large integers that flat's JSON
// unmarshal (float64-only numbers) renders in scientific notation, e.g. a
// flow id "1184018670052842" becoming "1.184018670052842e+15".
var scientificNotationRegex = regexp.MustCompile(`^([0-9])\.([0-9]+)e\+[0-9]+$`)

// FlattenJSONLine parses b as a single JSON object, flattens nested
// objects/arrays into dotted keys, and re-serializes the result as a text
// line of the form "<timestamp> key=value key=value ...". If the object
// carries a "timestamp" or "_timestamp" field it is used (and reformatted
// via the catalog's first, zero-preamble pattern); otherwise now is used, so
// every line still has one (needed to keep entries ordered).
func FlattenJSONLine(b []byte) (string, error) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return "", NewError(ErrorCodeCorruptArchive, err)
	}

	flatmap, err := flat.Flatten(decoded, &flat.Options{
		Delimiter: ".",
		MaxDepth:  1000,
		Safe:      false,
	})
	if err != nil {
		return "", NewError(ErrorCodeCorruptArchive, err)
	}

	epochMs, err := extractTimestamp(flatmap)
	if err != nil {
		return "", err
	}

	InitTimestampPatternCatalog()
	tsPattern := Catalog()[0]
	tsText, err := tsPattern.Format(epochMs, "")
	if err != nil {
		return "", NewError(ErrorCodeUnsupported, err)
	}

	keys := make([]string, 0, len(flatmap))
	for k := range flatmap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	line := tsText
	for _, k := range keys {
		line += " " + k + "=" + cleanScientificNotation(flatmap[k])
	}
	return line, nil
}

// extractTimestamp pulls a "timestamp" or "_timestamp" field out of
// flatmap (removing "timestamp" and storing its value under
// jsonTimestampKey, so the flattened line always carries it under that one
// name), parsing it as
// RFC3339Nano. A missing field falls back to the current time.
func extractTimestamp(flatmap map[string]interface{}) (int64, error) {
	var raw interface{}
	if v, ok := flatmap["timestamp"]; ok {
		raw = v
		flatmap[jsonTimestampKey] = v
		delete(flatmap, "timestamp")
	} else if v, ok := flatmap[jsonTimestampKey]; ok {
		raw = v
	}

	if raw == nil {
		now := time.Now().UTC()
		flatmap[jsonTimestampKey] = now.Format(time.RFC3339Nano)
		return now.UnixMilli(), nil
	}

	s := fmt.Sprint(raw)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return 0, NewError(ErrorCodeCorruptArchive, fmt.Errorf("unrecognized timestamp field %q: %w", s, err))
	}
	return t.UnixMilli(), nil
}

func cleanScientificNotation(v interface{}) string {
	s := fmt.Sprint(v)
	if scientificNotationRegex.MatchString(s) {
		return scientificNotationRegex.ReplaceAllString(s, "$1$2")
	}
	return s
}

// EOF

// CLP - Compressed Log Processor
// Copyright (C) 2024 CLP Authors

package clp

import (
	"strings"
	"testing"
	"time"
)

func TestSearchKnownPatternsScenarios(t *testing.T) {
	cases := []struct {
		line       string
		format     string
		numSpaces  uint8
		begin, end int
		epochMs    int64
	}{
		{"2015-02-01T01:02:03.004 content after", "%Y-%m-%dT%H:%M:%S.%3", 0, 0, 23, 1422752523004},
		{"[20150201-01:02:03] content after", "[%Y%m%d-%H:%M:%S]", 0, 0, 19, 1422752523000},
		{"150201  1:02:03 content after", "%y%m%d %k:%M:%S", 0, 0, 15, 1422752523000},
		{"Feb 01, 2015  1:02:03 AM content after", "%b %d, %Y %l:%M:%S %p", 0, 0, 24, 1422752523000},
		{"localhost - - [01/Feb/2015:01:02:03 content after", "[%d/%b/%Y:%H:%M:%S", 3, 14, 35, 1422752523000},
		{"ERROR: apport (pid 4557) Sun Feb  1 01:02:03 2015 after", "%a %b %e %H:%M:%S %Y", 4, 25, 49, 1422752523000},
	}

	for _, c := range cases {
		pattern, ts, begin, end, ok := SearchKnownPatterns(c.line)
		if !ok {
			t.Fatalf("line %q: expected a match, got none", c.line)
		}
		if pattern.FormatStr != c.format || pattern.NumSpacesBeforeTs != c.numSpaces {
			t.Errorf("line %q: matched pattern (%d, %q), want (%d, %q)",
				c.line, pattern.NumSpacesBeforeTs, pattern.FormatStr, c.numSpaces, c.format)
		}
		if begin != c.begin || end != c.end {
			t.Errorf("line %q: got range [%d,%d), want [%d,%d)", c.line, begin, end, c.begin, c.end)
		}
		if ts != c.epochMs {
			t.Errorf("line %q: got epoch_ms %d, want %d", c.line, ts, c.epochMs)
		}

		// Round-trip law: content = L[:begin] ++ L[end:]; format(ts, content) == L.
		content := c.line[:begin] + c.line[end:]
		reformatted, err := pattern.Format(ts, content)
		if err != nil {
			t.Fatalf("line %q: Format returned error: %v", c.line, err)
		}
		if reformatted != c.line {
			t.Errorf("line %q: round-trip produced %q", c.line, reformatted)
		}
	}
}

func TestCatalogOrderAndSize(t *testing.T) {
	cat := Catalog()
	if len(cat) != 24 {
		t.Fatalf("catalog has %d entries, want 24", len(cat))
	}
	// First entry must be the most specific subsecond ISO form.
	if cat[0].FormatStr != "%Y-%m-%dT%H:%M:%S.%3" {
		t.Errorf("catalog[0] = %+v, order must not change", cat[0])
	}
}

func TestFormatSearchRoundTripAllPatterns(t *testing.T) {
	InitTimestampPatternCatalog()
	ref := time.Date(2023, time.June, 15, 13, 45, 9, 0, time.UTC).UnixMilli()

	for _, p := range Catalog() {
		preamble := ""
		for i := uint8(0); i < p.NumSpacesBeforeTs; i++ {
			preamble += " "
		}
		buf, err := p.Format(ref, preamble)
		if err != nil {
			t.Fatalf("pattern %+v: Format error: %v", p, err)
		}

		gotPattern, gotTs, begin, end, ok := SearchKnownPatterns(buf)
		if !ok {
			t.Fatalf("pattern %+v: formatted %q did not round-trip through search", p, buf)
		}
		if !gotPattern.Equal(p) {
			t.Errorf("pattern %+v: search matched a different pattern %+v on %q", p, gotPattern, buf)
		}
		if begin != len(preamble) || end != len(buf) {
			t.Errorf("pattern %+v: range [%d,%d) over %q, want [%d,%d) (everything after the preamble)",
				p, begin, end, buf, len(preamble), len(buf))
		}

		// Epoch equality modulo what the format can represent: seconds
		// truncate away under "%B %d, %Y %H:%M", and the year is lost
		// entirely under "%b %d %H:%M:%S".
		hasYear := strings.Contains(p.FormatStr, "%Y") || strings.Contains(p.FormatStr, "%y")
		hasSeconds := strings.Contains(p.FormatStr, "%S")
		if hasYear && hasSeconds {
			if gotTs != ref {
				t.Errorf("pattern %+v: round-tripped %d, want %d", p, gotTs, ref)
			}
		} else {
			// Re-formatting what was parsed must still reproduce the
			// exact text (the byte-level fixpoint is what matters for
			// lossless reconstruction).
			again, err := gotPattern.Format(gotTs, preamble)
			if err != nil {
				t.Fatalf("pattern %+v: re-Format error: %v", p, err)
			}
			if again != buf {
				t.Errorf("pattern %+v: re-formatted %q, want %q", p, again, buf)
			}
		}
	}
}

func TestYearPivot(t *testing.T) {
	p := TimestampPattern{0, "%y/%m/%d %H:%M:%S"}
	cases := []struct {
		twoDigit string
		wantYear int
	}{
		{"68", 2068},
		{"69", 1969},
		{"99", 1999},
		{"00", 2000},
	}
	for _, c := range cases {
		line := c.twoDigit + "/06/15 10:00:00"
		ts, _, _, ok := p.Parse(line)
		if !ok {
			t.Fatalf("%q: expected match", line)
		}
		gotYear := time.UnixMilli(ts).UTC().Year()
		if gotYear != c.wantYear {
			t.Errorf("%q: year %d, want %d", line, gotYear, c.wantYear)
		}
	}
}

func Test12HourClockEdges(t *testing.T) {
	p := TimestampPattern{0, "%Y-%m-%d %I:%M:%S %p"}

	cases := []struct {
		line     string
		wantHour int
	}{
		{"2015-02-01 12:00:00 AM", 0},
		{"2015-02-01 12:00:00 PM", 12},
		{"2015-02-01 01:00:00 PM", 13},
	}
	for _, c := range cases {
		ts, _, _, ok := p.Parse(c.line)
		if !ok {
			t.Fatalf("%q: expected match", c.line)
		}
		gotHour := time.UnixMilli(ts).UTC().Hour()
		if gotHour != c.wantHour {
			t.Errorf("%q: hour %d, want %d", c.line, gotHour, c.wantHour)
		}
	}
}

func TestFormatReformat12HourThreshold(t *testing.T) {
	// Hour 13 must reformat as "01", not "13" -- the corrected (> 12) path.
	p := TimestampPattern{0, "%I:%M:%S %p"}
	ts := time.Date(2015, time.February, 1, 13, 0, 0, 0, time.UTC).UnixMilli()
	got, err := p.Format(ts, "")
	if err != nil {
		t.Fatalf("Format error: %v", err)
	}
	if got != "01:00:00 PM" {
		t.Errorf("got %q, want %q", got, "01:00:00 PM")
	}
}

func TestFeb29LeapYear(t *testing.T) {
	p := TimestampPattern{0, "%Y-%m-%d %H:%M:%S"}

	if _, _, _, ok := p.Parse("2015-02-29 01:02:03"); ok {
		t.Errorf("2015-02-29 (non-leap year) should not parse")
	}
	if _, _, _, ok := p.Parse("2016-02-29 01:02:03"); !ok {
		t.Errorf("2016-02-29 (leap year) should parse")
	}
}

func TestAllZeroPaddedFieldsParse(t *testing.T) {
	// Midnight: every zero-padded field is nothing but its padding.
	p := TimestampPattern{0, "%Y-%m-%d %H:%M:%S"}
	ts, _, _, ok := p.Parse("2015-02-01 00:00:00")
	if !ok {
		t.Fatalf("midnight should parse")
	}
	got := time.UnixMilli(ts).UTC()
	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 {
		t.Errorf("parsed %v, want 00:00:00", got)
	}
}

func TestSecond60Accepted(t *testing.T) {
	p := TimestampPattern{0, "%Y-%m-%d %H:%M:%S"}
	if _, _, _, ok := p.Parse("2015-06-30 23:59:60"); !ok {
		t.Errorf("second=60 should be accepted unconditionally")
	}
}

func TestNoMatchWhenPreambleSpacesMissing(t *testing.T) {
	p := TimestampPattern{3, "[%d/%b/%Y:%H:%M:%S"}
	if _, _, _, ok := p.Parse("only two [01/Feb/2015:01:02:03"); ok {
		t.Errorf("expected no match with only 2 preamble spaces")
	}
}

func TestPreambleSpacesNeedNotBeConsecutive(t *testing.T) {
	// Mirrors the "localhost - - [..." scenario: the 3 required spaces
	// are interspersed with other characters, not a contiguous run.
	p := TimestampPattern{3, "[%d/%b/%Y:%H:%M:%S"}
	line := "localhost - - [01/Feb/2015:01:02:03 content after"
	_, begin, _, ok := p.Parse(line)
	if !ok {
		t.Fatalf("expected a match")
	}
	if begin != 14 {
		t.Errorf("begin = %d, want 14", begin)
	}
}

// EOF

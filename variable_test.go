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

import "testing"

func TestClassifyTokenInteger(t *testing.T) {
	v, ok := classifyToken("42")
	if !ok || v.GetInt() != 42 {
		t.Fatalf("classifyToken(42) = (%v, %v), want (42, true)", v.GetInt(), ok)
	}

	v, ok = classifyToken("-17")
	if !ok || v.GetInt() != -17 {
		t.Fatalf("classifyToken(-17) = (%v, %v), want (-17, true)", v.GetInt(), ok)
	}
}

func TestClassifyTokenFloat(t *testing.T) {
	v, ok := classifyToken("3.14")
	if !ok || v.GetFloat() != 3.14 {
		t.Fatalf("classifyToken(3.14) = (%v, %v), want (3.14, true)", v.GetFloat(), ok)
	}

	v, ok = classifyToken("-0.5")
	if !ok || v.GetFloat() != -0.5 {
		t.Fatalf("classifyToken(-0.5) = (%v, %v), want (-0.5, true)", v.GetFloat(), ok)
	}
}

func TestClassifyTokenDictionary(t *testing.T) {
	v, ok := classifyToken("eth0:1")
	if !ok {
		t.Fatalf("classifyToken(eth0:1) ok = false, want true")
	}
	if v.Sentinel() != sentinelDict {
		t.Fatalf("classifyToken(eth0:1) sentinel = %x, want dict sentinel", v.Sentinel())
	}
}

func TestClassifyTokenStatic(t *testing.T) {
	cases := []string{"ERROR", "the", "--", ""}
	for _, c := range cases {
		if _, ok := classifyToken(c); ok {
			t.Errorf("classifyToken(%q) ok = true, want false (static text)", c)
		}
	}
}

func TestClassifyTokenOverflowIntegerIsStaticText(t *testing.T) {
	// A 25-digit numeral overflows int64, but it's still all-digits so it
	// isn't a dictionary-eligible token (needs a non-digit too) -- it
	// should classify as static text rather than crash.
	if _, ok := classifyToken("1234567890123456789012345"); ok {
		t.Fatalf("all-digit overflow token should not classify as a variable")
	}
}

func TestVariableSentinelsDistinct(t *testing.T) {
	var vi, vf, vd Variable
	vi.SetInt(1)
	vf.SetFloat(1)
	vd.SetDictID(1)

	sentinels := map[byte]bool{vi.Sentinel(): true, vf.Sentinel(): true, vd.Sentinel(): true}
	if len(sentinels) != 3 {
		t.Fatalf("expected 3 distinct sentinel bytes, got %d", len(sentinels))
	}
}

func TestVariableGettersWrongKindReturnZero(t *testing.T) {
	var v Variable
	v.SetInt(99)

	if v.GetFloat() != 0 {
		t.Errorf("GetFloat() on an int variable = %v, want 0", v.GetFloat())
	}
	if v.GetDictID() != 0 {
		t.Errorf("GetDictID() on an int variable = %v, want 0", v.GetDictID())
	}
}

// EOF

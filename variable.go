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
	"strconv"
)

// VarKind tags which of the three encodings a variable token took.
type VarKind uint8

const (
	varkind_int VarKind = iota
	varkind_float
	varkind_dict
)

// Sentinel bytes inlined into a log-type template in place of a variable
// token, one per kind, so the decoder knows which parallel stream to pull
// the next value from.
const (
	sentinelInt   byte = 0x11
	sentinelFloat byte = 0x12
	sentinelDict  byte = 0x13
)

// Variable is the tagged union of the three inlined/dictionary encodings a
// token can take.
type Variable struct {
	kind    VarKind
	intval  int64
	fltval  float64
	dictval uint64 // id in the variable dictionary, only when kind == varkind_dict
}

func (v *Variable) GetInt() int64 {
	if v.kind != varkind_int {
		return 0
	}
	return v.intval
}

func (v *Variable) SetInt(i int64) {
	v.kind = varkind_int
	v.intval = i
}

func (v *Variable) GetFloat() float64 {
	if v.kind != varkind_float {
		return 0
	}
	return v.fltval
}

func (v *Variable) SetFloat(f float64) {
	v.kind = varkind_float
	v.fltval = f
}

func (v *Variable) GetDictID() uint64 {
	if v.kind != varkind_dict {
		return 0
	}
	return v.dictval
}

func (v *Variable) SetDictID(id uint64) {
	v.kind = varkind_dict
	v.dictval = id
}

func (v *Variable) Sentinel() byte {
	switch v.kind {
	case varkind_int:
		return sentinelInt
	case varkind_float:
		return sentinelFloat
	default:
		return sentinelDict
	}
}

// classifyToken decides what a single whitespace-delimited token is:
// integer, float, dictionary variable, or static text (ok=false).
func classifyToken(token string) (v Variable, isVariable bool) {
	if isIntegerToken(token) {
		i, err := strconv.ParseInt(token, 10, 64)
		if err == nil {
			v.SetInt(i)
			return v, true
		}
		// Overflow (e.g. a 40-digit numeral): falls through to the rules
		// below; with no '.' and no non-digit it matches neither, so it
		// ends up as static text.
	}

	if isFloatToken(token) {
		f, err := strconv.ParseFloat(token, 64)
		if err == nil {
			v.SetFloat(f)
			return v, true
		}
	}

	if isDictionaryToken(token) {
		return Variable{kind: varkind_dict}, true
	}

	return Variable{}, false
}

// isIntegerToken matches /^-?[0-9]+$/.
func isIntegerToken(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' {
		i = 1
	}
	if i >= len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isFloatToken matches a decimal float with at most one '.' and an
// optional leading sign, and at least one digit somewhere.
func isFloatToken(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' || s[0] == '+' {
		i = 1
	}
	if i >= len(s) {
		return false
	}

	dots := 0
	digits := 0
	for ; i < len(s); i++ {
		switch {
		case s[i] == '.':
			dots++
			if dots > 1 {
				return false
			}
		case s[i] >= '0' && s[i] <= '9':
			digits++
		default:
			return false
		}
	}
	return digits > 0 && dots == 1
}

// isDictionaryToken matches a token containing at least one digit and at
// least one non-digit character -- the dictionary-variable rule.
func isDictionaryToken(s string) bool {
	hasDigit, hasNonDigit := false, false
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			hasDigit = true
		} else {
			hasNonDigit = true
		}
	}
	return hasDigit && hasNonDigit
}

// EOF

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

// MessageEncoder factors a raw message body into a log-type template plus
// an ordered sequence of variables, interning the template in the
// log-type dictionary and dictionary-eligible variables in the variable
// dictionary.
type MessageEncoder struct {
	logTypeDict *Dictionary
	varDict     *Dictionary
}

func NewMessageEncoder(logTypeDict, varDict *Dictionary) *MessageEncoder {
	return &MessageEncoder{logTypeDict: logTypeDict, varDict: varDict}
}

// isASCIISpace matches the same whitespace class the classifier splits on.
func isASCIISpace(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	default:
		return false
	}
}

// tokenize splits body on runs of ASCII whitespace, returning the tokens
// and the literal whitespace runs between them (including any leading and
// trailing runs), so the template can be reassembled byte-for-byte modulo
// the variable sentinels.
func tokenize(body string) (tokens []string, seps []string) {
	i := 0
	n := len(body)

	sep := func() string {
		start := i
		for i < n && isASCIISpace(body[i]) {
			i++
		}
		return body[start:i]
	}

	seps = append(seps, sep())
	for i < n {
		start := i
		for i < n && !isASCIISpace(body[i]) {
			i++
		}
		tokens = append(tokens, body[start:i])
		seps = append(seps, sep())
	}

	return tokens, seps
}

// Encode tokenizes body, classifies each token, interns the resulting
// template, and appends the encoded message (with its variable sequence)
// to file.
func (e *MessageEncoder) Encode(file *File, ts int64, body string, numUncompressedBytes uint32) error {
	tokens, seps := tokenize(body)

	template := make([]byte, 0, len(body))
	variables := make([]Variable, 0, len(tokens))

	template = append(template, seps[0]...)
	for i, tok := range tokens {
		if v, isVar := classifyToken(tok); isVar {
			template = append(template, v.Sentinel())
			variables = append(variables, e.internVariable(v, tok))
		} else {
			template = append(template, tok...)
		}
		template = append(template, seps[i+1]...)
	}

	logTypeID, _ := e.logTypeDict.AddEntry(template)

	msg := EncodedMessage{
		Timestamp:            ts,
		LogTypeID:            logTypeID,
		Variables:            variables,
		NumUncompressedBytes: numUncompressedBytes,
	}

	return file.WriteMessage(msg)
}

// internVariable finishes a dictionary-kind classification by actually
// interning the raw token text; int/float variables are already
// self-contained and pass through unchanged.
func (e *MessageEncoder) internVariable(v Variable, raw string) Variable {
	if v.kind != varkind_dict {
		return v
	}
	id, _ := e.varDict.AddEntry([]byte(raw))
	v.SetDictID(id)
	return v
}

// EOF

// OSIA UIN Generator
// Copyright (C) 2026 Tunji Durodola
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package uingen

import (
	"strings"
	"unicode"

	"github.com/gravitational/trace"
)

// Symbolic charset names accepted wherever a charset is configured. Any
// other value is interpreted as a literal alphabet.
const (
	CharsetNumeric      = "numeric"
	CharsetAlphanumeric = "alphanumeric"
	CharsetHex          = "hex"
	CharsetSafe         = "safe"
)

const (
	alphabetNumeric      = "0123456789"
	alphabetAlphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphabetHex          = "0123456789ABCDEF"

	// ambiguousRunes are easily confused when a UIN is read out or
	// transcribed by hand.
	ambiguousRunes = "0OI1l"
)

// ParseCharset resolves a symbolic charset name or literal alphabet to the
// alphabet to draw from. Literal alphabets must have at least two distinct
// characters and no duplicates.
func ParseCharset(charset string) (string, error) {
	switch charset {
	case CharsetNumeric:
		return alphabetNumeric, nil
	case CharsetAlphanumeric:
		return alphabetAlphanumeric, nil
	case CharsetHex:
		return alphabetHex, nil
	case CharsetSafe:
		return stripAmbiguous(alphabetAlphanumeric), nil
	case "":
		return "", trace.BadParameter("charset is required")
	}
	if len(charset) < 2 {
		return "", trace.BadParameter("literal alphabet needs at least 2 characters, got %q", charset)
	}
	seen := make(map[rune]bool, len(charset))
	for _, r := range charset {
		if r > unicode.MaxASCII {
			return "", trace.BadParameter("literal alphabet must be ASCII, got %q", r)
		}
		if seen[r] {
			return "", trace.BadParameter("literal alphabet has duplicate character %q", r)
		}
		seen[r] = true
	}
	return charset, nil
}

// stripAmbiguous removes the characters 0, O, I, 1 and l from an alphabet.
func stripAmbiguous(alphabet string) string {
	var b strings.Builder
	b.Grow(len(alphabet))
	for _, r := range alphabet {
		if strings.ContainsRune(ambiguousRunes, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// resolveAlphabet parses the charset and applies the ambiguity exclusion,
// verifying the surviving alphabet is still usable.
func resolveAlphabet(charset string, excludeAmbiguous bool) (string, error) {
	alphabet, err := ParseCharset(charset)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if excludeAmbiguous {
		alphabet = stripAmbiguous(alphabet)
	}
	if len(alphabet) < 2 {
		return "", trace.BadParameter("alphabet %q is too small after exclusions", alphabet)
	}
	return alphabet, nil
}

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
	"fmt"

	"github.com/gravitational/trace"

	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
)

// Algorithm names the checksum scheme appended to generated UINs.
type Algorithm string

const (
	// AlgorithmModN sums character values modulo a configurable N and
	// emits one character.
	AlgorithmModN Algorithm = "modN"
	// AlgorithmISO7064 is ISO 7064 MOD 37-2, one check character over
	// 0-9, A-Z and *.
	AlgorithmISO7064 Algorithm = "iso7064"
	// AlgorithmISO7064Mod97 is ISO 7064 MOD 97-10 (IBAN style), two
	// check digits.
	AlgorithmISO7064Mod97 Algorithm = "iso7064mod97"
)

// ChecksumOptions configure checksum computation.
type ChecksumOptions struct {
	// Enabled turns the checksum on for generation.
	Enabled bool
	// Algorithm selects the scheme, AlgorithmISO7064 when empty.
	Algorithm Algorithm
	// Modulus is the N of AlgorithmModN, defaults.ChecksumModulus when
	// zero. Ignored by the other algorithms.
	Modulus int
}

// Checksum is the result of appending a check value to a base string.
type Checksum struct {
	// Value is base followed by the check characters.
	Value string
	// Checksum is the check characters alone.
	Checksum string
}

// checksumValues maps characters to their numeric values: digits to 0-9,
// upper-case letters to 10-35. The second return is false for any other
// character.
func checksumValue(r rune) (int, bool) {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0'), true
	case r >= 'A' && r <= 'Z':
		return int(r-'A') + 10, true
	}
	return 0, false
}

// checksumAlphabet encodes values 0-36, with 36 mapping to the ISO 7064
// supplementary character *.
const checksumAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ*"

type checksumFuncs struct {
	compute func(base string, opts ChecksumOptions) (string, error)
	// width is the number of check characters the algorithm emits.
	width int
}

// checksumAlgorithms dispatches by algorithm name.
var checksumAlgorithms = map[Algorithm]checksumFuncs{
	AlgorithmModN:         {compute: computeModN, width: 1},
	AlgorithmISO7064:      {compute: computeISO7064, width: 1},
	AlgorithmISO7064Mod97: {compute: computeISO7064Mod97, width: 2},
}

// AppendChecksum computes the check characters for base and returns base
// with the checksum appended.
func AppendChecksum(base string, opts ChecksumOptions) (*Checksum, error) {
	if base == "" {
		return nil, trace.BadParameter("cannot checksum an empty string")
	}
	funcs, ok := checksumAlgorithms[opts.Algorithm]
	if !ok {
		return nil, trace.BadParameter("unknown checksum algorithm %q", opts.Algorithm)
	}
	check, err := funcs.compute(base, opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Checksum{Value: base + check, Checksum: check}, nil
}

// VerifyChecksum splits the trailing check characters off value,
// recomputes them over the remainder and reports whether they match.
func VerifyChecksum(value string, opts ChecksumOptions) (bool, error) {
	funcs, ok := checksumAlgorithms[opts.Algorithm]
	if !ok {
		return false, trace.BadParameter("unknown checksum algorithm %q", opts.Algorithm)
	}
	if len(value) <= funcs.width {
		return false, trace.BadParameter("value %q is not longer than its checksum", value)
	}
	base, got := value[:len(value)-funcs.width], value[len(value)-funcs.width:]
	want, err := funcs.compute(base, opts)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return want == got, nil
}

// computeModN sums the character values of base modulo N. Characters
// outside 0-9 and A-Z carry no value and are skipped.
func computeModN(base string, opts ChecksumOptions) (string, error) {
	n := opts.Modulus
	if n == 0 {
		n = defaults.ChecksumModulus
	}
	if n < 2 || n > 36 {
		return "", trace.BadParameter("modN modulus must be between 2 and 36, got %d", n)
	}
	sum := 0
	for _, r := range base {
		if v, ok := checksumValue(r); ok {
			sum += v
		}
	}
	return string(checksumAlphabet[sum%n]), nil
}

// computeISO7064 implements ISO 7064 MOD 37-2.
func computeISO7064(base string, _ ChecksumOptions) (string, error) {
	check := 36
	for _, r := range base {
		v, ok := checksumValue(r)
		if !ok {
			return "", trace.BadParameter("ISO 7064 input must be alphanumeric, got %q", r)
		}
		check = ((check + v) * 2) % 37
	}
	check = (38 - check) % 37
	return string(checksumAlphabet[check]), nil
}

// computeISO7064Mod97 implements ISO 7064 MOD 97-10. Letters expand to
// their two-digit values and the modulus is taken digit by digit, so
// arbitrarily long inputs never overflow.
func computeISO7064Mod97(base string, _ ChecksumOptions) (string, error) {
	value := 0
	for _, r := range base {
		v, ok := checksumValue(r)
		if !ok {
			return "", trace.BadParameter("ISO 7064 input must be alphanumeric, got %q", r)
		}
		if v < 10 {
			value = (value*10 + v) % 97
		} else {
			value = (value*100 + v) % 97
		}
	}
	return fmt.Sprintf("%02d", 98-value%97), nil
}

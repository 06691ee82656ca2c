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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestChecksumRoundTrip(t *testing.T) {
	bases := []string{"1234567890", "ABC123", "Z", "00A00", "9XK2PVQ4TLM8WHR62NB"}
	algorithms := []ChecksumOptions{
		{Algorithm: AlgorithmModN, Modulus: 10},
		{Algorithm: AlgorithmModN, Modulus: 36},
		{Algorithm: AlgorithmISO7064},
		{Algorithm: AlgorithmISO7064Mod97},
	}
	for _, opts := range algorithms {
		for _, base := range bases {
			appended, err := AppendChecksum(base, opts)
			require.NoError(t, err, "algorithm=%v base=%q", opts.Algorithm, base)
			require.Equal(t, base+appended.Checksum, appended.Value)

			ok, err := VerifyChecksum(appended.Value, opts)
			require.NoError(t, err)
			require.True(t, ok, "algorithm=%v base=%q value=%q", opts.Algorithm, base, appended.Value)
		}
	}
}

func TestISO7064Fixture(t *testing.T) {
	// MOD 37-2 over "ABC123": 36 →18 →21 →29 →23 →13 →32, check (38−32)%37 = 6.
	appended, err := AppendChecksum("ABC123", ChecksumOptions{Algorithm: AlgorithmISO7064})
	require.NoError(t, err)
	require.Equal(t, "ABC1236", appended.Value)
	require.Equal(t, "6", appended.Checksum)

	again, err := AppendChecksum("ABC123", ChecksumOptions{Algorithm: AlgorithmISO7064})
	require.NoError(t, err)
	require.Equal(t, appended.Value, again.Value)

	ok, err := VerifyChecksum(appended.Value, ChecksumOptions{Algorithm: AlgorithmISO7064})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestISO7064Mod97Fixture(t *testing.T) {
	// "ABC123" expands to 101112123, 101112123 mod 97 = 2, check 98−2 = 96.
	appended, err := AppendChecksum("ABC123", ChecksumOptions{Algorithm: AlgorithmISO7064Mod97})
	require.NoError(t, err)
	require.Equal(t, "ABC12396", appended.Value)
	require.Equal(t, "96", appended.Checksum)
}

func TestModN(t *testing.T) {
	tests := []struct {
		base     string
		modulus  int
		checksum string
	}{
		// 1+2+3+4 = 10, 10 mod 10 = 0.
		{base: "1234", modulus: 10, checksum: "0"},
		// A=10 and 1, the dash carries no value; 11 mod 10 = 1.
		{base: "A-1", modulus: 10, checksum: "1"},
		// A=10, B=11; 21 mod 36 = 21 which encodes to L.
		{base: "AB", modulus: 36, checksum: "L"},
	}
	for _, tc := range tests {
		appended, err := AppendChecksum(tc.base, ChecksumOptions{Algorithm: AlgorithmModN, Modulus: tc.modulus})
		require.NoError(t, err)
		require.Equal(t, tc.checksum, appended.Checksum, "base=%q", tc.base)
	}
}

func TestChecksumDetectsMutation(t *testing.T) {
	appended, err := AppendChecksum("9XK2PVQ4TLM8WHR62NB", ChecksumOptions{Algorithm: AlgorithmISO7064})
	require.NoError(t, err)

	// Change one body character; with MOD 37-2 any single substitution
	// is detected.
	mutated := []byte(appended.Value)
	if mutated[0] == '9' {
		mutated[0] = '8'
	}
	ok, err := VerifyChecksum(string(mutated), ChecksumOptions{Algorithm: AlgorithmISO7064})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChecksumValidation(t *testing.T) {
	tests := []struct {
		desc string
		fn   func() error
	}{
		{
			desc: "empty base",
			fn: func() error {
				_, err := AppendChecksum("", ChecksumOptions{Algorithm: AlgorithmISO7064})
				return err
			},
		},
		{
			desc: "unknown algorithm",
			fn: func() error {
				_, err := AppendChecksum("123", ChecksumOptions{Algorithm: "luhn"})
				return err
			},
		},
		{
			desc: "modulus too small",
			fn: func() error {
				_, err := AppendChecksum("123", ChecksumOptions{Algorithm: AlgorithmModN, Modulus: 1})
				return err
			},
		},
		{
			desc: "modulus too large",
			fn: func() error {
				_, err := AppendChecksum("123", ChecksumOptions{Algorithm: AlgorithmModN, Modulus: 37})
				return err
			},
		},
		{
			desc: "iso7064 rejects non-alphanumeric",
			fn: func() error {
				_, err := AppendChecksum("AB-C", ChecksumOptions{Algorithm: AlgorithmISO7064})
				return err
			},
		},
		{
			desc: "iso7064 rejects lower case",
			fn: func() error {
				_, err := AppendChecksum("abc", ChecksumOptions{Algorithm: AlgorithmISO7064})
				return err
			},
		},
		{
			desc: "verify needs more than the checksum",
			fn: func() error {
				_, err := VerifyChecksum("96", ChecksumOptions{Algorithm: AlgorithmISO7064Mod97})
				return err
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.fn()
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}
}

func TestModNDefaultModulus(t *testing.T) {
	// Modulus 0 falls back to the default of 10.
	appended, err := AppendChecksum("1234", ChecksumOptions{Algorithm: AlgorithmModN})
	require.NoError(t, err)
	require.Equal(t, "0", appended.Checksum)
}

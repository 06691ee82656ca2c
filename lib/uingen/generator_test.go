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
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"unicode"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/entropy"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/sectoken"
)

type staticSecrets map[string][]byte

func (s staticSecrets) Get(_ context.Context, sector string) ([]byte, error) {
	secret, ok := s[sector]
	if !ok {
		return nil, trace.NotFound("no secret configured for sector %q", sector)
	}
	return secret, nil
}

func testGenerator(t *testing.T) *Generator {
	t.Helper()
	manager, err := entropy.NewManager(context.Background(), entropy.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	deriver, err := sectoken.New(sectoken.Config{Secrets: staticSecrets{
		"health": []byte(strings.Repeat("h", 32)),
	}})
	require.NoError(t, err)

	generator, err := New(Config{Entropy: manager, Deriver: deriver})
	require.NoError(t, err)
	return generator
}

func TestGenerateFoundational(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t)

	opts := Options{
		Mode:             ModeFoundational,
		Length:           19,
		Charset:          CharsetAlphanumeric,
		ExcludeAmbiguous: true,
		Checksum:         ChecksumOptions{Enabled: true, Algorithm: AlgorithmISO7064},
	}
	result, err := g.Generate(ctx, opts)
	require.NoError(t, err)

	require.Len(t, result.UIN, 20)
	require.Equal(t, result.UIN[19:], result.Checksum)
	const safe = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	for _, r := range result.UIN[:19] {
		require.Contains(t, safe, string(r))
	}

	ok, err := g.Validate(result.UIN, opts.Checksum)
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, result.Properties.HighEntropy)
	require.True(t, result.Properties.NoPII)
	require.NotNil(t, result.Provenance)
	require.Equal(t, entropy.ProviderSoftware, result.Provenance.Provider)

	require.Len(t, result.HashRMD160, 40)
	_, err = hex.DecodeString(result.HashRMD160)
	require.NoError(t, err)
}

func TestGenerateAlphabetMembership(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t)

	tests := []struct {
		charset          string
		excludeAmbiguous bool
		alphabet         string
	}{
		{charset: CharsetNumeric, alphabet: "0123456789"},
		{charset: CharsetNumeric, excludeAmbiguous: true, alphabet: "23456789"},
		{charset: CharsetHex, alphabet: "0123456789ABCDEF"},
		{charset: CharsetSafe, alphabet: "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"},
		{charset: "AB", alphabet: "AB"},
	}
	for _, tc := range tests {
		for i := 0; i < 20; i++ {
			result, err := g.Generate(ctx, Options{
				Mode:             ModeRandom,
				Length:           16,
				Charset:          tc.charset,
				ExcludeAmbiguous: tc.excludeAmbiguous,
			})
			require.NoError(t, err)
			require.Len(t, result.UIN, 16)
			for _, r := range result.UIN {
				require.Contains(t, tc.alphabet, string(r),
					"charset=%q excludeAmbiguous=%v", tc.charset, tc.excludeAmbiguous)
			}
		}
	}
}

func TestGenerateRandomDefaults(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t)

	result, err := g.Generate(ctx, Options{Mode: ModeRandom})
	require.NoError(t, err)
	require.Len(t, result.UIN, 10)
	require.Empty(t, result.Checksum)
	require.True(t, result.Properties.HighEntropy)
	require.False(t, result.Properties.NoPII)
}

func TestGenerateStructured(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t)

	result, err := g.Generate(ctx, Options{
		Mode:     ModeStructured,
		Template: "RR-YYYY-NNNNN",
		Values:   map[rune]string{'R': "NG", 'Y': "2026"},
		Segments: map[rune]Segment{'N': {Charset: CharsetNumeric}},
	})
	require.NoError(t, err)

	require.Len(t, result.UIN, 13)
	require.True(t, strings.HasPrefix(result.UIN, "NG-2026-"))
	for _, r := range result.UIN[8:] {
		require.True(t, unicode.IsDigit(r), "expected digit, got %q in %q", r, result.UIN)
	}
	require.NotNil(t, result.Provenance)
	require.False(t, result.Properties.HighEntropy)
}

func TestGenerateStructuredErrors(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t)

	tests := []struct {
		desc string
		opts Options
	}{
		{
			desc: "missing template",
			opts: Options{Mode: ModeStructured},
		},
		{
			desc: "literal length mismatch",
			opts: Options{
				Mode:     ModeStructured,
				Template: "RR-NNN",
				Values:   map[rune]string{'R': "NGA"},
				Segments: map[rune]Segment{'N': {Charset: CharsetNumeric}},
			},
		},
		{
			desc: "unbound placeholder",
			opts: Options{
				Mode:     ModeStructured,
				Template: "RR-QQQ",
				Values:   map[rune]string{'R': "NG"},
			},
		},
		{
			desc: "segment length conflicts with run",
			opts: Options{
				Mode:     ModeStructured,
				Template: "NNNN",
				Segments: map[rune]Segment{'N': {Length: 6, Charset: CharsetNumeric}},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := g.Generate(ctx, tc.opts)
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}
}

func TestGenerateSectorToken(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t)

	result, err := g.Generate(ctx, Options{
		Mode:            ModeSectorToken,
		FoundationalUIN: "8C2PV4K9QH37NMWT5ZR",
		Sector:          "health",
		TokenLength:     16,
	})
	require.NoError(t, err)

	require.Len(t, result.UIN, 16)
	require.NotNil(t, result.TokenMetadata)
	require.Equal(t, "health", result.TokenMetadata.Sector)
	require.Nil(t, result.Provenance)
	require.True(t, result.Properties.NoPII)

	// Same inputs derive the same token.
	again, err := g.Generate(ctx, Options{
		Mode:            ModeSectorToken,
		FoundationalUIN: "8C2PV4K9QH37NMWT5ZR",
		Sector:          "health",
		TokenLength:     16,
	})
	require.NoError(t, err)
	require.Equal(t, result.UIN, again.UIN)
}

func TestGenerateValidation(t *testing.T) {
	ctx := context.Background()
	g := testGenerator(t)

	tests := []struct {
		desc string
		opts Options
	}{
		{desc: "missing mode", opts: Options{}},
		{desc: "unknown mode", opts: Options{Mode: "sequential"}},
		{desc: "length below minimum", opts: Options{Mode: ModeFoundational, Length: 3}},
		{desc: "length above maximum", opts: Options{Mode: ModeFoundational, Length: 33}},
		{desc: "bad literal alphabet", opts: Options{Mode: ModeRandom, Charset: "AA"}},
		{desc: "sector token without UIN", opts: Options{Mode: ModeSectorToken, Sector: "health", TokenLength: 16}},
		{desc: "sector token without sector", opts: Options{Mode: ModeSectorToken, FoundationalUIN: "123", TokenLength: 16}},
		{desc: "sector token without length", opts: Options{Mode: ModeSectorToken, FoundationalUIN: "123", Sector: "health"}},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := g.Generate(ctx, tc.opts)
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}
}

func TestIntegrityHash(t *testing.T) {
	plain := IntegrityHash("1234567890", "")
	require.Len(t, plain, 40)
	_, err := hex.DecodeString(plain)
	require.NoError(t, err)

	require.Equal(t, plain, IntegrityHash("1234567890", ""))
	require.NotEqual(t, plain, IntegrityHash("1234567891", ""))
	require.NotEqual(t, plain, IntegrityHash("1234567890", "salty"))
}

func TestParseCharset(t *testing.T) {
	tests := []struct {
		charset  string
		alphabet string
		wantErr  bool
	}{
		{charset: CharsetNumeric, alphabet: "0123456789"},
		{charset: CharsetAlphanumeric, alphabet: "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"},
		{charset: CharsetHex, alphabet: "0123456789ABCDEF"},
		{charset: CharsetSafe, alphabet: "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"},
		{charset: "XYZ", alphabet: "XYZ"},
		{charset: "", wantErr: true},
		{charset: "A", wantErr: true},
		{charset: "ABA", wantErr: true},
		{charset: "ÄÖÜ", wantErr: true},
	}
	for _, tc := range tests {
		alphabet, err := ParseCharset(tc.charset)
		if tc.wantErr {
			require.True(t, trace.IsBadParameter(err), "charset=%q expected BadParameter, got %v", tc.charset, err)
			continue
		}
		require.NoError(t, err, "charset=%q", tc.charset)
		require.Equal(t, tc.alphabet, alphabet)
	}
}

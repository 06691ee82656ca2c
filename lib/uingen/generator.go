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

// Package uingen materializes UIN strings in the four supported modes,
// appends and verifies checksums and computes the pool integrity hash.
package uingen

import (
	"context"
	"log/slog"
	"unicode"

	"github.com/gravitational/trace"

	uin "github.com/tunjidurodola/osia-uin-generator-sub000"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/entropy"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/sectoken"
)

// Mode selects the generation strategy.
type Mode string

const (
	// ModeFoundational generates a high-entropy identifier free of
	// personal data, meant as the lifelong root identifier.
	ModeFoundational Mode = "foundational"
	// ModeRandom generates a random identifier without the
	// foundational guarantees.
	ModeRandom Mode = "random"
	// ModeStructured expands a template of literal and random
	// segments.
	ModeStructured Mode = "structured"
	// ModeSectorToken derives a per-sector token from a foundational
	// UIN.
	ModeSectorToken Mode = "sector_token"
)

// Segment configures one random placeholder of a structured template.
type Segment struct {
	// Length of the segment. Zero means the length of the placeholder
	// run in the template; a non-zero value must match it.
	Length int
	// Charset of the segment, the generator's default when empty.
	Charset string
	// ExcludeAmbiguous strips easily confused characters from the
	// segment alphabet.
	ExcludeAmbiguous bool
}

// Options selects what to generate. Mode picks the variant; the remaining
// fields apply to the modes noted on each.
type Options struct {
	// Mode selects the generation strategy.
	Mode Mode

	// Length is the number of random characters to draw (foundational,
	// random).
	Length int
	// Charset is a symbolic charset name or literal alphabet
	// (foundational, random, sector_token).
	Charset string
	// ExcludeAmbiguous strips 0, O, I, 1 and l from the alphabet
	// (foundational, random, sector_token).
	ExcludeAmbiguous bool
	// Checksum appends a check character or pair (foundational,
	// random, structured).
	Checksum ChecksumOptions

	// Template is the structured layout, e.g. "RR-YYYY-NNNNN"
	// (structured).
	Template string
	// Values maps a placeholder rune to its literal value
	// (structured).
	Values map[rune]string
	// Segments maps a placeholder rune to its random segment
	// configuration (structured).
	Segments map[rune]Segment

	// FoundationalUIN is the root identifier a sector token is derived
	// from (sector_token).
	FoundationalUIN string
	// Sector is the target sector name (sector_token).
	Sector string
	// TokenLength is the derived token length (sector_token).
	TokenLength int
	// Salt is mixed into the token derivation (sector_token).
	Salt string
	// Version tags the token derivation scheme (sector_token).
	Version string
	// Algorithm is the token HMAC hash (sector_token).
	Algorithm string
}

func (o *Options) checkAndSetDefaults() error {
	switch o.Mode {
	case ModeFoundational, ModeRandom:
		if o.Length == 0 {
			o.Length = defaults.UINLength
		}
		if o.Length < defaults.MinUINLength || o.Length > defaults.MaxUINLength {
			return trace.BadParameter("UIN length must be between %d and %d, got %d",
				defaults.MinUINLength, defaults.MaxUINLength, o.Length)
		}
		if o.Charset == "" {
			o.Charset = defaults.Charset
		}
	case ModeStructured:
		if o.Template == "" {
			return trace.BadParameter("structured mode requires a template")
		}
	case ModeSectorToken:
		if o.FoundationalUIN == "" {
			return trace.BadParameter("sector_token mode requires a foundational UIN")
		}
		if o.Sector == "" {
			return trace.BadParameter("sector_token mode requires a sector")
		}
		if o.TokenLength == 0 {
			return trace.BadParameter("sector_token mode requires a token length")
		}
	case "":
		return trace.BadParameter("generation mode is required")
	default:
		return trace.BadParameter("unsupported generation mode %q", o.Mode)
	}
	if o.Checksum.Enabled && o.Checksum.Algorithm == "" {
		o.Checksum.Algorithm = AlgorithmISO7064
	}
	return nil
}

// Validate checks the options without generating anything. Batch callers
// use it to fail fast before the first row is drawn.
func (o Options) Validate() error {
	return trace.Wrap(o.checkAndSetDefaults())
}

// Properties describe guarantees of a generated value.
type Properties struct {
	// HighEntropy is true when every character was drawn uniformly
	// from hardware or CSPRNG randomness.
	HighEntropy bool `json:"high_entropy"`
	// NoPII is true when the value cannot embed personal data.
	NoPII bool `json:"no_pii"`
}

// Result is one generated UIN with its derived fields.
type Result struct {
	// UIN is the generated identifier, checksum included when enabled.
	UIN string
	// Checksum is the check characters appended to the UIN, empty when
	// disabled.
	Checksum string
	// HashRMD160 is the integrity hash persisted with pooled UINs.
	HashRMD160 string
	// Provenance records the randomness source, nil when no random
	// bytes were drawn.
	Provenance *entropy.Provenance
	// TokenMetadata carries the sector token derivation metadata in
	// sector_token mode.
	TokenMetadata *sectoken.Metadata
	// Mode is the mode the value was generated in.
	Mode Mode
	// Properties describe guarantees of the generated value.
	Properties Properties
}

// Config holds generator configuration.
type Config struct {
	// Entropy serves the random bytes behind every generated
	// character.
	Entropy *entropy.Manager
	// Deriver computes sector tokens. Optional; required only for
	// sector_token mode.
	Deriver *sectoken.Deriver
	// HashSalt is appended to the UIN before integrity hashing. Empty
	// by default.
	HashSalt string
	// Logger is used for non-sensitive diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Entropy == nil {
		return trace.BadParameter("entropy manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(uin.ComponentKey, uin.ComponentGenerator)
	}
	return nil
}

// Generator materializes UINs. It is safe for concurrent use.
type Generator struct {
	entropy  *entropy.Manager
	deriver  *sectoken.Deriver
	hashSalt string
	logger   *slog.Logger
}

// New returns a Generator for the given config.
func New(cfg Config) (*Generator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Generator{
		entropy:  cfg.Entropy,
		deriver:  cfg.Deriver,
		hashSalt: cfg.HashSalt,
		logger:   cfg.Logger,
	}, nil
}

// Generate materializes one UIN according to opts.
func (g *Generator) Generate(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	switch opts.Mode {
	case ModeFoundational, ModeRandom:
		return g.generateRandom(ctx, opts)
	case ModeStructured:
		return g.generateStructured(ctx, opts)
	case ModeSectorToken:
		return g.generateSectorToken(ctx, opts)
	}
	return nil, trace.BadParameter("unsupported generation mode %q", opts.Mode)
}

// Validate checks a previously generated UIN against the given checksum
// configuration.
func (g *Generator) Validate(value string, opts ChecksumOptions) (bool, error) {
	ok, err := VerifyChecksum(value, opts)
	return ok, trace.Wrap(err)
}

func (g *Generator) generateRandom(ctx context.Context, opts Options) (*Result, error) {
	alphabet, err := resolveAlphabet(opts.Charset, opts.ExcludeAmbiguous)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	value, prov, err := g.randomString(ctx, alphabet, opts.Length)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := &Result{
		UIN:  value,
		Mode: opts.Mode,
		Properties: Properties{
			HighEntropy: true,
			NoPII:       opts.Mode == ModeFoundational,
		},
		Provenance: prov,
	}
	if opts.Checksum.Enabled {
		appended, err := AppendChecksum(result.UIN, opts.Checksum)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result.UIN = appended.Value
		result.Checksum = appended.Checksum
	}
	result.HashRMD160 = IntegrityHash(result.UIN, g.hashSalt)
	return result, nil
}

// randomString draws length characters uniformly from alphabet using
// rejection sampling, so no character is favored by the byte modulus.
func (g *Generator) randomString(ctx context.Context, alphabet string, length int) (string, *entropy.Provenance, error) {
	// Bytes at or above the largest multiple of the alphabet size are
	// rejected to avoid modulo bias.
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, length)
	var prov *entropy.Provenance
	for len(out) < length {
		need := (length - len(out)) * 2
		if need > defaults.MaxEntropyRequest {
			need = defaults.MaxEntropyRequest
		}
		buf, p, err := g.entropy.RandomBytes(ctx, need)
		if err != nil {
			return "", nil, trace.Wrap(err)
		}
		// Record the weakest source that contributed bytes.
		if prov == nil || (prov.Hardware && !p.Hardware) {
			prov = p
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), prov, nil
}

func (g *Generator) generateStructured(ctx context.Context, opts Options) (*Result, error) {
	expanded, prov, err := g.expandTemplate(ctx, opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := &Result{
		UIN:        expanded,
		Mode:       ModeStructured,
		Provenance: prov,
	}
	if opts.Checksum.Enabled {
		appended, err := AppendChecksum(result.UIN, opts.Checksum)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result.UIN = appended.Value
		result.Checksum = appended.Checksum
	}
	result.HashRMD160 = IntegrityHash(result.UIN, g.hashSalt)
	return result, nil
}

// expandTemplate walks the template grouping runs of the same placeholder
// rune. Letters and digits are placeholders and must be bound to either a
// literal value or a random segment; all other characters copy through.
func (g *Generator) expandTemplate(ctx context.Context, opts Options) (string, *entropy.Provenance, error) {
	var out []byte
	var prov *entropy.Provenance
	template := []rune(opts.Template)
	for i := 0; i < len(template); {
		r := template[i]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			out = append(out, string(r)...)
			i++
			continue
		}
		runLength := 1
		for i+runLength < len(template) && template[i+runLength] == r {
			runLength++
		}
		i += runLength

		if literal, ok := opts.Values[r]; ok {
			if len(literal) != runLength {
				return "", nil, trace.BadParameter("literal for placeholder %q is %d characters, template expects %d",
					r, len(literal), runLength)
			}
			out = append(out, literal...)
			continue
		}
		segment, ok := opts.Segments[r]
		if !ok {
			return "", nil, trace.BadParameter("template placeholder %q has neither a literal value nor a segment configuration", r)
		}
		if segment.Length != 0 && segment.Length != runLength {
			return "", nil, trace.BadParameter("segment for placeholder %q is configured for %d characters, template expects %d",
				r, segment.Length, runLength)
		}
		charset := segment.Charset
		if charset == "" {
			charset = defaults.Charset
		}
		alphabet, err := resolveAlphabet(charset, segment.ExcludeAmbiguous)
		if err != nil {
			return "", nil, trace.Wrap(err)
		}
		value, p, err := g.randomString(ctx, alphabet, runLength)
		if err != nil {
			return "", nil, trace.Wrap(err)
		}
		if prov == nil || (prov.Hardware && !p.Hardware) {
			prov = p
		}
		out = append(out, value...)
	}
	return string(out), prov, nil
}

func (g *Generator) generateSectorToken(ctx context.Context, opts Options) (*Result, error) {
	if g.deriver == nil {
		return nil, trace.BadParameter("no sector token deriver configured")
	}
	charset := ""
	if opts.Charset != "" {
		alphabet, err := resolveAlphabet(opts.Charset, opts.ExcludeAmbiguous)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		charset = alphabet
	}
	token, err := g.deriver.Derive(ctx, sectoken.Params{
		UIN:       opts.FoundationalUIN,
		Sector:    opts.Sector,
		Length:    opts.TokenLength,
		Charset:   charset,
		Salt:      opts.Salt,
		Version:   opts.Version,
		Algorithm: opts.Algorithm,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Result{
		UIN:           token.Value,
		HashRMD160:    IntegrityHash(token.Value, g.hashSalt),
		TokenMetadata: &token.Metadata,
		Mode:          ModeSectorToken,
		Properties: Properties{
			NoPII: true,
		},
	}, nil
}

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

// Package sectoken derives per-sector identifiers from a foundational UIN.
// Tokens for different sectors are computationally unlinkable, verification
// is deterministic given the token metadata, and comparison is timing-safe.
package sectoken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"log/slog"
	"strings"

	"github.com/gravitational/trace"

	uin "github.com/tunjidurodola/osia-uin-generator-sub000"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
)

// HMAC hash algorithms accepted by Params.Algorithm.
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"
)

// defaultAlphabet is the output alphabet used when the caller does not
// request one.
const defaultAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxTokenLength bounds requested token lengths.
const maxTokenLength = 64

// SecretGetter looks up the shared secret of a sector by its normalized
// name.
type SecretGetter interface {
	Get(ctx context.Context, sector string) ([]byte, error)
}

// Config holds deriver configuration.
type Config struct {
	// Secrets resolves sector names to their shared secrets.
	Secrets SecretGetter
	// Logger is used for non-sensitive diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Secrets == nil {
		return trace.BadParameter("sector secret getter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(uin.ComponentKey, uin.ComponentSectorToken)
	}
	return nil
}

// Deriver computes and verifies sector tokens.
type Deriver struct {
	secrets SecretGetter
	logger  *slog.Logger
}

// New returns a Deriver backed by the given secret getter.
func New(cfg Config) (*Deriver, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Deriver{
		secrets: cfg.Secrets,
		logger:  cfg.Logger,
	}, nil
}

// Params selects what to derive.
type Params struct {
	// UIN is the foundational UIN the token is derived from.
	UIN string
	// Sector is the sector name, normalized to lower case before use.
	Sector string
	// Length is the requested token length in characters.
	Length int
	// Charset is the literal output alphabet. Empty selects the
	// builtin alphanumeric alphabet.
	Charset string
	// Salt is mixed into the derivation input verbatim.
	Salt string
	// Version tags the derivation scheme, "1" when empty.
	Version string
	// Algorithm is the HMAC hash, "sha256" when empty.
	Algorithm string
}

func (p *Params) checkAndSetDefaults() error {
	if p.UIN == "" {
		return trace.BadParameter("foundational UIN is required")
	}
	p.Sector = NormalizeSector(p.Sector)
	if p.Sector == "" {
		return trace.BadParameter("sector name is required")
	}
	if p.Length <= 0 || p.Length > maxTokenLength {
		return trace.BadParameter("token length must be between 1 and %d, got %d", maxTokenLength, p.Length)
	}
	if p.Charset == "" {
		p.Charset = defaultAlphabet
	}
	if p.Version == "" {
		p.Version = defaults.TokenVersion
	}
	if p.Algorithm == "" {
		p.Algorithm = defaults.TokenAlgorithm
	}
	switch p.Algorithm {
	case AlgorithmSHA256, AlgorithmSHA512:
	default:
		return trace.BadParameter("unsupported token algorithm %q", p.Algorithm)
	}
	return nil
}

// Token is a derived sector token together with everything needed to
// verify it later.
type Token struct {
	// Value is the derived identifier.
	Value string
	// Metadata reproduces the derivation inputs, minus the secret.
	Metadata Metadata
}

// Metadata captures the non-secret derivation inputs of a token.
type Metadata struct {
	Sector        string `json:"sector"`
	Version       string `json:"version"`
	Algorithm     string `json:"algorithm"`
	Salt          string `json:"salt"`
	Length        int    `json:"length"`
	Charset       string `json:"charset"`
	Deterministic bool   `json:"deterministic,omitempty"`
}

// NormalizeSector canonicalizes a sector name the way secret lookups and
// derivation inputs expect it.
func NormalizeSector(sector string) string {
	return strings.ToLower(strings.TrimSpace(sector))
}

// Derive computes the sector token for the given parameters.
func (d *Deriver) Derive(ctx context.Context, params Params) (*Token, error) {
	if err := params.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	value, err := d.derive(ctx, params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Token{
		Value: value,
		Metadata: Metadata{
			Sector:    params.Sector,
			Version:   params.Version,
			Algorithm: params.Algorithm,
			Salt:      params.Salt,
			Length:    params.Length,
			Charset:   params.Charset,
		},
	}, nil
}

// DeriveDeterministic computes a repeatable token whose salt is derived
// from the UIN and sector instead of being random. The token is weaker
// against guessing and flagged as such in its metadata.
func (d *Deriver) DeriveDeterministic(ctx context.Context, params Params) (*Token, error) {
	saltSeed := sha256.Sum256([]byte(params.UIN + ":" + NormalizeSector(params.Sector)))
	params.Salt = hex.EncodeToString(saltSeed[:])[:defaults.DeterministicSaltLength]
	token, err := d.Derive(ctx, params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	token.Metadata.Deterministic = true
	return token, nil
}

// Verify recomputes the token described by metadata and compares it to the
// candidate in constant time. Internal failures (missing secret, bad
// metadata) report false, never an error.
func (d *Deriver) Verify(ctx context.Context, candidate, foundationalUIN, sector string, meta Metadata) bool {
	params := Params{
		UIN:       foundationalUIN,
		Sector:    sector,
		Length:    meta.Length,
		Charset:   meta.Charset,
		Salt:      meta.Salt,
		Version:   meta.Version,
		Algorithm: meta.Algorithm,
	}
	if err := params.checkAndSetDefaults(); err != nil {
		return false
	}
	expected, err := d.derive(ctx, params)
	if err != nil {
		d.logger.DebugContext(ctx, "Token verification failed to recompute", "sector", params.Sector, "error", err)
		return false
	}
	// Reject length mismatch before the constant-time comparison.
	if len(candidate) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}

func (d *Deriver) derive(ctx context.Context, params Params) (string, error) {
	secret, err := d.secrets.Get(ctx, params.Sector)
	if err != nil {
		return "", trace.Wrap(err)
	}
	input := "v" + params.Version + "|" + params.UIN + "|" + params.Sector + "|" + params.Salt

	var mac hash.Hash
	switch params.Algorithm {
	case AlgorithmSHA512:
		mac = hmac.New(sha512.New, secret)
	default:
		mac = hmac.New(sha256.New, secret)
	}
	mac.Write([]byte(input))
	derived := mac.Sum(nil)

	return encodeToAlphabet(derived, params.Charset, params.Length), nil
}

// encodeToAlphabet maps derived bytes onto the alphabet. When the pool of
// bytes runs out before the target length is reached it is extended by
// re-hashing with SHA-256.
func encodeToAlphabet(derived []byte, alphabet string, length int) string {
	pool := derived
	out := make([]byte, 0, length)
	for {
		for _, b := range pool {
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				return string(out)
			}
		}
		next := sha256.Sum256(pool)
		pool = next[:]
	}
}

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

// Package issuer is the service façade over the UIN subsystems: one method
// per user-visible operation, input validation and orchestration only. CLI
// and HTTP collaborators call it the same way.
package issuer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	uin "github.com/tunjidurodola/osia-uin-generator-sub000"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/entropy"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/lifecycle"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/secrets"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/sectoken"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/uinformat"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/uingen"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/uinpool"
)

// osiaInsertAttempts bounds retries when a freshly generated UIN collides
// with an existing pool row.
const osiaInsertAttempts = 3

// Config holds service configuration. Entropy, Generator and Pool are
// required; the rest defaults or stays optional.
type Config struct {
	// Entropy is the randomness source shared by all subsystems.
	Entropy *entropy.Manager
	// Generator materializes UINs.
	Generator *uingen.Generator
	// Deriver computes sector tokens. Optional; sector operations fail
	// without it.
	Deriver *sectoken.Deriver
	// Secrets serves sector secrets. Optional; only Reload is called
	// through the façade.
	Secrets secrets.Store
	// Pool persists UIN rows and audit entries.
	Pool uinpool.Store
	// Lifecycle runs the state machine; built from Pool when nil.
	Lifecycle *lifecycle.Engine
	// Clock supplies timestamps.
	Clock clockwork.Clock
	// Logger is used for non-sensitive diagnostics.
	Logger *slog.Logger

	// DefaultMode applies when Generate is called without a mode.
	DefaultMode uingen.Mode
	// DefaultLength applies when Generate is called without a length.
	DefaultLength int
	// DefaultCharset applies when Generate is called without a charset.
	DefaultCharset string
	// ChecksumAlgorithm applies when a checksum is enabled without an
	// algorithm.
	ChecksumAlgorithm uingen.Algorithm
	// SupportedSectors allowlists sector names for token derivation.
	// Empty allows all sectors.
	SupportedSectors []string
	// PreGenerateParallelism is the number of concurrent workers used
	// by PreGenerate.
	PreGenerateParallelism int
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Entropy == nil {
		return trace.BadParameter("entropy manager is required")
	}
	if cfg.Generator == nil {
		return trace.BadParameter("generator is required")
	}
	if cfg.Pool == nil {
		return trace.BadParameter("pool store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(uin.ComponentKey, uin.ComponentIssuer)
	}
	if cfg.Lifecycle == nil {
		engine, err := lifecycle.New(lifecycle.Config{
			Pool:  cfg.Pool,
			Clock: cfg.Clock,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		cfg.Lifecycle = engine
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = uingen.ModeFoundational
	}
	if cfg.DefaultLength == 0 {
		cfg.DefaultLength = defaults.UINLength
	}
	if cfg.DefaultCharset == "" {
		cfg.DefaultCharset = defaults.Charset
	}
	if cfg.ChecksumAlgorithm == "" {
		cfg.ChecksumAlgorithm = uingen.AlgorithmISO7064
	}
	if cfg.PreGenerateParallelism <= 0 {
		cfg.PreGenerateParallelism = defaults.PreGenerateParallelism
	}
	return nil
}

// Service is the issuing façade. All methods are safe for concurrent use.
type Service struct {
	entropy   *entropy.Manager
	generator *uingen.Generator
	deriver   *sectoken.Deriver
	secrets   secrets.Store
	pool      uinpool.Store
	lifecycle *lifecycle.Engine
	clock     clockwork.Clock
	logger    *slog.Logger

	defaultMode       uingen.Mode
	defaultLength     int
	defaultCharset    string
	checksumAlgorithm uingen.Algorithm
	sectors           map[string]bool
	parallelism       int
}

// New returns a Service for the given config.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	var sectors map[string]bool
	if len(cfg.SupportedSectors) > 0 {
		sectors = make(map[string]bool, len(cfg.SupportedSectors))
		for _, sector := range cfg.SupportedSectors {
			sectors[sectoken.NormalizeSector(sector)] = true
		}
	}
	return &Service{
		entropy:           cfg.Entropy,
		generator:         cfg.Generator,
		deriver:           cfg.Deriver,
		secrets:           cfg.Secrets,
		pool:              cfg.Pool,
		lifecycle:         cfg.Lifecycle,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		defaultMode:       cfg.DefaultMode,
		defaultLength:     cfg.DefaultLength,
		defaultCharset:    cfg.DefaultCharset,
		checksumAlgorithm: cfg.ChecksumAlgorithm,
		sectors:           sectors,
		parallelism:       cfg.PreGenerateParallelism,
	}, nil
}

// applyDefaults fills unset generation options from the service defaults.
func (s *Service) applyDefaults(opts uingen.Options) uingen.Options {
	if opts.Mode == "" {
		opts.Mode = s.defaultMode
	}
	switch opts.Mode {
	case uingen.ModeFoundational, uingen.ModeRandom:
		if opts.Length == 0 {
			opts.Length = s.defaultLength
		}
		if opts.Charset == "" {
			opts.Charset = s.defaultCharset
		}
	}
	if opts.Checksum.Enabled && opts.Checksum.Algorithm == "" {
		opts.Checksum.Algorithm = s.checksumAlgorithm
	}
	return opts
}

// Generate materializes one UIN without persisting anything.
func (s *Service) Generate(ctx context.Context, opts uingen.Options) (*uingen.Result, error) {
	opts = s.applyDefaults(opts)
	if opts.Mode == uingen.ModeSectorToken {
		if err := s.checkSector(opts.Sector); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	result, err := s.generator.Generate(ctx, opts)
	return result, trace.Wrap(err)
}

// Validate checks a previously generated UIN against a checksum
// configuration.
func (s *Service) Validate(value string, opts uingen.ChecksumOptions) (bool, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = s.checksumAlgorithm
	}
	ok, err := s.generator.Validate(value, opts)
	return ok, trace.Wrap(err)
}

// OSIAGenerate implements the OSIA generateUIN profile: a foundational
// 19-character UIN with an ISO 7064 check character over the unambiguous
// alphabet, persisted AVAILABLE with the caller's transaction id and
// attributes. Returns the UIN string only.
func (s *Service) OSIAGenerate(ctx context.Context, transactionID string, attributes map[string]string) (string, error) {
	if transactionID == "" {
		return "", trace.BadParameter("transaction id is required")
	}
	opts := uingen.Options{
		Mode:             uingen.ModeFoundational,
		Length:           defaults.OSIAUINLength,
		Charset:          uingen.CharsetAlphanumeric,
		ExcludeAmbiguous: true,
		Checksum: uingen.ChecksumOptions{
			Enabled:   true,
			Algorithm: uingen.AlgorithmISO7064,
		},
	}
	actor := lifecycle.Actor{System: "osia-api", Ref: transactionID}

	// A collision means the pool already holds this value; draw again.
	var err error
	for attempt := 0; attempt < osiaInsertAttempts; attempt++ {
		var result *uingen.Result
		result, err = s.generator.Generate(ctx, opts)
		if err != nil {
			return "", trace.Wrap(err)
		}
		err = s.lifecycle.Insert(ctx, s.toRecord(result, "foundational", transactionID, attributes), actor)
		if err == nil {
			return result.UIN, nil
		}
		if !trace.IsAlreadyExists(err) {
			return "", trace.Wrap(err)
		}
	}
	return "", trace.Wrap(err, "could not find an unused UIN in %d attempts", osiaInsertAttempts)
}

func (s *Service) toRecord(result *uingen.Result, scope, transactionID string, attributes map[string]string) uinpool.Record {
	rec := uinpool.Record{
		UIN:           result.UIN,
		Mode:          uinpool.Mode(result.Mode),
		Scope:         scope,
		HashRMD160:    result.HashRMD160,
		TransactionID: transactionID,
		Attributes:    attributes,
	}
	if result.Provenance != nil {
		rec.Meta = map[string]any{"entropy": result.Provenance}
	}
	return rec
}

// RowError reports the failure of one row of a batch operation.
type RowError struct {
	// Index is the zero-based row number within the batch.
	Index int
	// Err is what went wrong for that row.
	Err error
}

// PreGenerateResult summarizes a PreGenerate run.
type PreGenerateResult struct {
	// Requested is the count the caller asked for.
	Requested int
	// Generated is the number of rows that reached the pool.
	Generated int
	// UINs are the persisted identifiers.
	UINs []string
	// Errors collects per-row failures; the batch continues past them.
	Errors []RowError
}

// PreGenerate fills the pool with count rows generated per opts, running
// bounded parallel workers. Rows fail independently; a collision or
// per-row error is reported in the result, not fatal to the batch.
func (s *Service) PreGenerate(ctx context.Context, count int, scope string, opts uingen.Options) (*PreGenerateResult, error) {
	if count < 1 || count > defaults.PreGenerateMax {
		return nil, trace.BadParameter("pre-generate count must be between 1 and %d, got %d", defaults.PreGenerateMax, count)
	}
	opts = s.applyDefaults(opts)
	if err := opts.Validate(); err != nil {
		return nil, trace.Wrap(err)
	}
	if scope == "" {
		scope = "foundational"
	}
	actor := lifecycle.Actor{System: "pre-generator"}

	result := &PreGenerateResult{Requested: count}
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallelism)
	for i := 0; i < count; i++ {
		i := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return trace.Wrap(err)
			}
			generated, err := s.generator.Generate(groupCtx, opts)
			if err == nil {
				err = s.lifecycle.Insert(groupCtx, s.toRecord(generated, scope, "", nil), actor)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, RowError{Index: i, Err: err})
				return nil
			}
			result.Generated++
			result.UINs = append(result.UINs, generated.UIN)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(result.Errors) > 0 {
		s.logger.WarnContext(ctx, "Pre-generation completed with row failures",
			"requested", result.Requested, "generated", result.Generated, "failed", len(result.Errors))
	}
	return result, nil
}

// BatchResult summarizes a BatchGenerate run.
type BatchResult struct {
	// Requested is the count the caller asked for.
	Requested int
	// Results holds the successfully generated values.
	Results []*uingen.Result
	// Errors collects per-row failures.
	Errors []RowError
}

// BatchGenerate materializes up to count UINs in memory, persisting
// nothing. Rows fail independently.
func (s *Service) BatchGenerate(ctx context.Context, count int, opts uingen.Options) (*BatchResult, error) {
	if count < 1 || count > defaults.BatchGenerateMax {
		return nil, trace.BadParameter("batch count must be between 1 and %d, got %d", defaults.BatchGenerateMax, count)
	}
	opts = s.applyDefaults(opts)
	if err := opts.Validate(); err != nil {
		return nil, trace.Wrap(err)
	}
	result := &BatchResult{Requested: count}
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, trace.Wrap(err)
		}
		generated, err := s.generator.Generate(ctx, opts)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Index: i, Err: err})
			continue
		}
		result.Results = append(result.Results, generated)
	}
	return result, nil
}

// Claim reserves one AVAILABLE UIN for clientID. ok=false means the pool
// has no matching row, which is not an error.
func (s *Service) Claim(ctx context.Context, scope, clientID string, actor lifecycle.Actor) (*uinpool.Record, bool, error) {
	rec, ok, err := s.lifecycle.Claim(ctx, scope, clientID, actor)
	return rec, ok, trace.Wrap(err)
}

// Assign binds a claimed UIN to an external reference.
func (s *Service) Assign(ctx context.Context, uinValue, ref string, actor lifecycle.Actor) (*uinpool.Record, error) {
	rec, err := s.lifecycle.Assign(ctx, uinValue, ref, actor)
	return rec, trace.Wrap(err)
}

// Release returns a claimed UIN to the pool.
func (s *Service) Release(ctx context.Context, uinValue string, actor lifecycle.Actor) (*uinpool.Record, error) {
	rec, err := s.lifecycle.Release(ctx, uinValue, actor)
	return rec, trace.Wrap(err)
}

// Retire terminates a UIN.
func (s *Service) Retire(ctx context.Context, uinValue, reason string, actor lifecycle.Actor) (*uinpool.Record, error) {
	rec, err := s.lifecycle.Retire(ctx, uinValue, reason, actor)
	return rec, trace.Wrap(err)
}

// Revoke invalidates a UIN.
func (s *Service) Revoke(ctx context.Context, uinValue, reason string, actor lifecycle.Actor) (*uinpool.Record, error) {
	rec, err := s.lifecycle.Revoke(ctx, uinValue, reason, actor)
	return rec, trace.Wrap(err)
}

// CleanupStale releases abandoned claims older than threshold.
func (s *Service) CleanupStale(ctx context.Context, threshold time.Duration, actor lifecycle.Actor) ([]string, error) {
	released, err := s.lifecycle.CleanupStale(ctx, threshold, actor)
	return released, trace.Wrap(err)
}

// ExpireOverdue retires UINs whose validity window has closed.
func (s *Service) ExpireOverdue(ctx context.Context, actor lifecycle.Actor) ([]string, error) {
	retired, err := s.lifecycle.ExpireOverdue(ctx, actor)
	return retired, trace.Wrap(err)
}

// Lookup returns the pool row of a UIN.
func (s *Service) Lookup(ctx context.Context, uinValue string) (*uinpool.Record, error) {
	rec, err := s.lifecycle.Lookup(ctx, uinValue)
	return rec, trace.Wrap(err)
}

// Audit returns the audit trail of a UIN, oldest first.
func (s *Service) Audit(ctx context.Context, uinValue string) ([]uinpool.AuditEntry, error) {
	entries, err := s.lifecycle.Audit(ctx, uinValue)
	return entries, trace.Wrap(err)
}

// PoolStats returns pool row counts by status, optionally scoped.
func (s *Service) PoolStats(ctx context.Context, scope string) (map[uinpool.Status]int, error) {
	counts, err := s.lifecycle.Stats(ctx, scope)
	return counts, trace.Wrap(err)
}

func (s *Service) checkSector(sector string) error {
	if s.sectors == nil {
		return nil
	}
	if !s.sectors[sectoken.NormalizeSector(sector)] {
		return trace.BadParameter("sector %q is not in the supported sector list", sector)
	}
	return nil
}

func (s *Service) sectorDeriver() (*sectoken.Deriver, error) {
	if s.deriver == nil {
		return nil, trace.BadParameter("no sector token deriver configured")
	}
	return s.deriver, nil
}

// DeriveSectorToken derives an unlinkable per-sector token from a
// foundational UIN.
func (s *Service) DeriveSectorToken(ctx context.Context, params sectoken.Params) (*sectoken.Token, error) {
	deriver, err := s.sectorDeriver()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.checkSector(params.Sector); err != nil {
		return nil, trace.Wrap(err)
	}
	token, err := deriver.Derive(ctx, params)
	return token, trace.Wrap(err)
}

// DeriveDeterministicSectorToken derives a repeatable sector token whose
// salt is computed from the UIN and sector. Weaker than random-salt
// derivation; the token metadata says so.
func (s *Service) DeriveDeterministicSectorToken(ctx context.Context, params sectoken.Params) (*sectoken.Token, error) {
	deriver, err := s.sectorDeriver()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.checkSector(params.Sector); err != nil {
		return nil, trace.Wrap(err)
	}
	token, err := deriver.DeriveDeterministic(ctx, params)
	return token, trace.Wrap(err)
}

// VerifySectorToken recomputes a token from its metadata and compares in
// constant time. Internal failures report false.
func (s *Service) VerifySectorToken(ctx context.Context, candidate, foundationalUIN, sector string, meta sectoken.Metadata) bool {
	if s.deriver == nil {
		return false
	}
	return s.deriver.Verify(ctx, candidate, foundationalUIN, sector, meta)
}

// ReloadSecrets refreshes the sector secret map from its backend.
func (s *Service) ReloadSecrets(ctx context.Context) error {
	if s.secrets == nil {
		return trace.BadParameter("no secret store configured")
	}
	return trace.Wrap(s.secrets.Reload(ctx))
}

// FormatUIN renders a pooled UIN with the display format configured for
// its scope. A scope with no format returns the raw UIN unchanged.
func (s *Service) FormatUIN(ctx context.Context, uinValue string) (string, error) {
	rec, err := s.lifecycle.Lookup(ctx, uinValue)
	if err != nil {
		return "", trace.Wrap(err)
	}
	format, err := s.pool.ResolveFormat(ctx, rec.Scope)
	if err != nil {
		if trace.IsNotFound(err) {
			return rec.UIN, nil
		}
		return "", trace.Wrap(err)
	}
	rendered, err := uinformat.Format(rec.UIN, format.Spec)
	return rendered, trace.Wrap(err)
}

// EntropyStatus reports the active entropy provider for health endpoints.
func (s *Service) EntropyStatus() entropy.Status {
	return s.entropy.Status()
}

// Close releases the service's subsystem handles.
func (s *Service) Close() error {
	var errs []error
	if s.secrets != nil {
		errs = append(errs, s.secrets.Close())
	}
	errs = append(errs, s.pool.Close(), s.entropy.Close())
	return trace.NewAggregate(errs...)
}

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

// Package secrets reads sector secrets from either a remote secret manager
// or local configuration behind a uniform interface with a TTL cache.
package secrets

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	gocache "github.com/patrickmn/go-cache"

	uin "github.com/tunjidurodola/osia-uin-generator-sub000"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
)

// ErrSecretMissing is returned when no secret is configured for a sector.
// Callers distinguish it from transport failures with errors.Is.
var ErrSecretMissing = &trace.NotFoundError{Message: "sector secret not found"}

// Store serves sector secrets.
type Store interface {
	// GetSectorSecrets returns all configured sector secrets keyed by
	// normalized sector name.
	GetSectorSecrets(ctx context.Context) (map[string][]byte, error)

	// Get returns the secret of one sector. A sector with no secret
	// yields ErrSecretMissing.
	Get(ctx context.Context, name string) ([]byte, error)

	// Reload flushes the cache and re-fetches from the backend,
	// atomically swapping the secret map.
	Reload(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config holds secret store configuration.
type Config struct {
	// Address is the remote secret manager URL. Empty selects the local
	// backend.
	Address string
	// Token authenticates remote reads. Mutually exclusive with the
	// RoleID/SecretID pair.
	Token string
	// RoleID and SecretID perform a two-step role login that yields a
	// lease token.
	RoleID   string
	SecretID string
	// Namespace is passed to the remote manager on every request.
	Namespace string
	// MountPath is the KV path the sector secrets live under.
	MountPath string
	// Timeout bounds a single remote call.
	Timeout time.Duration
	// CacheTTL is how long fetched secrets stay cached.
	CacheTTL time.Duration
	// SectorSecrets populates the local backend and serves as the
	// fallback when the remote manager is unreachable. Values are used
	// as UTF-8 bytes unless prefixed with "base64:".
	SectorSecrets map[string]string
	// Logger is used for non-sensitive diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Address == "" && len(cfg.SectorSecrets) == 0 {
		return trace.BadParameter("either a secret manager address or local sector secrets must be configured")
	}
	if cfg.Address != "" && cfg.Token == "" && (cfg.RoleID == "" || cfg.SecretID == "") {
		return trace.BadParameter("remote secret manager requires a token or a role_id/secret_id pair")
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "uin"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.SecretManagerTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.SecretCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(uin.ComponentKey, uin.ComponentSecrets)
	}
	return nil
}

// fetcher is one secret backend. It returns the full secret map, already
// normalized and validated.
type fetcher interface {
	fetch(ctx context.Context) (map[string][]byte, error)
	close() error
}

// store fronts a fetcher with a TTL cache. The secret map is replaced
// wholesale on refresh, never mutated in place.
type store struct {
	backend fetcher
	cache   *gocache.Cache
	logger  *slog.Logger

	mu      sync.RWMutex
	secrets map[string][]byte
}

// cacheKey is the single cache entry holding the secret map. Secrets are
// fetched and expire as one unit so a reload cannot observe a half-updated
// map.
const cacheKey = "sector-secrets"

// NewStore builds the secret store selected by cfg: remote when an address
// is configured, local otherwise. A remote backend that fails its initial
// fetch degrades to the local backend with a warning; init fails only when
// neither backend is usable.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	newCache := func(backend fetcher) *store {
		return &store{
			backend: backend,
			cache:   gocache.New(cfg.CacheTTL, defaults.SecretCachePurgeInterval),
			logger:  cfg.Logger,
		}
	}

	if cfg.Address != "" {
		remote, err := newRemoteFetcher(ctx, cfg)
		if err == nil {
			s := newCache(remote)
			if err = s.Reload(ctx); err == nil {
				return s, nil
			}
			remote.close()
		}
		if len(cfg.SectorSecrets) == 0 {
			return nil, trace.Wrap(err, "secret manager at %v is unusable and no local sector secrets are configured", cfg.Address)
		}
		cfg.Logger.WarnContext(ctx, "Secret manager is unusable, falling back to local sector secrets",
			"address", cfg.Address, "error", err)
	}

	local, err := newLocalFetcher(cfg.SectorSecrets)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s := newCache(local)
	if err := s.Reload(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	return s, nil
}

func (s *store) GetSectorSecrets(ctx context.Context) (map[string][]byte, error) {
	secrets, err := s.current(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make(map[string][]byte, len(secrets))
	for name, secret := range secrets {
		out[name] = secret
	}
	return out, nil
}

func (s *store) Get(ctx context.Context, name string) ([]byte, error) {
	secrets, err := s.current(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	secret, ok := secrets[normalize(name)]
	if !ok {
		return nil, trace.Wrap(ErrSecretMissing, "sector %q", normalize(name))
	}
	return secret, nil
}

func (s *store) Reload(ctx context.Context) error {
	s.cache.Flush()
	_, err := s.current(ctx)
	return trace.Wrap(err)
}

func (s *store) Close() error {
	return trace.Wrap(s.backend.close())
}

// current returns the cached secret map, re-fetching from the backend when
// the cache entry has expired. On a fetch failure the previous map keeps
// serving reads so a flapping secret manager does not take derivation down.
func (s *store) current(ctx context.Context) (map[string][]byte, error) {
	if _, ok := s.cache.Get(cacheKey); ok {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.secrets, nil
	}

	secrets, err := s.backend.fetch(ctx)
	if err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.secrets != nil {
			s.logger.WarnContext(ctx, "Secret refresh failed, serving previous secrets", "error", err)
			return s.secrets, nil
		}
		return nil, trace.Wrap(err)
	}

	s.cache.SetDefault(cacheKey, struct{}{})
	s.mu.Lock()
	s.secrets = secrets
	s.mu.Unlock()
	return secrets, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// decodeSecret materializes a configured secret value. Values prefixed
// with "base64:" carry binary secrets; anything else is used as UTF-8
// bytes.
func decodeSecret(value string) ([]byte, error) {
	if encoded, ok := strings.CutPrefix(value, "base64:"); ok {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, trace.BadParameter("invalid base64 secret value: %v", err)
		}
		return decoded, nil
	}
	return []byte(value), nil
}

// validateSecrets normalizes sector names and enforces the minimum secret
// size on a freshly fetched map.
func validateSecrets(raw map[string]string) (map[string][]byte, error) {
	secrets := make(map[string][]byte, len(raw))
	for name, value := range raw {
		sector := normalize(name)
		if sector == "" {
			return nil, trace.BadParameter("sector secret with empty name")
		}
		secret, err := decodeSecret(value)
		if err != nil {
			return nil, trace.Wrap(err, "sector %q", sector)
		}
		if len(secret) < defaults.MinSectorSecretLength {
			return nil, trace.BadParameter("secret for sector %q is %d bytes, need at least %d",
				sector, len(secret), defaults.MinSectorSecretLength)
		}
		secrets[sector] = secret
	}
	return secrets, nil
}

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

// Package defaults contains default constants used across the UIN
// generation and lifecycle packages.
package defaults

import "time"

// UIN generation defaults.
const (
	// UINLength is the number of random characters generated when the
	// caller does not specify one.
	UINLength = 10

	// OSIAUINLength is the fixed base length (before the checksum
	// character) used by OSIA-profile generation.
	OSIAUINLength = 19

	// MinUINLength is the shortest accepted UIN base length.
	MinUINLength = 4

	// MaxUINLength is the longest UIN the pool schema stores.
	MaxUINLength = 32

	// Charset is the symbolic charset name used when the caller does
	// not specify one.
	Charset = "alphanumeric"

	// ChecksumModulus is the modulus applied by the modN checksum when
	// the caller does not specify one.
	ChecksumModulus = 10
)

// Sector token defaults.
const (
	// TokenVersion is the derivation scheme version embedded in the
	// HMAC input when the caller does not pin one.
	TokenVersion = "1"

	// TokenAlgorithm is the HMAC hash used when the caller does not
	// specify one.
	TokenAlgorithm = "sha256"

	// DeterministicSaltLength is the number of hex characters of
	// SHA-256(uin:sector) used as the salt for deterministic
	// derivation.
	DeterministicSaltLength = 16

	// MinSectorSecretLength is the minimum accepted sector secret
	// size in bytes.
	MinSectorSecretLength = 32
)

// Entropy defaults.
const (
	// MaxEntropyRequest is the largest number of random bytes served
	// by a single RandomBytes call.
	MaxEntropyRequest = 4096

	// HSMTimeout bounds a single hardware entropy call.
	HSMTimeout = 30 * time.Second
)

// Secret store defaults.
const (
	// SecretManagerTimeout bounds a single remote secret manager call.
	SecretManagerTimeout = 10 * time.Second

	// SecretCacheTTL is how long fetched sector secrets stay cached.
	SecretCacheTTL = 5 * time.Minute

	// SecretCachePurgeInterval is how often expired cache entries are
	// evicted.
	SecretCachePurgeInterval = time.Minute
)

// Pool store defaults.
const (
	// PoolMinConns is the minimum number of storage connections kept
	// open.
	PoolMinConns = 2

	// PoolMaxConns caps the storage connection pool.
	PoolMaxConns = 10

	// PoolAcquireTimeout bounds waiting for a free storage connection.
	PoolAcquireTimeout = 5 * time.Second

	// PoolIdleTimeout is how long an idle storage connection is kept.
	PoolIdleTimeout = 5 * time.Minute
)

// Lifecycle defaults.
const (
	// StaleClaimThreshold is the age after which a PREASSIGNED claim
	// is considered abandoned.
	StaleClaimThreshold = time.Hour

	// PreGenerateMax is the largest accepted pre-generation batch.
	PreGenerateMax = 100_000

	// BatchGenerateMax is the largest accepted in-memory batch.
	BatchGenerateMax = 1_000

	// PreGenerateParallelism is the number of concurrent workers used
	// to fill the pool during pre-generation.
	PreGenerateParallelism = 4
)

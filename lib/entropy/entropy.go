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

// Package entropy produces cryptographically secure random bytes with a
// recorded provenance, preferring hardware TRNGs reached over PKCS#11 and
// falling back to the software CSPRNG when no device is usable.
package entropy

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"

	uin "github.com/tunjidurodola/osia-uin-generator-sub000"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
)

// Provider names accepted by Config.Provider, in builtin probe order.
const (
	// ProviderAuto walks the builtin provider list and selects the first
	// device that initializes and reports a hardware RNG.
	ProviderAuto = "auto"

	ProviderUtimaco     = "utimaco"
	ProviderThales      = "thales"
	ProviderSafeNet     = "safenet"
	ProviderNCipher     = "ncipher"
	ProviderAWSCloudHSM = "aws-cloudhsm"
	ProviderAzureHSM    = "azure-hsm"
	ProviderYubiHSM     = "yubihsm"
	ProviderSoftHSM     = "softhsm"

	// ProviderSoftware is the terminal software CSPRNG, always available.
	ProviderSoftware = "software-csprng"
)

// Status describes a provider's identity and readiness.
type Status struct {
	// Name is the provider name, one of the Provider* constants.
	Name string
	// Hardware is true when randomness comes from a physical TRNG.
	Hardware bool
	// FIPSLevel is the FIPS 140-2 level of the device, 0 when not
	// validated or not hardware.
	FIPSLevel int
	// Ready is true once the provider initialized successfully.
	Ready bool
}

// Provenance records where the randomness behind a generated value came
// from. It is persisted alongside the value it seeded.
type Provenance struct {
	// Source is "trng" for hardware randomness and "csprng" for software.
	Source string `json:"source"`
	// Hardware mirrors Status.Hardware at generation time.
	Hardware bool `json:"hardware"`
	// FIPSLevel mirrors Status.FIPSLevel at generation time.
	FIPSLevel int `json:"fips_level"`
	// Provider is the name of the provider that served the bytes.
	Provider string `json:"provider"`
}

func provenanceFor(st Status) *Provenance {
	source := "csprng"
	if st.Hardware {
		source = "trng"
	}
	return &Provenance{
		Source:    source,
		Hardware:  st.Hardware,
		FIPSLevel: st.FIPSLevel,
		Provider:  st.Name,
	}
}

// Provider serves random bytes from a single entropy source.
type Provider interface {
	// Initialize makes the provider ready for RandomBytes calls. An
	// error means the underlying device or library is not usable.
	Initialize(ctx context.Context) error

	// RandomBytes returns exactly n random bytes.
	RandomBytes(ctx context.Context, n int) ([]byte, error)

	// Status reports the provider's identity and readiness.
	Status() Status

	// Close releases the underlying device session, if any.
	Close() error
}

// Config holds entropy manager configuration.
type Config struct {
	// Enabled turns hardware entropy on. When false only the software
	// CSPRNG is used.
	Enabled bool
	// Provider pins a specific provider name, or ProviderAuto to probe
	// the builtin list in priority order.
	Provider string
	// ModulePath overrides the PKCS#11 module path of the selected
	// provider.
	ModulePath string
	// SlotNumber optionally pins the PKCS#11 slot to use.
	SlotNumber *int
	// TokenLabel optionally selects the PKCS#11 token by label.
	TokenLabel string
	// Pin is the PKCS#11 pin for the selected token.
	Pin string
	// Timeout bounds a single hardware entropy call.
	Timeout time.Duration
	// Logger is the logger used by the manager and its providers.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Provider == "" {
		cfg.Provider = ProviderAuto
	}
	switch cfg.Provider {
	case ProviderAuto, ProviderSoftware:
	default:
		if _, ok := familyByName(cfg.Provider); !ok {
			return trace.BadParameter("unknown entropy provider %q", cfg.Provider)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.HSMTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(uin.ComponentKey, uin.ComponentEntropy)
	}
	return nil
}

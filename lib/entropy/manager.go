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

package entropy

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/utils"
)

var (
	hardwareBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entropy_hardware_bytes_total",
			Help: "Number of random bytes served by the hardware provider",
		},
	)
	softwareBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entropy_software_bytes_total",
			Help: "Number of random bytes served by the software CSPRNG",
		},
	)
	hardwareFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entropy_hardware_failures_total",
			Help: "Number of failed hardware entropy calls",
		},
	)
	entropyFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entropy_fallbacks_total",
			Help: "Number of calls transparently served by the software CSPRNG after a hardware failure",
		},
	)
)

// Manager selects an entropy provider at startup and serves random bytes
// from it, transparently falling back to the software CSPRNG for any call
// the hardware provider fails. Generation never aborts solely because
// hardware entropy failed.
type Manager struct {
	// active is the provider serving reads, the software provider when
	// no hardware qualified.
	active Provider
	// software is the terminal fallback, always usable.
	software Provider

	timeout time.Duration
	logger  *slog.Logger
}

// NewManager probes for a usable provider per cfg and returns a manager
// ready for RandomBytes calls.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(
		hardwareBytes, softwareBytes, hardwareFailures, entropyFallbacks,
	); err != nil {
		return nil, trace.Wrap(err)
	}

	software := newSoftwareProvider()
	m := &Manager{
		active:   software,
		software: software,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
	if !cfg.Enabled || cfg.Provider == ProviderSoftware {
		return m, nil
	}

	if cfg.Provider == ProviderAuto {
		for _, family := range hsmFamilies {
			provider, err := newPKCS11Provider(family, cfg)
			if err == nil {
				err = provider.Initialize(ctx)
			}
			if err != nil {
				// Probe failures are expected for devices that are
				// not installed on this host.
				cfg.Logger.DebugContext(ctx, "Skipping entropy provider",
					"provider", family.name, "error", err)
				continue
			}
			m.active = provider
			return m, nil
		}
		cfg.Logger.InfoContext(ctx, "No hardware entropy provider available, using software CSPRNG")
		return m, nil
	}

	family, ok := familyByName(cfg.Provider)
	if !ok {
		return nil, trace.BadParameter("unknown entropy provider %q", cfg.Provider)
	}
	provider, err := newPKCS11Provider(family, cfg)
	if err == nil {
		err = provider.Initialize(ctx)
	}
	if err != nil {
		cfg.Logger.WarnContext(ctx, "Configured entropy provider failed to initialize, using software CSPRNG",
			"provider", cfg.Provider, "error", err)
		return m, nil
	}
	m.active = provider
	return m, nil
}

// RandomBytes returns exactly n random bytes together with the provenance
// of the provider that served them.
func (m *Manager) RandomBytes(ctx context.Context, n int) ([]byte, *Provenance, error) {
	if n <= 0 || n > defaults.MaxEntropyRequest {
		return nil, nil, trace.BadParameter("entropy request must be between 1 and %d bytes, got %d", defaults.MaxEntropyRequest, n)
	}
	if m.active != m.software {
		hwCtx, cancel := context.WithTimeout(ctx, m.timeout)
		buf, err := m.active.RandomBytes(hwCtx, n)
		cancel()
		if err == nil {
			hardwareBytes.Add(float64(n))
			return buf, provenanceFor(m.active.Status()), nil
		}
		hardwareFailures.Inc()
		entropyFallbacks.Inc()
		m.logger.WarnContext(ctx, "Hardware entropy call failed, falling back to software CSPRNG",
			"provider", m.active.Status().Name, "error", err)
	}
	buf, err := m.software.RandomBytes(ctx, n)
	if err != nil {
		// Software CSPRNG failure is not recoverable.
		return nil, nil, trace.Wrap(err, "software CSPRNG failure")
	}
	softwareBytes.Add(float64(n))
	return buf, provenanceFor(m.software.Status()), nil
}

// Status reports the identity and readiness of the active provider.
func (m *Manager) Status() Status {
	return m.active.Status()
}

// Close releases the active provider's device session.
func (m *Manager) Close() error {
	var errs []error
	if m.active != m.software {
		errs = append(errs, m.active.Close())
	}
	errs = append(errs, m.software.Close())
	return trace.NewAggregate(errs...)
}

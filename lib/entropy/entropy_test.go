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
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestSoftwareProvider(t *testing.T) {
	ctx := context.Background()
	provider := newSoftwareProvider()
	require.NoError(t, provider.Initialize(ctx))

	first, err := provider.RandomBytes(ctx, 64)
	require.NoError(t, err)
	require.Len(t, first, 64)

	second, err := provider.RandomBytes(ctx, 64)
	require.NoError(t, err)
	require.False(t, bytes.Equal(first, second))

	st := provider.Status()
	require.Equal(t, ProviderSoftware, st.Name)
	require.False(t, st.Hardware)
	require.Equal(t, 0, st.FIPSLevel)
	require.True(t, st.Ready)
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	tests := []struct {
		desc      string
		cfg       Config
		assertErr require.ErrorAssertionFunc
	}{
		{
			desc:      "empty config defaults to auto",
			cfg:       Config{},
			assertErr: require.NoError,
		},
		{
			desc:      "known provider accepted",
			cfg:       Config{Provider: ProviderYubiHSM},
			assertErr: require.NoError,
		},
		{
			desc: "unknown provider rejected",
			cfg:  Config{Provider: "acme-hsm"},
			assertErr: func(t require.TestingT, err error, _ ...any) {
				require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.cfg.CheckAndSetDefaults()
			tc.assertErr(t, err)
			if err != nil {
				return
			}
			require.NotEmpty(t, tc.cfg.Provider)
			require.Greater(t, tc.cfg.Timeout, time.Duration(0))
			require.NotNil(t, tc.cfg.Logger)
		})
	}
}

func TestManagerSoftwareOnly(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, Config{Enabled: false})
	require.NoError(t, err)
	defer m.Close()

	buf, prov, err := m.RandomBytes(ctx, 32)
	require.NoError(t, err)
	require.Len(t, buf, 32)
	require.Equal(t, ProviderSoftware, prov.Provider)
	require.Equal(t, "csprng", prov.Source)
	require.False(t, prov.Hardware)
	require.Equal(t, 0, prov.FIPSLevel)
}

func TestManagerRequestBounds(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, Config{})
	require.NoError(t, err)
	defer m.Close()

	for _, n := range []int{0, -1, 4097} {
		_, _, err := m.RandomBytes(ctx, n)
		require.True(t, trace.IsBadParameter(err), "n=%d expected BadParameter, got %v", n, err)
	}
	for _, n := range []int{1, 4096} {
		buf, _, err := m.RandomBytes(ctx, n)
		require.NoError(t, err)
		require.Len(t, buf, n)
	}
}

// flakyProvider fails its first `failures` calls and then succeeds,
// standing in for a hardware device that drops sessions.
type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Initialize(context.Context) error {
	return nil
}

func (p *flakyProvider) RandomBytes(_ context.Context, n int) ([]byte, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, trace.ConnectionProblem(nil, "device session lost")
	}
	return make([]byte, n), nil
}

func (p *flakyProvider) Status() Status {
	return Status{Name: ProviderYubiHSM, Hardware: true, FIPSLevel: 2, Ready: true}
}

func (p *flakyProvider) Close() error {
	return nil
}

func TestManagerHardwareFallback(t *testing.T) {
	ctx := context.Background()
	m := &Manager{
		active:   &flakyProvider{failures: 1},
		software: newSoftwareProvider(),
		timeout:  time.Second,
		logger:   slog.Default(),
	}

	// First call hits the failure and is served by the software CSPRNG.
	buf, prov, err := m.RandomBytes(ctx, 16)
	require.NoError(t, err)
	require.Len(t, buf, 16)
	require.Equal(t, ProviderSoftware, prov.Provider)
	require.False(t, prov.Hardware)

	// The device recovered, the next call is served by hardware again.
	buf, prov, err = m.RandomBytes(ctx, 16)
	require.NoError(t, err)
	require.Len(t, buf, 16)
	require.Equal(t, ProviderYubiHSM, prov.Provider)
	require.True(t, prov.Hardware)
	require.Equal(t, "trng", prov.Source)
	require.Equal(t, 2, prov.FIPSLevel)
}

func TestManagerPinnedProviderUnavailable(t *testing.T) {
	ctx := context.Background()
	// No Utimaco module is installed on test hosts, the manager must
	// degrade to the software CSPRNG instead of failing.
	m, err := NewManager(ctx, Config{
		Enabled:    true,
		Provider:   ProviderUtimaco,
		ModulePath: "/nonexistent/libcs_pkcs11_R3.so",
	})
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, ProviderSoftware, m.Status().Name)
}

func TestPKCS11Provider(t *testing.T) {
	modulePath := os.Getenv("UIN_TEST_PKCS11_MODULE")
	if modulePath == "" {
		t.Skip("UIN_TEST_PKCS11_MODULE not set, skipping PKCS#11 entropy test")
	}
	ctx := context.Background()
	cfg := Config{
		Enabled:    true,
		Provider:   ProviderSoftHSM,
		ModulePath: modulePath,
		TokenLabel: os.Getenv("UIN_TEST_PKCS11_TOKEN_LABEL"),
		Pin:        os.Getenv("UIN_TEST_PKCS11_PIN"),
	}
	require.NoError(t, cfg.CheckAndSetDefaults())

	family, ok := familyByName(ProviderSoftHSM)
	require.True(t, ok)
	provider, err := newPKCS11Provider(family, cfg)
	require.NoError(t, err)
	require.NoError(t, provider.Initialize(ctx))
	defer provider.Close()

	buf, err := provider.RandomBytes(ctx, 64)
	require.NoError(t, err)
	require.Len(t, buf, 64)
}

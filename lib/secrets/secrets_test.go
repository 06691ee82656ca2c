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

package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	raw := []byte(strings.Repeat("\x01", 32))
	s, err := NewStore(ctx, Config{SectorSecrets: map[string]string{
		"  Health ": strings.Repeat("h", 32),
		"tax":       "base64:" + base64.StdEncoding.EncodeToString(raw),
	}})
	require.NoError(t, err)
	defer s.Close()

	// Lookup is insensitive to case and surrounding whitespace.
	secret, err := s.Get(ctx, "HEALTH")
	require.NoError(t, err)
	require.Equal(t, []byte(strings.Repeat("h", 32)), secret)

	secret, err = s.Get(ctx, "tax")
	require.NoError(t, err)
	require.Equal(t, raw, secret)

	_, err = s.Get(ctx, "pensions")
	require.ErrorIs(t, err, ErrSecretMissing)

	all, err := s.GetSectorSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "health")

	require.NoError(t, s.Reload(ctx))
}

func TestLocalStoreRejectsShortSecret(t *testing.T) {
	_, err := NewStore(context.Background(), Config{SectorSecrets: map[string]string{
		"health": "too-short",
	}})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewStore(context.Background(), Config{})
	require.True(t, trace.IsBadParameter(err))

	// Remote address without any credentials is a misconfiguration.
	_, err = NewStore(context.Background(), Config{Address: "https://secrets.example.com"})
	require.True(t, trace.IsBadParameter(err))
}

// fakeSecretManager implements just enough of a KV v2 secret manager for
// the remote fetcher: approle login plus a single data read.
type fakeSecretManager struct {
	token   string
	secrets map[string]string
	reads   int
}

func (f *fakeSecretManager) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/approle/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["role_id"] != "issuer" || req["secret_id"] != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"auth": map[string]any{"client_token": f.token},
		})
	})
	mux.HandleFunc("/v1/uin/data/sector-secrets", func(w http.ResponseWriter, r *http.Request) {
		f.reads++
		if r.Header.Get("X-Vault-Token") != f.token {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": f.secrets},
		})
	})
	return mux
}

func TestRemoteStoreTokenAuth(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSecretManager{
		token:   "static-token",
		secrets: map[string]string{"health": strings.Repeat("h", 32)},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, err := NewStore(ctx, Config{Address: srv.URL, Token: "static-token"})
	require.NoError(t, err)
	defer s.Close()

	secret, err := s.Get(ctx, "health")
	require.NoError(t, err)
	require.Equal(t, []byte(strings.Repeat("h", 32)), secret)

	// Secrets are cached; repeated reads do not hit the backend.
	before := fake.reads
	_, err = s.Get(ctx, "health")
	require.NoError(t, err)
	require.Equal(t, before, fake.reads)

	// Reload flushes the cache.
	require.NoError(t, s.Reload(ctx))
	require.Greater(t, fake.reads, before)
}

func TestRemoteStoreRoleLogin(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSecretManager{
		token:   "leased-token",
		secrets: map[string]string{"tax": strings.Repeat("t", 32)},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s, err := NewStore(ctx, Config{Address: srv.URL, RoleID: "issuer", SecretID: "s3cret"})
	require.NoError(t, err)
	defer s.Close()

	secret, err := s.Get(ctx, "tax")
	require.NoError(t, err)
	require.Equal(t, []byte(strings.Repeat("t", 32)), secret)
}

func TestRemoteStoreFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := NewStore(ctx, Config{
		Address:       srv.URL,
		Token:         "rejected",
		SectorSecrets: map[string]string{"health": strings.Repeat("h", 32)},
	})
	require.NoError(t, err)
	defer s.Close()

	secret, err := s.Get(ctx, "health")
	require.NoError(t, err)
	require.Len(t, secret, 32)
}

func TestRemoteStoreNoFallbackFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewStore(context.Background(), Config{Address: srv.URL, Token: "rejected"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrSecretMissing))
}

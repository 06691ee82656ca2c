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
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
)

// kvKey is the KV entry under the configured mount that holds the sector
// secret map.
const kvKey = "sector-secrets"

// remoteFetcher reads sector secrets from a Vault-style KV secret manager.
// Authentication is either a static token or a two-step role login that
// yields a lease token.
type remoteFetcher struct {
	clt       *roundtrip.Client
	mountPath string
	roleID    string
	secretID  string

	mu    sync.Mutex
	token string
}

// tokenTransport injects the auth token and namespace headers into every
// request. The token is read through the fetcher so a re-login is picked
// up by in-flight clients.
type tokenTransport struct {
	base      http.RoundTripper
	namespace string
	fetcher   *remoteFetcher
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.fetcher.mu.Lock()
	token := t.fetcher.token
	t.fetcher.mu.Unlock()
	if token != "" {
		req.Header.Set("X-Vault-Token", token)
	}
	if t.namespace != "" {
		req.Header.Set("X-Vault-Namespace", t.namespace)
	}
	return t.base.RoundTrip(req)
}

func newRemoteFetcher(ctx context.Context, cfg Config) (*remoteFetcher, error) {
	f := &remoteFetcher{
		mountPath: cfg.MountPath,
		roleID:    cfg.RoleID,
		secretID:  cfg.SecretID,
		token:     cfg.Token,
	}
	hc := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &tokenTransport{
			base:      http.DefaultTransport,
			namespace: cfg.Namespace,
			fetcher:   f,
		},
	}
	clt, err := roundtrip.NewClient(cfg.Address, "v1", roundtrip.HTTPClient(hc))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	f.clt = clt

	if f.token == "" {
		if err := f.login(ctx); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return f, nil
}

// login exchanges the role_id/secret_id pair for a lease token.
func (f *remoteFetcher) login(ctx context.Context) error {
	re, err := f.clt.PostJSON(ctx, f.clt.Endpoint("auth", "approle", "login"), map[string]string{
		"role_id":   f.roleID,
		"secret_id": f.secretID,
	})
	if err != nil {
		return trace.ConnectionProblem(err, "secret manager role login failed")
	}
	if re.Code() != http.StatusOK {
		return trace.AccessDenied("secret manager role login returned status %d", re.Code())
	}
	var out struct {
		Auth struct {
			ClientToken string `json:"client_token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(re.Bytes(), &out); err != nil {
		return trace.Wrap(err)
	}
	if out.Auth.ClientToken == "" {
		return trace.AccessDenied("secret manager role login returned no token")
	}
	f.mu.Lock()
	f.token = out.Auth.ClientToken
	f.mu.Unlock()
	return nil
}

func (f *remoteFetcher) fetch(ctx context.Context) (map[string][]byte, error) {
	raw, err := f.read(ctx)
	if err != nil {
		// A lease token may have expired; one re-login covers it.
		if !trace.IsAccessDenied(err) || f.roleID == "" {
			return nil, trace.Wrap(err)
		}
		if err := f.login(ctx); err != nil {
			return nil, trace.Wrap(err)
		}
		if raw, err = f.read(ctx); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	secrets, err := validateSecrets(raw)
	return secrets, trace.Wrap(err)
}

func (f *remoteFetcher) read(ctx context.Context) (map[string]string, error) {
	re, err := f.clt.Get(ctx, f.clt.Endpoint(f.mountPath, "data", kvKey), url.Values{})
	if err != nil {
		return nil, trace.ConnectionProblem(err, "secret manager read failed")
	}
	switch re.Code() {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, trace.AccessDenied("secret manager rejected the auth token")
	case http.StatusNotFound:
		return nil, trace.NotFound("no %q entry under mount %q", kvKey, f.mountPath)
	default:
		return nil, trace.ConnectionProblem(nil, "secret manager returned status %d", re.Code())
	}
	// KV v2 read envelope.
	var out struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(re.Bytes(), &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out.Data.Data, nil
}

func (f *remoteFetcher) close() error {
	f.clt.HTTPClient().CloseIdleConnections()
	return nil
}

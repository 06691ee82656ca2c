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

	"github.com/gravitational/trace"
)

// localFetcher serves secrets from explicit configuration. The map is
// validated once at construction; fetch re-uses the validated copy.
type localFetcher struct {
	secrets map[string][]byte
}

func newLocalFetcher(raw map[string]string) (*localFetcher, error) {
	secrets, err := validateSecrets(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &localFetcher{secrets: secrets}, nil
}

func (f *localFetcher) fetch(ctx context.Context) (map[string][]byte, error) {
	return f.secrets, nil
}

func (f *localFetcher) close() error { return nil }

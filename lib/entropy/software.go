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
	"crypto/rand"

	"github.com/gravitational/trace"
)

// softwareProvider is the terminal provider backed by the operating
// system CSPRNG. It needs no initialization and never falls back.
type softwareProvider struct{}

func newSoftwareProvider() *softwareProvider {
	return &softwareProvider{}
}

func (*softwareProvider) Initialize(context.Context) error {
	return nil
}

func (*softwareProvider) RandomBytes(_ context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf, nil
}

func (*softwareProvider) Status() Status {
	return Status{
		Name:  ProviderSoftware,
		Ready: true,
	}
}

func (*softwareProvider) Close() error {
	return nil
}

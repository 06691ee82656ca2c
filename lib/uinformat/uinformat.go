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

// Package uinformat renders raw UINs into display form. Formatting is a
// pure function over a stored specification and never changes the
// underlying identifier.
package uinformat

import (
	"strings"

	"github.com/gravitational/trace"
)

// Spec describes one display format.
type Spec struct {
	// GroupSize splits the UIN into groups of this many characters,
	// left to right. Zero disables grouping.
	GroupSize int `json:"group_size"`
	// Separator is inserted between groups, "-" when empty and
	// grouping is enabled.
	Separator string `json:"separator"`
	// Prefix is prepended to the rendered value.
	Prefix string `json:"prefix"`
	// Suffix is appended to the rendered value.
	Suffix string `json:"suffix"`
}

// CheckAndSetDefaults validates the spec and fills in defaults.
func (s *Spec) CheckAndSetDefaults() error {
	if s.GroupSize < 0 {
		return trace.BadParameter("group size must not be negative, got %d", s.GroupSize)
	}
	if s.GroupSize > 0 && s.Separator == "" {
		s.Separator = "-"
	}
	return nil
}

// Format renders raw according to spec.
func Format(raw string, spec Spec) (string, error) {
	if raw == "" {
		return "", trace.BadParameter("cannot format an empty UIN")
	}
	if err := spec.CheckAndSetDefaults(); err != nil {
		return "", trace.Wrap(err)
	}

	var b strings.Builder
	b.WriteString(spec.Prefix)
	if spec.GroupSize == 0 {
		b.WriteString(raw)
	} else {
		for i := 0; i < len(raw); i += spec.GroupSize {
			if i > 0 {
				b.WriteString(spec.Separator)
			}
			end := i + spec.GroupSize
			if end > len(raw) {
				end = len(raw)
			}
			b.WriteString(raw[i:end])
		}
	}
	b.WriteString(spec.Suffix)
	return b.String(), nil
}

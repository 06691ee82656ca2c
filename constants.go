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

package uin

const (
	// ComponentKey is the log field that identifies the subsystem a log
	// line originates from.
	ComponentKey = "component"

	// ComponentEntropy is the entropy provider manager.
	ComponentEntropy = "entropy"

	// ComponentGenerator is the UIN generator.
	ComponentGenerator = "uingen"

	// ComponentSectorToken is the sector token deriver.
	ComponentSectorToken = "sectoken"

	// ComponentPool is the UIN pool store.
	ComponentPool = "uinpool"

	// ComponentLifecycle is the UIN lifecycle engine.
	ComponentLifecycle = "lifecycle"

	// ComponentSecrets is the sector secret store.
	ComponentSecrets = "secrets"

	// ComponentIssuer is the issuing service façade.
	ComponentIssuer = "issuer"

	// DebugOutputEnvVar tells tests to use verbose debug output.
	DebugOutputEnvVar = "UIN_DEBUG_TESTS"
)

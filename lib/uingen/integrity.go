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

package uingen

import (
	"encoding/hex"

	//nolint:staticcheck // the pool integrity format is fixed to RIPEMD-160
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// IntegrityHash computes the integrity fingerprint persisted with every
// pooled UIN: RIPEMD-160 over SHA3-256 over the UTF-8 bytes of uin||salt,
// hex encoded to 40 characters.
func IntegrityHash(uin, salt string) string {
	inner := sha3.Sum256([]byte(uin + salt))
	outer := ripemd160.New()
	outer.Write(inner[:])
	return hex.EncodeToString(outer.Sum(nil))
}

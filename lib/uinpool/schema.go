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

package uinpool

import "fmt"

// schemaVersion defines the current schema version.
// Increment this value when adding a new migration.
const schemaVersion = 1

// getMigration returns migration SQL for a schema version.
func getMigration(version int) string {
	switch version {
	case 1:
		return migrateV1
		// case 2:
		//   return migrateV2
	}
	panic(fmt.Sprintf("migration version not implemented: %v", version))
}

// migrateV1 is the baseline schema: the pool itself, the append-only audit
// trail, and the display format tables.
const migrateV1 = `
	CREATE TABLE uin_pool (
		uin VARCHAR(32) NOT NULL,
		mode TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL,
		not_before TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		last_transition_at TIMESTAMPTZ NOT NULL,
		hash_rmd160 CHAR(40) NOT NULL,
		claimed_by TEXT NOT NULL DEFAULT '',
		claimed_at TIMESTAMPTZ,
		assigned_to_ref TEXT NOT NULL DEFAULT '',
		assigned_at TIMESTAMPTZ,
		transaction_id TEXT NOT NULL DEFAULT '',
		attributes JSONB NOT NULL DEFAULT '{}',
		meta JSONB NOT NULL DEFAULT '{}',
		CONSTRAINT uin_pool_pk PRIMARY KEY (uin)
	);
	CREATE INDEX uin_pool_status ON uin_pool (status);
	CREATE INDEX uin_pool_scope_status ON uin_pool (scope, status);
	CREATE INDEX uin_pool_claimed_by_status ON uin_pool (claimed_by, status);
	CREATE INDEX uin_pool_expires_at ON uin_pool (expires_at);
	CREATE INDEX uin_pool_hash_rmd160 ON uin_pool (hash_rmd160);
	CREATE INDEX uin_pool_transaction_id ON uin_pool (transaction_id);

	CREATE TABLE uin_audit (
		id BIGINT GENERATED ALWAYS AS IDENTITY,
		uin VARCHAR(32) NOT NULL REFERENCES uin_pool (uin),
		event_type TEXT NOT NULL,
		old_status TEXT,
		new_status TEXT,
		actor_system TEXT NOT NULL DEFAULT '',
		actor_ref TEXT NOT NULL DEFAULT '',
		details JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uin_audit_pk PRIMARY KEY (id)
	);
	CREATE INDEX uin_audit_uin ON uin_audit (uin);
	CREATE INDEX uin_audit_event_type ON uin_audit (event_type);
	CREATE INDEX uin_audit_created_at ON uin_audit (created_at);
	CREATE INDEX uin_audit_actor_system ON uin_audit (actor_system);

	CREATE TABLE uin_formats (
		name TEXT NOT NULL,
		group_size INTEGER NOT NULL DEFAULT 0,
		separator TEXT NOT NULL DEFAULT '',
		prefix TEXT NOT NULL DEFAULT '',
		suffix TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		CONSTRAINT uin_formats_pk PRIMARY KEY (name)
	);

	CREATE TABLE uin_format_overrides (
		scope TEXT NOT NULL,
		format_name TEXT NOT NULL REFERENCES uin_formats (name),
		CONSTRAINT uin_format_overrides_pk PRIMARY KEY (scope)
	);
`

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

// Package uinpool persists the UIN pool and its append-only audit trail.
// Claiming uses row-level locking with skip-locked semantics so concurrent
// workers hand out distinct rows without waiting on each other, and every
// state change commits together with its audit entry in one transaction.
package uinpool

import (
	"context"
	"time"

	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/uinformat"
)

// Mode is the strategy a pooled UIN was generated with.
type Mode string

const (
	ModeFoundational Mode = "foundational"
	ModeRandom       Mode = "random"
	ModeStructured   Mode = "structured"
	ModeSectorToken  Mode = "sector_token"
)

// Status is the lifecycle state of a pooled UIN. The literal uppercase
// strings are part of the storage contract.
type Status string

const (
	// StatusAvailable means the UIN sits in the pool unclaimed.
	StatusAvailable Status = "AVAILABLE"
	// StatusPreassigned means the UIN is reserved by a client but not
	// yet bound to a person or record.
	StatusPreassigned Status = "PREASSIGNED"
	// StatusAssigned means the UIN is bound to an external reference.
	StatusAssigned Status = "ASSIGNED"
	// StatusRetired is terminal; the UIN was taken out of service.
	StatusRetired Status = "RETIRED"
	// StatusRevoked is terminal; the UIN was invalidated.
	StatusRevoked Status = "REVOKED"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusRetired || s == StatusRevoked
}

// EventType labels an audit entry.
type EventType string

const (
	EventGenerated     EventType = "GENERATED"
	EventPreassigned   EventType = "PREASSIGNED"
	EventAssigned      EventType = "ASSIGNED"
	EventReleased      EventType = "RELEASED"
	EventRetired       EventType = "RETIRED"
	EventRevoked       EventType = "REVOKED"
	EventStatusChanged EventType = "STATUS_CHANGED"
)

// Record is one row of the uin_pool table.
type Record struct {
	// UIN is the identifier itself, the primary key.
	UIN string
	// Mode is the generation strategy that produced the UIN.
	Mode Mode
	// Scope partitions the pool, typically a sector name or
	// "foundational".
	Scope string
	// Status is the lifecycle state.
	Status Status
	// IssuedAt is when the row was created.
	IssuedAt time.Time
	// NotBefore and ExpiresAt bound the optional validity window.
	NotBefore *time.Time
	ExpiresAt *time.Time
	// LastTransitionAt is when Status last changed.
	LastTransitionAt time.Time
	// HashRMD160 is the integrity digest fixed at row creation.
	HashRMD160 string
	// ClaimedBy and ClaimedAt identify the pending reservation; set
	// while PREASSIGNED, cleared on release.
	ClaimedBy string
	ClaimedAt *time.Time
	// AssignedToRef and AssignedAt record the external binding made
	// when entering ASSIGNED; preserved afterward.
	AssignedToRef string
	AssignedAt    *time.Time
	// TransactionID is an opaque external correlation id.
	TransactionID string
	// Attributes are caller-supplied key/value pairs.
	Attributes map[string]string
	// Meta carries internal metadata such as the entropy provenance.
	Meta map[string]any
}

// AuditEntry is one row of the append-only uin_audit table.
type AuditEntry struct {
	// ID is assigned by the store, monotonic per store.
	ID int64
	// UIN references the affected pool row.
	UIN string
	// EventType labels the transition.
	EventType EventType
	// OldStatus and NewStatus record the transition; either may be
	// empty.
	OldStatus Status
	NewStatus Status
	// ActorSystem and ActorRef identify the caller.
	ActorSystem string
	ActorRef    string
	// Details carries event-specific context.
	Details map[string]any
	// CreatedAt is when the entry was written.
	CreatedAt time.Time
}

// StatusChange describes the field updates accompanying a status
// transition. Claim and assignment fields are only touched when the
// matching Set/Clear flag is raised.
type StatusChange struct {
	// To is the new status.
	To Status
	// At becomes the row's last transition time.
	At time.Time

	// SetClaim stamps ClaimedBy/ClaimedAt.
	SetClaim  bool
	ClaimedBy string
	ClaimedAt time.Time

	// ClearClaim nulls ClaimedBy/ClaimedAt.
	ClearClaim bool

	// SetAssignment stamps AssignedToRef/AssignedAt.
	SetAssignment bool
	AssignedToRef string
	AssignedAt    time.Time
}

// Format is a stored display format.
type Format struct {
	// Name is the format's unique name.
	Name string
	// Spec is the rendering specification.
	Spec uinformat.Spec
	// Description is free text for operators.
	Description string
}

// FormatOverride binds a scope to a named format.
type FormatOverride struct {
	Scope      string
	FormatName string
}

// Store is the persistence surface of the UIN pool. All state-changing
// calls made inside WithTx commit or roll back together.
type Store interface {
	// InsertPoolRow creates a new pool row. A duplicate UIN yields an
	// AlreadyExists error and leaves the existing row untouched.
	InsertPoolRow(ctx context.Context, rec Record) error

	// LockOneAvailable returns one AVAILABLE row, earliest issued
	// first, locked for the enclosing transaction and skipping rows
	// locked by concurrent transactions. An empty scope matches all
	// scopes. Returns ok=false when no row qualifies.
	LockOneAvailable(ctx context.Context, scope string) (rec *Record, ok bool, err error)

	// UpdateStatus applies change to the row iff its current status
	// equals expected. A status mismatch yields CompareFailed, a
	// missing row NotFound. Returns the updated row.
	UpdateStatus(ctx context.Context, uinValue string, expected Status, change StatusChange) (*Record, error)

	// AppendAudit appends one audit entry. Entries are never updated
	// or deleted.
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// FindByUin returns the row for the given UIN, NotFound when
	// absent.
	FindByUin(ctx context.Context, uinValue string) (*Record, error)

	// ListAudit returns the audit trail of one UIN in insertion order.
	ListAudit(ctx context.Context, uinValue string) ([]AuditEntry, error)

	// ListStaleInStatus returns rows in the given status whose claim
	// timestamp (or last transition, for unclaimed statuses) is older
	// than olderThan.
	ListStaleInStatus(ctx context.Context, status Status, olderThan time.Time) ([]Record, error)

	// ListExpired returns non-terminal rows whose expires_at has
	// passed as of the given time.
	ListExpired(ctx context.Context, asOf time.Time) ([]Record, error)

	// AggregateByStatus counts rows grouped by status, optionally
	// restricted to one scope.
	AggregateByStatus(ctx context.Context, scope string) (map[Status]int, error)

	// WithTx runs fn against a Store view bound to a single storage
	// transaction: commit when fn returns nil, roll back otherwise.
	// Cancellation inside fn rolls back; a state change is never
	// visible without its audit entry.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// UpsertFormat stores a display format.
	UpsertFormat(ctx context.Context, format Format) error

	// GetFormat returns a format by name, NotFound when absent.
	GetFormat(ctx context.Context, name string) (*Format, error)

	// UpsertFormatOverride binds a scope to a named format.
	UpsertFormatOverride(ctx context.Context, override FormatOverride) error

	// ResolveFormat returns the format effective for a scope: the
	// scope's override when present, NotFound otherwise.
	ResolveFormat(ctx context.Context, scope string) (*Format, error)

	// Close releases the underlying storage resources.
	Close() error
}

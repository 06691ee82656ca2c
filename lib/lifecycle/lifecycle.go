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

// Package lifecycle enforces the UIN state machine. Every transition and
// its audit entry commit in one storage transaction, so a state change is
// never visible without its audit trail.
//
// The machine:
//
//	AVAILABLE --claim--> PREASSIGNED --assign--> ASSIGNED
//	    ^                     |
//	    +------release--------+
//
// RETIRED and REVOKED are terminal and reachable from any non-terminal
// state.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	uin "github.com/tunjidurodola/osia-uin-generator-sub000"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/uinpool"
)

// Audit detail reasons written by the maintenance passes.
const (
	// StaleCleanupReason marks releases made by CleanupStale.
	StaleCleanupReason = "Stale preassignment cleanup"
	// ExpiryReason marks retirements made by ExpireOverdue.
	ExpiryReason = "Validity window expired"
)

// Actor identifies the caller of a lifecycle operation in the audit trail.
type Actor struct {
	// System is the calling system, e.g. "civil-registry".
	System string
	// Ref is the caller's own correlation reference.
	Ref string
}

// Config holds lifecycle engine configuration.
type Config struct {
	// Pool persists UIN rows and audit entries.
	Pool uinpool.Store
	// Clock supplies transition timestamps.
	Clock clockwork.Clock
	// Logger is used for non-sensitive diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Pool == nil {
		return trace.BadParameter("pool store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(uin.ComponentKey, uin.ComponentLifecycle)
	}
	return nil
}

// Engine runs the UIN state machine over a pool store.
type Engine struct {
	pool   uinpool.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// New returns an Engine for the given config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{
		pool:   cfg.Pool,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Insert creates a new pool row together with its GENERATED audit entry.
// The row enters AVAILABLE unless the record carries another status.
func (e *Engine) Insert(ctx context.Context, rec uinpool.Record, actor Actor) error {
	if rec.UIN == "" {
		return trace.BadParameter("cannot insert a record without a UIN")
	}
	now := e.clock.Now().UTC()
	if rec.Status == "" {
		rec.Status = uinpool.StatusAvailable
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = now
	}
	if rec.LastTransitionAt.IsZero() {
		rec.LastTransitionAt = rec.IssuedAt
	}
	return trace.Wrap(e.pool.WithTx(ctx, func(tx uinpool.Store) error {
		if err := tx.InsertPoolRow(ctx, rec); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(tx.AppendAudit(ctx, uinpool.AuditEntry{
			UIN:         rec.UIN,
			EventType:   uinpool.EventGenerated,
			NewStatus:   rec.Status,
			ActorSystem: actor.System,
			ActorRef:    actor.Ref,
			Details:     map[string]any{"mode": string(rec.Mode), "scope": rec.Scope},
			CreatedAt:   now,
		}))
	}))
}

// Claim reserves one AVAILABLE row for clientID, moving it to PREASSIGNED.
// Returns ok=false when the pool has no matching row; concurrent claimers
// always receive distinct rows.
func (e *Engine) Claim(ctx context.Context, scope, clientID string, actor Actor) (*uinpool.Record, bool, error) {
	if clientID == "" {
		return nil, false, trace.BadParameter("claim requires a client id")
	}
	var claimed *uinpool.Record
	err := e.pool.WithTx(ctx, func(tx uinpool.Store) error {
		rec, ok, err := tx.LockOneAvailable(ctx, scope)
		if err != nil {
			return trace.Wrap(err)
		}
		if !ok {
			return nil
		}
		now := e.clock.Now().UTC()
		updated, err := tx.UpdateStatus(ctx, rec.UIN, uinpool.StatusAvailable, uinpool.StatusChange{
			To:        uinpool.StatusPreassigned,
			At:        now,
			SetClaim:  true,
			ClaimedBy: clientID,
			ClaimedAt: now,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		if err := tx.AppendAudit(ctx, uinpool.AuditEntry{
			UIN:         updated.UIN,
			EventType:   uinpool.EventPreassigned,
			OldStatus:   uinpool.StatusAvailable,
			NewStatus:   uinpool.StatusPreassigned,
			ActorSystem: actor.System,
			ActorRef:    actor.Ref,
			Details: map[string]any{
				"claimed_by":     clientID,
				"correlation_id": uuid.NewString(),
			},
			CreatedAt: now,
		}); err != nil {
			return trace.Wrap(err)
		}
		claimed = updated
		return nil
	})
	if err != nil {
		return nil, false, trace.Wrap(err)
	}
	return claimed, claimed != nil, nil
}

// Assign binds a PREASSIGNED row to an external reference, moving it to
// ASSIGNED.
func (e *Engine) Assign(ctx context.Context, uinValue, ref string, actor Actor) (*uinpool.Record, error) {
	if ref == "" {
		return nil, trace.BadParameter("assign requires an external reference")
	}
	var assigned *uinpool.Record
	err := e.pool.WithTx(ctx, func(tx uinpool.Store) error {
		now := e.clock.Now().UTC()
		updated, err := tx.UpdateStatus(ctx, uinValue, uinpool.StatusPreassigned, uinpool.StatusChange{
			To:            uinpool.StatusAssigned,
			At:            now,
			SetAssignment: true,
			AssignedToRef: ref,
			AssignedAt:    now,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		if err := tx.AppendAudit(ctx, uinpool.AuditEntry{
			UIN:         uinValue,
			EventType:   uinpool.EventAssigned,
			OldStatus:   uinpool.StatusPreassigned,
			NewStatus:   uinpool.StatusAssigned,
			ActorSystem: actor.System,
			ActorRef:    actor.Ref,
			Details:     map[string]any{"assigned_to_ref": ref},
			CreatedAt:   now,
		}); err != nil {
			return trace.Wrap(err)
		}
		assigned = updated
		return nil
	})
	return assigned, trace.Wrap(err)
}

// Release returns a PREASSIGNED row to the pool, clearing its claim.
func (e *Engine) Release(ctx context.Context, uinValue string, actor Actor) (*uinpool.Record, error) {
	rec, err := e.release(ctx, uinValue, actor, nil)
	return rec, trace.Wrap(err)
}

func (e *Engine) release(ctx context.Context, uinValue string, actor Actor, details map[string]any) (*uinpool.Record, error) {
	var released *uinpool.Record
	err := e.pool.WithTx(ctx, func(tx uinpool.Store) error {
		now := e.clock.Now().UTC()
		updated, err := tx.UpdateStatus(ctx, uinValue, uinpool.StatusPreassigned, uinpool.StatusChange{
			To:         uinpool.StatusAvailable,
			At:         now,
			ClearClaim: true,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		if err := tx.AppendAudit(ctx, uinpool.AuditEntry{
			UIN:         uinValue,
			EventType:   uinpool.EventReleased,
			OldStatus:   uinpool.StatusPreassigned,
			NewStatus:   uinpool.StatusAvailable,
			ActorSystem: actor.System,
			ActorRef:    actor.Ref,
			Details:     details,
			CreatedAt:   now,
		}); err != nil {
			return trace.Wrap(err)
		}
		released = updated
		return nil
	})
	return released, trace.Wrap(err)
}

// Retire terminates a non-terminal row. Rows that never reached ASSIGNED
// may be retired administratively; their assignment fields stay empty.
func (e *Engine) Retire(ctx context.Context, uinValue, reason string, actor Actor) (*uinpool.Record, error) {
	rec, err := e.terminate(ctx, uinValue, uinpool.StatusRetired, uinpool.EventRetired, reason, actor)
	return rec, trace.Wrap(err)
}

// Revoke invalidates a non-terminal row.
func (e *Engine) Revoke(ctx context.Context, uinValue, reason string, actor Actor) (*uinpool.Record, error) {
	rec, err := e.terminate(ctx, uinValue, uinpool.StatusRevoked, uinpool.EventRevoked, reason, actor)
	return rec, trace.Wrap(err)
}

func (e *Engine) terminate(ctx context.Context, uinValue string, to uinpool.Status, event uinpool.EventType, reason string, actor Actor) (*uinpool.Record, error) {
	var terminated *uinpool.Record
	err := e.pool.WithTx(ctx, func(tx uinpool.Store) error {
		rec, err := tx.FindByUin(ctx, uinValue)
		if err != nil {
			return trace.Wrap(err)
		}
		if rec.Status.Terminal() {
			return trace.CompareFailed("UIN %q is already %v", uinValue, rec.Status)
		}
		now := e.clock.Now().UTC()
		updated, err := tx.UpdateStatus(ctx, uinValue, rec.Status, uinpool.StatusChange{
			To: to,
			At: now,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		if err := tx.AppendAudit(ctx, uinpool.AuditEntry{
			UIN:         uinValue,
			EventType:   event,
			OldStatus:   rec.Status,
			NewStatus:   to,
			ActorSystem: actor.System,
			ActorRef:    actor.Ref,
			Details:     map[string]any{"reason": reason},
			CreatedAt:   now,
		}); err != nil {
			return trace.Wrap(err)
		}
		terminated = updated
		return nil
	})
	return terminated, trace.Wrap(err)
}

// CleanupStale releases every PREASSIGNED row whose claim is older than
// threshold, one transaction per row so a failure on one row does not
// block the rest. Returns the released UINs.
func (e *Engine) CleanupStale(ctx context.Context, threshold time.Duration, actor Actor) ([]string, error) {
	if threshold <= 0 {
		return nil, trace.BadParameter("stale threshold must be positive, got %v", threshold)
	}
	cutoff := e.clock.Now().UTC().Add(-threshold)
	stale, err := e.pool.ListStaleInStatus(ctx, uinpool.StatusPreassigned, cutoff)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var released []string
	for _, rec := range stale {
		if _, err := e.release(ctx, rec.UIN, actor, map[string]any{"reason": StaleCleanupReason}); err != nil {
			// The row may have advanced since listing; skip it.
			if trace.IsCompareFailed(err) || trace.IsNotFound(err) {
				continue
			}
			return released, trace.Wrap(err)
		}
		released = append(released, rec.UIN)
	}
	if len(released) > 0 {
		e.logger.InfoContext(ctx, "Released stale preassignments", "count", len(released), "threshold", threshold.String())
	}
	return released, nil
}

// ExpireOverdue retires every non-terminal row whose validity window has
// closed. Returns the retired UINs.
func (e *Engine) ExpireOverdue(ctx context.Context, actor Actor) ([]string, error) {
	expired, err := e.pool.ListExpired(ctx, e.clock.Now().UTC())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var retired []string
	for _, rec := range expired {
		if _, err := e.Retire(ctx, rec.UIN, ExpiryReason, actor); err != nil {
			if trace.IsCompareFailed(err) || trace.IsNotFound(err) {
				continue
			}
			return retired, trace.Wrap(err)
		}
		retired = append(retired, rec.UIN)
	}
	if len(retired) > 0 {
		e.logger.InfoContext(ctx, "Retired expired UINs", "count", len(retired))
	}
	return retired, nil
}

// Lookup returns the pool row for a UIN.
func (e *Engine) Lookup(ctx context.Context, uinValue string) (*uinpool.Record, error) {
	rec, err := e.pool.FindByUin(ctx, uinValue)
	return rec, trace.Wrap(err)
}

// Audit returns the audit trail of a UIN, oldest first. A UIN that never
// existed yields NotFound.
func (e *Engine) Audit(ctx context.Context, uinValue string) ([]uinpool.AuditEntry, error) {
	if _, err := e.pool.FindByUin(ctx, uinValue); err != nil {
		return nil, trace.Wrap(err)
	}
	entries, err := e.pool.ListAudit(ctx, uinValue)
	return entries, trace.Wrap(err)
}

// Stats returns pool row counts grouped by status, optionally scoped.
func (e *Engine) Stats(ctx context.Context, scope string) (map[uinpool.Status]int, error) {
	counts, err := e.pool.AggregateByStatus(ctx, scope)
	return counts, trace.Wrap(err)
}

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

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/uinpool"
)

func testEngine(t *testing.T, clock clockwork.Clock) (*Engine, *uinpool.MemStore) {
	t.Helper()
	store := uinpool.NewMemStore()
	engine, err := New(Config{Pool: store, Clock: clock})
	require.NoError(t, err)
	return engine, store
}

func seedPool(t *testing.T, engine *Engine, scope string, count int) []string {
	t.Helper()
	ctx := context.Background()
	uins := make([]string, 0, count)
	for i := 0; i < count; i++ {
		uinValue := fmt.Sprintf("%v-%04d", scope, i)
		require.NoError(t, engine.Insert(ctx, uinpool.Record{
			UIN:        uinValue,
			Mode:       uinpool.ModeFoundational,
			Scope:      scope,
			HashRMD160: "0000000000000000000000000000000000000000",
		}, Actor{System: "pre-generator"}))
		uins = append(uins, uinValue)
	}
	return uins
}

// TestRegistrationHappyPath walks a UIN through claim and assign and
// checks the audit chain records GENERATED, PREASSIGNED, ASSIGNED in
// order.
func TestRegistrationHappyPath(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	engine, _ := testEngine(t, clock)
	seedPool(t, engine, "foundational", 100)
	actor := Actor{System: "civil-registry", Ref: "CR"}

	rec, ok, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uinpool.StatusPreassigned, rec.Status)
	require.Equal(t, "CR", rec.ClaimedBy)
	require.NotNil(t, rec.ClaimedAt)

	clock.Advance(time.Minute)
	assigned, err := engine.Assign(ctx, rec.UIN, "CR-2025-001234", actor)
	require.NoError(t, err)
	require.Equal(t, uinpool.StatusAssigned, assigned.Status)
	require.Equal(t, "CR-2025-001234", assigned.AssignedToRef)
	require.NotNil(t, assigned.AssignedAt)

	found, err := engine.Lookup(ctx, rec.UIN)
	require.NoError(t, err)
	require.Equal(t, assigned.Status, found.Status)
	require.Equal(t, assigned.AssignedToRef, found.AssignedToRef)

	entries, err := engine.Audit(ctx, rec.UIN)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uinpool.EventGenerated, entries[0].EventType)
	require.Equal(t, uinpool.EventPreassigned, entries[1].EventType)
	require.Equal(t, uinpool.EventAssigned, entries[2].EventType)
	require.False(t, entries[2].CreatedAt.Before(entries[1].CreatedAt))
}

// TestConcurrentClaims runs 20 parallel claims over a pool of 10 and
// expects exactly 10 winners with distinct UINs.
func TestConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, clockwork.NewRealClock())
	seedPool(t, engine, "foundational", 10)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*uinpool.Record, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, ok, err := engine.Claim(ctx, "foundational", fmt.Sprintf("client-%d", i), Actor{System: "load-test"})
			if err != nil {
				errs[i] = err
				return
			}
			if ok {
				results[i] = rec
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var won, empty int
	for i := range results {
		require.NoError(t, errs[i])
		if results[i] == nil {
			empty++
			continue
		}
		won++
		require.False(t, seen[results[i].UIN], "UIN %q claimed twice", results[i].UIN)
		seen[results[i].UIN] = true
	}
	require.Equal(t, 10, won)
	require.Equal(t, 10, empty)
}

func TestClaimEmptyPool(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, clockwork.NewFakeClock())

	rec, ok, err := engine.Claim(ctx, "foundational", "CR", Actor{System: "test"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, rec)
}

func TestClaimHonorsScope(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, clockwork.NewFakeClock())
	seedPool(t, engine, "health", 1)

	_, ok, err := engine.Claim(ctx, "foundational", "CR", Actor{System: "test"})
	require.NoError(t, err)
	require.False(t, ok)

	rec, ok, err := engine.Claim(ctx, "health", "CR", Actor{System: "test"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "health", rec.Scope)
}

func TestIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, clockwork.NewFakeClock())
	uins := seedPool(t, engine, "foundational", 2)
	actor := Actor{System: "test"}

	// Assign without a prior claim.
	_, err := engine.Assign(ctx, uins[0], "REF-1", actor)
	require.True(t, trace.IsCompareFailed(err), "expected CompareFailed, got %v", err)

	rec, ok, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = engine.Assign(ctx, rec.UIN, "REF-1", actor)
	require.NoError(t, err)

	// Assign on an ASSIGNED row.
	_, err = engine.Assign(ctx, rec.UIN, "REF-2", actor)
	require.True(t, trace.IsCompareFailed(err))

	// Release only applies to PREASSIGNED.
	_, err = engine.Release(ctx, rec.UIN, actor)
	require.True(t, trace.IsCompareFailed(err))

	// Terminal states reject further transitions.
	_, err = engine.Retire(ctx, rec.UIN, "end of life", actor)
	require.NoError(t, err)
	_, err = engine.Revoke(ctx, rec.UIN, "compromised", actor)
	require.True(t, trace.IsCompareFailed(err))

	// Unknown UIN.
	_, err = engine.Assign(ctx, "no-such-uin", "REF", actor)
	require.True(t, trace.IsNotFound(err))
}

func TestRetireFromAnyNonTerminal(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, clockwork.NewFakeClock())
	uins := seedPool(t, engine, "foundational", 3)
	actor := Actor{System: "admin"}

	// Administrative retirement straight from AVAILABLE keeps the
	// assignment fields empty.
	rec, err := engine.Retire(ctx, uins[0], "never used", actor)
	require.NoError(t, err)
	require.Equal(t, uinpool.StatusRetired, rec.Status)
	require.Empty(t, rec.AssignedToRef)

	// Revocation from PREASSIGNED.
	claimed, ok, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)
	require.True(t, ok)
	rec, err = engine.Revoke(ctx, claimed.UIN, "suspected fraud", actor)
	require.NoError(t, err)
	require.Equal(t, uinpool.StatusRevoked, rec.Status)

	entries, err := engine.Audit(ctx, claimed.UIN)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	require.Equal(t, uinpool.EventRevoked, last.EventType)
	require.Equal(t, "suspected fraud", last.Details["reason"])
}

func TestReleaseReturnsRowToPool(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, clockwork.NewFakeClock())
	seedPool(t, engine, "foundational", 1)
	actor := Actor{System: "test"}

	claimed, ok, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := engine.Release(ctx, claimed.UIN, actor)
	require.NoError(t, err)
	require.Equal(t, uinpool.StatusAvailable, released.Status)
	require.Empty(t, released.ClaimedBy)
	require.Nil(t, released.ClaimedAt)

	// The row is claimable again.
	again, ok, err := engine.Claim(ctx, "foundational", "CR2", actor)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, claimed.UIN, again.UIN)
}

// TestCleanupStale releases claims older than the threshold and no
// others, with the expected audit reason.
func TestCleanupStale(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	engine, _ := testEngine(t, clock)
	seedPool(t, engine, "foundational", 3)
	actor := Actor{System: "janitor"}

	// Two claims go stale, a third stays fresh.
	first, _, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)
	second, _, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)
	clock.Advance(90 * time.Minute)
	fresh, _, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)

	released, err := engine.CleanupStale(ctx, time.Hour, actor)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{first.UIN, second.UIN}, released)

	rec, err := engine.Lookup(ctx, fresh.UIN)
	require.NoError(t, err)
	require.Equal(t, uinpool.StatusPreassigned, rec.Status)

	for _, uinValue := range released {
		rec, err := engine.Lookup(ctx, uinValue)
		require.NoError(t, err)
		require.Equal(t, uinpool.StatusAvailable, rec.Status)
		require.Nil(t, rec.ClaimedAt)

		entries, err := engine.Audit(ctx, uinValue)
		require.NoError(t, err)
		last := entries[len(entries)-1]
		require.Equal(t, uinpool.EventReleased, last.EventType)
		require.Equal(t, StaleCleanupReason, last.Details["reason"])
	}

	// A second pass finds nothing.
	released, err = engine.CleanupStale(ctx, time.Hour, actor)
	require.NoError(t, err)
	require.Empty(t, released)
}

func TestExpireOverdue(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	engine, _ := testEngine(t, clock)
	actor := Actor{System: "janitor"}

	expiry := clock.Now().UTC().Add(time.Hour)
	require.NoError(t, engine.Insert(ctx, uinpool.Record{
		UIN:        "U-windowed",
		Mode:       uinpool.ModeFoundational,
		Scope:      "foundational",
		ExpiresAt:  &expiry,
		HashRMD160: "0000000000000000000000000000000000000000",
	}, actor))
	seedPool(t, engine, "foundational", 1)

	// Nothing expires before the window closes.
	retired, err := engine.ExpireOverdue(ctx, actor)
	require.NoError(t, err)
	require.Empty(t, retired)

	clock.Advance(2 * time.Hour)
	retired, err = engine.ExpireOverdue(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []string{"U-windowed"}, retired)

	rec, err := engine.Lookup(ctx, "U-windowed")
	require.NoError(t, err)
	require.Equal(t, uinpool.StatusRetired, rec.Status)

	entries, err := engine.Audit(ctx, "U-windowed")
	require.NoError(t, err)
	require.Equal(t, ExpiryReason, entries[len(entries)-1].Details["reason"])
}

func TestAuditUnknownUin(t *testing.T) {
	engine, _ := testEngine(t, clockwork.NewFakeClock())
	_, err := engine.Audit(context.Background(), "no-such-uin")
	require.True(t, trace.IsNotFound(err))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	engine, _ := testEngine(t, clockwork.NewFakeClock())
	seedPool(t, engine, "foundational", 5)
	actor := Actor{System: "test"}

	claimed, _, err := engine.Claim(ctx, "foundational", "CR", actor)
	require.NoError(t, err)
	_, err = engine.Assign(ctx, claimed.UIN, "REF", actor)
	require.NoError(t, err)

	counts, err := engine.Stats(ctx, "foundational")
	require.NoError(t, err)
	require.Equal(t, map[uinpool.Status]int{
		uinpool.StatusAvailable: 4,
		uinpool.StatusAssigned:  1,
	}, counts)
}

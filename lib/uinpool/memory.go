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

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gravitational/trace"
)

// MemStore is an in-memory Store with the same semantics as the Postgres
// implementation. Transactions hold the store lock end to end and run
// against a copy of the data, so a failed transaction leaves no trace and
// concurrent claims trivially satisfy the skip-locked contract.
type MemStore struct {
	mu   sync.Mutex
	data *memData
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: newMemData()}
}

type memData struct {
	records     map[string]*Record
	audit       []AuditEntry
	formats     map[string]Format
	overrides   map[string]string
	nextAuditID int64
}

func newMemData() *memData {
	return &memData{
		records:     make(map[string]*Record),
		formats:     make(map[string]Format),
		overrides:   make(map[string]string),
		nextAuditID: 1,
	}
}

func (d *memData) clone() *memData {
	out := &memData{
		records:     make(map[string]*Record, len(d.records)),
		audit:       slices.Clone(d.audit),
		formats:     maps.Clone(d.formats),
		overrides:   maps.Clone(d.overrides),
		nextAuditID: d.nextAuditID,
	}
	for uinValue, rec := range d.records {
		out.records[uinValue] = copyRecord(rec)
	}
	return out
}

func copyRecord(rec *Record) *Record {
	out := *rec
	out.Attributes = maps.Clone(rec.Attributes)
	out.Meta = maps.Clone(rec.Meta)
	return &out
}

func (d *memData) insertPoolRow(rec Record) error {
	if rec.UIN == "" {
		return trace.BadParameter("pool row requires a UIN")
	}
	if _, ok := d.records[rec.UIN]; ok {
		return trace.AlreadyExists("UIN %q already exists", rec.UIN)
	}
	d.records[rec.UIN] = copyRecord(&rec)
	return nil
}

func (d *memData) lockOneAvailable(scope string) (*Record, bool) {
	var best *Record
	for _, rec := range d.records {
		if rec.Status != StatusAvailable {
			continue
		}
		if scope != "" && rec.Scope != scope {
			continue
		}
		if best == nil || rec.IssuedAt.Before(best.IssuedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, false
	}
	return copyRecord(best), true
}

func (d *memData) updateStatus(uinValue string, expected Status, change StatusChange) (*Record, error) {
	rec, ok := d.records[uinValue]
	if !ok {
		return nil, trace.NotFound("UIN %q not found", uinValue)
	}
	if rec.Status != expected {
		return nil, trace.CompareFailed("UIN %q is %v, expected %v", uinValue, rec.Status, expected)
	}
	rec.Status = change.To
	rec.LastTransitionAt = change.At
	if change.SetClaim {
		rec.ClaimedBy = change.ClaimedBy
		claimedAt := change.ClaimedAt
		rec.ClaimedAt = &claimedAt
	}
	if change.ClearClaim {
		rec.ClaimedBy = ""
		rec.ClaimedAt = nil
	}
	if change.SetAssignment {
		rec.AssignedToRef = change.AssignedToRef
		assignedAt := change.AssignedAt
		rec.AssignedAt = &assignedAt
	}
	return copyRecord(rec), nil
}

func (d *memData) appendAudit(entry AuditEntry) {
	entry.ID = d.nextAuditID
	d.nextAuditID++
	d.audit = append(d.audit, entry)
}

func (d *memData) findByUin(uinValue string) (*Record, error) {
	rec, ok := d.records[uinValue]
	if !ok {
		return nil, trace.NotFound("UIN %q not found", uinValue)
	}
	return copyRecord(rec), nil
}

func (d *memData) listAudit(uinValue string) []AuditEntry {
	var out []AuditEntry
	for _, entry := range d.audit {
		if entry.UIN == uinValue {
			out = append(out, entry)
		}
	}
	return out
}

func (d *memData) listStaleInStatus(status Status, olderThan time.Time) []Record {
	var out []Record
	for _, rec := range d.records {
		if rec.Status != status {
			continue
		}
		reference := rec.LastTransitionAt
		if rec.ClaimedAt != nil {
			reference = *rec.ClaimedAt
		}
		if reference.Before(olderThan) {
			out = append(out, *copyRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return a.IssuedAt.Compare(b.IssuedAt) })
	return out
}

func (d *memData) listExpired(asOf time.Time) []Record {
	var out []Record
	for _, rec := range d.records {
		if rec.Status.Terminal() || rec.ExpiresAt == nil {
			continue
		}
		if !rec.ExpiresAt.After(asOf) {
			out = append(out, *copyRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return a.IssuedAt.Compare(b.IssuedAt) })
	return out
}

func (d *memData) aggregateByStatus(scope string) map[Status]int {
	out := make(map[Status]int)
	for _, rec := range d.records {
		if scope != "" && rec.Scope != scope {
			continue
		}
		out[rec.Status]++
	}
	return out
}

func (d *memData) resolveFormat(scope string) (*Format, error) {
	name, ok := d.overrides[scope]
	if !ok {
		return nil, trace.NotFound("no display format configured for scope %q", scope)
	}
	format, ok := d.formats[name]
	if !ok {
		return nil, trace.NotFound("display format %q not found", name)
	}
	return &format, nil
}

func (s *MemStore) InsertPoolRow(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.data.insertPoolRow(rec))
}

// LockOneAvailable outside of a transaction only peeks; claiming must go
// through WithTx so the read and the status change are atomic.
func (s *MemStore) LockOneAvailable(ctx context.Context, scope string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.lockOneAvailable(scope)
	return rec, ok, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, uinValue string, expected Status, change StatusChange) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.data.updateStatus(uinValue, expected, change)
	return rec, trace.Wrap(err)
}

func (s *MemStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.appendAudit(entry)
	return nil
}

func (s *MemStore) FindByUin(ctx context.Context, uinValue string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.data.findByUin(uinValue)
	return rec, trace.Wrap(err)
}

func (s *MemStore) ListAudit(ctx context.Context, uinValue string) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listAudit(uinValue), nil
}

func (s *MemStore) ListStaleInStatus(ctx context.Context, status Status, olderThan time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listStaleInStatus(status, olderThan), nil
}

func (s *MemStore) ListExpired(ctx context.Context, asOf time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listExpired(asOf), nil
}

func (s *MemStore) AggregateByStatus(ctx context.Context, scope string) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.aggregateByStatus(scope), nil
}

// WithTx runs fn against a copy of the store's data under the store lock.
// The copy replaces the live data only when fn and the context both
// succeed, mirroring commit/rollback.
func (s *MemStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return trace.Wrap(err)
	}
	tx := &memTx{data: s.data.clone()}
	if err := fn(tx); err != nil {
		return trace.Wrap(err)
	}
	if err := ctx.Err(); err != nil {
		// Canceled mid-transaction; nothing is committed.
		return trace.Wrap(err)
	}
	s.data = tx.data
	return nil
}

func (s *MemStore) UpsertFormat(ctx context.Context, format Format) error {
	if format.Name == "" {
		return trace.BadParameter("display format requires a name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.formats[format.Name] = format
	return nil
}

func (s *MemStore) GetFormat(ctx context.Context, name string) (*Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	format, ok := s.data.formats[name]
	if !ok {
		return nil, trace.NotFound("display format %q not found", name)
	}
	return &format, nil
}

func (s *MemStore) UpsertFormatOverride(ctx context.Context, override FormatOverride) error {
	if override.Scope == "" || override.FormatName == "" {
		return trace.BadParameter("format override requires a scope and a format name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.formats[override.FormatName]; !ok {
		return trace.NotFound("display format %q not found", override.FormatName)
	}
	s.data.overrides[override.Scope] = override.FormatName
	return nil
}

func (s *MemStore) ResolveFormat(ctx context.Context, scope string) (*Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	format, err := s.data.resolveFormat(scope)
	return format, trace.Wrap(err)
}

func (s *MemStore) Close() error { return nil }

// memTx is the transactional view handed to WithTx callbacks. The parent
// holds the store lock for the duration of the callback, so no further
// locking is needed here.
type memTx struct {
	data *memData
}

func (t *memTx) InsertPoolRow(ctx context.Context, rec Record) error {
	return trace.Wrap(t.data.insertPoolRow(rec))
}

func (t *memTx) LockOneAvailable(ctx context.Context, scope string) (*Record, bool, error) {
	rec, ok := t.data.lockOneAvailable(scope)
	return rec, ok, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, uinValue string, expected Status, change StatusChange) (*Record, error) {
	rec, err := t.data.updateStatus(uinValue, expected, change)
	return rec, trace.Wrap(err)
}

func (t *memTx) AppendAudit(ctx context.Context, entry AuditEntry) error {
	t.data.appendAudit(entry)
	return nil
}

func (t *memTx) FindByUin(ctx context.Context, uinValue string) (*Record, error) {
	rec, err := t.data.findByUin(uinValue)
	return rec, trace.Wrap(err)
}

func (t *memTx) ListAudit(ctx context.Context, uinValue string) ([]AuditEntry, error) {
	return t.data.listAudit(uinValue), nil
}

func (t *memTx) ListStaleInStatus(ctx context.Context, status Status, olderThan time.Time) ([]Record, error) {
	return t.data.listStaleInStatus(status, olderThan), nil
}

func (t *memTx) ListExpired(ctx context.Context, asOf time.Time) ([]Record, error) {
	return t.data.listExpired(asOf), nil
}

func (t *memTx) AggregateByStatus(ctx context.Context, scope string) (map[Status]int, error) {
	return t.data.aggregateByStatus(scope), nil
}

// WithTx on a transaction reuses the enclosing transaction.
func (t *memTx) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return trace.Wrap(fn(t))
}

func (t *memTx) UpsertFormat(ctx context.Context, format Format) error {
	if format.Name == "" {
		return trace.BadParameter("display format requires a name")
	}
	t.data.formats[format.Name] = format
	return nil
}

func (t *memTx) GetFormat(ctx context.Context, name string) (*Format, error) {
	format, ok := t.data.formats[name]
	if !ok {
		return nil, trace.NotFound("display format %q not found", name)
	}
	return &format, nil
}

func (t *memTx) UpsertFormatOverride(ctx context.Context, override FormatOverride) error {
	if _, ok := t.data.formats[override.FormatName]; !ok {
		return trace.NotFound("display format %q not found", override.FormatName)
	}
	t.data.overrides[override.Scope] = override.FormatName
	return nil
}

func (t *memTx) ResolveFormat(ctx context.Context, scope string) (*Format, error) {
	format, err := t.data.resolveFormat(scope)
	return format, trace.Wrap(err)
}

func (t *memTx) Close() error { return nil }

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
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/utils"
)

var (
	poolRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uin_pool_requests_total",
			Help: "Number of pool store operations",
		},
		[]string{"op"},
	)
	poolFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uin_pool_failed_requests_total",
			Help: "Number of failed pool store operations",
		},
		[]string{"op"},
	)
	poolLatencies = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uin_pool_seconds",
			Help:    "Latency of pool store operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"op"},
	)
)

// Reporter adds prometheus instrumentation to a Store.
type Reporter struct {
	store Store
}

// NewReporter wraps store with per-operation counters and latency
// histograms.
func NewReporter(store Store) (*Reporter, error) {
	if store == nil {
		return nil, trace.BadParameter("store is required")
	}
	if err := utils.RegisterPrometheusCollectors(poolRequests, poolFailures, poolLatencies); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Reporter{store: store}, nil
}

func (r *Reporter) track(op string, start time.Time, err error) {
	poolRequests.WithLabelValues(op).Inc()
	poolLatencies.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		poolFailures.WithLabelValues(op).Inc()
	}
}

func (r *Reporter) InsertPoolRow(ctx context.Context, rec Record) error {
	start := time.Now()
	err := r.store.InsertPoolRow(ctx, rec)
	r.track("insert", start, err)
	return err
}

func (r *Reporter) LockOneAvailable(ctx context.Context, scope string) (*Record, bool, error) {
	start := time.Now()
	rec, ok, err := r.store.LockOneAvailable(ctx, scope)
	r.track("lock_one_available", start, err)
	return rec, ok, err
}

func (r *Reporter) UpdateStatus(ctx context.Context, uinValue string, expected Status, change StatusChange) (*Record, error) {
	start := time.Now()
	rec, err := r.store.UpdateStatus(ctx, uinValue, expected, change)
	r.track("update_status", start, err)
	return rec, err
}

func (r *Reporter) AppendAudit(ctx context.Context, entry AuditEntry) error {
	start := time.Now()
	err := r.store.AppendAudit(ctx, entry)
	r.track("append_audit", start, err)
	return err
}

func (r *Reporter) FindByUin(ctx context.Context, uinValue string) (*Record, error) {
	start := time.Now()
	rec, err := r.store.FindByUin(ctx, uinValue)
	r.track("find", start, err)
	return rec, err
}

func (r *Reporter) ListAudit(ctx context.Context, uinValue string) ([]AuditEntry, error) {
	start := time.Now()
	entries, err := r.store.ListAudit(ctx, uinValue)
	r.track("list_audit", start, err)
	return entries, err
}

func (r *Reporter) ListStaleInStatus(ctx context.Context, status Status, olderThan time.Time) ([]Record, error) {
	start := time.Now()
	recs, err := r.store.ListStaleInStatus(ctx, status, olderThan)
	r.track("list_stale", start, err)
	return recs, err
}

func (r *Reporter) ListExpired(ctx context.Context, asOf time.Time) ([]Record, error) {
	start := time.Now()
	recs, err := r.store.ListExpired(ctx, asOf)
	r.track("list_expired", start, err)
	return recs, err
}

func (r *Reporter) AggregateByStatus(ctx context.Context, scope string) (map[Status]int, error) {
	start := time.Now()
	counts, err := r.store.AggregateByStatus(ctx, scope)
	r.track("aggregate", start, err)
	return counts, err
}

// WithTx reports the transaction as one operation; calls made on the
// transactional view inside fn are not double-counted.
func (r *Reporter) WithTx(ctx context.Context, fn func(tx Store) error) error {
	start := time.Now()
	err := r.store.WithTx(ctx, fn)
	r.track("tx", start, err)
	return err
}

func (r *Reporter) UpsertFormat(ctx context.Context, format Format) error {
	start := time.Now()
	err := r.store.UpsertFormat(ctx, format)
	r.track("upsert_format", start, err)
	return err
}

func (r *Reporter) GetFormat(ctx context.Context, name string) (*Format, error) {
	start := time.Now()
	format, err := r.store.GetFormat(ctx, name)
	r.track("get_format", start, err)
	return format, err
}

func (r *Reporter) UpsertFormatOverride(ctx context.Context, override FormatOverride) error {
	start := time.Now()
	err := r.store.UpsertFormatOverride(ctx, override)
	r.track("upsert_format_override", start, err)
	return err
}

func (r *Reporter) ResolveFormat(ctx context.Context, scope string) (*Format, error) {
	start := time.Now()
	format, err := r.store.ResolveFormat(ctx, scope)
	r.track("resolve_format", start, err)
	return format, err
}

func (r *Reporter) Close() error {
	return r.store.Close()
}

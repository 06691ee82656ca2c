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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype/zeronull"
	"github.com/jackc/pgx/v5/pgxpool"

	uin "github.com/tunjidurodola/osia-uin-generator-sub000"
	"github.com/tunjidurodola/osia-uin-generator-sub000/lib/defaults"
)

// PGConfig holds Postgres store configuration.
type PGConfig struct {
	// ConnString is a libpq-style connection string or URL.
	ConnString string
	// PoolMin and PoolMax bound the connection pool.
	PoolMin int
	PoolMax int
	// AcquireTimeout bounds waiting for a connection.
	AcquireTimeout time.Duration
	// IdleTimeout is how long an idle connection is kept.
	IdleTimeout time.Duration
	// Logger is used for non-sensitive diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *PGConfig) CheckAndSetDefaults() error {
	if cfg.ConnString == "" {
		return trace.BadParameter("postgres connection string is required")
	}
	if cfg.PoolMin <= 0 {
		cfg.PoolMin = defaults.PoolMinConns
	}
	if cfg.PoolMax <= 0 {
		cfg.PoolMax = defaults.PoolMaxConns
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.PoolAcquireTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaults.PoolIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(uin.ComponentKey, uin.ComponentPool)
	}
	return nil
}

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx; store
// methods run against either depending on whether they are inside WithTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres implementation of Store.
type PGStore struct {
	q      querier
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore connects to Postgres, applies pending schema migrations and
// returns a ready store.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	poolConfig.MinConns = int32(cfg.PoolMin)
	poolConfig.MaxConns = int32(cfg.PoolMax)
	poolConfig.MaxConnIdleTime = cfg.IdleTimeout
	poolConfig.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to connect to postgres")
	}
	s := &PGStore{q: pool, pool: pool, logger: cfg.Logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, trace.Wrap(err)
	}
	return s, nil
}

// migrate brings the schema up to schemaVersion inside one transaction.
func (s *PGStore) migrate(ctx context.Context) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return trace.ConnectionProblem(err, "failed to begin migration transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"CREATE TABLE IF NOT EXISTS migration (version INTEGER PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())",
	); err != nil {
		return trace.Wrap(err)
	}
	var current int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM migration").Scan(&current); err != nil {
		return trace.Wrap(err)
	}
	if current > schemaVersion {
		return trace.BadParameter("database schema version %d is newer than this binary supports (%d)", current, schemaVersion)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		s.logger.InfoContext(ctx, "Applying schema migration", "version", v)
		if _, err := tx.Exec(ctx, getMigration(v)); err != nil {
			return trace.Wrap(err, "migration to version %d failed", v)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO migration (version) VALUES ($1)", v); err != nil {
			return trace.Wrap(err)
		}
	}
	return trace.Wrap(tx.Commit(ctx))
}

const recordColumns = `uin, mode, scope, status, issued_at, not_before, expires_at,
	last_transition_at, hash_rmd160, claimed_by, claimed_at, assigned_to_ref,
	assigned_at, transaction_id, attributes, meta`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var notBefore, expiresAt, claimedAt, assignedAt zeronull.Timestamptz
	if err := row.Scan(
		&rec.UIN, &rec.Mode, &rec.Scope, &rec.Status, &rec.IssuedAt,
		&notBefore, &expiresAt, &rec.LastTransitionAt, &rec.HashRMD160,
		&rec.ClaimedBy, &claimedAt, &rec.AssignedToRef, &assignedAt,
		&rec.TransactionID, &rec.Attributes, &rec.Meta,
	); err != nil {
		return nil, trace.Wrap(err)
	}
	rec.NotBefore = timePtr(notBefore)
	rec.ExpiresAt = timePtr(expiresAt)
	rec.ClaimedAt = timePtr(claimedAt)
	rec.AssignedAt = timePtr(assignedAt)
	return &rec, nil
}

func timePtr(t zeronull.Timestamptz) *time.Time {
	if time.Time(t).IsZero() {
		return nil
	}
	out := time.Time(t)
	return &out
}

func zeroTime(t *time.Time) zeronull.Timestamptz {
	if t == nil {
		return zeronull.Timestamptz{}
	}
	return zeronull.Timestamptz(t.UTC())
}

func (s *PGStore) InsertPoolRow(ctx context.Context, rec Record) error {
	if rec.UIN == "" {
		return trace.BadParameter("pool row requires a UIN")
	}
	attributes := rec.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO uin_pool (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.UIN, string(rec.Mode), rec.Scope, string(rec.Status), rec.IssuedAt.UTC(),
		zeroTime(rec.NotBefore), zeroTime(rec.ExpiresAt), rec.LastTransitionAt.UTC(),
		rec.HashRMD160, rec.ClaimedBy, zeroTime(rec.ClaimedAt), rec.AssignedToRef,
		zeroTime(rec.AssignedAt), rec.TransactionID, attributes, meta,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return trace.AlreadyExists("UIN %q already exists", rec.UIN)
		}
		return trace.Wrap(err)
	}
	return nil
}

// LockOneAvailable relies on FOR UPDATE SKIP LOCKED so concurrent claimers
// never wait on each other's rows. The lock only outlives the statement
// inside a transaction, so claiming must run under WithTx.
func (s *PGStore) LockOneAvailable(ctx context.Context, scope string) (*Record, bool, error) {
	rec, err := scanRecord(s.q.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM uin_pool
		WHERE status = $1 AND ($2 = '' OR scope = $2)
		ORDER BY issued_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		string(StatusAvailable), scope,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, trace.Wrap(err)
	}
	return rec, true, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, uinValue string, expected Status, change StatusChange) (*Record, error) {
	sets := []string{"status = $3", "last_transition_at = $4"}
	args := []any{uinValue, string(expected), string(change.To), change.At.UTC()}
	if change.SetClaim {
		sets = append(sets,
			fmt.Sprintf("claimed_by = $%d", len(args)+1),
			fmt.Sprintf("claimed_at = $%d", len(args)+2))
		args = append(args, change.ClaimedBy, change.ClaimedAt.UTC())
	}
	if change.ClearClaim {
		sets = append(sets, "claimed_by = ''", "claimed_at = NULL")
	}
	if change.SetAssignment {
		sets = append(sets,
			fmt.Sprintf("assigned_to_ref = $%d", len(args)+1),
			fmt.Sprintf("assigned_at = $%d", len(args)+2))
		args = append(args, change.AssignedToRef, change.AssignedAt.UTC())
	}

	rec, err := scanRecord(s.q.QueryRow(ctx, `
		UPDATE uin_pool SET `+strings.Join(sets, ", ")+`
		WHERE uin = $1 AND status = $2
		RETURNING `+recordColumns,
		args...,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.Wrap(err)
	}
	// Distinguish a missing row from a status mismatch.
	var current string
	switch err := s.q.QueryRow(ctx, "SELECT status FROM uin_pool WHERE uin = $1", uinValue).Scan(&current); {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, trace.NotFound("UIN %q not found", uinValue)
	case err != nil:
		return nil, trace.Wrap(err)
	}
	return nil, trace.CompareFailed("UIN %q is %v, expected %v", uinValue, current, expected)
}

func (s *PGStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO uin_audit (uin, event_type, old_status, new_status, actor_system, actor_ref, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.UIN, string(entry.EventType),
		zeronull.Text(entry.OldStatus), zeronull.Text(entry.NewStatus),
		entry.ActorSystem, entry.ActorRef, details, entry.CreatedAt.UTC(),
	)
	return trace.Wrap(err)
}

func (s *PGStore) FindByUin(ctx context.Context, uinValue string) (*Record, error) {
	rec, err := scanRecord(s.q.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM uin_pool WHERE uin = $1", uinValue,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("UIN %q not found", uinValue)
		}
		return nil, trace.Wrap(err)
	}
	return rec, nil
}

func (s *PGStore) ListAudit(ctx context.Context, uinValue string) ([]AuditEntry, error) {
	rows, _ := s.q.Query(ctx, `
		SELECT id, uin, event_type, old_status, new_status, actor_system, actor_ref, details, created_at
		FROM uin_audit WHERE uin = $1 ORDER BY id`, uinValue)
	var out []AuditEntry
	var entry AuditEntry
	var oldStatus, newStatus zeronull.Text
	_, err := pgx.ForEachRow(rows, []any{
		&entry.ID, &entry.UIN, &entry.EventType, &oldStatus, &newStatus,
		&entry.ActorSystem, &entry.ActorRef, &entry.Details, &entry.CreatedAt,
	}, func() error {
		entry.OldStatus = Status(oldStatus)
		entry.NewStatus = Status(newStatus)
		out = append(out, entry)
		return nil
	})
	return out, trace.Wrap(err)
}

func (s *PGStore) listRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, _ := s.q.Query(ctx, query, args...)
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *rec)
	}
	return out, trace.Wrap(rows.Err())
}

func (s *PGStore) ListStaleInStatus(ctx context.Context, status Status, olderThan time.Time) ([]Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM uin_pool
		WHERE status = $1 AND COALESCE(claimed_at, last_transition_at) < $2
		ORDER BY issued_at`,
		string(status), olderThan.UTC())
}

func (s *PGStore) ListExpired(ctx context.Context, asOf time.Time) ([]Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM uin_pool
		WHERE expires_at IS NOT NULL AND expires_at <= $1 AND status NOT IN ($2, $3)
		ORDER BY issued_at`,
		asOf.UTC(), string(StatusRetired), string(StatusRevoked))
}

func (s *PGStore) AggregateByStatus(ctx context.Context, scope string) (map[Status]int, error) {
	rows, _ := s.q.Query(ctx, `
		SELECT status, count(*) FROM uin_pool
		WHERE ($1 = '' OR scope = $1)
		GROUP BY status`, scope)
	out := make(map[Status]int)
	var status string
	var count int
	_, err := pgx.ForEachRow(rows, []any{&status, &count}, func() error {
		out[Status(status)] = count
		return nil
	})
	return out, trace.Wrap(err)
}

// WithTx runs fn against a store view bound to one read-committed
// transaction. Calls on a view that is already transactional join the
// enclosing transaction.
func (s *PGStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		return trace.Wrap(fn(s))
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return trace.ConnectionProblem(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&PGStore{q: tx, logger: s.logger}); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit(ctx))
}

func (s *PGStore) UpsertFormat(ctx context.Context, format Format) error {
	if format.Name == "" {
		return trace.BadParameter("display format requires a name")
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO uin_formats (name, group_size, separator, prefix, suffix, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			group_size = EXCLUDED.group_size, separator = EXCLUDED.separator,
			prefix = EXCLUDED.prefix, suffix = EXCLUDED.suffix,
			description = EXCLUDED.description`,
		format.Name, format.Spec.GroupSize, format.Spec.Separator,
		format.Spec.Prefix, format.Spec.Suffix, format.Description,
	)
	return trace.Wrap(err)
}

func (s *PGStore) GetFormat(ctx context.Context, name string) (*Format, error) {
	var format Format
	err := s.q.QueryRow(ctx, `
		SELECT name, group_size, separator, prefix, suffix, description
		FROM uin_formats WHERE name = $1`, name,
	).Scan(&format.Name, &format.Spec.GroupSize, &format.Spec.Separator,
		&format.Spec.Prefix, &format.Spec.Suffix, &format.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("display format %q not found", name)
		}
		return nil, trace.Wrap(err)
	}
	return &format, nil
}

func (s *PGStore) UpsertFormatOverride(ctx context.Context, override FormatOverride) error {
	if override.Scope == "" || override.FormatName == "" {
		return trace.BadParameter("format override requires a scope and a format name")
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO uin_format_overrides (scope, format_name)
		VALUES ($1, $2)
		ON CONFLICT (scope) DO UPDATE SET format_name = EXCLUDED.format_name`,
		override.Scope, override.FormatName,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return trace.NotFound("display format %q not found", override.FormatName)
		}
		return trace.Wrap(err)
	}
	return nil
}

func (s *PGStore) ResolveFormat(ctx context.Context, scope string) (*Format, error) {
	var format Format
	err := s.q.QueryRow(ctx, `
		SELECT f.name, f.group_size, f.separator, f.prefix, f.suffix, f.description
		FROM uin_format_overrides o
		JOIN uin_formats f ON f.name = o.format_name
		WHERE o.scope = $1`, scope,
	).Scan(&format.Name, &format.Spec.GroupSize, &format.Spec.Separator,
		&format.Spec.Prefix, &format.Spec.Suffix, &format.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("no display format configured for scope %q", scope)
		}
		return nil, trace.Wrap(err)
	}
	return &format, nil
}

func (s *PGStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

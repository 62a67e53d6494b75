package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

var listingColumns = []string{
	"id",
	"owner_id",
	"title",
	"status",
	"published_at",
	"expires_at",
	"auto_renew",
	"renewal_count",
	"last_renewal_at",
	"deletion_scheduled_at",
	"warnings_sent",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l                        domain.Listing
		status                   string
		publishedAt, expiresAt   int64
		autoRenew                int
		lastRenewal, deletionDue sql.NullInt64
		warnings                 int64
	)
	err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.Title,
		&status,
		&publishedAt,
		&expiresAt,
		&autoRenew,
		&l.RenewalCount,
		&lastRenewal,
		&deletionDue,
		&warnings,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Listing{}, fmt.Errorf("listing %s: %w", l.ID, err)
	}
	l.PublishedAt = fromMillis(publishedAt)
	l.ExpiresAt = fromMillis(expiresAt)
	l.AutoRenew = autoRenew != 0
	l.LastRenewalAt = fromNullMillis(lastRenewal)
	l.DeletionScheduledAt = fromNullMillis(deletionDue)
	l.WarningsSent = domain.WarningSet(warnings)
	return l, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// applyFilter adds the filter's predicates to a select.
func applyFilter(q sq.SelectBuilder, filter domain.Filter) sq.SelectBuilder {
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.ExpiresAfter != nil {
		q = q.Where(sq.Gt{"expires_at": toMillis(*filter.ExpiresAfter)})
	}
	if filter.ExpiresAtOrBefore != nil {
		q = q.Where(sq.LtOrEq{"expires_at": toMillis(*filter.ExpiresAtOrBefore)})
	}
	if filter.DeletionDueAtOrBefore != nil {
		q = q.Where(sq.And{
			sq.NotEq{"deletion_scheduled_at": nil},
			sq.LtOrEq{"deletion_scheduled_at": toMillis(*filter.DeletionDueAtOrBefore)},
		})
	}
	if filter.MissingWarning != 0 {
		q = q.Where("(warnings_sent & ?) = 0", int64(filter.MissingWarning))
	}
	return q
}

// Query returns matching listings ordered by the timestamp the filter is due on.
func (s *Store) Query(ctx context.Context, filter domain.Filter) ([]domain.Listing, error) {
	q := applyFilter(s.builder.Select(listingColumns...).From("listings"), filter)
	if filter.DeletionDueAtOrBefore != nil {
		q = q.OrderBy("deletion_scheduled_at ASC", "id ASC")
	} else {
		q = q.OrderBy("expires_at ASC", "id ASC")
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build listing query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings (status=%s): %w", filter.Status, err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

// Get returns a single listing by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Listing, error) {
	query, args, err := s.builder.Select(listingColumns...).From("listings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Listing{}, fmt.Errorf("build listing get: %w", err)
	}

	l, err := scanListing(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("listing %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

// Create inserts a listing. An existing id yields domain.ErrConflict.
func (s *Store) Create(ctx context.Context, l domain.Listing) error {
	query, args, err := s.builder.Insert("listings").
		Columns(listingColumns...).
		Values(
			l.ID,
			l.OwnerID,
			l.Title,
			string(l.Status),
			toMillis(l.PublishedAt),
			toMillis(l.ExpiresAt),
			boolInt(l.AutoRenew),
			l.RenewalCount,
			nullMillis(l.LastRenewalAt),
			nullMillis(l.DeletionScheduledAt),
			int64(l.WarningsSent),
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build listing insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert listing %s: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert listing %s: %w", l.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("listing %s: %w", l.ID, domain.ErrConflict)
	}
	return nil
}

// ConditionalUpdate applies the patch in a single UPDATE whose WHERE clause
// carries the expectation. The row count tells whether the write happened.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, expect domain.Expectation, patch domain.Patch) (bool, error) {
	q := s.builder.Update("listings")
	sets := 0
	set := func(column string, value any) {
		q = q.Set(column, value)
		sets++
	}

	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.PublishedAt != nil {
		set("published_at", toMillis(*patch.PublishedAt))
	}
	if patch.ExpiresAt != nil {
		set("expires_at", toMillis(*patch.ExpiresAt))
	}
	if patch.AutoRenew != nil {
		set("auto_renew", boolInt(*patch.AutoRenew))
	}
	if patch.RenewalCount != nil {
		set("renewal_count", *patch.RenewalCount)
	}
	if patch.LastRenewalAt != nil {
		set("last_renewal_at", toMillis(*patch.LastRenewalAt))
	}
	switch {
	case patch.ScheduleDeletion != nil:
		set("deletion_scheduled_at", toMillis(*patch.ScheduleDeletion))
	case patch.ClearDeletion:
		set("deletion_scheduled_at", nil)
	}
	switch {
	case patch.ClearWarnings && patch.AddWarning != 0:
		set("warnings_sent", int64(patch.AddWarning))
	case patch.ClearWarnings:
		set("warnings_sent", 0)
	case patch.AddWarning != 0:
		set("warnings_sent", sq.Expr("warnings_sent | ?", int64(patch.AddWarning)))
	}
	if sets == 0 {
		return false, fmt.Errorf("update listing %s: empty patch", id)
	}

	q = q.Where(sq.Eq{"id": id, "status": string(expect.Status)})
	if expect.ExpiresAt != nil {
		q = q.Where(sq.Eq{"expires_at": toMillis(*expect.ExpiresAt)})
	}
	if patch.AddWarning != 0 {
		q = q.Where("(warnings_sent & ?) = 0", int64(patch.AddWarning))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build listing update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update listing %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update listing %s: %w", id, err)
	}
	return n > 0, nil
}

// CountByStatus returns the number of listings in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	query, args, err := s.builder.Select("status", "COUNT(*)").From("listings").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count listings by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// Count returns the number of listings matching the filter.
func (s *Store) Count(ctx context.Context, filter domain.Filter) (int, error) {
	query, args, err := applyFilter(s.builder.Select("COUNT(*)").From("listings"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build listing count: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

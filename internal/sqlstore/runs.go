package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// RecordRun stores the summary of a completed expiration run.
func (s *Store) RecordRun(ctx context.Context, run domain.RunRecord) error {
	r := run.Result
	query, args, err := s.builder.Insert("expiration_runs").
		Columns("id", "started_at", "finished_at", "warned_7d", "warned_24h", "expired", "renewed", "archived", "deleted", "errors").
		Values(run.ID, toMillis(run.StartedAt), toMillis(run.FinishedAt), r.Warned7D, r.Warned24H, r.Expired, r.Renewed, r.Archived, r.Deleted, r.Errors).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun returns the most recently finished run.
func (s *Store) LastRun(ctx context.Context) (domain.RunRecord, bool, error) {
	query, args, err := s.builder.
		Select("id", "started_at", "finished_at", "warned_7d", "warned_24h", "expired", "renewed", "archived", "deleted", "errors").
		From("expiration_runs").
		OrderBy("finished_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.RunRecord{}, false, fmt.Errorf("build last run query: %w", err)
	}

	var (
		run               domain.RunRecord
		started, finished int64
	)
	r := &run.Result
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &started, &finished,
		&r.Warned7D, &r.Warned24H, &r.Expired, &r.Renewed, &r.Archived, &r.Deleted, &r.Errors,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunRecord{}, false, nil
	}
	if err != nil {
		return domain.RunRecord{}, false, fmt.Errorf("load last run: %w", err)
	}
	run.StartedAt = fromMillis(started)
	run.FinishedAt = fromMillis(finished)
	return run, true, nil
}

// PruneRuns removes run history older than maxAge and returns the number of
// rows deleted.
func (s *Store) PruneRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	query, args, err := s.builder.Delete("expiration_runs").Where(sq.Lt{"finished_at": toMillis(cutoff)}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build run prune: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

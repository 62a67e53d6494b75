package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// GetCursor retrieves the saved cursor for a stream.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	query, args, err := s.builder.Select("cursor_value").From("cursors").Where(sq.Eq{"service": service}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cursor query: %w", err)
	}

	var cursor int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor %s: %w", service, err)
	}
	return cursor, nil
}

// UpdateCursor upserts the cursor for a stream.
func (s *Store) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	query, args, err := s.builder.Insert("cursors").
		Columns("service", "cursor_value", "updated_at").
		Values(service, cursor, toMillis(time.Now().UTC())).
		Suffix("ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build cursor upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update cursor %s: %w", service, err)
	}
	return nil
}

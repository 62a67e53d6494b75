// Package sqlstore persists listings, run history and stream cursors in a SQL
// database. SQLite (modernc.org/sqlite) and PostgreSQL (pgx) are supported;
// statements are built with squirrel using the placeholder format of the
// selected driver.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported driver names. They match the database/sql driver registrations.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Store implements domain.ListingRepository, domain.RunRepository and
// domain.CursorRepository.
type Store struct {
	db      *sql.DB
	driver  string
	builder sq.StatementBuilderType
}

// Open connects to the database, verifies the connection, and returns a new
// Store. The caller should call Close when the store is no longer needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite serialises writers; a single connection also keeps an
		// in-memory database alive for the life of the pool.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return New(db, driver), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string) *Store {
	return &Store{
		db:      db,
		driver:  driver,
		builder: queryBuilder(driver),
	}
}

func queryBuilder(driver string) sq.StatementBuilderType {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if driver == DriverPostgres {
		builder = builder.PlaceholderFormat(sq.Dollar)
	}
	return builder
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id                    TEXT PRIMARY KEY,
		owner_id              TEXT NOT NULL,
		title                 TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL,
		published_at          BIGINT NOT NULL DEFAULT 0,
		expires_at            BIGINT NOT NULL DEFAULT 0,
		auto_renew            INTEGER NOT NULL DEFAULT 0,
		renewal_count         INTEGER NOT NULL DEFAULT 0,
		last_renewal_at       BIGINT NULL,
		deletion_scheduled_at BIGINT NULL,
		warnings_sent         BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS listings_status_expires_idx ON listings (status, expires_at)`,
	`CREATE INDEX IF NOT EXISTS listings_status_deletion_idx ON listings (status, deletion_scheduled_at)`,
	`CREATE TABLE IF NOT EXISTS expiration_runs (
		id          TEXT PRIMARY KEY,
		started_at  BIGINT NOT NULL,
		finished_at BIGINT NOT NULL,
		warned_7d   INTEGER NOT NULL DEFAULT 0,
		warned_24h  INTEGER NOT NULL DEFAULT 0,
		expired     INTEGER NOT NULL DEFAULT 0,
		renewed     INTEGER NOT NULL DEFAULT 0,
		archived    INTEGER NOT NULL DEFAULT 0,
		deleted     INTEGER NOT NULL DEFAULT 0,
		errors      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS expiration_runs_finished_idx ON expiration_runs (finished_at)`,
	`CREATE TABLE IF NOT EXISTS cursors (
		service      TEXT PRIMARY KEY,
		cursor_value BIGINT NOT NULL,
		updated_at   BIGINT NOT NULL
	)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Timestamps are stored as unix milliseconds so both drivers share a schema.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

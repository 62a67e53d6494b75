package domain

import (
	"context"
	"time"
)

// ListingRepository defines persistence operations for listings.
type ListingRepository interface {
	// Query returns the listings matching the filter, ordered by the filter's
	// due timestamp ascending.
	Query(ctx context.Context, filter Filter) ([]Listing, error)

	// Get returns a single listing or ErrNotFound.
	Get(ctx context.Context, id string) (Listing, error)

	// Create inserts a new listing. It returns ErrConflict when the id exists.
	Create(ctx context.Context, listing Listing) error

	// ConditionalUpdate applies patch only if the stored listing still
	// satisfies expect. It returns false, with a nil error, when the
	// precondition no longer holds.
	ConditionalUpdate(ctx context.Context, id string, expect Expectation, patch Patch) (bool, error)

	// CountByStatus returns the number of listings in each status.
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// Count returns the number of listings matching the filter, ignoring its
	// limit.
	Count(ctx context.Context, filter Filter) (int, error)
}

// NotificationKind names an event delivered to a listing owner.
type NotificationKind string

const (
	NotifyWarn7D  NotificationKind = "WARN_7D"
	NotifyWarn24H NotificationKind = "WARN_24H"
	NotifyRenewed NotificationKind = "LISTING_RENEWED"
	NotifyExpired NotificationKind = "LISTING_EXPIRED"
)

// NotificationKindFor maps a warning to the notification it triggers.
func NotificationKindFor(k WarningKind) NotificationKind {
	return NotificationKind(k.String())
}

// Notification is the payload handed to a dispatcher.
type Notification struct {
	ListingID string    `json:"listingId"`
	Title     string    `json:"title,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// DeletionScheduledAt is set on expiry notifications.
	DeletionScheduledAt *time.Time `json:"deletionScheduledAt,omitempty"`
	RenewalCount        int        `json:"renewalCount,omitempty"`
}

// NotificationDispatcher delivers lifecycle events. Delivery is
// fire-and-forget; callers log and swallow errors.
type NotificationDispatcher interface {
	Send(ctx context.Context, userID string, kind NotificationKind, payload Notification) error
}

// RunRecord is the persisted summary of one completed batch run.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Result     RunResult
}

// RunRepository stores batch run history.
type RunRepository interface {
	RecordRun(ctx context.Context, run RunRecord) error

	// LastRun returns the most recent run, or false if none was recorded.
	LastRun(ctx context.Context) (RunRecord, bool, error)
}

// CursorRepository defines persistence operations for event stream cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed cursor for the given stream.
	// Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, stream string) (int64, error)

	// UpdateCursor persists the cursor so consumption can resume on restart.
	UpdateCursor(ctx context.Context, stream string, cursor int64) error
}

// StatsCache holds a rendered stats report between requests.
type StatsCache interface {
	Get(ctx context.Context) (*StatsReport, bool, error)
	Set(ctx context.Context, report *StatsReport) error
	Invalidate(ctx context.Context) error
}

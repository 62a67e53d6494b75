package notify

import (
	"context"
	"log/slog"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// LogDispatcher writes notifications to the structured log. It is the
// default when no delivery transport is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send implements domain.NotificationDispatcher.
func (d *LogDispatcher) Send(ctx context.Context, userID string, kind domain.NotificationKind, payload domain.Notification) error {
	d.logger.InfoContext(ctx, "notification",
		"user_id", userID,
		"kind", string(kind),
		"listing_id", payload.ListingID,
		"expires_at", payload.ExpiresAt,
	)
	return nil
}

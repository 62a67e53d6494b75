// Package listingfeed mirrors publish and sold events from the listing
// authoring service into the lifecycle store.
package listingfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

const (
	cursorStreamName   = "listing-events"
	cursorSaveInterval = 5 * time.Second
	reconnectBackoff   = 5 * time.Second
)

// Handler applies listing events. *domain.LifecycleService implements it.
type Handler interface {
	ApplyPublished(ctx context.Context, in domain.PublishedListing) (bool, error)
	ApplySold(ctx context.Context, listingID string) (bool, error)
	GetCursor(ctx context.Context, stream string) (int64, error)
	UpdateCursor(ctx context.Context, stream string, cursor int64) error
}

// Subscriber connects to the listing event stream and applies events.
type Subscriber struct {
	url          string
	handler      Handler
	logger       *slog.Logger
	saveInterval time.Duration
	backoff      time.Duration
}

// NewSubscriber creates a new listing event subscriber.
func NewSubscriber(streamURL string, handler Handler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:          streamURL,
		handler:      handler,
		logger:       logger,
		saveInterval: cursorSaveInterval,
		backoff:      reconnectBackoff,
	}
}

// Start connects to the stream and processes events until the context is
// cancelled. It reconnects on transient errors, including an event that
// failed to apply, resuming from the last saved cursor.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("listing stream connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.backoff):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if cursor > 0 {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(cursor, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.handler.GetCursor(ctx, cursorStreamName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return err
	}
	s.logger.Info("connecting to listing stream", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial listing stream: %w", err)
	}
	defer conn.Close()

	// ReadMessage does not observe ctx; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to listing stream")

	latestCursor := cursor
	savedCursor := cursor
	lastCursorSave := time.Now()
	defer func() {
		if latestCursor != savedCursor {
			s.saveCursor(context.WithoutCancel(ctx), latestCursor)
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		if err := s.handleEvent(ctx, event); err != nil {
			if !errors.Is(err, domain.ErrInvalidInput) {
				// Reconnect from the last applied event so this one is replayed.
				return fmt.Errorf("apply %s event seq %d: %w", event.Type, event.Seq, err)
			}
			s.logger.Error("skipping invalid listing event", "seq", event.Seq, "type", event.Type, "error", err)
		}
		if event.Seq > latestCursor {
			latestCursor = event.Seq
		}

		if time.Since(lastCursorSave) >= s.saveInterval {
			if s.saveCursor(ctx, latestCursor) {
				savedCursor = latestCursor
				lastCursorSave = time.Now()
			}
		}
	}
}

func (s *Subscriber) saveCursor(ctx context.Context, cursor int64) bool {
	if err := s.handler.UpdateCursor(ctx, cursorStreamName, cursor); err != nil {
		s.logger.Error("failed to save cursor", "cursor", cursor, "error", err)
		return false
	}
	return true
}

func (s *Subscriber) handleEvent(ctx context.Context, event *listingEvent) error {
	switch event.Type {
	case eventPublished:
		l := event.Listing
		applied, err := s.handler.ApplyPublished(ctx, domain.PublishedListing{
			ID:          l.ID,
			OwnerID:     l.OwnerID,
			Title:       l.Title,
			PublishedAt: l.PublishedAt.UTC(),
			AutoRenew:   l.AutoRenew,
		})
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("listing published", "listing_id", l.ID, "owner_id", l.OwnerID)
		}
		return nil

	case eventSold:
		applied, err := s.handler.ApplySold(ctx, event.Listing.ID)
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("listing sold", "listing_id", event.Listing.ID)
		}
		return nil

	default:
		s.logger.Debug("ignoring listing event", "type", event.Type, "seq", event.Seq)
		return nil
	}
}

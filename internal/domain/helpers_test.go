package domain_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
	"github.com/blackmichael/listing-lifecycle/internal/memstore"
)

const day = 24 * time.Hour

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(days int) time.Time { return epoch.Add(time.Duration(days) * day) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentNotification struct {
	UserID  string
	Kind    domain.NotificationKind
	Payload domain.Notification
}

// recordingDispatcher captures every Send call and optionally fails them.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentNotification
	fail bool
}

func (d *recordingDispatcher) Send(_ context.Context, userID string, kind domain.NotificationKind, payload domain.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentNotification{UserID: userID, Kind: kind, Payload: payload})
	if d.fail {
		return errors.New("smtp relay down")
	}
	return nil
}

func (d *recordingDispatcher) count(kind domain.NotificationKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	clock      *domain.ManualClock
	store      *memstore.Store
	dispatcher *recordingDispatcher
	policy     domain.LifecyclePolicy
	processor  *domain.ExpirationProcessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy := domain.DefaultPolicy()
	require.NoError(t, policy.Validate())
	return newFixtureWithPolicy(t, policy)
}

func newFixtureWithPolicy(t *testing.T, policy domain.LifecyclePolicy) *fixture {
	t.Helper()
	f := &fixture{
		clock:      domain.NewManualClock(epoch),
		store:      memstore.New(),
		dispatcher: &recordingDispatcher{},
		policy:     policy,
	}
	f.processor = domain.NewExpirationProcessor(domain.ProcessorDeps{
		Clock:      f.clock,
		Policy:     policy,
		Repository: f.store,
		Dispatcher: f.dispatcher,
		Logger:     discardLogger(),
	})
	return f
}

// publish stores a PUBLISHED listing whose cycle started at publishedAt.
func (f *fixture) publish(t *testing.T, id string, publishedAt time.Time, autoRenew bool) {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), domain.Listing{
		ID:          id,
		OwnerID:     "owner-" + id,
		Title:       "Listing " + id,
		Status:      domain.StatusPublished,
		PublishedAt: publishedAt,
		ExpiresAt:   f.policy.CalculateExpirationDate(publishedAt),
		AutoRenew:   autoRenew,
	}))
}

func (f *fixture) runAt(t *testing.T, now time.Time) domain.RunResult {
	t.Helper()
	f.clock.Set(now)
	result, err := f.processor.Run(context.Background())
	require.NoError(t, err)
	return result
}

func (f *fixture) get(t *testing.T, id string) domain.Listing {
	t.Helper()
	l, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return l
}

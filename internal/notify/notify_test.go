package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

var payload = domain.Notification{
	ListingID: "listing-1",
	Title:     "Road bike",
	ExpiresAt: time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC),
}

func TestWebhookDispatcher_Send(t *testing.T) {
	var (
		got  Envelope
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, err := NewWebhookDispatcher(srv.URL, "s3cret")
	require.NoError(t, err)

	require.NoError(t, d.Send(context.Background(), "user-9", domain.NotifyWarn7D, payload))
	assert.Equal(t, "Bearer s3cret", auth)
	assert.Equal(t, "user-9", got.UserID)
	assert.Equal(t, domain.NotifyWarn7D, got.Kind)
	assert.Equal(t, "listing-1", got.Listing.ListingID)
	assert.True(t, got.Listing.ExpiresAt.Equal(payload.ExpiresAt))
	assert.NotEmpty(t, got.ID)
}

func TestWebhookDispatcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, err := NewWebhookDispatcher(srv.URL, "")
	require.NoError(t, err)

	err = d.Send(context.Background(), "user-9", domain.NotifyExpired, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "mailbox full")
}

func TestNewWebhookDispatcher_RequiresEndpoint(t *testing.T) {
	_, err := NewWebhookDispatcher("", "")
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaDispatcher_Send(t *testing.T) {
	w := &fakeWriter{}
	d := &KafkaDispatcher{writer: w}

	require.NoError(t, d.Send(context.Background(), "user-1", domain.NotifyRenewed, payload))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "listing-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "LISTING_RENEWED", string(msg.Headers[0].Value))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "user-1", env.UserID)
	assert.Equal(t, domain.NotifyRenewed, env.Kind)

	w.err = errors.New("leader not available")
	assert.Error(t, d.Send(context.Background(), "user-1", domain.NotifyRenewed, payload))
}

func TestNewKafkaDispatcher_Validation(t *testing.T) {
	_, err := NewKafkaDispatcher(nil, "listing-notifications")
	assert.Error(t, err)
	_, err = NewKafkaDispatcher([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	d, err := NewKafkaDispatcher([]string{"localhost:9092"}, "listing-notifications")
	require.NoError(t, err)
	assert.NoError(t, d.Close())
}

func TestLogDispatcher_Send(t *testing.T) {
	var buf bytes.Buffer
	d := NewLogDispatcher(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, d.Send(context.Background(), "user-3", domain.NotifyWarn24H, payload))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "notification", line["msg"])
	assert.Equal(t, "WARN_24H", line["kind"])
	assert.Equal(t, "listing-1", line["listing_id"])
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// WebhookDispatcher posts notifications to an HTTP endpoint owned by the
// messaging service.
type WebhookDispatcher struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewWebhookDispatcher creates a dispatcher posting to endpoint. When token is
// non-empty it is sent as a bearer token.
func NewWebhookDispatcher(endpoint, token string) (*WebhookDispatcher, error) {
	if endpoint == "" {
		return nil, errors.New("webhook endpoint is required")
	}
	return &WebhookDispatcher{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send implements domain.NotificationDispatcher.
func (d *WebhookDispatcher) Send(ctx context.Context, userID string, kind domain.NotificationKind, payload domain.Notification) error {
	if err := d.post(ctx, newEnvelope(userID, kind, payload)); err != nil {
		return fmt.Errorf("deliver %s for listing %s: %w", kind, payload.ListingID, err)
	}
	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
